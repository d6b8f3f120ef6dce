package rtmp

import "github.com/torresjeff/rtmplive/video"

// DefaultPureAudioThreshold is how many audio messages in a row, without video, make the
// GopCache treat the stream as audio only and drop its content.
const DefaultPureAudioThreshold = 115

// GopCache keeps the messages since the last video keyframe so a new consumer can start
// decoding immediately.
type GopCache struct {
	enabled            bool
	pureAudioThreshold int
	msgs               []*SharedMessage
	// cachedVideoCount is the number of video messages in the current run.
	cachedVideoCount         int
	audioAfterLastVideoCount int
}

func NewGopCache(pureAudioThreshold int) *GopCache {
	if pureAudioThreshold < 1 {
		pureAudioThreshold = DefaultPureAudioThreshold
	}
	return &GopCache{enabled: true, pureAudioThreshold: pureAudioThreshold}
}

// Set enables or disables the cache. Disabling drops the cached run.
func (g *GopCache) Set(enabled bool) {
	g.enabled = enabled
	if !enabled {
		g.Clear()
	}
}

func (g *GopCache) Enabled() bool { return g.enabled }

// Cache adds a copy of msg to the current run. A keyframe starts a new run.
func (g *GopCache) Cache(msg *SharedMessage) {
	if !g.enabled {
		return
	}

	if msg.IsVideo() {
		g.cachedVideoCount++
		g.audioAfterLastVideoCount = 0
	}

	// Audio before the first video is not worth replaying.
	if g.PureAudio() {
		return
	}

	if msg.IsAudio() {
		g.audioAfterLastVideoCount++
	}
	if g.audioAfterLastVideoCount > g.pureAudioThreshold {
		g.Clear()
		return
	}

	if msg.IsVideo() && video.IsKeyFrame(msg.Payload) {
		g.Clear()
		g.cachedVideoCount = 1
	}

	g.msgs = append(g.msgs, msg.Copy())
}

// Dump replays the cached run, oldest first, into c.
func (g *GopCache) Dump(c *Consumer, atc bool, alg JitterAlgorithm) {
	for _, msg := range g.msgs {
		c.Enqueue(msg, atc, alg)
	}
}

func (g *GopCache) Clear() {
	g.msgs = nil
	g.cachedVideoCount = 0
	g.audioAfterLastVideoCount = 0
}

// PureAudio reports whether the current run has no video.
func (g *GopCache) PureAudio() bool { return g.cachedVideoCount == 0 }

func (g *GopCache) Empty() bool { return len(g.msgs) == 0 }

func (g *GopCache) Len() int { return len(g.msgs) }

// StartTime is the timestamp of the oldest cached message, or 0 when empty.
func (g *GopCache) StartTime() int64 {
	if len(g.msgs) == 0 {
		return 0
	}
	return g.msgs[0].Timestamp
}

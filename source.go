package rtmp

import (
	"bytes"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmplive/audio"
	"github.com/torresjeff/rtmplive/config"
	"github.com/torresjeff/rtmplive/internal/binary24"
	"github.com/torresjeff/rtmplive/video"
	"go.uber.org/zap"
)

// flvTagHeaderSize is type, size, timestamp, extended timestamp and stream id.
const flvTagHeaderSize = 11

// SourceStats is a snapshot of a Source for the stats API.
type SourceStats struct {
	URL        string    `json:"url"`
	Vhost      string    `json:"vhost"`
	App        string    `json:"app"`
	Stream     string    `json:"stream"`
	Publishing bool      `json:"publishing"`
	Consumers  int       `json:"consumers"`
	CreatedAt  time.Time `json:"created_at"`
	Audio      uint64    `json:"audio"`
	Video      uint64    `json:"video"`
	Metadata   uint64    `json:"metadata"`
	Recording  bool      `json:"recording"`
}

// Source is one live stream: it takes media from a single publisher and fans it out to
// every Consumer.
type Source struct {
	url    string
	cfg    config.StreamConfig
	logger *zap.Logger

	mu         sync.Mutex
	req        *Request
	atc        bool
	jitterAlg  JitterAlgorithm
	canPublish bool

	isMonotonicallyIncrease bool
	lastPacketTime          int64

	cacheMetadata *SharedMessage
	cacheShVideo  *SharedMessage
	cacheShAudio  *SharedMessage
	gopCache      *GopCache
	mixQueue      *MixQueue

	// consumers in registration order
	consumers []*Consumer
	recorder  recorderSink

	createdAt                time.Time
	nbAudio, nbVideo, nbMeta uint64

	// refs counts registry references, guarded by the registry lock.
	refs int
}

// NewSource creates the source for req.StreamURL(). recorders may be nil.
func NewSource(req *Request, cfg config.StreamConfig, recorders RecorderFactory, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	alg, err := ParseJitterAlgorithm(cfg.TimeJitter)
	if err != nil {
		alg = JitterFull
	}
	url := req.StreamURL()
	logger = logger.With(zap.String("stream", url))

	s := &Source{
		url:                     url,
		cfg:                     cfg,
		logger:                  logger,
		req:                     req.Copy(),
		atc:                     cfg.ATC,
		jitterAlg:               alg,
		canPublish:              true,
		isMonotonicallyIncrease: true,
		gopCache:                NewGopCache(cfg.GopPureAudioThreshold),
		mixQueue:                NewMixQueue(cfg.MixQueueThreshold),
		recorder:                recorderSink{factory: recorders, logger: logger.Named("recorder")},
		createdAt:               time.Now(),
	}
	s.gopCache.Set(cfg.GopCache)
	return s
}

func (s *Source) URL() string { return s.url }

// Request returns a copy of the latest request seen for the stream.
func (s *Source) Request() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.req.Copy()
}

func (s *Source) updateRequest(req *Request) {
	s.mu.Lock()
	s.req.Update(req)
	s.mu.Unlock()
}

func (s *Source) CanPublish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canPublish
}

// OnPublish claims the source for a publisher and opens the recorder. It fails with
// ErrStreamBusy when the stream already has a publisher.
func (s *Source) OnPublish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canPublish {
		return ErrStreamBusy
	}
	s.canPublish = false
	s.isMonotonicallyIncrease = true
	s.lastPacketTime = 0
	s.recorder.open(s.req)
	s.logger.Info("publish start", zap.Bool("recording", s.recorder.active()))
	return nil
}

// OnUnpublish releases the source. Messages still held for reordering are dispatched
// first, then every cache is cleared.
func (s *Source) OnUnpublish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canPublish {
		return
	}

	for _, msg := range s.mixQueue.Drain() {
		s.dispatchAV(msg)
	}

	s.gopCache.Clear()
	s.cacheMetadata, s.cacheShVideo, s.cacheShAudio = nil, nil, nil
	s.recorder.close()
	s.canPublish = true
	s.logger.Info("publish end", zap.Uint64("audio", s.nbAudio), zap.Uint64("video", s.nbVideo))
}

func (s *Source) checkMonotonic(kind string, timestamp int64) {
	if s.cfg.MixCorrect || !s.isMonotonicallyIncrease {
		return
	}
	if s.lastPacketTime > 0 && timestamp < s.lastPacketTime {
		s.isMonotonicallyIncrease = false
		s.logger.Warn("stream not monotonically increase, please enable mix_correct",
			zap.String("kind", kind),
			zap.Int64("last", s.lastPacketTime),
			zap.Int64("timestamp", timestamp))
	}
	s.lastPacketTime = timestamp
}

// OnAudio takes the payload of msg and dispatches it.
func (s *Source) OnAudio(msg *CommonMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkMonotonic("audio", msg.Header.Timestamp)
	s.nbAudio++
	s.mix(NewSharedMessage(msg))
	return nil
}

// OnVideo takes the payload of msg and dispatches it. Video with an unknown frame type
// or codec is dropped.
func (s *Source) OnVideo(msg *CommonMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkMonotonic("video", msg.Header.Timestamp)
	if !video.IsAcceptable(msg.Payload[:msg.Size]) {
		s.logger.Warn("drop unknown video", zap.Int("size", msg.Size), zap.Int64("timestamp", msg.Header.Timestamp))
		return nil
	}
	s.nbVideo++
	s.mix(NewSharedMessage(msg))
	return nil
}

// OnAggregate splits an aggregate message into its FLV tags and feeds the audio and video
// ones through OnAudio and OnVideo. Tag timestamps are rebased onto the aggregate's.
func (s *Source) OnAggregate(msg *CommonMessage) error {
	b := msg.Payload[:msg.Size]
	delta := int64(-1)
	for len(b) > 0 {
		if len(b) < flvTagHeaderSize {
			return errors.Wrapf(ErrDecode, "aggregate tag header needs %d bytes, got %d", flvTagHeaderSize, len(b))
		}
		t := MessageType(b[0])
		size := int(binary24.BigEndian.Uint24(b[1:4]))
		timestamp := int64(binary24.BigEndian.Uint24(b[4:7])|uint32(b[7])<<24) & maxTimestamp
		streamID := binary24.BigEndian.Uint24(b[8:11])
		b = b[flvTagHeaderSize:]
		if len(b) < size+4 {
			return errors.Wrapf(ErrDecode, "aggregate tag needs %d bytes, got %d", size+4, len(b))
		}

		if delta < 0 {
			delta = msg.Header.Timestamp - timestamp
		}
		tag := &CommonMessage{
			Header: MessageHeader{
				MessageType:   t,
				PayloadLength: uint32(size),
				Timestamp:     timestamp + delta,
				StreamID:      streamID,
				PreferCID:     msg.Header.PreferCID,
			},
			Payload: append([]byte(nil), b[:size]...),
			Size:    size,
		}
		// skip the payload and the previous tag size
		b = b[size+4:]

		if size == 0 {
			continue
		}
		var err error
		switch t {
		case AudioMessage:
			err = s.OnAudio(tag)
		case VideoMessage:
			err = s.OnVideo(tag)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Source) mix(msg *SharedMessage) {
	if !s.cfg.MixCorrect {
		s.dispatchAV(msg)
		return
	}
	s.mixQueue.Push(msg)
	for m := s.mixQueue.Pop(); m != nil; m = s.mixQueue.Pop() {
		s.dispatchAV(m)
	}
}

func (s *Source) dispatchAV(msg *SharedMessage) {
	if msg.IsAudio() {
		s.onAudio(msg)
	} else {
		s.onVideo(msg)
	}
}

func (s *Source) onAudio(msg *SharedMessage) {
	isSequenceHeader := audio.IsSequenceHeader(msg.Payload)

	dropForReduce := false
	if isSequenceHeader && s.cfg.ReduceSequenceHeader && s.cacheShAudio != nil {
		dropForReduce = bytes.Equal(s.cacheShAudio.Payload, msg.Payload)
	}
	if isSequenceHeader {
		s.cacheShAudio = msg.Copy()
		if !dropForReduce {
			format, _ := audio.FormatOf(msg.Payload)
			s.logger.Info("audio sequence header", zap.Int("size", msg.Size()), zap.Uint8("format", uint8(format)))
		}
	}

	s.recorder.onAudio(msg)

	if dropForReduce {
		s.logger.Debug("drop duplicate audio sequence header", zap.Int("size", msg.Size()))
	} else {
		for _, c := range s.consumers {
			c.Enqueue(msg, s.atc, s.jitterAlg)
		}
	}

	// Sequence headers are replayed from their own cache.
	if isSequenceHeader {
		return
	}
	s.gopCache.Cache(msg)

	if s.atc {
		if s.cacheShAudio != nil {
			s.cacheShAudio.Timestamp = msg.Timestamp
		}
		if s.cacheMetadata != nil {
			s.cacheMetadata.Timestamp = msg.Timestamp
		}
	}
}

func (s *Source) onVideo(msg *SharedMessage) {
	isSequenceHeader := video.IsSequenceHeader(msg.Payload)

	dropForReduce := false
	if isSequenceHeader && s.cfg.ReduceSequenceHeader && s.cacheShVideo != nil {
		dropForReduce = bytes.Equal(s.cacheShVideo.Payload, msg.Payload)
	}
	if isSequenceHeader {
		s.cacheShVideo = msg.Copy()
		if !dropForReduce {
			codec, _ := video.CodecOf(msg.Payload)
			s.logger.Info("video sequence header", zap.Int("size", msg.Size()), zap.Uint8("codec", uint8(codec)))
		}
	}

	s.recorder.onVideo(msg)

	if dropForReduce {
		s.logger.Debug("drop duplicate video sequence header", zap.Int("size", msg.Size()))
	} else {
		for _, c := range s.consumers {
			c.Enqueue(msg, s.atc, s.jitterAlg)
		}
	}

	if isSequenceHeader {
		return
	}
	s.gopCache.Cache(msg)

	if s.atc {
		if s.cacheShVideo != nil {
			s.cacheShVideo.Timestamp = msg.Timestamp
		}
		if s.cacheMetadata != nil {
			s.cacheMetadata.Timestamp = msg.Timestamp
		}
	}
}

// OnMetadata caches the publisher metadata, tagged with the server name and without
// duration, and dispatches it.
func (s *Source) OnMetadata(msg *CommonMessage, pkt *OnMetadataPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := pkt.Metadata
	meta.Remove("duration")
	meta.Set("server", ServerName)

	fields := []zap.Field{}
	if v, ok := meta.GetNumber("width"); ok {
		fields = append(fields, zap.Int("width", int(v)))
	}
	if v, ok := meta.GetNumber("height"); ok {
		fields = append(fields, zap.Int("height", int(v)))
	}
	if v, ok := meta.Get("videocodecid"); ok {
		fields = append(fields, zap.Any("vcodec", v))
	}
	if v, ok := meta.Get("audiocodecid"); ok {
		fields = append(fields, zap.Any("acodec", v))
	}
	s.logger.Info("metadata", fields...)

	s.atc = s.cfg.ATC
	if s.cfg.ATCAuto {
		if v, ok := meta.GetString("bravo_atc"); ok && v == "true" {
			s.atc = true
		}
	}

	payload, err := pkt.Encode()
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		s.logger.Warn("ignore empty metadata")
		return nil
	}

	s.nbMeta++
	s.cacheMetadata = newSharedPayload(DataMessageAMF0, CIDOverConnection2, msg.Header.Timestamp, msg.Header.StreamID, payload)
	s.recorder.onMetadata(s.cacheMetadata)
	for _, c := range s.consumers {
		c.Enqueue(s.cacheMetadata, s.atc, s.jitterAlg)
	}
	return nil
}

// OnDvrRequestSH hands the cached metadata and sequence headers to the recorder, for a
// recorder that starts a new file mid-stream.
func (s *Source) OnDvrRequestSH() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cacheMetadata != nil {
		s.recorder.onMetadata(s.cacheMetadata)
	}
	if s.cacheShAudio != nil {
		s.recorder.onAudio(s.cacheShAudio)
	}
	if s.cacheShVideo != nil {
		s.recorder.onVideo(s.cacheShVideo)
	}
}

// CreateConsumer registers a new consumer and seeds it with the metadata, the sequence
// headers and the cached GOP, so playback starts at a keyframe.
func (s *Source) CreateConsumer() *Consumer {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := newConsumer(s, s.logger.Named("consumer"))
	c.SetQueueSize(s.cfg.QueueLength)
	s.consumers = append(s.consumers, c)

	// Under atc the cached headers take the timestamp of the GOP start.
	if s.atc && !s.gopCache.Empty() {
		start := s.gopCache.StartTime()
		for _, m := range []*SharedMessage{s.cacheMetadata, s.cacheShVideo, s.cacheShAudio} {
			if m != nil {
				m.Timestamp = start
			}
		}
	}

	for _, m := range []*SharedMessage{s.cacheMetadata, s.cacheShVideo, s.cacheShAudio} {
		if m != nil {
			c.Enqueue(m, s.atc, s.jitterAlg)
		}
	}
	s.gopCache.Dump(c, s.atc, s.jitterAlg)

	s.logger.Info("create consumer",
		zap.String("consumer", c.ID()),
		zap.Int("consumers", len(s.consumers)),
		zap.Int("gop", s.gopCache.Len()))
	return c
}

func (s *Source) onConsumerDestroy(c *Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, other := range s.consumers {
		if other == c {
			s.consumers = append(s.consumers[:i], s.consumers[i+1:]...)
			s.logger.Info("destroy consumer", zap.String("consumer", c.ID()), zap.Int("consumers", len(s.consumers)))
			return
		}
	}
}

// idle reports whether the source has neither a publisher nor consumers.
func (s *Source) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canPublish && len(s.consumers) == 0
}

func (s *Source) Stats() SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SourceStats{
		URL:        s.url,
		Vhost:      s.req.Vhost,
		App:        s.req.App,
		Stream:     s.req.Stream,
		Publishing: !s.canPublish,
		Consumers:  len(s.consumers),
		CreatedAt:  s.createdAt,
		Audio:      s.nbAudio,
		Video:      s.nbVideo,
		Metadata:   s.nbMeta,
		Recording:  s.recorder.active(),
	}
}

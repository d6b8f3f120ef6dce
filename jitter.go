package rtmp

import (
	"github.com/pkg/errors"
	"github.com/torresjeff/rtmplive/config"
)

// JitterAlgorithm selects how a consumer corrects message timestamps.
type JitterAlgorithm int

const (
	// JitterFull keeps the timeline monotonic: deltas outside [-250ms, 250ms] become 10ms.
	JitterFull JitterAlgorithm = iota + 1
	// JitterZero shifts the stream to start at zero without other correction.
	JitterZero
	// JitterOff passes timestamps through.
	JitterOff
)

const (
	maxJitterMs        = 250
	maxJitterMsNeg     = -250
	defaultFrameTimeMs = 10
)

func (a JitterAlgorithm) String() string {
	switch a {
	case JitterFull:
		return config.JitterFull
	case JitterZero:
		return config.JitterZero
	case JitterOff:
		return config.JitterOff
	default:
		return "unknown"
	}
}

// ParseJitterAlgorithm maps a stream.time_jitter value to its algorithm.
func ParseJitterAlgorithm(name string) (JitterAlgorithm, error) {
	switch name {
	case config.JitterFull:
		return JitterFull, nil
	case config.JitterZero:
		return JitterZero, nil
	case config.JitterOff:
		return JitterOff, nil
	}
	return 0, errors.Errorf("unknown jitter algorithm %q", name)
}

// Jitter corrects the timestamps of one consumer's messages.
type Jitter struct {
	lastPktTime        int64
	lastPktCorrectTime int64
}

func NewJitter() *Jitter {
	return &Jitter{lastPktCorrectTime: -1}
}

// Correct rewrites msg.Timestamp. msg must be a copy owned by the caller.
func (j *Jitter) Correct(msg *SharedMessage, alg JitterAlgorithm) {
	switch alg {
	case JitterOff:
		return
	case JitterZero:
		if j.lastPktCorrectTime == -1 {
			j.lastPktCorrectTime = msg.Timestamp
		}
		msg.Timestamp -= j.lastPktCorrectTime
		return
	case JitterFull:
	default:
		return
	}

	// Metadata and other non media messages play at zero.
	if !msg.IsAV() {
		msg.Timestamp = 0
		return
	}

	t := msg.Timestamp
	delta := t - j.lastPktTime
	if delta < maxJitterMsNeg || delta > maxJitterMs {
		delta = defaultFrameTimeMs
	}

	j.lastPktCorrectTime += delta
	if j.lastPktCorrectTime < 0 {
		j.lastPktCorrectTime = 0
	}
	msg.Timestamp = j.lastPktCorrectTime
	j.lastPktTime = t
}

// GetTime returns the last corrected timestamp.
func (j *Jitter) GetTime() int64 {
	return j.lastPktCorrectTime
}

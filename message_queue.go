package rtmp

import (
	"time"

	"github.com/torresjeff/rtmplive/audio"
	"github.com/torresjeff/rtmplive/video"
)

// MessageQueue buffers one consumer's messages. When the buffered audio and video span
// more than the queue size, everything except the latest sequence headers is dropped.
type MessageQueue struct {
	msgs        []*SharedMessage
	avStartTime int64
	avEndTime   int64
	// queueSizeMs is the longest span kept, in milliseconds.
	queueSizeMs int64
}

func NewMessageQueue() *MessageQueue {
	return &MessageQueue{avStartTime: -1, avEndTime: -1}
}

func (q *MessageQueue) Size() int { return len(q.msgs) }

// Duration is the span in milliseconds between the oldest and newest buffered audio or
// video. It may be negative after a timestamp reset.
func (q *MessageQueue) Duration() int64 {
	return q.avEndTime - q.avStartTime
}

// SetQueueSize sets the window. A negative size is treated as zero.
func (q *MessageQueue) SetQueueSize(d time.Duration) {
	q.queueSizeMs = max(d.Milliseconds(), 0)
}

// Enqueue appends msg, shrinking the queue while it spans more than the queue size. It
// reports whether anything was dropped.
func (q *MessageQueue) Enqueue(msg *SharedMessage) bool {
	if msg.IsAV() {
		if q.avStartTime == -1 {
			q.avStartTime = msg.Timestamp
		}
		q.avEndTime = msg.Timestamp
	}
	q.msgs = append(q.msgs, msg)

	// shrink collapses the span to zero, so once is enough.
	if q.avEndTime-q.avStartTime > q.queueSizeMs {
		q.shrink()
		return true
	}
	return false
}

// shrink drops every message except the latest audio and video sequence headers, which
// move to the end of the window.
func (q *MessageQueue) shrink() {
	var videoSH, audioSH *SharedMessage
	for _, msg := range q.msgs {
		switch {
		case msg.IsAudio() && audio.IsSequenceHeader(msg.Payload):
			audioSH = msg
		case msg.IsVideo() && video.IsSequenceHeader(msg.Payload):
			videoSH = msg
		}
	}

	clear(q.msgs)
	q.msgs = q.msgs[:0]

	q.avStartTime = q.avEndTime
	if audioSH != nil {
		audioSH.Timestamp = q.avEndTime
		q.msgs = append(q.msgs, audioSH)
	}
	if videoSH != nil {
		videoSH.Timestamp = q.avEndTime
		q.msgs = append(q.msgs, videoSH)
	}
}

// DumpPackets removes and returns up to max messages in order. max <= 0 returns all.
func (q *MessageQueue) DumpPackets(max int) []*SharedMessage {
	n := len(q.msgs)
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}

	out := make([]*SharedMessage, n)
	copy(out, q.msgs[:n])
	for i := n - 1; i >= 0; i-- {
		if out[i].IsAV() {
			q.avStartTime = out[i].Timestamp
			break
		}
	}

	rest := copy(q.msgs, q.msgs[n:])
	clear(q.msgs[rest:])
	q.msgs = q.msgs[:rest]
	return out
}

func (q *MessageQueue) Clear() {
	clear(q.msgs)
	q.msgs = q.msgs[:0]
	q.avStartTime, q.avEndTime = -1, -1
}

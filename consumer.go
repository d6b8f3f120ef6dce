package rtmp

import (
	"context"
	"sync"
	"time"

	"github.com/torresjeff/rtmplive/rand"
	"go.uber.org/zap"
)

// Consumer is the subscriber side of a Source: a queue, a jitter corrector and the
// wait and wake used to send messages in batches.
type Consumer struct {
	id     string
	source *Source
	logger *zap.Logger

	mu     sync.Mutex
	queue  *MessageQueue
	jitter *Jitter
	paused bool
	// wake is non-nil while a reader is parked in Wait. Closing it wakes the reader.
	wake       chan struct{}
	mwMinMsgs  int
	mwDuration int64
	destroyed  bool
}

func newConsumer(source *Source, logger *zap.Logger) *Consumer {
	id := rand.UUID()
	return &Consumer{
		id:     id,
		source: source,
		logger: logger.With(zap.String("consumer", id)),
		queue:  NewMessageQueue(),
		jitter: NewJitter(),
	}
}

func (c *Consumer) ID() string { return c.id }

// SetQueueSize sets the longest span of media the consumer buffers.
func (c *Consumer) SetQueueSize(d time.Duration) {
	c.mu.Lock()
	c.queue.SetQueueSize(d)
	c.mu.Unlock()
}

// GetTime returns the last corrected timestamp.
func (c *Consumer) GetTime() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jitter.GetTime()
}

// Enqueue queues a copy of msg. Timestamps are corrected unless atc is set. A parked
// reader is woken once enough messages are buffered.
func (c *Consumer) Enqueue(msg *SharedMessage, atc bool, alg JitterAlgorithm) {
	m := msg.Copy()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !atc {
		c.jitter.Correct(m, alg)
	}
	c.queue.Enqueue(m)

	if c.wake == nil {
		return
	}
	duration := c.queue.Duration()
	// Under atc a sequence header may carry a later timestamp than the media after a
	// republish or an overflow.
	if atc && duration < 0 {
		c.wakeLocked()
		return
	}
	if c.queue.Size() > c.mwMinMsgs && duration > c.mwDuration {
		c.wakeLocked()
	}
}

// Wait blocks until more than minMsgs messages spanning more than duration are queued,
// the consumer is woken, or ctx is done. A paused consumer waits for ctx or a resume.
func (c *Consumer) Wait(ctx context.Context, minMsgs int, duration time.Duration) {
	c.mu.Lock()
	if !c.paused {
		c.mwMinMsgs = minMsgs
		c.mwDuration = duration.Milliseconds()
		if c.queue.Size() > c.mwMinMsgs && c.queue.Duration() > c.mwDuration {
			c.mu.Unlock()
			return
		}
	}
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	wake := make(chan struct{})
	c.wake = wake
	c.mu.Unlock()

	select {
	case <-wake:
	case <-ctx.Done():
	}

	c.mu.Lock()
	if c.wake == wake {
		c.wake = nil
	}
	c.mu.Unlock()
}

// WakeUp releases a reader parked in Wait.
func (c *Consumer) WakeUp() {
	c.mu.Lock()
	c.wakeLocked()
	c.mu.Unlock()
}

func (c *Consumer) wakeLocked() {
	if c.wake != nil {
		close(c.wake)
		c.wake = nil
	}
}

// DumpPackets removes and returns up to max queued messages. A paused consumer returns none.
func (c *Consumer) DumpPackets(max int) []*SharedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return nil
	}
	return c.queue.DumpPackets(max)
}

// OnPlayClientPause pauses or resumes delivery.
func (c *Consumer) OnPlayClientPause(pause bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = pause
	c.logger.Debug("consumer pause", zap.Bool("pause", pause))
	if !pause {
		c.wakeLocked()
	}
}

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Destroy unregisters the consumer from its source and wakes any parked reader.
func (c *Consumer) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.wakeLocked()
	c.queue.Clear()
	c.mu.Unlock()

	if c.source != nil {
		c.source.onConsumerDestroy(c)
	}
}

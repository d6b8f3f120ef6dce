package rtmp

import (
	"context"
	"testing"
	"time"
)

func waitAsync(ctx context.Context, c *Consumer, minMsgs int, d time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		c.Wait(ctx, minMsgs, d)
		close(done)
	}()
	return done
}

func expectDone(t *testing.T, done <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: Wait did not return", what)
	}
}

func TestConsumerEnqueueCopies(t *testing.T) {
	c := newConsumer(nil, nopLogger)
	c.SetQueueSize(defaultTestQueue)
	m := videoAt(5000, avcKeyFrame)
	c.Enqueue(m, false, JitterFull)
	if m.Timestamp != 5000 {
		t.Errorf("Enqueue changed the caller's message timestamp to %d", m.Timestamp)
	}
	got := c.DumpPackets(0)
	if len(got) != 1 || got[0].Timestamp != 9 {
		t.Errorf("dumped %v, want the jitter corrected [9]", timestamps(got))
	}
	if c.GetTime() != 9 {
		t.Errorf("GetTime() = %d", c.GetTime())
	}
}

func TestConsumerWaitWokenByEnqueue(t *testing.T) {
	c := newConsumer(nil, nopLogger)
	c.SetQueueSize(defaultTestQueue)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	done := waitAsync(ctx, c, 2, 100*time.Millisecond)
	for _, ts := range []int64{0, 50, 150} {
		c.Enqueue(videoAt(ts, avcInterFrame), true, JitterFull)
	}
	expectDone(t, done, "enough messages")

	if got := c.DumpPackets(0); len(got) != 3 {
		t.Errorf("dumped %d messages, want 3", len(got))
	}
}

func TestConsumerWaitReturnsWhenReady(t *testing.T) {
	c := newConsumer(nil, nopLogger)
	c.SetQueueSize(defaultTestQueue)
	for _, ts := range []int64{0, 100, 200} {
		c.Enqueue(audioAt(ts, aacRaw), true, JitterOff)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	expectDone(t, waitAsync(ctx, c, 1, 50*time.Millisecond), "already ready")
}

func TestConsumerWaitTimeout(t *testing.T) {
	c := newConsumer(nil, nopLogger)
	c.SetQueueSize(defaultTestQueue)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	expectDone(t, waitAsync(ctx, c, 8, time.Second), "context deadline")
}

func TestConsumerPause(t *testing.T) {
	c := newConsumer(nil, nopLogger)
	c.SetQueueSize(defaultTestQueue)
	c.OnPlayClientPause(true)
	if !c.Paused() {
		t.Fatal("Paused() = false")
	}
	for _, ts := range []int64{0, 100, 200, 300} {
		c.Enqueue(videoAt(ts, avcInterFrame), true, JitterOff)
	}
	if got := c.DumpPackets(0); got != nil {
		t.Fatalf("a paused consumer dumped %v", timestamps(got))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	done := waitAsync(ctx, c, 1, 10*time.Millisecond)
	c.OnPlayClientPause(false)
	expectDone(t, done, "resume")

	if got := c.DumpPackets(0); len(got) != 4 {
		t.Errorf("dumped %d messages after resume, want 4", len(got))
	}
}

func TestConsumerDestroy(t *testing.T) {
	src := NewSource(testRequest("live", "room"), testStreamConfig(), nil, nopLogger)
	c := src.CreateConsumer()
	if src.Stats().Consumers != 1 {
		t.Fatalf("Consumers = %d, want 1", src.Stats().Consumers)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	done := waitAsync(ctx, c, 100, time.Hour)
	c.Destroy()
	expectDone(t, done, "destroy")

	if src.Stats().Consumers != 0 {
		t.Errorf("Consumers = %d after destroy", src.Stats().Consumers)
	}
	c.Destroy()
	expectDone(t, waitAsync(ctx, c, 100, time.Hour), "destroyed consumer")
}

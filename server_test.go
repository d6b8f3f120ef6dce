package rtmp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmplive/amf/amf0"
	"github.com/torresjeff/rtmplive/config"
)

const testStream = "127.0.0.1/live/room"

func startTestServer(t *testing.T, mutate func(*config.Config)) (*Server, string) {
	t.Helper()
	cfg := config.Default()
	cfg.RecvTimeout = 5 * time.Second
	cfg.SendTimeout = 5 * time.Second
	cfg.Stream.QueueLength = defaultTestQueue
	cfg.Stream.TimeJitter = config.JitterOff
	cfg.Stream.MWSleep = 5 * time.Millisecond
	cfg.Stream.MWMinMsgs = 1
	cfg.Stream.MWWaitTimeout = 20 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &Server{Config: cfg, Logger: nopLogger}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("serve: %v", err)
		}
	})
	return srv, ln.Addr().String()
}

func dialTest(t *testing.T, addr, path string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, "rtmp://"+addr+"/"+path, nopLogger)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	c.SetRecvTimeout(5 * time.Second)
	c.SetSendTimeout(5 * time.Second)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func sourceStats(srv *Server, url string) (SourceStats, bool) {
	s := srv.Sources().Fetch(url)
	if s == nil {
		return SourceStats{}, false
	}
	return s.Stats(), true
}

func startPublisher(t *testing.T, srv *Server, addr string) *Client {
	t.Helper()
	pub := dialTest(t, addr, "live/room")
	if err := pub.Publish(""); err != nil {
		t.Fatalf("publish: %v", err)
	}

	meta := amf0.NewObject(
		amf0.Property{Key: "width", Value: 1280.0},
		amf0.Property{Key: "height", Value: 720.0},
		amf0.Property{Key: "duration", Value: 0.0},
	)
	if err := pub.WriteMetadata(meta); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	writes := []struct {
		video   bool
		ts      int64
		payload []byte
	}{
		{true, 0, avcSequenceHeader},
		{false, 0, aacSequenceHeader},
		{true, 0, avcKeyFrame},
		{false, 20, aacRaw},
		{true, 40, avcInterFrame},
	}
	for _, w := range writes {
		var err error
		if w.video {
			err = pub.WriteVideo(w.ts, w.payload)
		} else {
			err = pub.WriteAudio(w.ts, w.payload)
		}
		if err != nil {
			t.Fatalf("write at %d: %v", w.ts, err)
		}
	}

	eventually(t, "published media", func() bool {
		st, ok := sourceStats(srv, testStream)
		return ok && st.Publishing && st.Metadata == 1 && st.Video == 3 && st.Audio == 2
	})
	return pub
}

func readMedia(t *testing.T, c *Client, n int) []*SharedMessage {
	t.Helper()
	msgs := make([]*SharedMessage, 0, n)
	for len(msgs) < n {
		msg, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("read message %d: %v", len(msgs), err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestPublishAndPlay(t *testing.T) {
	srv, addr := startTestServer(t, nil)
	pub := startPublisher(t, srv, addr)

	player := dialTest(t, addr, "live")
	if err := player.Play("room"); err != nil {
		t.Fatalf("play: %v", err)
	}

	got := readMedia(t, player, 6)
	want := []struct {
		typ MessageType
		ts  int64
	}{
		{DataMessageAMF0, 0},
		{VideoMessage, 0},
		{AudioMessage, 0},
		{VideoMessage, 0},
		{AudioMessage, 20},
		{VideoMessage, 40},
	}
	for i, w := range want {
		if got[i].Type != w.typ || got[i].Timestamp != w.ts {
			t.Errorf("message %d = %v@%d, want %v@%d", i, got[i].Type, got[i].Timestamp, w.typ, w.ts)
		}
	}
	if string(got[1].Payload) != string(avcSequenceHeader) {
		t.Errorf("video sequence header payload = %x", got[1].Payload)
	}

	eventually(t, "consumer", func() bool {
		st, _ := sourceStats(srv, testStream)
		return st.Consumers == 1
	})
	if err := pub.WriteVideo(80, avcInterFrame); err != nil {
		t.Fatal(err)
	}
	live := readMedia(t, player, 1)[0]
	if live.Type != VideoMessage || live.Timestamp != 80 {
		t.Errorf("live message = %v@%d, want video@80", live.Type, live.Timestamp)
	}
}

// The play command leaves a read deadline on the connection; a player that never sends
// anything again must still outlive it.
func TestPlayOutlivesRecvTimeout(t *testing.T) {
	const recvTimeout = 300 * time.Millisecond
	srv, addr := startTestServer(t, func(cfg *config.Config) { cfg.RecvTimeout = recvTimeout })
	pub := startPublisher(t, srv, addr)

	player := dialTest(t, addr, "live")
	if err := player.Play("room"); err != nil {
		t.Fatalf("play: %v", err)
	}
	readMedia(t, player, 6)

	start := time.Now()
	for ts := int64(60); time.Since(start) < 3*recvTimeout; ts += 20 {
		if err := pub.WriteAudio(ts, aacRaw); err != nil {
			t.Fatalf("write audio at %d: %v", ts, err)
		}
		msg := readMedia(t, player, 1)[0]
		if msg.Type != AudioMessage || msg.Timestamp != ts {
			t.Fatalf("message = %v@%d, want audio@%d", msg.Type, msg.Timestamp, ts)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if st, _ := sourceStats(srv, testStream); st.Consumers != 1 {
		t.Errorf("consumers = %d after %v of playback, want 1", st.Consumers, time.Since(start))
	}
}

func TestPublishBusyStream(t *testing.T) {
	srv, addr := startTestServer(t, nil)
	startPublisher(t, srv, addr)

	second := dialTest(t, addr, "live/room")
	err := second.Publish("")
	if errors.Cause(err) != ErrStreamBusy {
		t.Fatalf("second publish error = %v, want %v", err, ErrStreamBusy)
	}

	st, _ := sourceStats(srv, testStream)
	if !st.Publishing {
		t.Error("first publisher lost the stream")
	}
}

func TestUnpublishAndRepublish(t *testing.T) {
	srv, addr := startTestServer(t, nil)
	pub := startPublisher(t, srv, addr)

	if err := pub.Unpublish(); err != nil {
		t.Fatalf("unpublish: %v", err)
	}
	eventually(t, "source eviction", func() bool {
		_, ok := sourceStats(srv, testStream)
		return !ok
	})

	if err := pub.Publish(""); err != nil {
		t.Fatalf("republish: %v", err)
	}
	eventually(t, "republished source", func() bool {
		st, ok := sourceStats(srv, testStream)
		return ok && st.Publishing
	})
}

func TestPlayerCloseStream(t *testing.T) {
	srv, addr := startTestServer(t, nil)
	startPublisher(t, srv, addr)

	player := dialTest(t, addr, "live/room")
	if err := player.Play(""); err != nil {
		t.Fatalf("play: %v", err)
	}
	readMedia(t, player, 1)

	if err := player.CloseStream(); err != nil {
		t.Fatal(err)
	}
	eventually(t, "consumer removal", func() bool {
		st, _ := sourceStats(srv, testStream)
		return st.Consumers == 0
	})
	if n := srv.Sessions(); n != 2 {
		t.Errorf("sessions = %d, want 2", n)
	}
}

func TestPlayBeforePublish(t *testing.T) {
	srv, addr := startTestServer(t, nil)

	player := dialTest(t, addr, "live/room")
	if err := player.Play(""); err != nil {
		t.Fatalf("play: %v", err)
	}
	eventually(t, "waiting consumer", func() bool {
		st, ok := sourceStats(srv, testStream)
		return ok && st.Consumers == 1 && !st.Publishing
	})

	startPublisher(t, srv, addr)
	got := readMedia(t, player, 2)
	if got[0].Type != DataMessageAMF0 || got[1].Type != VideoMessage {
		t.Errorf("first messages = %v, %v, want metadata then video", got[0].Type, got[1].Type)
	}
}

func TestDialInvalidURL(t *testing.T) {
	tests := []struct {
		url  string
		want error
	}{
		{"http://127.0.0.1/live/room", ErrInvalidScheme},
		{"rtmp://127.0.0.1/", ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := Dial(context.Background(), tt.url, nil)
			if errors.Cause(err) != tt.want {
				t.Errorf("Dial(%q) error = %v, want %v", tt.url, err, tt.want)
			}
		})
	}
}

func TestServerMaxConnections(t *testing.T) {
	srv, addr := startTestServer(t, func(cfg *config.Config) { cfg.MaxConnections = 1 })
	dialTest(t, addr, "live/room")
	eventually(t, "first session", func() bool { return srv.Sessions() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if c, err := Dial(ctx, "rtmp://"+addr+"/live/room", nopLogger); err == nil {
		c.Close()
		t.Fatal("second connection completed the handshake")
	}
}

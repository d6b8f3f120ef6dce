package rtmp

import (
	"testing"

	"github.com/pkg/errors"
)

func TestRegistryFetchOrCreate(t *testing.T) {
	r := NewRegistry(testStreamConfig(), nil, nopLogger)

	a, err := r.FetchOrCreate(testRequest("live", "room"))
	if err != nil {
		t.Fatal(err)
	}
	req := testRequest("live", "room")
	req.PageUrl = "http://example.com/player"
	b, err := r.FetchOrCreate(req)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("the same stream url must map to one source")
	}
	if got := a.Request().PageUrl; got != req.PageUrl {
		t.Errorf("PageUrl = %q, the source must pick up the refreshed request", got)
	}
	if r.Fetch(a.URL()) != a || r.Len() != 1 {
		t.Errorf("Fetch or Len disagree, Len() = %d", r.Len())
	}

	other, err := r.FetchOrCreate(testRequest("live", "other"))
	if err != nil {
		t.Fatal(err)
	}
	if other == a || r.Len() != 2 {
		t.Errorf("a different stream needs its own source, Len() = %d", r.Len())
	}
}

func TestRegistryRejectsEmptyStream(t *testing.T) {
	r := NewRegistry(testStreamConfig(), nil, nopLogger)
	if _, err := r.FetchOrCreate(testRequest("live", "")); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestRegistryRelease(t *testing.T) {
	r := NewRegistry(testStreamConfig(), nil, nopLogger)

	pub, _ := r.FetchOrCreate(testRequest("live", "room"))
	if err := pub.OnPublish(); err != nil {
		t.Fatal(err)
	}
	play, _ := r.FetchOrCreate(testRequest("live", "room"))
	c := play.CreateConsumer()

	r.Release(pub)
	if r.Len() != 1 {
		t.Fatal("a source with a consumer must stay registered")
	}

	pub.OnUnpublish()
	c.Destroy()
	r.Release(play)
	if r.Len() != 0 || r.Fetch(pub.URL()) != nil {
		t.Errorf("an idle unreferenced source must be evicted, Len() = %d", r.Len())
	}

	fresh, _ := r.FetchOrCreate(testRequest("live", "room"))
	if fresh == pub {
		t.Error("a stream must get a new source after eviction")
	}
}

func TestRegistryKeepsPublishingSource(t *testing.T) {
	r := NewRegistry(testStreamConfig(), nil, nopLogger)
	s, _ := r.FetchOrCreate(testRequest("live", "room"))
	if err := s.OnPublish(); err != nil {
		t.Fatal(err)
	}
	other, _ := r.FetchOrCreate(testRequest("live", "room"))
	r.Release(other)
	if r.Len() != 1 {
		t.Error("a referenced source must stay registered")
	}
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry(testStreamConfig(), nil, nopLogger)
	for _, name := range []string{"b", "a", "c"} {
		if _, err := r.FetchOrCreate(testRequest("live", name)); err != nil {
			t.Fatal(err)
		}
	}
	stats := r.Snapshot()
	if len(stats) != 3 {
		t.Fatalf("Snapshot() has %d entries, want 3", len(stats))
	}
	for i, want := range []string{"a", "b", "c"} {
		if stats[i].Stream != want || stats[i].App != "live" {
			t.Errorf("stats[%d] = %s/%s, want live/%s", i, stats[i].App, stats[i].Stream, want)
		}
	}
}

package rtmp

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmplive/config"
	"go.uber.org/zap"
)

// Registry maps stream urls to their Source. A source lives while it is referenced or
// has a publisher or consumers.
type Registry struct {
	cfg       config.StreamConfig
	recorders RecorderFactory
	logger    *zap.Logger

	mu      sync.Mutex
	sources map[string]*Source
}

// NewRegistry creates an empty registry. recorders may be nil.
func NewRegistry(cfg config.StreamConfig, recorders RecorderFactory, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:       cfg,
		recorders: recorders,
		logger:    logger,
		sources:   make(map[string]*Source),
	}
}

// FetchOrCreate returns the source of req, creating it on first use, and takes a
// reference that must be given back with Release. An existing source picks up the
// request's refreshed fields.
func (r *Registry) FetchOrCreate(req *Request) (*Source, error) {
	if req.App == "" || req.Stream == "" {
		return nil, errors.Wrapf(ErrInvalidRequest, "stream url %q", req.StreamURL())
	}
	url := req.StreamURL()

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sources[url]; ok {
		s.updateRequest(req)
		s.refs++
		return s, nil
	}

	s := NewSource(req, r.cfg, r.recorders, r.logger.Named("source"))
	s.refs = 1
	r.sources[url] = s
	r.logger.Info("create source", zap.String("stream", url), zap.String("vhost", req.Vhost))
	return s, nil
}

// Fetch returns the source for url, or nil.
func (r *Registry) Fetch(url string) *Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sources[url]
}

// Release drops a reference taken by FetchOrCreate and evicts the source once nothing
// uses it.
func (r *Registry) Release(s *Source) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.refs--
	if s.refs > 0 || !s.idle() {
		return
	}
	if r.sources[s.URL()] == s {
		delete(r.sources, s.URL())
		r.logger.Info("evict source", zap.String("stream", s.URL()))
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}

// Snapshot returns the stats of every source, ordered by url.
func (r *Registry) Snapshot() []SourceStats {
	r.mu.Lock()
	sources := make([]*Source, 0, len(r.sources))
	for _, s := range r.sources {
		sources = append(sources, s)
	}
	r.mu.Unlock()

	stats := make([]SourceStats, 0, len(sources))
	for _, s := range sources {
		stats = append(stats, s.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].URL < stats[j].URL })
	return stats
}

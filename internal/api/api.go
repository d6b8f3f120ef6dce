// Package api serves the stream stats over HTTP and a websocket.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	rtmp "github.com/torresjeff/rtmplive"
	"github.com/torresjeff/rtmplive/config"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 5 * time.Second
	readHeaderWait  = 10 * time.Second
)

// Stats is the view of the RTMP server the API reports.
type Stats interface {
	Streams() []rtmp.SourceStats
	Sessions() int64
}

// Summary is the body of GET /api/v1/summary.
type Summary struct {
	Streams    int   `json:"streams"`
	Publishing int   `json:"publishing"`
	Consumers  int   `json:"consumers"`
	Sessions   int64 `json:"sessions"`
}

type API struct {
	stats    Stats
	interval time.Duration
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func New(stats Stats, cfg config.HTTPAPIConfig, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.StatsInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &API{
		stats:    stats,
		interval: interval,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(zapLoggerMiddleware(a.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/streams", a.handleStreams)
		r.Get("/summary", a.handleSummary)
		r.Get("/ws", a.handleWS)
	})
	return r
}

// ListenAndServe serves the API on addr until ctx is done.
func (a *API) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	return a.Serve(ctx, ln)
}

// Serve serves the API on ln until ctx is done, then shuts down. Websocket streams end
// with ctx.
func (a *API) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Router(),
		ReadHeaderTimeout: readHeaderWait,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("stats api listening", zap.String("addr", ln.Addr().String()))
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "serve stats api")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown stats api")
	}
	a.logger.Info("stats api stopped")
	return nil
}

func (a *API) summary() Summary {
	streams := a.stats.Streams()
	s := Summary{Streams: len(streams), Sessions: a.stats.Sessions()}
	for _, st := range streams {
		if st.Publishing {
			s.Publishing++
		}
		s.Consumers += st.Consumers
	}
	return s
}

func (a *API) handleStreams(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, r, a.stats.Streams())
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, r, a.summary())
}

func (a *API) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("write response",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

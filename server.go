package rtmp

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmplive/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Server accepts RTMP connections and runs a Session for each.
type Server struct {
	Config *config.Config
	Logger *zap.Logger
	// Registry is created from Config when nil.
	Registry *Registry
	// RecorderFactory, when set, records every published stream.
	RecorderFactory RecorderFactory

	initOnce sync.Once
	sessions atomic.Int64
	wg       sync.WaitGroup
}

func (s *Server) init() {
	s.initOnce.Do(func() {
		if s.Config == nil {
			s.Config = config.Default()
		}
		if s.Logger == nil {
			s.Logger = zap.NewNop()
		}
		if s.Registry == nil {
			s.Registry = NewRegistry(s.Config.Stream, s.RecorderFactory, s.Logger.Named("registry"))
		}
	})
}

// Sources returns the registry the server publishes into.
func (s *Server) Sources() *Registry {
	s.init()
	return s.Registry
}

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

// Streams returns the stats of every registered source.
func (s *Server) Streams() []SourceStats { return s.Sources().Snapshot() }

// ListenAndServe listens on Config.Listen and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.init()
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.Config.Listen)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.Config.Listen)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or accepting fails. It closes ln and
// waits for every session to end before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.init()
	logger := s.Logger.Named("server")
	logger.Info("listening", zap.String("addr", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer s.wg.Wait()

	var limiter *rate.Limiter
	if s.Config.AcceptRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.Config.AcceptRate), s.Config.AcceptBurst)
	}

	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				ln.Close()
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("server stopped")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logger.Warn("accept", zap.Error(err))
				continue
			}
			return errors.Wrap(err, "accept")
		}

		if limit := s.Config.MaxConnections; limit > 0 && s.sessions.Load() >= int64(limit) {
			logger.Warn("too many connections, reject",
				zap.String("remote", conn.RemoteAddr().String()),
				zap.Int("max", limit))
			conn.Close()
			continue
		}

		s.sessions.Add(1)
		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.sessions.Add(-1)
	defer conn.Close()

	sess, err := NewSession(conn, s.Config, s.Registry, s.Logger.Named("session"))
	if err != nil {
		s.Logger.Error("create session", zap.Error(err))
		return
	}
	logger := sess.logger
	logger.Info("accept connection", zap.Int64("sessions", s.sessions.Load()))

	err = sess.Serve(ctx)
	switch {
	case err == nil:
		logger.Info("session done")
	case ctx.Err() != nil, IsGracefulClose(err):
		logger.Info("client disconnected", zap.Error(err))
	case IsTimeout(err):
		logger.Warn("session timeout", zap.Error(err))
	case errors.Cause(err) == ErrStreamBusy:
		logger.Warn("session rejected", zap.Error(err))
	default:
		logger.Error("session failed", zap.Error(err))
	}
}

package rtmp

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmplive/config"
	"github.com/torresjeff/rtmplive/rand"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// playBatchSize is the most messages a player sends per write.
	playBatchSize = 128
	// mrBitrateKbps sizes the merged read socket buffer: mr_sleep worth of media at this rate.
	mrBitrateKbps = 8000
)

// errPlayDone stops the play loops once the requested duration was sent.
var errPlayDone = errors.New("play duration reached")

// Session serves one client connection: handshake, connect, then play or publish until the
// client leaves. A publisher may republish on the same connection.
type Session struct {
	id       string
	conn     net.Conn
	cfg      *config.Config
	registry *Registry
	logger   *zap.Logger

	proto *ServerConn
	req   *Request
}

func NewSession(conn net.Conn, cfg *config.Config, registry *Registry, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := rand.UUID()
	logger = logger.With(zap.String("session", id), zap.String("remote", conn.RemoteAddr().String()))

	p, err := NewProtocol(conn, cfg.BufferSize, logger.Named("protocol"))
	if err != nil {
		return nil, err
	}
	p.SetChunkSizeRange(cfg.Stream.MinChunkSize, cfg.Stream.MaxChunkSize)
	p.SetRecvTimeout(cfg.RecvTimeout)
	p.SetSendTimeout(cfg.SendTimeout)

	return &Session{
		id:       id,
		conn:     conn,
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		proto:    NewServerConn(p, logger),
		req:      NewRequest(),
	}, nil
}

func (s *Session) ID() string { return s.id }

// Serve runs the session until the client leaves, an error occurs or ctx is done. The
// connection is closed when ctx is done; closing it otherwise is up to the caller.
func (s *Session) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	if err := s.proto.Handshake(); err != nil {
		return err
	}
	s.logger.Debug("handshake done")

	if host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String()); err == nil {
		s.req.IP = host
	}
	if err := s.proto.ConnectApp(s.req); err != nil {
		return errors.Wrap(err, "connect app")
	}
	s.logger.Info("connect app",
		zap.String("tcUrl", s.req.TcUrl),
		zap.String("pageUrl", s.req.PageUrl),
		zap.String("swfUrl", s.req.SwfUrl),
		zap.String("vhost", s.req.Vhost),
		zap.String("app", s.req.App),
		zap.String("param", s.req.Param))

	return s.serviceCycle(ctx)
}

func (s *Session) serviceCycle(ctx context.Context) error {
	if err := s.proto.SetWindowAckSize(s.cfg.WindowAckSize); err != nil {
		return errors.Wrap(err, "set window ack size")
	}
	if err := s.proto.SetPeerBandwidth(s.cfg.PeerBandwidth, PeerBandwidthDynamic); err != nil {
		return errors.Wrap(err, "set peer bandwidth")
	}
	if err := s.proto.SetChunkSize(s.cfg.ChunkSize); err != nil {
		return errors.Wrap(err, "set chunk size")
	}

	localIP := ""
	if host, _, err := net.SplitHostPort(s.conn.LocalAddr().String()); err == nil {
		localIP = host
	}
	if err := s.proto.ResponseConnectApp(s.req, localIP); err != nil {
		return err
	}
	if err := s.proto.OnBWDone(); err != nil {
		return errors.Wrap(err, "send onBWDone")
	}

	for {
		err := s.streamServiceCycle(ctx)
		if err == nil {
			return nil
		}
		if !IsControlSignal(err) {
			return err
		}
		s.logger.Debug("restart stream service cycle", zap.Error(err))

		// Playing and publishing change the timeouts.
		s.proto.SetRecvTimeout(s.cfg.RecvTimeout)
		s.proto.SetSendTimeout(s.cfg.SendTimeout)
	}
}

func (s *Session) streamServiceCycle(ctx context.Context) error {
	streamID := uint32(config.DefaultStreamID)

	connType, stream, duration, err := s.proto.IdentifyClient(streamID)
	if err != nil {
		return err
	}

	s.req.Stream = stream
	s.req.Duration = duration
	s.req.Param = ""
	s.req.DiscoveryTcUrl(s.req.TcUrl)
	s.req.Strip()

	if s.req.Schema == "" || s.req.Vhost == "" || s.req.Port == "" || s.req.App == "" {
		return errors.Wrapf(ErrInvalidRequest, "tcUrl %q", s.req.TcUrl)
	}
	if s.req.Stream == "" {
		return errors.Wrap(ErrInvalidRequest, "empty stream name")
	}

	logger := s.logger.With(zap.String("stream", s.req.StreamURL()), zap.Stringer("type", connType))
	logger.Info("client identified", zap.Float64("duration", s.req.Duration), zap.String("param", s.req.Param))

	source, err := s.registry.FetchOrCreate(s.req)
	if err != nil {
		return err
	}
	defer s.registry.Release(source)

	switch connType {
	case ConnPlay:
		if err := s.proto.StartPlay(streamID); err != nil {
			return errors.Wrap(err, "start play")
		}
		return s.playing(ctx, source, streamID, logger)
	case ConnFmlePublish, ConnFlashPublish:
		return s.publishing(source, connType, streamID, logger)
	}
	return errors.Wrapf(ErrProtocolViolation, "unknown client type %v", connType)
}

func (s *Session) publishing(source *Source, connType ConnType, streamID uint32, logger *zap.Logger) error {
	if err := source.OnPublish(); err != nil {
		if errors.Cause(err) == ErrStreamBusy {
			logger.Warn("stream busy")
			if rerr := s.proto.RejectPublish(streamID); rerr != nil {
				logger.Debug("reject publish", zap.Error(rerr))
			}
		}
		return errors.Wrapf(err, "publish %s", source.URL())
	}
	defer source.OnUnpublish()

	if connType == ConnFmlePublish {
		if err := s.proto.StartFmlePublish(streamID); err != nil {
			return errors.Wrap(err, "start FMLE publish")
		}
	} else if err := s.proto.StartFlashPublish(streamID); err != nil {
		return errors.Wrap(err, "start flash publish")
	}
	s.setPublishSocketOptions(logger)

	nbMsgs := 0
	for {
		timeout := s.cfg.Stream.PublishNormalPktTimeout
		if nbMsgs == 0 {
			timeout = s.cfg.Stream.PublishFirstPktTimeout
		}
		s.proto.SetRecvTimeout(timeout)

		msg, err := s.proto.RecvMessage()
		if err != nil {
			if IsTimeout(err) {
				return errors.Wrapf(ErrPublishTimeout, "no message in %v after %d messages", timeout, nbMsgs)
			}
			return err
		}
		nbMsgs++

		if err := s.handlePublishMessage(source, connType, streamID, msg, logger); err != nil {
			return err
		}
	}
}

func (s *Session) setPublishSocketOptions(logger *zap.Logger) {
	tcp, ok := s.conn.(*net.TCPConn)
	if !ok {
		return
	}
	if s.cfg.Stream.TCPNoDelay {
		if err := tcp.SetNoDelay(true); err != nil {
			logger.Warn("set tcp nodelay", zap.Error(err))
		}
	}
	if s.cfg.Stream.MREnabled {
		size := int(s.cfg.Stream.MRSleep.Milliseconds()) * mrBitrateKbps / 8
		if err := tcp.SetReadBuffer(size); err != nil {
			logger.Warn("set merged read buffer", zap.Int("size", size), zap.Error(err))
		}
	}
}

func (s *Session) handlePublishMessage(source *Source, connType ConnType, streamID uint32, msg *CommonMessage, logger *zap.Logger) error {
	h := &msg.Header

	if h.IsAMF0Command() || h.IsAMF3Command() {
		// Flash clients have nothing else to say while publishing.
		if connType == ConnFlashPublish {
			logger.Info("flash publish finished")
			return ErrRepublish
		}
		pkt, err := s.proto.DecodeMessage(msg)
		if err != nil {
			logger.Warn("drop undecodable command", zap.Error(err))
			return nil
		}
		if unpublish, ok := pkt.(*FMLEStartPacket); ok {
			logger.Info("FMLE unpublish", zap.String("command", unpublish.CommandName))
			if err := s.proto.FMLEUnpublish(streamID, unpublish.TransactionID); err != nil {
				return err
			}
			return ErrRepublish
		}
		logger.Debug("ignore command while publishing", zap.Stringer("packet", h.MessageType))
		return nil
	}

	switch {
	case h.IsAudio():
		return source.OnAudio(msg)
	case h.IsVideo():
		return source.OnVideo(msg)
	case h.MessageType == AggregateMessage:
		if err := source.OnAggregate(msg); err != nil {
			logger.Warn("drop aggregate", zap.Error(err))
		}
		return nil
	case h.IsAMF0Data() || h.IsAMF3Data():
		pkt, err := s.proto.DecodeMessage(msg)
		if err != nil {
			logger.Warn("drop undecodable data", zap.Error(err))
			return nil
		}
		if meta, ok := pkt.(*OnMetadataPacket); ok {
			return source.OnMetadata(msg, meta)
		}
	}
	return nil
}

func (s *Session) playing(ctx context.Context, source *Source, streamID uint32, logger *zap.Logger) error {
	consumer := source.CreateConsumer()
	defer consumer.Destroy()

	// The player may stay silent for the whole session.
	s.proto.SetRecvTimeout(0)
	defer s.conn.SetReadDeadline(time.Time{})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Unblock the read once the send side fails.
		stop := context.AfterFunc(ctx, func() { s.conn.SetReadDeadline(time.Now()) })
		defer stop()
		return s.playRecvLoop(consumer, streamID, logger)
	})
	g.Go(func() error {
		return s.playSendLoop(ctx, consumer, streamID, logger)
	})
	if err := g.Wait(); errors.Cause(err) != errPlayDone {
		return err
	}
	return nil
}

func (s *Session) playRecvLoop(consumer *Consumer, streamID uint32, logger *zap.Logger) error {
	for {
		msg, err := s.proto.RecvMessage()
		if err != nil {
			return err
		}
		if !msg.Header.IsAMF0Command() && !msg.Header.IsAMF3Command() {
			continue
		}
		pkt, err := s.proto.DecodeMessage(msg)
		if err != nil {
			logger.Warn("drop undecodable command", zap.Error(err))
			continue
		}

		switch pkt := pkt.(type) {
		case *CloseStreamPacket:
			logger.Info("player closed stream", zap.String("command", pkt.CommandName))
			return ErrCloseStream
		case *PausePacket:
			consumer.OnPlayClientPause(pkt.IsPause)
			if err := s.proto.OnPlayClientPause(streamID, pkt.IsPause); err != nil {
				return err
			}
		default:
			logger.Debug("ignore command while playing", zap.Stringer("type", msg.Header.MessageType))
		}
	}
}

func (s *Session) playSendLoop(ctx context.Context, consumer *Consumer, streamID uint32, logger *zap.Logger) error {
	cfg := s.cfg.Stream

	var duration, startTime int64 = 0, -1
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		waitCtx, cancel := context.WithTimeout(ctx, cfg.MWWaitTimeout)
		consumer.Wait(waitCtx, cfg.MWMinMsgs, cfg.MWSleep)
		cancel()

		msgs := consumer.DumpPackets(playBatchSize)
		if len(msgs) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.MWSleep):
			}
			continue
		}

		if s.req.Duration > 0 {
			for _, m := range msgs {
				if startTime < 0 || startTime > m.Timestamp {
					startTime = m.Timestamp
				}
				duration += m.Timestamp - startTime
				startTime = m.Timestamp
			}
		}

		if err := s.proto.SendMessages(msgs, streamID); err != nil {
			return errors.Wrap(err, "send media")
		}

		if s.req.Duration > 0 && float64(duration) >= s.req.Duration {
			logger.Info("play duration reached", zap.Int64("duration", duration))
			return errPlayDone
		}
	}
}

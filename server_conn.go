package rtmp

import (
	"github.com/pkg/errors"
	"github.com/torresjeff/rtmplive/amf/amf0"
	"github.com/torresjeff/rtmplive/config"
	"go.uber.org/zap"
)

// ConnType is what a client turned out to be after IdentifyClient.
type ConnType int

const (
	ConnUnknown ConnType = iota
	ConnPlay
	ConnFmlePublish
	ConnFlashPublish
)

func (t ConnType) String() string {
	switch t {
	case ConnPlay:
		return "play"
	case ConnFmlePublish:
		return "fmle-publish"
	case ConnFlashPublish:
		return "flash-publish"
	default:
		return "unknown"
	}
}

func (t ConnType) IsPublish() bool {
	return t == ConnFmlePublish || t == ConnFlashPublish
}

// ServerName is reported to clients in the connect response and stream metadata.
const ServerName = "rtmplive"

// createStreamDepth bounds nested createStream requests while identifying a client.
const createStreamDepth = 3

// ServerConn runs the server side of the command exchanges on a Protocol.
type ServerConn struct {
	*Protocol
	logger *zap.Logger
}

func NewServerConn(p *Protocol, logger *zap.Logger) *ServerConn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServerConn{Protocol: p, logger: logger}
}

func (c *ServerConn) Handshake() error {
	return errors.Wrap(SimpleHandshake{}.Handshake(c.Reader(), c.Writer()), "handshake")
}

// ConnectApp waits for connect and fills req from its command object.
func (c *ServerConn) ConnectApp(req *Request) error {
	_, pkt, err := ExpectPacket[*ConnectAppPacket](c.Protocol)
	if err != nil {
		return errors.Wrap(err, "expect connect")
	}

	tcUrl, ok := pkt.CommandObject.GetString("tcUrl")
	if !ok || tcUrl == "" {
		return errors.Wrap(ErrInvalidRequest, "connect without tcUrl")
	}
	req.TcUrl = tcUrl
	if v, ok := pkt.CommandObject.GetString("pageUrl"); ok {
		req.PageUrl = v
	}
	if v, ok := pkt.CommandObject.GetString("swfUrl"); ok {
		req.SwfUrl = v
	}
	if v, ok := pkt.CommandObject.GetNumber("objectEncoding"); ok {
		req.ObjectEncoding = v
	}
	if pkt.Args != nil {
		req.Args = pkt.Args.Copy()
	}

	req.DiscoveryTcUrl(req.TcUrl)
	req.Strip()
	return nil
}

func (c *ServerConn) SetWindowAckSize(size uint32) error {
	return c.SendPacket(&SetWindowAckSizePacket{AcknowledgementWindowSize: size}, 0)
}

func (c *ServerConn) SetPeerBandwidth(bandwidth uint32, t PeerBandwidthType) error {
	return c.SendPacket(&SetPeerBandwidthPacket{Bandwidth: bandwidth, Type: t}, 0)
}

func (c *ServerConn) SetChunkSize(size uint32) error {
	return c.SendPacket(&SetChunkSizePacket{ChunkSize: size}, 0)
}

// ResponseConnectApp accepts the connection.
func (c *ServerConn) ResponseConnectApp(req *Request, localIP string) error {
	info := statusObject(StatusLevelStatus, StatusConnectSuccess, "Connection succeeded")
	info.Set("objectEncoding", req.ObjectEncoding)
	info.Set("data", amf0.NewECMAArray(
		amf0.Property{Key: "version", Value: config.FlashMediaServerVersion},
		amf0.Property{Key: "server", Value: ServerName},
		amf0.Property{Key: "server_ip", Value: localIP},
	))

	pkt := &ConnectAppResPacket{
		CommandName:   CommandResult,
		TransactionID: 1,
		Props: amf0.NewObject(
			amf0.Property{Key: "fmsVer", Value: config.FlashMediaServerVersion},
			amf0.Property{Key: "capabilities", Value: float64(config.Capabilities)},
			amf0.Property{Key: "mode", Value: float64(config.Mode)},
		),
		Info: info,
	}
	return errors.Wrap(c.SendPacket(pkt, 0), "response connect")
}

// OnBWDone tells the client the bandwidth check is over.
func (c *ServerConn) OnBWDone() error {
	return c.SendPacket(&CallPacket{CommandName: CommandOnBWDone}, 0)
}

// IdentifyClient reads commands until the client shows whether it plays or publishes.
// It returns the connection type, the stream name and the requested play duration.
func (c *ServerConn) IdentifyClient(streamID uint32) (ConnType, string, float64, error) {
	for {
		pkt, err := c.recvCommand()
		if err != nil {
			return ConnUnknown, "", 0, errors.Wrap(err, "identify client")
		}

		switch pkt := pkt.(type) {
		case *CreateStreamPacket:
			return c.identifyCreateStreamClient(pkt, streamID, createStreamDepth)
		case *FMLEStartPacket:
			return c.identifyFmlePublishClient(pkt)
		case *PlayPacket:
			return ConnPlay, pkt.StreamName, pkt.Duration, nil
		default:
			c.logger.Debug("identify ignore message", zap.Stringer("type", pkt.MessageType()))
		}
	}
}

func (c *ServerConn) identifyCreateStreamClient(req *CreateStreamPacket, streamID uint32, depth int) (ConnType, string, float64, error) {
	if depth <= 0 {
		return ConnUnknown, "", 0, errors.Wrap(ErrProtocolViolation, "createStream nested too deep")
	}
	res := &CreateStreamResPacket{CommandName: CommandResult, TransactionID: req.TransactionID, StreamID: float64(streamID)}
	if err := c.SendPacket(res, 0); err != nil {
		return ConnUnknown, "", 0, errors.Wrap(err, "response createStream")
	}

	for {
		pkt, err := c.recvCommand()
		if err != nil {
			return ConnUnknown, "", 0, errors.Wrap(err, "identify createStream client")
		}
		switch pkt := pkt.(type) {
		case *PlayPacket:
			return ConnPlay, pkt.StreamName, pkt.Duration, nil
		case *PublishPacket:
			return ConnFlashPublish, pkt.StreamName, -1, nil
		case *CreateStreamPacket:
			return c.identifyCreateStreamClient(pkt, streamID, depth-1)
		default:
			c.logger.Debug("identify ignore message", zap.Stringer("type", pkt.MessageType()))
		}
	}
}

func (c *ServerConn) identifyFmlePublishClient(req *FMLEStartPacket) (ConnType, string, float64, error) {
	res := &FMLEStartResPacket{CommandName: CommandResult, TransactionID: req.TransactionID}
	if err := c.SendPacket(res, 0); err != nil {
		return ConnUnknown, "", 0, errors.Wrapf(err, "response %s", req.CommandName)
	}
	return ConnFmlePublish, req.StreamName, -1, nil
}

// recvCommand returns the next decoded command, skipping every other message.
func (c *ServerConn) recvCommand() (Packet, error) {
	for {
		msg, err := c.RecvMessage()
		if err != nil {
			return nil, err
		}
		if !msg.Header.IsAMF0Command() && !msg.Header.IsAMF3Command() {
			continue
		}
		pkt, err := c.DecodeMessage(msg)
		if err != nil {
			return nil, err
		}
		return pkt, nil
	}
}

// StartFmlePublish finishes the FMLE publish exchange: FCPublish, createStream, publish.
func (c *ServerConn) StartFmlePublish(streamID uint32) error {
	_, fcPublish, err := ExpectPacket[*FMLEStartPacket](c.Protocol)
	if err != nil {
		return errors.Wrap(err, "expect FCPublish")
	}
	if err := c.SendPacket(&FMLEStartResPacket{CommandName: CommandResult, TransactionID: fcPublish.TransactionID}, 0); err != nil {
		return errors.Wrap(err, "response FCPublish")
	}

	_, createStream, err := ExpectPacket[*CreateStreamPacket](c.Protocol)
	if err != nil {
		return errors.Wrap(err, "expect createStream")
	}
	res := &CreateStreamResPacket{CommandName: CommandResult, TransactionID: createStream.TransactionID, StreamID: float64(streamID)}
	if err := c.SendPacket(res, 0); err != nil {
		return errors.Wrap(err, "response createStream")
	}

	if _, _, err := ExpectPacket[*PublishPacket](c.Protocol); err != nil {
		return errors.Wrap(err, "expect publish")
	}
	onFCPublish := &OnStatusCallPacket{
		CommandName: CommandOnFCPublish,
		Data:        statusObject(StatusLevelStatus, StatusPublishStart, "Started publishing stream."),
	}
	if err := c.SendPacket(onFCPublish, streamID); err != nil {
		return errors.Wrap(err, "send onFCPublish")
	}
	return c.sendStatus(streamID, StatusLevelStatus, StatusPublishStart, "Started publishing stream.")
}

// StartFlashPublish accepts a publish that arrived during IdentifyClient.
func (c *ServerConn) StartFlashPublish(streamID uint32) error {
	return c.sendStatus(streamID, StatusLevelStatus, StatusPublishStart, "Started publishing stream.")
}

// StartPlay tells the client its stream begins.
func (c *ServerConn) StartPlay(streamID uint32) error {
	if err := c.SendPacket(&UserControlPacket{EventType: StreamBegin, EventData: streamID}, 0); err != nil {
		return errors.Wrap(err, "send StreamBegin")
	}

	reset := statusObject(StatusLevelStatus, StatusPlayReset, "Playing and resetting stream.")
	reset.Set(StatusDetails, "stream")
	reset.Set(StatusClientID, ServerClientID)
	if err := c.SendPacket(&OnStatusCallPacket{CommandName: CommandOnStatus, Data: reset}, streamID); err != nil {
		return errors.Wrap(err, "send Play.Reset")
	}

	start := statusObject(StatusLevelStatus, StatusPlayStart, "Started playing stream.")
	start.Set(StatusDetails, "stream")
	start.Set(StatusClientID, ServerClientID)
	if err := c.SendPacket(&OnStatusCallPacket{CommandName: CommandOnStatus, Data: start}, streamID); err != nil {
		return errors.Wrap(err, "send Play.Start")
	}

	if err := c.SendPacket(&SampleAccessPacket{VideoSampleAccess: true, AudioSampleAccess: true}, streamID); err != nil {
		return errors.Wrap(err, "send sample access")
	}

	data := amf0.NewObject(amf0.Property{Key: StatusCode, Value: StatusDataStart})
	return errors.Wrap(c.SendPacket(&OnStatusDataPacket{Data: data}, streamID), "send Data.Start")
}

// FMLEUnpublish answers an FCUnpublish.
func (c *ServerConn) FMLEUnpublish(streamID uint32, tid float64) error {
	onFCUnpublish := &OnStatusCallPacket{
		CommandName: CommandOnFCUnpublish,
		Data:        statusObject(StatusLevelStatus, StatusFCUnpublishSuccess, "Stop publishing stream."),
	}
	if err := c.SendPacket(onFCUnpublish, streamID); err != nil {
		return errors.Wrap(err, "send onFCUnpublish")
	}
	if err := c.SendPacket(&FMLEStartResPacket{CommandName: CommandResult, TransactionID: tid}, streamID); err != nil {
		return errors.Wrap(err, "response FCUnpublish")
	}
	return c.sendStatus(streamID, StatusLevelStatus, StatusUnpublishSuccess, "Stream is now unpublished")
}

// OnPlayClientPause acknowledges a pause or resume.
func (c *ServerConn) OnPlayClientPause(streamID uint32, pause bool) error {
	if pause {
		if err := c.sendStatus(streamID, StatusLevelStatus, StatusPauseNotify, "Paused stream."); err != nil {
			return err
		}
		return c.SendPacket(&UserControlPacket{EventType: StreamEOF, EventData: streamID}, 0)
	}
	if err := c.sendStatus(streamID, StatusLevelStatus, StatusUnpauseNotify, "Unpaused stream."); err != nil {
		return err
	}
	return c.SendPacket(&UserControlPacket{EventType: StreamBegin, EventData: streamID}, 0)
}

// RejectPublish tells a publisher the stream already has one.
func (c *ServerConn) RejectPublish(streamID uint32) error {
	return c.sendStatus(streamID, StatusLevelError, StatusPublishBadName, "Already publishing")
}

func (c *ServerConn) sendStatus(streamID uint32, level, code, description string) error {
	data := statusObject(level, code, description)
	data.Set(StatusClientID, ServerClientID)
	pkt := &OnStatusCallPacket{CommandName: CommandOnStatus, Data: data}
	return errors.Wrapf(c.SendPacket(pkt, streamID), "send %s", code)
}

package rtmp

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmplive/amf/amf0"
	"github.com/torresjeff/rtmplive/config"
	"go.uber.org/zap"
)

var ErrInvalidScheme = errors.New("rtmp: invalid scheme in URL")

const (
	clientFlashVer     = "LNX 9,0,124,2"
	clientBufferMs     = 1000
	clientWindowAck    = 2500000
	clientCapabilities = 15
)

// Client is a minimal RTMP client that can publish or play one stream.
type Client struct {
	*Protocol
	conn   net.Conn
	logger *zap.Logger

	tcUrl  string
	app    string
	stream string

	streamID uint32
	tid      float64
}

// Dial connects to rtmp://host[:port]/app[/stream] and performs the handshake. The last
// path element is taken as the stream name when the path has more than one.
func Dial(ctx context.Context, rawURL string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %q", rawURL)
	}
	if u.Scheme != "rtmp" {
		return nil, errors.Wrapf(ErrInvalidScheme, "%q", u.Scheme)
	}
	if u.Port() == "" {
		u.Host += ":" + config.DefaultPort
	}

	path := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(path) == 0 || path[0] == "" {
		return nil, errors.Wrapf(ErrInvalidRequest, "no app in %q", rawURL)
	}
	c := &Client{logger: logger, tid: 1}
	c.app = path[0]
	if len(path) > 1 {
		c.app = strings.Join(path[:len(path)-1], "/")
		c.stream = path[len(path)-1]
	}
	c.tcUrl = "rtmp://" + u.Host + "/" + c.app

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", u.Host)
	}
	if err := c.handshake(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient runs the client handshake on an established connection.
func NewClient(conn net.Conn, tcUrl string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	req := NewRequest()
	req.DiscoveryTcUrl(tcUrl)
	c := &Client{logger: logger, tid: 1, tcUrl: tcUrl, app: req.App}
	if err := c.handshake(conn); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake(conn net.Conn) error {
	c.conn = conn
	p, err := NewProtocol(conn, 0, c.logger)
	if err != nil {
		return err
	}
	c.Protocol = p
	return errors.Wrap(ClientHandshake{}.Handshake(c.Reader(), c.Writer()), "client handshake")
}

func (c *Client) StreamID() uint32 { return c.streamID }

func (c *Client) nextTID() float64 {
	c.tid++
	return c.tid
}

// Connect sends connect for the app and waits for the result.
func (c *Client) Connect() error {
	obj := amf0.NewObject(
		amf0.Property{Key: "app", Value: c.app},
		amf0.Property{Key: "flashVer", Value: clientFlashVer},
		amf0.Property{Key: "tcUrl", Value: c.tcUrl},
		amf0.Property{Key: "fpad", Value: false},
		amf0.Property{Key: "capabilities", Value: float64(clientCapabilities)},
		amf0.Property{Key: "audioCodecs", Value: 4071.0},
		amf0.Property{Key: "videoCodecs", Value: 252.0},
		amf0.Property{Key: "videoFunction", Value: 1.0},
		amf0.Property{Key: "objectEncoding", Value: 0.0},
	)
	if err := c.SendPacket(&ConnectAppPacket{TransactionID: 1, CommandObject: obj}, 0); err != nil {
		return errors.Wrap(err, "send connect")
	}

	res, err := expect[*ConnectAppResPacket](c)
	if err != nil {
		return errors.Wrap(err, "expect connect result")
	}
	if res.CommandName == CommandError || res.Info == nil {
		return errors.Wrapf(ErrRejected, "connect %s", c.tcUrl)
	}
	if code, _ := res.Info.GetString(StatusCode); code != StatusConnectSuccess {
		return errors.Wrapf(ErrRejected, "connect %s: %s", c.tcUrl, code)
	}

	return c.SendPacket(&SetWindowAckSizePacket{AcknowledgementWindowSize: clientWindowAck}, 0)
}

// CreateStream asks the server for a message stream.
func (c *Client) CreateStream() error {
	if err := c.SendPacket(&CreateStreamPacket{TransactionID: c.nextTID()}, 0); err != nil {
		return errors.Wrap(err, "send createStream")
	}
	res, err := expect[*CreateStreamResPacket](c)
	if err != nil {
		return errors.Wrap(err, "expect createStream result")
	}
	if res.CommandName == CommandError {
		return errors.Wrap(ErrRejected, "createStream")
	}
	c.streamID = uint32(res.StreamID)
	return nil
}

// Publish runs the FMLE publish sequence. An empty stream uses the one from the URL.
func (c *Client) Publish(stream string) error {
	if stream != "" {
		c.stream = stream
	}
	for _, name := range []string{CommandReleaseStream, CommandFCPublish} {
		pkt := &FMLEStartPacket{CommandName: name, TransactionID: c.nextTID(), StreamName: c.stream}
		if err := c.SendPacket(pkt, 0); err != nil {
			return errors.Wrapf(err, "send %s", name)
		}
	}
	if err := c.CreateStream(); err != nil {
		return err
	}
	if err := c.SendPacket(&PublishPacket{TransactionID: c.nextTID(), StreamName: c.stream, Type: "live"}, c.streamID); err != nil {
		return errors.Wrap(err, "send publish")
	}
	return c.expectStatus(StatusPublishStart)
}

// Play requests a stream and waits until the server starts it. An empty stream uses the
// one from the URL.
func (c *Client) Play(stream string) error {
	if stream != "" {
		c.stream = stream
	}
	if err := c.CreateStream(); err != nil {
		return err
	}
	play := &PlayPacket{StreamName: c.stream, Start: -2, Duration: -1, Reset: true}
	if err := c.SendPacket(play, c.streamID); err != nil {
		return errors.Wrap(err, "send play")
	}
	buffer := &UserControlPacket{EventType: SetBufferLength, EventData: c.streamID, ExtraData: clientBufferMs}
	if err := c.SendPacket(buffer, 0); err != nil {
		return errors.Wrap(err, "send buffer length")
	}
	return c.expectStatus(StatusPlayStart)
}

// Pause pauses or resumes a playing stream.
func (c *Client) Pause(pause bool) error {
	return c.SendPacket(&PausePacket{IsPause: pause}, c.streamID)
}

// Unpublish sends FCUnpublish and waits for the server to confirm.
func (c *Client) Unpublish() error {
	pkt := &FMLEStartPacket{CommandName: CommandFCUnpublish, TransactionID: c.nextTID(), StreamName: c.stream}
	if err := c.SendPacket(pkt, c.streamID); err != nil {
		return errors.Wrap(err, "send FCUnpublish")
	}
	return c.expectStatus(StatusUnpublishSuccess)
}

// CloseStream ends playback on the current stream, leaving the connection open.
func (c *Client) CloseStream() error {
	return c.SendPacket(&CloseStreamPacket{CommandName: CommandCloseStream}, c.streamID)
}

// expectStatus reads until an onStatus with code arrives.
func (c *Client) expectStatus(code string) error {
	for {
		pkt, err := expect[*OnStatusCallPacket](c)
		if err != nil {
			return errors.Wrapf(err, "expect %s", code)
		}
		if err := c.statusError(pkt); err != nil {
			return err
		}
		got, _ := pkt.Data.GetString(StatusCode)
		if pkt.CommandName == CommandOnStatus && got == code {
			return nil
		}
		c.logger.Debug("skip status", zap.String("command", pkt.CommandName), zap.String("code", got))
	}
}

// statusError maps an error level status to ErrStreamBusy or ErrRejected.
func (c *Client) statusError(pkt *OnStatusCallPacket) error {
	if level, _ := pkt.Data.GetString(StatusLevel); level != StatusLevelError {
		return nil
	}
	code, _ := pkt.Data.GetString(StatusCode)
	if code == StatusPublishBadName {
		return errors.Wrapf(ErrStreamBusy, "publish %s", c.stream)
	}
	return errors.Wrapf(ErrRejected, "%s", code)
}

// expect reads until a T arrives. An error level onStatus on the way fails the wait.
func expect[T Packet](c *Client) (T, error) {
	var zero T
	for {
		msg, err := c.RecvMessage()
		if err != nil {
			return zero, err
		}
		pkt, err := c.DecodeMessage(msg)
		if err != nil {
			return zero, errors.Wrapf(err, "decode %v", msg.Header.MessageType)
		}
		if want, ok := pkt.(T); ok {
			return want, nil
		}
		if status, ok := pkt.(*OnStatusCallPacket); ok {
			if err := c.statusError(status); err != nil {
				return zero, err
			}
		}
	}
}

func (c *Client) WriteAudio(timestamp int64, payload []byte) error {
	return c.writeMedia(AudioMessage, CIDAudio, timestamp, payload)
}

func (c *Client) WriteVideo(timestamp int64, payload []byte) error {
	return c.writeMedia(VideoMessage, CIDVideo, timestamp, payload)
}

// WriteMetadata sends onMetaData with the given properties.
func (c *Client) WriteMetadata(metadata *amf0.Object) error {
	return c.SendPacket(&OnMetadataPacket{Metadata: metadata}, c.streamID)
}

func (c *Client) writeMedia(t MessageType, cid int, timestamp int64, payload []byte) error {
	msg := newSharedPayload(t, cid, timestamp, c.streamID, payload)
	return c.SendMessages([]*SharedMessage{msg}, c.streamID)
}

// ReadMessage returns the next audio, video or metadata message. Everything else is
// handled by the protocol or dropped.
func (c *Client) ReadMessage() (*SharedMessage, error) {
	for {
		msg, err := c.RecvMessage()
		if err != nil {
			return nil, err
		}
		h := &msg.Header
		switch {
		case h.IsAudio() || h.IsVideo():
			return NewSharedMessage(msg), nil
		case h.IsAMF0Data() || h.IsAMF3Data():
			pkt, err := c.DecodeMessage(msg)
			if err != nil {
				c.logger.Warn("drop undecodable data", zap.Error(err))
				continue
			}
			if _, ok := pkt.(*OnMetadataPacket); ok {
				return NewSharedMessage(msg), nil
			}
		}
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

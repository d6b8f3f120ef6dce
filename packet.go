package rtmp

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmplive/amf/amf0"
)

// Command names.
const (
	CommandConnect       = "connect"
	CommandCreateStream  = "createStream"
	CommandCloseStream   = "closeStream"
	CommandDeleteStream  = "deleteStream"
	CommandPlay          = "play"
	CommandPause         = "pause"
	CommandPublish       = "publish"
	CommandReleaseStream = "releaseStream"
	CommandFCPublish     = "FCPublish"
	CommandFCUnpublish   = "FCUnpublish"
	CommandOnFCPublish   = "onFCPublish"
	CommandOnFCUnpublish = "onFCUnpublish"
	CommandOnBWDone      = "onBWDone"
	CommandOnStatus      = "onStatus"
	CommandResult        = "_result"
	CommandError         = "error"
	CommandOnMetadata    = "onMetaData"
	CommandSetDataFrame  = "@setDataFrame"
	CommandSampleAccess  = "|RtmpSampleAccess"
)

// Status levels and codes sent in onStatus and _result info objects.
const (
	StatusLevel       = "level"
	StatusCode        = "code"
	StatusDescription = "description"
	StatusDetails     = "details"
	StatusClientID    = "clientid"

	StatusLevelStatus = "status"
	StatusLevelError  = "error"

	StatusConnectSuccess     = "NetConnection.Connect.Success"
	StatusPublishStart       = "NetStream.Publish.Start"
	StatusPublishBadName     = "NetStream.Publish.BadName"
	StatusUnpublishSuccess   = "NetStream.Unpublish.Success"
	StatusFCUnpublishSuccess = "NetStream.unpublish.Success"
	StatusPlayReset          = "NetStream.Play.Reset"
	StatusPlayStart          = "NetStream.Play.Start"
	StatusDataStart          = "NetStream.Data.Start"
	StatusPauseNotify        = "NetStream.Pause.Notify"
	StatusUnpauseNotify      = "NetStream.Unpause.Notify"

	// Sent as the client id of every status message.
	ServerClientID = "ASAICiss"
)

// Packet is a decoded control or command message. The set of implementations is closed:
// every variant is declared in this file.
type Packet interface {
	// PreferCID is the chunk stream the packet is sent on.
	PreferCID() int
	MessageType() MessageType
	// Encode returns the message payload.
	Encode() ([]byte, error)
	packet()
}

type PeerBandwidthType uint8

const (
	PeerBandwidthHard    PeerBandwidthType = 0
	PeerBandwidthSoft    PeerBandwidthType = 1
	PeerBandwidthDynamic PeerBandwidthType = 2
)

type UserControlEvent uint16

const (
	StreamBegin      UserControlEvent = 0
	StreamEOF        UserControlEvent = 1
	StreamDry        UserControlEvent = 2
	SetBufferLength  UserControlEvent = 3
	StreamIsRecorded UserControlEvent = 4
	PingRequest      UserControlEvent = 6
	PingResponse     UserControlEvent = 7
)

type SetChunkSizePacket struct {
	ChunkSize uint32
}

type AcknowledgementPacket struct {
	SequenceNumber uint32
}

type SetWindowAckSizePacket struct {
	AcknowledgementWindowSize uint32
}

type SetPeerBandwidthPacket struct {
	Bandwidth uint32
	Type      PeerBandwidthType
}

type UserControlPacket struct {
	EventType UserControlEvent
	EventData uint32
	// ExtraData is the buffer length in milliseconds of a SetBufferLength event.
	ExtraData uint32
}

type ConnectAppPacket struct {
	TransactionID float64
	CommandObject *amf0.Object
	// Args is optional.
	Args *amf0.Object
}

type ConnectAppResPacket struct {
	// CommandName is _result, or error when the server refused the connection.
	CommandName   string
	TransactionID float64
	Props         *amf0.Object
	Info          *amf0.Object
}

type CreateStreamPacket struct {
	TransactionID float64
}

type CreateStreamResPacket struct {
	CommandName   string
	TransactionID float64
	StreamID      float64
}

// FMLEStartPacket is one of releaseStream, FCPublish or FCUnpublish.
type FMLEStartPacket struct {
	CommandName   string
	TransactionID float64
	StreamName    string
}

type FMLEStartResPacket struct {
	CommandName   string
	TransactionID float64
}

type PublishPacket struct {
	TransactionID float64
	StreamName    string
	// Type is live, record or append.
	Type string
}

type PlayPacket struct {
	TransactionID float64
	StreamName    string
	// Start is -2 for live or recorded, -1 for live only, otherwise a position in seconds.
	Start float64
	// Duration is -1 to play until the end.
	Duration float64
	Reset    bool
}

type PausePacket struct {
	TransactionID float64
	IsPause       bool
	TimeMs        float64
}

// CloseStreamPacket is closeStream or deleteStream.
type CloseStreamPacket struct {
	CommandName   string
	TransactionID float64
}

type OnStatusCallPacket struct {
	CommandName   string
	TransactionID float64
	Data          *amf0.Object
}

type OnStatusDataPacket struct {
	Data *amf0.Object
}

type SampleAccessPacket struct {
	VideoSampleAccess bool
	AudioSampleAccess bool
}

// OnMetadataPacket is onMetaData, bare or wrapped in @setDataFrame. An ECMA array body is
// converted to an object.
type OnMetadataPacket struct {
	Metadata *amf0.Object
}

// CallPacket is a generic command such as onBWDone.
type CallPacket struct {
	CommandName   string
	TransactionID float64
	CommandObject interface{}
	Args          interface{}
}

// IgnoredPacket is a command the server does not handle.
type IgnoredPacket struct {
	CommandName string
	Type        MessageType
}

func (*SetChunkSizePacket) packet()     {}
func (*AcknowledgementPacket) packet()  {}
func (*SetWindowAckSizePacket) packet() {}
func (*SetPeerBandwidthPacket) packet() {}
func (*UserControlPacket) packet()      {}
func (*ConnectAppPacket) packet()       {}
func (*ConnectAppResPacket) packet()    {}
func (*CreateStreamPacket) packet()     {}
func (*CreateStreamResPacket) packet()  {}
func (*FMLEStartPacket) packet()        {}
func (*FMLEStartResPacket) packet()     {}
func (*PublishPacket) packet()          {}
func (*PlayPacket) packet()             {}
func (*PausePacket) packet()            {}
func (*CloseStreamPacket) packet()      {}
func (*OnStatusCallPacket) packet()     {}
func (*OnStatusDataPacket) packet()     {}
func (*SampleAccessPacket) packet()     {}
func (*OnMetadataPacket) packet()       {}
func (*CallPacket) packet()             {}
func (*IgnoredPacket) packet()          {}

func (*SetChunkSizePacket) PreferCID() int     { return CIDProtocolControl }
func (*AcknowledgementPacket) PreferCID() int  { return CIDProtocolControl }
func (*SetWindowAckSizePacket) PreferCID() int { return CIDProtocolControl }
func (*SetPeerBandwidthPacket) PreferCID() int { return CIDProtocolControl }
func (*UserControlPacket) PreferCID() int      { return CIDProtocolControl }
func (*ConnectAppPacket) PreferCID() int       { return CIDOverConnection }
func (*ConnectAppResPacket) PreferCID() int    { return CIDOverConnection }
func (*CreateStreamPacket) PreferCID() int     { return CIDOverConnection }
func (*CreateStreamResPacket) PreferCID() int  { return CIDOverConnection }
func (*FMLEStartPacket) PreferCID() int        { return CIDOverConnection }
func (*FMLEStartResPacket) PreferCID() int     { return CIDOverConnection }
func (*PublishPacket) PreferCID() int          { return CIDOverStream }
func (*PlayPacket) PreferCID() int             { return CIDOverStream }
func (*PausePacket) PreferCID() int            { return CIDOverStream }
func (*CloseStreamPacket) PreferCID() int      { return CIDOverStream }
func (*OnStatusCallPacket) PreferCID() int     { return CIDOverStream }
func (*OnStatusDataPacket) PreferCID() int     { return CIDOverStream }
func (*SampleAccessPacket) PreferCID() int     { return CIDOverStream }
func (*OnMetadataPacket) PreferCID() int       { return CIDOverConnection2 }
func (*CallPacket) PreferCID() int             { return CIDOverConnection }
func (*IgnoredPacket) PreferCID() int          { return CIDOverConnection }

func (*SetChunkSizePacket) MessageType() MessageType     { return SetChunkSize }
func (*AcknowledgementPacket) MessageType() MessageType  { return Acknowledgement }
func (*SetWindowAckSizePacket) MessageType() MessageType { return WindowAcknowledgementSize }
func (*SetPeerBandwidthPacket) MessageType() MessageType { return SetPeerBandwidth }
func (*UserControlPacket) MessageType() MessageType      { return UserControlMessage }
func (*ConnectAppPacket) MessageType() MessageType       { return CommandMessageAMF0 }
func (*ConnectAppResPacket) MessageType() MessageType    { return CommandMessageAMF0 }
func (*CreateStreamPacket) MessageType() MessageType     { return CommandMessageAMF0 }
func (*CreateStreamResPacket) MessageType() MessageType  { return CommandMessageAMF0 }
func (*FMLEStartPacket) MessageType() MessageType        { return CommandMessageAMF0 }
func (*FMLEStartResPacket) MessageType() MessageType     { return CommandMessageAMF0 }
func (*PublishPacket) MessageType() MessageType          { return CommandMessageAMF0 }
func (*PlayPacket) MessageType() MessageType             { return CommandMessageAMF0 }
func (*PausePacket) MessageType() MessageType            { return CommandMessageAMF0 }
func (*CloseStreamPacket) MessageType() MessageType      { return CommandMessageAMF0 }
func (*OnStatusCallPacket) MessageType() MessageType     { return CommandMessageAMF0 }
func (*OnStatusDataPacket) MessageType() MessageType     { return DataMessageAMF0 }
func (*SampleAccessPacket) MessageType() MessageType     { return DataMessageAMF0 }
func (*OnMetadataPacket) MessageType() MessageType       { return DataMessageAMF0 }
func (*CallPacket) MessageType() MessageType             { return CommandMessageAMF0 }
func (p *IgnoredPacket) MessageType() MessageType        { return p.Type }

func (p *SetChunkSizePacket) Encode() ([]byte, error) {
	return binary.BigEndian.AppendUint32(nil, p.ChunkSize), nil
}

func (p *AcknowledgementPacket) Encode() ([]byte, error) {
	return binary.BigEndian.AppendUint32(nil, p.SequenceNumber), nil
}

func (p *SetWindowAckSizePacket) Encode() ([]byte, error) {
	return binary.BigEndian.AppendUint32(nil, p.AcknowledgementWindowSize), nil
}

func (p *SetPeerBandwidthPacket) Encode() ([]byte, error) {
	b := binary.BigEndian.AppendUint32(make([]byte, 0, 5), p.Bandwidth)
	return append(b, byte(p.Type)), nil
}

func (p *UserControlPacket) Encode() ([]byte, error) {
	b := binary.BigEndian.AppendUint16(make([]byte, 0, 10), uint16(p.EventType))
	b = binary.BigEndian.AppendUint32(b, p.EventData)
	if p.EventType == SetBufferLength {
		b = binary.BigEndian.AppendUint32(b, p.ExtraData)
	}
	return b, nil
}

func (p *ConnectAppPacket) Encode() ([]byte, error) {
	values := []interface{}{CommandConnect, p.TransactionID, objectOrEmpty(p.CommandObject)}
	if p.Args != nil {
		values = append(values, p.Args)
	}
	return encodeValues(values...)
}

func (p *ConnectAppResPacket) Encode() ([]byte, error) {
	return encodeValues(nameOr(p.CommandName, CommandResult), p.TransactionID, objectOrEmpty(p.Props), objectOrEmpty(p.Info))
}

func (p *CreateStreamPacket) Encode() ([]byte, error) {
	return encodeValues(CommandCreateStream, p.TransactionID, nil)
}

func (p *CreateStreamResPacket) Encode() ([]byte, error) {
	return encodeValues(nameOr(p.CommandName, CommandResult), p.TransactionID, nil, p.StreamID)
}

func (p *FMLEStartPacket) Encode() ([]byte, error) {
	return encodeValues(p.CommandName, p.TransactionID, nil, p.StreamName)
}

func (p *FMLEStartResPacket) Encode() ([]byte, error) {
	return encodeValues(nameOr(p.CommandName, CommandResult), p.TransactionID, nil, amf0.Undefined{})
}

func (p *PublishPacket) Encode() ([]byte, error) {
	return encodeValues(CommandPublish, p.TransactionID, nil, p.StreamName, nameOr(p.Type, "live"))
}

func (p *PlayPacket) Encode() ([]byte, error) {
	return encodeValues(CommandPlay, p.TransactionID, nil, p.StreamName, p.Start, p.Duration, p.Reset)
}

func (p *PausePacket) Encode() ([]byte, error) {
	return encodeValues(CommandPause, p.TransactionID, nil, p.IsPause, p.TimeMs)
}

func (p *CloseStreamPacket) Encode() ([]byte, error) {
	return encodeValues(nameOr(p.CommandName, CommandCloseStream), p.TransactionID, nil)
}

func (p *OnStatusCallPacket) Encode() ([]byte, error) {
	return encodeValues(nameOr(p.CommandName, CommandOnStatus), p.TransactionID, nil, objectOrEmpty(p.Data))
}

func (p *OnStatusDataPacket) Encode() ([]byte, error) {
	return encodeValues(CommandOnStatus, objectOrEmpty(p.Data))
}

func (p *SampleAccessPacket) Encode() ([]byte, error) {
	return encodeValues(CommandSampleAccess, p.VideoSampleAccess, p.AudioSampleAccess)
}

func (p *OnMetadataPacket) Encode() ([]byte, error) {
	return encodeValues(CommandOnMetadata, objectOrEmpty(p.Metadata))
}

func (p *CallPacket) Encode() ([]byte, error) {
	values := []interface{}{p.CommandName, p.TransactionID, p.CommandObject}
	if p.Args != nil {
		values = append(values, p.Args)
	}
	return encodeValues(values...)
}

func (p *IgnoredPacket) Encode() ([]byte, error) {
	return nil, errors.Wrapf(ErrEncode, "%q is receive only", p.CommandName)
}

func encodeValues(values ...interface{}) ([]byte, error) {
	b, err := amf0.EncodeAll(values...)
	if err != nil {
		return nil, errors.Wrapf(ErrEncode, "%v", err)
	}
	return b, nil
}

func objectOrEmpty(o *amf0.Object) *amf0.Object {
	if o == nil {
		return amf0.NewObject()
	}
	return o
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// decodeControl decodes the fixed-layout protocol control messages.
func decodeControl(h *MessageHeader, payload []byte) (Packet, error) {
	need := func(n int) error {
		if len(payload) < n {
			return errors.Wrapf(ErrDecode, "%v needs %d bytes, got %d", h.MessageType, n, len(payload))
		}
		return nil
	}
	switch h.MessageType {
	case SetChunkSize:
		if err := need(4); err != nil {
			return nil, err
		}
		// The most significant bit must be zero.
		return &SetChunkSizePacket{ChunkSize: binary.BigEndian.Uint32(payload) & maxTimestamp}, nil
	case Acknowledgement:
		if err := need(4); err != nil {
			return nil, err
		}
		return &AcknowledgementPacket{SequenceNumber: binary.BigEndian.Uint32(payload)}, nil
	case WindowAcknowledgementSize:
		if err := need(4); err != nil {
			return nil, err
		}
		return &SetWindowAckSizePacket{AcknowledgementWindowSize: binary.BigEndian.Uint32(payload)}, nil
	case SetPeerBandwidth:
		if err := need(5); err != nil {
			return nil, err
		}
		return &SetPeerBandwidthPacket{Bandwidth: binary.BigEndian.Uint32(payload), Type: PeerBandwidthType(payload[4])}, nil
	case UserControlMessage:
		if err := need(6); err != nil {
			return nil, err
		}
		p := &UserControlPacket{
			EventType: UserControlEvent(binary.BigEndian.Uint16(payload)),
			EventData: binary.BigEndian.Uint32(payload[2:]),
		}
		if p.EventType == SetBufferLength {
			if err := need(10); err != nil {
				return nil, err
			}
			p.ExtraData = binary.BigEndian.Uint32(payload[6:])
		}
		return p, nil
	}
	return nil, nil
}

// decodeCommand decodes an AMF0 command or data payload. responseTo names the request a
// _result or error answers, and is empty when the transaction is unknown.
func decodeCommand(t MessageType, payload []byte, responseTo func(tid float64) string) (Packet, error) {
	d := amf0.NewDecoder(payload)
	name, err := d.ReadString()
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "command name: %v", err)
	}

	if name == CommandResult || name == CommandError {
		tid, err := d.ReadNumber()
		if err != nil {
			return nil, errors.Wrapf(ErrDecode, "%s transaction id: %v", name, err)
		}
		switch responseTo(tid) {
		case CommandConnect:
			return decodeConnectAppRes(d, name, tid)
		case CommandCreateStream:
			return decodeCreateStreamRes(d, name, tid)
		case CommandReleaseStream, CommandFCPublish, CommandFCUnpublish:
			return &FMLEStartResPacket{CommandName: name, TransactionID: tid}, nil
		default:
			return &IgnoredPacket{CommandName: name, Type: t}, nil
		}
	}

	switch name {
	case CommandConnect:
		return decodeConnectApp(d)
	case CommandReleaseStream, CommandFCPublish, CommandFCUnpublish:
		return decodeFMLEStart(d, name)
	case CommandCreateStream:
		tid, err := readTransactionID(d, name)
		if err != nil {
			return nil, err
		}
		return &CreateStreamPacket{TransactionID: tid}, nil
	case CommandPublish:
		return decodePublish(d)
	case CommandPlay:
		return decodePlay(d)
	case CommandPause:
		return decodePause(d)
	case CommandCloseStream, CommandDeleteStream:
		tid, err := readTransactionID(d, name)
		if err != nil {
			return nil, err
		}
		return &CloseStreamPacket{CommandName: name, TransactionID: tid}, nil
	case CommandOnMetadata, CommandSetDataFrame:
		return decodeOnMetadata(d, name)
	case CommandOnStatus:
		if t == DataMessageAMF0 || t == DataMessageAMF3 {
			data, err := readOptionalObject(d)
			if err != nil {
				return nil, err
			}
			return &OnStatusDataPacket{Data: data}, nil
		}
		return decodeOnStatusCall(d, name)
	case CommandOnFCPublish, CommandOnFCUnpublish:
		return decodeOnStatusCall(d, name)
	case CommandSampleAccess:
		p := &SampleAccessPacket{}
		p.VideoSampleAccess, _ = d.ReadBoolean()
		p.AudioSampleAccess, _ = d.ReadBoolean()
		return p, nil
	default:
		return &IgnoredPacket{CommandName: name, Type: t}, nil
	}
}

func readTransactionID(d *amf0.Decoder, name string) (float64, error) {
	tid, err := d.ReadNumber()
	if err != nil {
		return 0, errors.Wrapf(ErrDecode, "%s transaction id: %v", name, err)
	}
	return tid, nil
}

// skipAny consumes the next value when one is left, usually the null command object.
func skipAny(d *amf0.Decoder) error {
	if d.Empty() {
		return nil
	}
	if _, err := d.ReadValue(); err != nil {
		return errors.Wrapf(ErrDecode, "%v", err)
	}
	return nil
}

// readOptionalObject reads an object or ECMA array, returning nil for null, undefined or
// the end of the payload.
func readOptionalObject(d *amf0.Decoder) (*amf0.Object, error) {
	if d.Empty() {
		return nil, nil
	}
	v, err := d.ReadValue()
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "%v", err)
	}
	switch o := v.(type) {
	case *amf0.Object:
		return o, nil
	case *amf0.ECMAArray:
		return o.ToObject(), nil
	default:
		return nil, nil
	}
}

func decodeConnectApp(d *amf0.Decoder) (*ConnectAppPacket, error) {
	tid, err := readTransactionID(d, CommandConnect)
	if err != nil {
		return nil, err
	}
	if tid != 1.0 {
		return nil, errors.Wrapf(ErrDecode, "connect transaction id must be 1, got %v", tid)
	}
	obj, err := readOptionalObject(d)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.Wrap(ErrDecode, "connect without command object")
	}
	args, err := readOptionalObject(d)
	if err != nil {
		return nil, err
	}
	return &ConnectAppPacket{TransactionID: tid, CommandObject: obj, Args: args}, nil
}

func decodeConnectAppRes(d *amf0.Decoder, name string, tid float64) (*ConnectAppResPacket, error) {
	p := &ConnectAppResPacket{CommandName: name, TransactionID: tid}
	var err error
	if p.Props, err = readOptionalObject(d); err != nil {
		return nil, err
	}
	if p.Info, err = readOptionalObject(d); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeCreateStreamRes(d *amf0.Decoder, name string, tid float64) (*CreateStreamResPacket, error) {
	if err := skipAny(d); err != nil {
		return nil, err
	}
	p := &CreateStreamResPacket{CommandName: name, TransactionID: tid}
	if name == CommandError {
		return p, nil
	}
	sid, err := d.ReadNumber()
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "createStream stream id: %v", err)
	}
	p.StreamID = sid
	return p, nil
}

func decodeFMLEStart(d *amf0.Decoder, name string) (*FMLEStartPacket, error) {
	tid, err := readTransactionID(d, name)
	if err != nil {
		return nil, err
	}
	if err := skipAny(d); err != nil {
		return nil, err
	}
	stream, err := d.ReadString()
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "%s stream name: %v", name, err)
	}
	return &FMLEStartPacket{CommandName: name, TransactionID: tid, StreamName: stream}, nil
}

func decodePublish(d *amf0.Decoder) (*PublishPacket, error) {
	tid, err := readTransactionID(d, CommandPublish)
	if err != nil {
		return nil, err
	}
	if err := skipAny(d); err != nil {
		return nil, err
	}
	p := &PublishPacket{TransactionID: tid, Type: "live"}
	if p.StreamName, err = d.ReadString(); err != nil {
		return nil, errors.Wrapf(ErrDecode, "publish stream name: %v", err)
	}
	if !d.Empty() {
		if p.Type, err = d.ReadString(); err != nil {
			return nil, errors.Wrapf(ErrDecode, "publish type: %v", err)
		}
	}
	return p, nil
}

func decodePlay(d *amf0.Decoder) (*PlayPacket, error) {
	tid, err := readTransactionID(d, CommandPlay)
	if err != nil {
		return nil, err
	}
	if err := skipAny(d); err != nil {
		return nil, err
	}
	p := &PlayPacket{TransactionID: tid, Start: -2, Duration: -1, Reset: true}
	if p.StreamName, err = d.ReadString(); err != nil {
		return nil, errors.Wrapf(ErrDecode, "play stream name: %v", err)
	}
	if !d.Empty() {
		if p.Start, err = d.ReadNumber(); err != nil {
			return nil, errors.Wrapf(ErrDecode, "play start: %v", err)
		}
	}
	if !d.Empty() {
		if p.Duration, err = d.ReadNumber(); err != nil {
			return nil, errors.Wrapf(ErrDecode, "play duration: %v", err)
		}
	}
	if !d.Empty() {
		v, err := d.ReadValue()
		if err != nil {
			return nil, errors.Wrapf(ErrDecode, "play reset: %v", err)
		}
		switch r := v.(type) {
		case bool:
			p.Reset = r
		case float64:
			p.Reset = r != 0
		default:
			return nil, errors.Wrapf(ErrDecode, "play reset must be a boolean or a number, got %T", v)
		}
	}
	return p, nil
}

func decodePause(d *amf0.Decoder) (*PausePacket, error) {
	tid, err := readTransactionID(d, CommandPause)
	if err != nil {
		return nil, err
	}
	if err := skipAny(d); err != nil {
		return nil, err
	}
	p := &PausePacket{TransactionID: tid}
	if p.IsPause, err = d.ReadBoolean(); err != nil {
		return nil, errors.Wrapf(ErrDecode, "pause flag: %v", err)
	}
	if p.TimeMs, err = d.ReadNumber(); err != nil {
		return nil, errors.Wrapf(ErrDecode, "pause time: %v", err)
	}
	return p, nil
}

func decodeOnStatusCall(d *amf0.Decoder, name string) (*OnStatusCallPacket, error) {
	tid, err := readTransactionID(d, name)
	if err != nil {
		return nil, err
	}
	if err := skipAny(d); err != nil {
		return nil, err
	}
	data, err := readOptionalObject(d)
	if err != nil {
		return nil, err
	}
	return &OnStatusCallPacket{CommandName: name, TransactionID: tid, Data: data}, nil
}

func decodeOnMetadata(d *amf0.Decoder, name string) (*OnMetadataPacket, error) {
	if name == CommandSetDataFrame {
		inner, err := d.ReadString()
		if err != nil {
			return nil, errors.Wrapf(ErrDecode, "@setDataFrame name: %v", err)
		}
		if inner != CommandOnMetadata {
			return nil, errors.Wrapf(ErrDecode, "@setDataFrame wraps %q", inner)
		}
	}
	v, err := d.ReadValue()
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "metadata: %v", err)
	}
	switch o := v.(type) {
	case *amf0.Object:
		return &OnMetadataPacket{Metadata: o}, nil
	case *amf0.ECMAArray:
		return &OnMetadataPacket{Metadata: o.ToObject()}, nil
	default:
		return &OnMetadataPacket{Metadata: amf0.NewObject()}, nil
	}
}

// statusObject builds the info object of an onStatus or _result.
func statusObject(level, code, description string) *amf0.Object {
	return amf0.NewObject(
		amf0.Property{Key: StatusLevel, Value: level},
		amf0.Property{Key: StatusCode, Value: code},
		amf0.Property{Key: StatusDescription, Value: description},
	)
}

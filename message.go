package rtmp

import "fmt"

type MessageType uint8

const (
	SetChunkSize              MessageType = 1
	AbortMessage              MessageType = 2
	Acknowledgement           MessageType = 3
	UserControlMessage        MessageType = 4
	WindowAcknowledgementSize MessageType = 5
	SetPeerBandwidth          MessageType = 6

	AudioMessage MessageType = 8
	VideoMessage MessageType = 9

	DataMessageAMF3         MessageType = 15
	SharedObjectMessageAMF3 MessageType = 16
	CommandMessageAMF3      MessageType = 17

	DataMessageAMF0         MessageType = 18
	SharedObjectMessageAMF0 MessageType = 19
	CommandMessageAMF0      MessageType = 20

	AggregateMessage MessageType = 22
)

func (t MessageType) String() string {
	switch t {
	case SetChunkSize:
		return "SetChunkSize"
	case AbortMessage:
		return "Abort"
	case Acknowledgement:
		return "Acknowledgement"
	case UserControlMessage:
		return "UserControl"
	case WindowAcknowledgementSize:
		return "WindowAckSize"
	case SetPeerBandwidth:
		return "SetPeerBandwidth"
	case AudioMessage:
		return "Audio"
	case VideoMessage:
		return "Video"
	case DataMessageAMF3:
		return "DataAMF3"
	case CommandMessageAMF3:
		return "CommandAMF3"
	case DataMessageAMF0:
		return "DataAMF0"
	case CommandMessageAMF0:
		return "CommandAMF0"
	case AggregateMessage:
		return "Aggregate"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// Chunk stream ids the server sends on.
const (
	CIDProtocolControl  = 2
	CIDOverConnection   = 3
	CIDOverConnection2  = 4
	CIDOverStream       = 5
	CIDVideo            = 6
	CIDAudio            = 7
	CIDOverStream2      = 8
	cidCacheSize        = 16
	maxTimestamp        = 0x7fffffff
	extendedTimestampFF = 0xffffff
)

// MessageHeader describes a logical message. Timestamp is always the absolute value after
// delta accumulation; TimestampDelta only matters while a chunk stream is being decoded.
type MessageHeader struct {
	MessageType    MessageType
	PayloadLength  uint32
	Timestamp      int64
	TimestampDelta uint32
	StreamID       uint32
	// PreferCID is the chunk stream the message arrived on, or should leave on.
	PreferCID int
}

func (h *MessageHeader) IsAudio() bool { return h.MessageType == AudioMessage }
func (h *MessageHeader) IsVideo() bool { return h.MessageType == VideoMessage }

func (h *MessageHeader) IsAMF0Command() bool { return h.MessageType == CommandMessageAMF0 }
func (h *MessageHeader) IsAMF3Command() bool { return h.MessageType == CommandMessageAMF3 }
func (h *MessageHeader) IsAMF0Data() bool    { return h.MessageType == DataMessageAMF0 }
func (h *MessageHeader) IsAMF3Data() bool    { return h.MessageType == DataMessageAMF3 }

// IsCommandOrData reports whether the payload is an AMF encoded command or data message.
func (h *MessageHeader) IsCommandOrData() bool {
	return h.IsAMF0Command() || h.IsAMF3Command() || h.IsAMF0Data() || h.IsAMF3Data()
}

// CommonMessage is a reassembled message owned by the reader that produced it. It is
// consumed once, either decoded into a Packet or turned into a SharedMessage.
type CommonMessage struct {
	Header  MessageHeader
	Payload []byte
	// Size is the number of payload bytes received so far.
	Size int
}

func (m *CommonMessage) complete() bool {
	return uint32(m.Size) == m.Header.PayloadLength
}

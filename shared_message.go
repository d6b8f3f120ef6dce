package rtmp

// SharedMessage is a message handed to many consumers. The payload is shared between
// copies and never written after the message leaves the publisher path; only the header
// fields of a copy may change. The payload is released by the garbage collector once the
// last copy is dropped.
type SharedMessage struct {
	Timestamp int64
	StreamID  uint32
	Type      MessageType
	PreferCID int
	Payload   []byte
}

// NewSharedMessage takes ownership of the payload of msg.
func NewSharedMessage(msg *CommonMessage) *SharedMessage {
	m := &SharedMessage{
		Timestamp: msg.Header.Timestamp,
		StreamID:  msg.Header.StreamID,
		Type:      msg.Header.MessageType,
		PreferCID: msg.Header.PreferCID,
		Payload:   msg.Payload[:msg.Size],
	}
	msg.Payload = nil
	msg.Size = 0
	return m
}

// newSharedPayload builds a message around a payload the caller will not touch again.
func newSharedPayload(t MessageType, cid int, timestamp int64, streamID uint32, payload []byte) *SharedMessage {
	return &SharedMessage{
		Timestamp: timestamp,
		StreamID:  streamID,
		Type:      t,
		PreferCID: cid,
		Payload:   payload,
	}
}

// Copy returns a new handle sharing the payload.
func (m *SharedMessage) Copy() *SharedMessage {
	c := *m
	return &c
}

func (m *SharedMessage) Size() int { return len(m.Payload) }

func (m *SharedMessage) IsAudio() bool { return m.Type == AudioMessage }
func (m *SharedMessage) IsVideo() bool { return m.Type == VideoMessage }
func (m *SharedMessage) IsAV() bool    { return m.IsAudio() || m.IsVideo() }

// check sets the stream id and routes a message without a preferred chunk stream onto
// the default lane for its type.
func (m *SharedMessage) check(streamID uint32) {
	if m.PreferCID < CIDProtocolControl {
		switch m.Type {
		case AudioMessage:
			m.PreferCID = CIDAudio
		case VideoMessage:
			m.PreferCID = CIDVideo
		default:
			m.PreferCID = CIDOverConnection2
		}
	}
	m.StreamID = streamID
}

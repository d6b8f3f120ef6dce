package rtmp

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"testing/iotest"
	"time"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmplive/internal/binary24"
)

// bufferTransport reads from r, records writes and remembers the last deadlines.
type bufferTransport struct {
	r   io.Reader
	out bytes.Buffer

	readDeadline  time.Time
	writeDeadline time.Time
}

func (t *bufferTransport) Read(p []byte) (int, error)  { return t.r.Read(p) }
func (t *bufferTransport) Write(p []byte) (int, error) { return t.out.Write(p) }

func (t *bufferTransport) SetReadDeadline(d time.Time) error {
	t.readDeadline = d
	return nil
}

func (t *bufferTransport) SetWriteDeadline(d time.Time) error {
	t.writeDeadline = d
	return nil
}

func newTestProtocol(in []byte) (*Protocol, *bufferTransport) {
	tr := &bufferTransport{r: bytes.NewReader(in)}
	p, err := NewProtocol(tr, 0, nil)
	if err != nil {
		panic(err)
	}
	return p, tr
}

// rawChunk builds one chunk by hand. ts is the timestamp or delta for fmt 0-2.
type rawChunk struct {
	fmt      ChunkType
	cid      int
	ts       uint32
	length   uint32
	typ      MessageType
	streamID uint32
	// ext writes the extended timestamp field with this value.
	ext     *uint32
	payload []byte
}

func (c rawChunk) bytes() []byte {
	b := appendBasicHeader(nil, c.fmt, c.cid)
	field := c.ts
	if c.ext != nil {
		field = extendedTimestampFF
	}
	if c.fmt <= ChunkType2 {
		b = binary24.BigEndian.AppendUint24(b, field)
	}
	if c.fmt <= ChunkType1 {
		b = binary24.BigEndian.AppendUint24(b, c.length)
		b = append(b, byte(c.typ))
	}
	if c.fmt == ChunkType0 {
		b = binary.LittleEndian.AppendUint32(b, c.streamID)
	}
	if c.ext != nil {
		b = binary.BigEndian.AppendUint32(b, *c.ext)
	}
	return append(b, c.payload...)
}

func concat(chunks ...rawChunk) []byte {
	var b []byte
	for _, c := range chunks {
		b = append(b, c.bytes()...)
	}
	return b
}

func u32(v uint32) *uint32 { return &v }

type wantHeader struct {
	timestamp int64
	length    uint32
	typ       MessageType
	streamID  uint32
}

func TestRecvMessageHeaderFormats(t *testing.T) {
	tests := []struct {
		name   string
		chunks []rawChunk
		want   []wantHeader
	}{
		{
			"allFormats",
			[]rawChunk{
				{fmt: 0, cid: 4, ts: 1000, length: 5, typ: VideoMessage, streamID: 1, payload: []byte{1, 2, 3, 4, 5}},
				{fmt: 1, cid: 4, ts: 40, length: 3, typ: AudioMessage, payload: []byte{1, 2, 3}},
				{fmt: 2, cid: 4, ts: 40, payload: []byte{4, 5, 6}},
				{fmt: 3, cid: 4, payload: []byte{7, 8, 9}},
			},
			[]wantHeader{
				{1000, 5, VideoMessage, 1},
				{1040, 3, AudioMessage, 1},
				{1080, 3, AudioMessage, 1},
				{1120, 3, AudioMessage, 1},
			},
		},
		{
			"extendedTimestamp",
			[]rawChunk{
				{fmt: 0, cid: 6, length: 2, typ: VideoMessage, streamID: 1, ext: u32(0x1000000), payload: []byte{1, 2}},
				{fmt: 3, cid: 6, ext: u32(0x1000040), payload: []byte{3, 4}},
				{fmt: 1, cid: 6, length: 1, typ: VideoMessage, ext: u32(0x1000080), payload: []byte{5}},
			},
			[]wantHeader{
				{0x1000000, 2, VideoMessage, 1},
				{0x1000040, 2, VideoMessage, 1},
				{0x1000080, 1, VideoMessage, 1},
			},
		},
		{
			"timestampMaskedTo31Bits",
			[]rawChunk{
				{fmt: 0, cid: 5, length: 1, typ: AudioMessage, ext: u32(0x80000010), payload: []byte{1}},
			},
			[]wantHeader{{0x10, 1, AudioMessage, 0}},
		},
		{
			"twoByteChunkStreamID",
			[]rawChunk{
				{fmt: 0, cid: 100, ts: 7, length: 1, typ: AudioMessage, streamID: 3, payload: []byte{1}},
				{fmt: 0, cid: 400, ts: 9, length: 1, typ: VideoMessage, streamID: 3, payload: []byte{2}},
			},
			[]wantHeader{{7, 1, AudioMessage, 3}, {9, 1, VideoMessage, 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestProtocol(concat(tt.chunks...))
			for i, want := range tt.want {
				msg, err := p.RecvMessage()
				if err != nil {
					t.Fatalf("message %d: unexpected error: %v", i, err)
				}
				h := msg.Header
				if h.Timestamp != want.timestamp || h.PayloadLength != want.length || h.MessageType != want.typ || h.StreamID != want.streamID {
					t.Errorf("message %d: got ts=%d len=%d type=%v sid=%d, want %+v",
						i, h.Timestamp, h.PayloadLength, h.MessageType, h.StreamID, want)
				}
			}
		})
	}
}

func TestSendRecvRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0xaa, 0xbb, 0xcc}, 1000)
	tests := []struct {
		name      string
		timestamp int64
		chunkSize int
	}{
		{"small", 40, 128},
		{"oneByteChunks", 40, 1},
		{"extendedTimestamp", 0x1234567, 128},
		{"singleChunk", 0, 4096},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, tr := newTestProtocol(nil)
			sender.outChunkSize = tt.chunkSize
			msg := newSharedPayload(VideoMessage, CIDVideo, tt.timestamp, 0, payload)
			if err := sender.SendMessages([]*SharedMessage{msg}, 1); err != nil {
				t.Fatalf("send: %v", err)
			}

			// A reader fed one byte per call sees the same message.
			receiver, _ := newTestProtocol(nil)
			receiver.reader = NewReader(iotest.OneByteReader(bytes.NewReader(tr.out.Bytes())), 4096)
			receiver.inChunkSize = tt.chunkSize
			got, err := receiver.RecvMessage()
			if err != nil {
				t.Fatalf("recv: %v", err)
			}
			if got.Header.Timestamp != tt.timestamp&maxTimestamp {
				t.Errorf("timestamp = %d, want %d", got.Header.Timestamp, tt.timestamp)
			}
			if got.Header.StreamID != 1 || got.Header.MessageType != VideoMessage || got.Header.PreferCID != CIDVideo {
				t.Errorf("unexpected header %+v", got.Header)
			}
			if !bytes.Equal(got.Payload, payload) {
				t.Error("payload differs after reassembly")
			}
		})
	}
}

func TestReassemblyInterleaved(t *testing.T) {
	// Two messages on different chunk streams with their chunks interleaved.
	in := concat(
		rawChunk{fmt: 0, cid: 6, ts: 10, length: 200, typ: VideoMessage, streamID: 1, payload: bytes.Repeat([]byte{'v'}, 128)},
		rawChunk{fmt: 0, cid: 7, ts: 12, length: 130, typ: AudioMessage, streamID: 1, payload: bytes.Repeat([]byte{'a'}, 128)},
		rawChunk{fmt: 3, cid: 6, payload: bytes.Repeat([]byte{'v'}, 72)},
		rawChunk{fmt: 3, cid: 7, payload: bytes.Repeat([]byte{'a'}, 2)},
	)
	p, _ := newTestProtocol(in)

	first, err := p.RecvMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Header.MessageType != VideoMessage || len(first.Payload) != 200 || first.Header.Timestamp != 10 {
		t.Errorf("first message: %+v", first.Header)
	}
	second, err := p.RecvMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Header.MessageType != AudioMessage || len(second.Payload) != 130 || second.Header.Timestamp != 12 {
		t.Errorf("second message: %+v", second.Header)
	}
}

func TestRecvProtocolViolations(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"freshStreamFmt1", rawChunk{fmt: 1, cid: 5, ts: 0, length: 1, typ: AudioMessage, payload: []byte{1}}.bytes()},
		{"freshStreamFmt3", rawChunk{fmt: 3, cid: 5, payload: []byte{1}}.bytes()},
		{
			"fmt0WhileInFlight",
			concat(
				rawChunk{fmt: 0, cid: 5, length: 200, typ: AudioMessage, payload: make([]byte, 128)},
				rawChunk{fmt: 0, cid: 5, length: 200, typ: AudioMessage, payload: make([]byte, 72)},
			),
		},
		{
			"lengthChangedMidMessage",
			concat(
				rawChunk{fmt: 0, cid: 5, length: 200, typ: AudioMessage, payload: make([]byte, 128)},
				rawChunk{fmt: 1, cid: 5, length: 300, typ: AudioMessage, payload: make([]byte, 72)},
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestProtocol(tt.in)
			_, err := p.RecvMessage()
			if errors.Cause(err) != ErrProtocolViolation {
				t.Errorf("got %v, want %v", err, ErrProtocolViolation)
			}
		})
	}
}

func TestProtocolControlFmt1Exception(t *testing.T) {
	in := rawChunk{fmt: 1, cid: CIDProtocolControl, length: 4, typ: SetChunkSize, payload: []byte{0, 0, 0x10, 0}}.bytes()
	p, _ := newTestProtocol(in)
	if _, err := p.RecvMessage(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.InChunkSize() != 4096 {
		t.Errorf("in chunk size = %d, want 4096", p.InChunkSize())
	}
}

func TestSetChunkSizeNegotiation(t *testing.T) {
	setChunkSize := func(size uint32) rawChunk {
		return rawChunk{fmt: 0, cid: CIDProtocolControl, length: 4, typ: SetChunkSize, payload: binary.BigEndian.AppendUint32(nil, size)}
	}
	tests := []struct {
		name  string
		sizes []uint32
		want  int
	}{
		{"accepted", []uint32{4096}, 4096},
		{"tooSmallIgnored", []uint32{64}, DefaultChunkSize},
		{"tooLargeKeepsLastAccepted", []uint32{60000, 70000}, 60000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var chunks []rawChunk
			for i, s := range tt.sizes {
				c := setChunkSize(s)
				if i > 0 {
					c.fmt = ChunkType1
				}
				chunks = append(chunks, c)
			}
			p, _ := newTestProtocol(concat(chunks...))
			for range tt.sizes {
				if _, err := p.RecvMessage(); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if p.InChunkSize() != tt.want {
				t.Errorf("in chunk size = %d, want %d", p.InChunkSize(), tt.want)
			}
		})
	}
}

func TestPingRequestIsAnswered(t *testing.T) {
	ping := rawChunk{fmt: 0, cid: CIDProtocolControl, length: 6, typ: UserControlMessage, payload: []byte{0, 6, 0, 0, 0x30, 0x39}}
	p, tr := newTestProtocol(ping.bytes())
	if _, err := p.RecvMessage(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reply, _ := newTestProtocol(tr.out.Bytes())
	msg, err := reply.RecvMessage()
	if err != nil {
		t.Fatalf("decoding the reply: %v", err)
	}
	pkt, err := reply.DecodeMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	uc, ok := pkt.(*UserControlPacket)
	if !ok || uc.EventType != PingResponse || uc.EventData != 12345 {
		t.Errorf("got %#v, want a PingResponse echoing 12345", pkt)
	}
}

func TestAcknowledgementSentAfterWindow(t *testing.T) {
	in := concat(
		rawChunk{fmt: 0, cid: CIDProtocolControl, length: 4, typ: WindowAcknowledgementSize, payload: []byte{0, 0, 0, 100}},
		rawChunk{fmt: 0, cid: 5, length: 120, typ: DataMessageAMF0, payload: make([]byte, 120)},
		rawChunk{fmt: 1, cid: 5, length: 1, typ: DataMessageAMF0, payload: []byte{0}},
	)
	p, tr := newTestProtocol(in)
	var acked uint64
	for i := 0; i < 3; i++ {
		if _, err := p.RecvMessage(); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if i == 1 {
			acked = p.RecvBytes()
		}
	}

	acks, _ := newTestProtocol(tr.out.Bytes())
	msg, err := acks.RecvMessage()
	if err != nil {
		t.Fatalf("expected an acknowledgement: %v", err)
	}
	pkt, _ := acks.DecodeMessage(msg)
	ack, ok := pkt.(*AcknowledgementPacket)
	if !ok {
		t.Fatalf("got %T, want *AcknowledgementPacket", pkt)
	}
	if ack.SequenceNumber != uint32(acked) {
		t.Errorf("sequence number = %d, want %d", ack.SequenceNumber, acked)
	}
	if _, err := acks.RecvMessage(); err == nil {
		t.Error("only one acknowledgement expected inside the window")
	}
}

func TestSendPacketUpdatesOutChunkSize(t *testing.T) {
	p, tr := newTestProtocol(nil)
	if err := p.SendPacket(&SetChunkSizePacket{ChunkSize: 4096}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.OutChunkSize() != 4096 {
		t.Errorf("out chunk size = %d, want 4096", p.OutChunkSize())
	}
	want := []byte{0x02, 0, 0, 0, 0, 0, 4, 0x01, 0, 0, 0, 0, 0, 0, 0x10, 0}
	if !bytes.Equal(tr.out.Bytes(), want) {
		t.Errorf("got % x, want % x", tr.out.Bytes(), want)
	}
}

func TestSendMessagesChunking(t *testing.T) {
	p, tr := newTestProtocol(nil)
	payload := make([]byte, 300)
	msg := newSharedPayload(AudioMessage, 0, 20, 0, payload)
	if err := p.SendMessages([]*SharedMessage{msg}, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 12 byte c0 + 128, then two 1 byte c3 headers with 128 and 44 bytes.
	if got := tr.out.Len(); got != 12+300+2 {
		t.Fatalf("wrote %d bytes, want %d", got, 12+300+2)
	}
	b := tr.out.Bytes()
	if b[0] != CIDAudio {
		t.Errorf("basic header = %#x, want fmt=0 cid=%d", b[0], CIDAudio)
	}
	if b[12+128] != 0xc0|CIDAudio {
		t.Errorf("continuation header = %#x, want fmt=3 cid=%d", b[12+128], CIDAudio)
	}
}

func TestDecodeMessageAMF3Command(t *testing.T) {
	body, err := (&CreateStreamPacket{TransactionID: 2}).Encode()
	if err != nil {
		t.Fatal(err)
	}
	payload := append([]byte{0}, body...)
	p, _ := newTestProtocol(nil)
	pkt, err := p.DecodeMessage(&CommonMessage{
		Header:  MessageHeader{MessageType: CommandMessageAMF3, PayloadLength: uint32(len(payload))},
		Payload: payload,
		Size:    len(payload),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs, ok := pkt.(*CreateStreamPacket); !ok || cs.TransactionID != 2 {
		t.Errorf("got %#v", pkt)
	}
}

func TestNewProtocolNilTransport(t *testing.T) {
	p, err := NewProtocol(nil, 0, nil)
	if err != ErrNilWriter {
		t.Fatalf("error = %v, want %v", err, ErrNilWriter)
	}
	if p != nil {
		t.Error("expected no protocol")
	}
}

func TestZeroTimeoutClearsDeadline(t *testing.T) {
	in := rawChunk{fmt: 0, cid: CIDProtocolControl, length: 4, typ: SetChunkSize, payload: binary.BigEndian.AppendUint32(nil, 4096)}
	p, tr := newTestProtocol(in.bytes())
	p.SetRecvTimeout(time.Minute)
	p.SetSendTimeout(time.Minute)
	if _, err := p.RecvMessage(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.SendPacket(&SetWindowAckSizePacket{AcknowledgementWindowSize: 1000}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.readDeadline.IsZero() || tr.writeDeadline.IsZero() {
		t.Fatal("expected deadlines while the timeouts are set")
	}

	p.SetRecvTimeout(0)
	p.SetSendTimeout(0)
	if !tr.readDeadline.IsZero() {
		t.Errorf("read deadline = %v, want none", tr.readDeadline)
	}
	if !tr.writeDeadline.IsZero() {
		t.Errorf("write deadline = %v, want none", tr.writeDeadline)
	}
}

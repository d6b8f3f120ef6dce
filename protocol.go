package rtmp

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmplive/internal/binary24"
	"go.uber.org/zap"
)

// Bounds applied to a peer's SetChunkSize unless the protocol is configured otherwise.
const (
	MinChunkSize = 128
	MaxChunkSize = 65536
)

// Transport is the byte stream a Protocol runs on. net.Conn satisfies it.
type Transport interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

type ackWindow struct {
	window uint32
	// ackedBytes is the received byte count carried by the last Acknowledgement.
	ackedBytes uint64
}

// Protocol reads and writes chunked messages on one connection. RecvMessage must only be
// called from one goroutine at a time; sends may come from any goroutine.
type Protocol struct {
	logger    *zap.Logger
	transport Transport

	// read side, owned by the receiving goroutine
	reader       *Reader
	headerBuf    [chunkType0MessageHeaderLength]byte
	csCache      [cidCacheSize]*chunkStream
	chunkStreams map[int]*chunkStream
	inChunkSize  int
	inAck        ackWindow
	minChunkSize uint32
	maxChunkSize uint32

	// write side
	writeMu      sync.Mutex
	writer       *Writer
	outChunkSize int
	outAckWindow uint32

	requestsMu sync.Mutex
	// requests maps transaction ids of sent commands to the command name, so a _result
	// can be decoded into the matching response.
	requests map[float64]string

	recvTimeout atomic.Int64
	sendTimeout atomic.Int64
}

// NewProtocol wraps transport. bufferSize sizes the read buffer and is raised to
// 4096 when smaller.
func NewProtocol(transport Transport, bufferSize int, logger *zap.Logger) (*Protocol, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize < 4096 {
		bufferSize = 4096
	}
	writer, err := NewWriter(transport)
	if err != nil {
		return nil, err
	}
	p := &Protocol{
		logger:       logger,
		transport:    transport,
		reader:       NewReader(transport, bufferSize),
		chunkStreams: make(map[int]*chunkStream),
		inChunkSize:  DefaultChunkSize,
		minChunkSize: MinChunkSize,
		maxChunkSize: MaxChunkSize,
		writer:       writer,
		outChunkSize: DefaultChunkSize,
		requests:     make(map[float64]string),
	}
	for cid := range p.csCache {
		p.csCache[cid] = newChunkStream(cid)
	}
	return p, nil
}

// Reader exposes the buffered, counting read side, used by the handshake.
func (p *Protocol) Reader() *Reader { return p.reader }

// Writer exposes the counting write side, used by the handshake.
func (p *Protocol) Writer() *Writer { return p.writer }

// SetChunkSizeRange sets the accepted bounds for the peer's SetChunkSize.
func (p *Protocol) SetChunkSizeRange(min, max uint32) {
	p.minChunkSize, p.maxChunkSize = min, max
}

// SetRecvTimeout bounds every read. Zero disables the deadline and clears the one left
// by the previous read.
func (p *Protocol) SetRecvTimeout(d time.Duration) {
	p.recvTimeout.Store(int64(d))
	if d <= 0 {
		// A closed transport fails the next read anyway.
		_ = p.transport.SetReadDeadline(time.Time{})
	}
}

func (p *Protocol) RecvTimeout() time.Duration { return time.Duration(p.recvTimeout.Load()) }

// SetSendTimeout bounds every write. Zero disables the deadline and clears the one left
// by the previous write.
func (p *Protocol) SetSendTimeout(d time.Duration) {
	p.sendTimeout.Store(int64(d))
	if d <= 0 {
		_ = p.transport.SetWriteDeadline(time.Time{})
	}
}

func (p *Protocol) SendTimeout() time.Duration { return time.Duration(p.sendTimeout.Load()) }

func (p *Protocol) InChunkSize() int { return p.inChunkSize }

func (p *Protocol) OutChunkSize() int {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.outChunkSize
}

// RecvBytes returns the number of bytes received on the connection.
func (p *Protocol) RecvBytes() uint64 { return p.reader.ReadBytes() }

// SendBytes returns the number of bytes sent on the connection.
func (p *Protocol) SendBytes() uint64 {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.writer.WrittenBytes()
}

// RecvMessage blocks until a complete, non-empty message arrives. Protocol control
// messages are applied before they are returned.
func (p *Protocol) RecvMessage() (*CommonMessage, error) {
	if d := p.RecvTimeout(); d > 0 {
		if err := p.transport.SetReadDeadline(time.Now().Add(d)); err != nil {
			return nil, errors.Wrap(err, "set read deadline")
		}
	}
	for {
		msg, err := p.recvInterlacedMessage()
		if err != nil {
			if IsTimeout(err) {
				return nil, errors.Wrapf(ErrTimeout, "recv message: %v", err)
			}
			return nil, err
		}
		if msg == nil {
			continue
		}
		if msg.Size == 0 || msg.Header.PayloadLength == 0 {
			p.logger.Debug("drop empty message", zap.Stringer("type", msg.Header.MessageType))
			continue
		}
		if err := p.onRecvMessage(msg); err != nil {
			return nil, err
		}
		return msg, nil
	}
}

// recvInterlacedMessage reads one chunk and returns the message it completes, if any.
func (p *Protocol) recvInterlacedMessage() (*CommonMessage, error) {
	format, cid, err := p.readBasicHeader()
	if err != nil {
		return nil, errors.Wrap(err, "read basic header")
	}

	cs := p.chunkStream(cid)
	if err := p.readMessageHeader(cs, format); err != nil {
		return nil, err
	}
	msg, err := p.readMessagePayload(cs)
	if err != nil {
		return nil, errors.Wrapf(err, "read payload of %v on cid %d", cs.header.MessageType, cid)
	}
	return msg, nil
}

func (p *Protocol) chunkStream(cid int) *chunkStream {
	if cid < cidCacheSize {
		return p.csCache[cid]
	}
	cs, ok := p.chunkStreams[cid]
	if !ok {
		cs = newChunkStream(cid)
		p.chunkStreams[cid] = cs
	}
	return cs
}

// readBasicHeader returns the chunk format and chunk stream id. Ids 0 and 1 escape to
// 64 + one byte and 64 + two little-endian bytes.
func (p *Protocol) readBasicHeader() (ChunkType, int, error) {
	b, err := p.reader.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	format := ChunkType(b >> 6)
	cid := int(b & 0x3f)
	switch cid {
	case 0:
		b1, err := p.reader.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		cid = 64 + int(b1)
	case 1:
		var ext [2]byte
		if _, err := p.reader.Read(ext[:]); err != nil {
			return 0, 0, err
		}
		cid = 64 + int(ext[0]) + int(ext[1])*256
	}
	return format, cid, nil
}

func (p *Protocol) readMessageHeader(cs *chunkStream, format ChunkType) error {
	isFirstChunkOfMsg := cs.msg == nil

	if cs.msgCount == 0 && format != ChunkType0 {
		// Some encoders open the protocol control lane with a type 1 chunk.
		if cs.cid == CIDProtocolControl && format == ChunkType1 {
			p.logger.Warn("accept fresh chunk stream with fmt=1", zap.Int("cid", cs.cid))
		} else {
			return errors.Wrapf(ErrProtocolViolation, "fresh chunk stream %d must start with fmt=0, got fmt=%d", cs.cid, format)
		}
	}

	if cs.msg != nil && format == ChunkType0 {
		return errors.Wrapf(ErrProtocolViolation, "fmt=0 on chunk stream %d while a message is in flight", cs.cid)
	}

	if cs.msg == nil {
		cs.msg = &CommonMessage{}
	}
	cs.fmt = format

	if n := messageHeaderLengths[format]; n > 0 {
		buf := p.headerBuf[:n]
		if _, err := p.reader.Read(buf); err != nil {
			return errors.Wrapf(err, "read fmt=%d message header", format)
		}

		delta := binary24.BigEndian.Uint24(buf[0:3])
		cs.extendedTimestamp = delta >= extendedTimestampFF
		if !cs.extendedTimestamp {
			cs.header.TimestampDelta = delta
			if format == ChunkType0 {
				cs.header.Timestamp = int64(delta)
			} else {
				cs.header.Timestamp += int64(delta)
			}
		}

		if format <= ChunkType1 {
			length := binary24.BigEndian.Uint24(buf[3:6])
			if !isFirstChunkOfMsg && cs.header.PayloadLength != length {
				return errors.Wrapf(ErrProtocolViolation, "payload length of chunk stream %d changed from %d to %d mid-message",
					cs.cid, cs.header.PayloadLength, length)
			}
			cs.header.PayloadLength = length
			cs.header.MessageType = MessageType(buf[6])

			if format == ChunkType0 {
				cs.header.StreamID = binary.LittleEndian.Uint32(buf[7:11])
			}
		}
	} else if isFirstChunkOfMsg && !cs.extendedTimestamp {
		// A type 3 chunk starting a new message repeats the previous delta.
		cs.header.Timestamp += int64(cs.header.TimestampDelta)
	}

	if cs.extendedTimestamp {
		ext, err := p.reader.Peek(4)
		if err != nil {
			return errors.Wrap(err, "read extended timestamp")
		}
		timestamp := binary.BigEndian.Uint32(ext) & maxTimestamp
		chunkTimestamp := uint32(cs.header.Timestamp)

		// Continuation chunks from some encoders omit the extended timestamp. When the
		// four bytes do not match the message timestamp they belong to the payload.
		if !isFirstChunkOfMsg && chunkTimestamp > 0 && chunkTimestamp != timestamp {
			p.logger.Debug("no extended timestamp in continuation chunk", zap.Int("cid", cs.cid))
		} else {
			if _, err := p.reader.Discard(4); err != nil {
				return errors.Wrap(err, "read extended timestamp")
			}
			cs.header.Timestamp = int64(timestamp)
		}
	}

	cs.header.Timestamp &= maxTimestamp
	cs.msg.Header = cs.header
	cs.msgCount++
	return nil
}

func (p *Protocol) readMessagePayload(cs *chunkStream) (*CommonMessage, error) {
	if cs.header.PayloadLength == 0 {
		msg := cs.msg
		cs.msg = nil
		return msg, nil
	}

	size := int(cs.header.PayloadLength) - cs.msg.Size
	if size > p.inChunkSize {
		size = p.inChunkSize
	}

	if cs.msg.Payload == nil {
		cs.msg.Payload = make([]byte, cs.header.PayloadLength)
	}

	if _, err := p.reader.Read(cs.msg.Payload[cs.msg.Size : cs.msg.Size+size]); err != nil {
		return nil, err
	}
	cs.msg.Size += size

	if cs.msg.complete() {
		msg := cs.msg
		cs.msg = nil
		return msg, nil
	}
	return nil, nil
}

// onRecvMessage acknowledges received bytes and applies protocol control messages.
func (p *Protocol) onRecvMessage(msg *CommonMessage) error {
	if err := p.responseAck(); err != nil {
		return err
	}

	switch msg.Header.MessageType {
	case SetChunkSize, WindowAcknowledgementSize, UserControlMessage:
	default:
		return nil
	}

	pkt, err := decodeControl(&msg.Header, msg.Payload[:msg.Size])
	if err != nil {
		return err
	}

	switch pkt := pkt.(type) {
	case *SetChunkSizePacket:
		if pkt.ChunkSize < p.minChunkSize || pkt.ChunkSize > p.maxChunkSize {
			p.logger.Warn("ignore out of range chunk size",
				zap.Uint32("requested", pkt.ChunkSize),
				zap.Int("current", p.inChunkSize))
			return nil
		}
		p.inChunkSize = int(pkt.ChunkSize)
		p.logger.Debug("peer chunk size", zap.Int("size", p.inChunkSize))
	case *SetWindowAckSizePacket:
		if pkt.AcknowledgementWindowSize > 0 {
			p.inAck.window = pkt.AcknowledgementWindowSize
		}
	case *UserControlPacket:
		if pkt.EventType == PingRequest {
			return p.SendPacket(&UserControlPacket{EventType: PingResponse, EventData: pkt.EventData}, 0)
		}
	}
	return nil
}

func (p *Protocol) responseAck() error {
	if p.inAck.window == 0 {
		return nil
	}
	recv := p.reader.ReadBytes()
	if recv-p.inAck.ackedBytes < uint64(p.inAck.window) {
		return nil
	}
	p.inAck.ackedBytes = recv
	return p.SendPacket(&AcknowledgementPacket{SequenceNumber: uint32(recv)}, 0)
}

// DecodeMessage decodes a command, data or control message. Audio, video and other
// messages that carry no packet return a nil Packet.
func (p *Protocol) DecodeMessage(msg *CommonMessage) (Packet, error) {
	h := &msg.Header
	payload := msg.Payload[:msg.Size]

	if h.IsCommandOrData() {
		// AMF3 commands and data start with a format byte, then continue as AMF0.
		if (h.IsAMF3Command() || h.IsAMF3Data()) && len(payload) > 0 {
			payload = payload[1:]
		}
		return decodeCommand(h.MessageType, payload, p.takeRequest)
	}
	return decodeControl(h, payload)
}

func (p *Protocol) takeRequest(tid float64) string {
	p.requestsMu.Lock()
	defer p.requestsMu.Unlock()
	name := p.requests[tid]
	delete(p.requests, tid)
	return name
}

func (p *Protocol) rememberRequest(pkt Packet) {
	var tid float64
	var name string
	switch pkt := pkt.(type) {
	case *ConnectAppPacket:
		tid, name = pkt.TransactionID, CommandConnect
	case *CreateStreamPacket:
		tid, name = pkt.TransactionID, CommandCreateStream
	case *FMLEStartPacket:
		tid, name = pkt.TransactionID, pkt.CommandName
	default:
		return
	}
	p.requestsMu.Lock()
	p.requests[tid] = name
	p.requestsMu.Unlock()
}

// SendPacket encodes pkt and sends it on its preferred chunk stream.
func (p *Protocol) SendPacket(pkt Packet, streamID uint32) error {
	payload, err := pkt.Encode()
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		p.logger.Warn("ignore empty packet", zap.Stringer("type", pkt.MessageType()))
		return nil
	}

	p.rememberRequest(pkt)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	bufs, _ := p.appendChunks(nil, nil, pkt.PreferCID(), 0, pkt.MessageType(), streamID, payload)
	if err := p.writeBuffers(bufs); err != nil {
		return errors.Wrapf(err, "send %v", pkt.MessageType())
	}

	switch pkt := pkt.(type) {
	case *SetWindowAckSizePacket:
		p.outAckWindow = pkt.AcknowledgementWindowSize
	case *SetChunkSizePacket:
		p.outChunkSize = int(pkt.ChunkSize)
	}
	return nil
}

// SendPackets sends several packets in order.
func (p *Protocol) SendPackets(streamID uint32, pkts ...Packet) error {
	for _, pkt := range pkts {
		if err := p.SendPacket(pkt, streamID); err != nil {
			return err
		}
	}
	return nil
}

// SendMessages sends a batch of shared messages on streamID in as few writes as possible.
// The messages are stamped with streamID.
func (p *Protocol) SendMessages(msgs []*SharedMessage, streamID uint32) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	var bufs net.Buffers
	var headers []byte
	for _, msg := range msgs {
		if msg == nil || len(msg.Payload) == 0 {
			continue
		}
		msg.check(streamID)
		bufs, headers = p.appendChunks(bufs, headers, msg.PreferCID, msg.Timestamp, msg.Type, msg.StreamID, msg.Payload)
	}
	if len(bufs) == 0 {
		return nil
	}
	return errors.Wrap(p.writeBuffers(bufs), "send messages")
}

// appendChunks splits payload into chunks of the outbound chunk size. Chunk headers are
// appended to headers, and every header and payload slice is appended to bufs.
func (p *Protocol) appendChunks(bufs net.Buffers, headers []byte, cid int, timestamp int64, t MessageType, streamID uint32, payload []byte) (net.Buffers, []byte) {
	for off := 0; off < len(payload); {
		start := len(headers)
		if off == 0 {
			headers = appendChunkHeaderC0(headers, cid, timestamp, uint32(len(payload)), t, streamID)
		} else {
			headers = appendChunkHeaderC3(headers, cid, timestamp)
		}
		n := len(payload) - off
		if n > p.outChunkSize {
			n = p.outChunkSize
		}
		bufs = append(bufs, headers[start:len(headers):len(headers)], payload[off:off+n])
		off += n
	}
	return bufs, headers
}

func (p *Protocol) writeBuffers(bufs net.Buffers) error {
	if d := p.SendTimeout(); d > 0 {
		if err := p.transport.SetWriteDeadline(time.Now().Add(d)); err != nil {
			return errors.Wrap(err, "set write deadline")
		}
	}
	if _, err := p.writer.WriteBuffers(bufs); err != nil {
		if IsTimeout(err) {
			return errors.Wrapf(ErrTimeout, "write: %v", err)
		}
		return err
	}
	return p.writer.Flush()
}

// ExpectPacket reads messages until one decodes to a T. Other messages are dropped.
func ExpectPacket[T Packet](p *Protocol) (*CommonMessage, T, error) {
	var zero T
	for {
		msg, err := p.RecvMessage()
		if err != nil {
			return nil, zero, err
		}
		pkt, err := p.DecodeMessage(msg)
		if err != nil {
			return nil, zero, errors.Wrapf(err, "decode %v", msg.Header.MessageType)
		}
		if want, ok := pkt.(T); ok {
			return msg, want, nil
		}
		p.logger.Debug("drop unexpected message", zap.Stringer("type", msg.Header.MessageType))
	}
}

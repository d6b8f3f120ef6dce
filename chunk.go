package rtmp

import (
	"encoding/binary"

	"github.com/torresjeff/rtmplive/internal/binary24"
)

type ChunkType uint8

const (
	ChunkType0 ChunkType = iota
	ChunkType1
	ChunkType2
	ChunkType3
)

const (
	chunkType0MessageHeaderLength = 11
	chunkType1MessageHeaderLength = 7
	chunkType2MessageHeaderLength = 3
)

var messageHeaderLengths = [4]int{
	chunkType0MessageHeaderLength,
	chunkType1MessageHeaderLength,
	chunkType2MessageHeaderLength,
	0,
}

// Chunk size every connection starts with, in both directions.
const DefaultChunkSize = 128

// chunkStream is the decoding state of one chunk stream id. Fields of type 1-3 chunks are
// inherited from here, and the message being reassembled on this lane lives in msg.
type chunkStream struct {
	fmt ChunkType
	cid int
	// header holds the fields inherited by the next chunk.
	header            MessageHeader
	extendedTimestamp bool
	msg               *CommonMessage
	// msgCount counts the chunk headers decoded on this lane.
	msgCount int64
}

func newChunkStream(cid int) *chunkStream {
	cs := &chunkStream{cid: cid}
	cs.header.PreferCID = cid
	return cs
}

func appendBasicHeader(dst []byte, fmt ChunkType, cid int) []byte {
	switch {
	case cid < 64:
		return append(dst, byte(fmt)<<6|byte(cid))
	case cid < 64+256:
		return append(dst, byte(fmt)<<6, byte(cid-64))
	default:
		return append(dst, byte(fmt)<<6|1, byte(cid-64), byte((cid-64)>>8))
	}
}

// appendChunkHeaderC0 appends the full type 0 header that starts every outgoing message.
func appendChunkHeaderC0(dst []byte, cid int, timestamp int64, length uint32, t MessageType, streamID uint32) []byte {
	dst = appendBasicHeader(dst, ChunkType0, cid)
	ts := uint32(timestamp)
	if ts < extendedTimestampFF {
		dst = binary24.BigEndian.AppendUint24(dst, ts)
	} else {
		dst = binary24.BigEndian.AppendUint24(dst, extendedTimestampFF)
	}
	dst = binary24.BigEndian.AppendUint24(dst, length)
	dst = append(dst, byte(t))
	dst = binary.LittleEndian.AppendUint32(dst, streamID)
	if ts >= extendedTimestampFF {
		dst = binary.BigEndian.AppendUint32(dst, ts)
	}
	return dst
}

// appendChunkHeaderC3 appends the continuation header. The extended timestamp is repeated
// when the first chunk carried one.
func appendChunkHeaderC3(dst []byte, cid int, timestamp int64) []byte {
	dst = appendBasicHeader(dst, ChunkType3, cid)
	if ts := uint32(timestamp); ts >= extendedTimestampFF {
		dst = binary.BigEndian.AppendUint32(dst, ts)
	}
	return dst
}

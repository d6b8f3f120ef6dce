// Package dvr records published streams to FLV files.
package dvr

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmplive/internal/binary24"
)

// FLV tag types. They share their values with the RTMP message types.
const (
	TagAudio  byte = 8
	TagVideo  byte = 9
	TagScript byte = 18
)

const (
	headerSize    = 9
	tagHeaderSize = 11
	// flagsAudioVideo announces both audio and video, which are not known when the file opens.
	flagsAudioVideo = 0x05
	maxTimestamp    = 0x7fffffff
)

// Encoder writes an FLV file: the header, then tags each followed by its previous tag size.
type Encoder struct {
	w      io.Writer
	header [tagHeaderSize]byte
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteHeader writes the file header and the zero previous tag size that follows it.
func (e *Encoder) WriteHeader() error {
	b := []byte{'F', 'L', 'V', 0x01, flagsAudioVideo, 0, 0, 0, headerSize, 0, 0, 0, 0}
	_, err := e.w.Write(b)
	return errors.Wrap(err, "write flv header")
}

// WriteTag writes one tag. The timestamp keeps its low 24 bits in the timestamp field and
// the next 8 in the extension byte.
func (e *Encoder) WriteTag(tagType byte, timestamp int64, data []byte) error {
	if len(data) > 0xffffff {
		return errors.Errorf("flv tag of %d bytes is too large", len(data))
	}
	ts := uint32(timestamp & maxTimestamp)

	h := e.header[:0]
	h = append(h, tagType)
	h = binary24.BigEndian.AppendUint24(h, uint32(len(data)))
	h = binary24.BigEndian.AppendUint24(h, ts)
	h = append(h, byte(ts>>24))
	h = binary24.BigEndian.AppendUint24(h, 0)

	if _, err := e.w.Write(h); err != nil {
		return errors.Wrap(err, "write flv tag header")
	}
	if _, err := e.w.Write(data); err != nil {
		return errors.Wrap(err, "write flv tag data")
	}
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(tagHeaderSize+len(data)))
	_, err := e.w.Write(size[:])
	return errors.Wrap(err, "write previous tag size")
}

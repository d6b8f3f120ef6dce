package rtmp

import (
	"bufio"
	"io"
)

// Reader buffers the transport and counts every byte consumed. The count drives the
// acknowledgements sent to the peer.
type Reader struct {
	buf      *bufio.Reader
	consumed uint64
}

// NewReader buffers r with a buffer of size bytes.
func NewReader(r io.Reader, size int) *Reader {
	return &Reader{buf: bufio.NewReaderSize(r, size)}
}

// Read fills p completely. It fails with io.ErrUnexpectedEOF when the transport ends
// part way.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := io.ReadFull(r.buf, p)
	r.consumed += uint64(n)
	return n, err
}

func (r *Reader) ReadByte() (byte, error) {
	b, err := r.buf.ReadByte()
	if err == nil {
		r.consumed++
	}
	return b, err
}

// Peek returns the next n bytes without consuming them.
func (r *Reader) Peek(n int) ([]byte, error) {
	return r.buf.Peek(n)
}

func (r *Reader) Discard(n int) (int, error) {
	d, err := r.buf.Discard(n)
	r.consumed += uint64(d)
	return d, err
}

// ReadBytes returns the number of bytes consumed since the Reader was created.
func (r *Reader) ReadBytes() uint64 { return r.consumed }

package rtmp

import (
	"io"
	"net"
)

// Writer counts the bytes sent and turns batches of chunks into vectored writes. On a
// TCP connection net.Buffers becomes a single writev call.
type Writer struct {
	writer io.Writer
	n      uint64
}

type WriteFlusher interface {
	io.Writer
	Flusher
}

type Flusher interface {
	Flush() error
}

var _ WriteFlusher = (*Writer)(nil)

func NewWriter(writer io.Writer) (*Writer, error) {
	if writer == nil {
		return nil, ErrNilWriter
	}
	return &Writer{writer: writer}, nil
}

// Write writes the contents of p into the underlying writer.
// It returns the number of bytes written.
// If n < len(p), it also returns an error explaining
// why the write is short.
func (w *Writer) Write(p []byte) (n int, err error) {
	n, err = w.writer.Write(p)
	w.n += uint64(n)
	return n, err
}

// WriteBuffers writes every buffer in order, vectored when the transport allows it.
func (w *Writer) WriteBuffers(bufs net.Buffers) (int64, error) {
	n, err := bufs.WriteTo(w.writer)
	w.n += uint64(n)
	return n, err
}

// Flush flushes the underlying writer when it buffers.
func (w *Writer) Flush() error {
	if f, ok := w.writer.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// WrittenBytes returns the number of bytes sent since the Writer was created.
func (w *Writer) WrittenBytes() uint64 {
	return w.n
}

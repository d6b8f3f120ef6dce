package rtmp

import (
	"io"
	"net"
	"syscall"

	"github.com/pkg/errors"
)

var ErrNilWriter = errors.New("Expected a non-nil writer, but got a nil value")

var (
	// ErrProtocolViolation covers malformed chunk headers, a wrong first-chunk format and
	// payload length changes in the middle of a message. Always fatal to the connection.
	ErrProtocolViolation = errors.New("rtmp: protocol violation")
	// ErrTimeout is returned when the peer sends nothing within the configured window.
	ErrTimeout = errors.New("rtmp: timeout")
	// ErrPublishTimeout ends a publish session that went quiet.
	ErrPublishTimeout = errors.New("rtmp: publish timeout")
	// ErrGracefulClose means the peer closed the connection cleanly.
	ErrGracefulClose = errors.New("rtmp: connection closed by peer")
	// ErrRepublish asks the session to restart the stream handshake.
	ErrRepublish = errors.New("rtmp: republish requested")
	// ErrCloseStream asks the session to restart the stream handshake after a player closed its stream.
	ErrCloseStream = errors.New("rtmp: stream closed by client")
	// ErrStreamBusy is returned when publishing to a stream that already has a publisher.
	ErrStreamBusy = errors.New("rtmp: stream is busy")
	ErrDecode     = errors.New("rtmp: decode failed")
	ErrEncode     = errors.New("rtmp: encode failed")
	// ErrInvalidRequest is a connect without tcUrl, an unresolvable tcUrl or an empty stream name.
	ErrInvalidRequest = errors.New("rtmp: invalid request")
	// ErrRejected means the server answered a client command with an error.
	ErrRejected = errors.New("rtmp: rejected by server")
)

// IsTimeout reports whether err is a receive or send timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	cause := errors.Cause(err)
	if cause == ErrTimeout || cause == ErrPublishTimeout {
		return true
	}
	var ne net.Error
	return errors.As(cause, &ne) && ne.Timeout()
}

// IsGracefulClose reports whether err means the peer went away, which is not worth an error log.
func IsGracefulClose(err error) bool {
	if err == nil {
		return false
	}
	cause := errors.Cause(err)
	switch {
	case cause == ErrGracefulClose, cause == io.EOF, cause == io.ErrUnexpectedEOF, cause == io.ErrClosedPipe:
		return true
	case errors.Is(cause, net.ErrClosed), errors.Is(cause, syscall.ECONNRESET), errors.Is(cause, syscall.EPIPE):
		return true
	}
	return false
}

// IsControlSignal reports whether err is a request to restart the stream handshake rather
// than a failure.
func IsControlSignal(err error) bool {
	cause := errors.Cause(err)
	return cause == ErrRepublish || cause == ErrCloseStream
}

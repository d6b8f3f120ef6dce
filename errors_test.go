package rtmp

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		timeout  bool
		graceful bool
		control  bool
	}{
		{"nil", nil, false, false, false},
		{"timeout", errors.Wrap(ErrTimeout, "recv"), true, false, false},
		{"publishTimeout", errors.Wrapf(ErrPublishTimeout, "after %v", time.Second), true, false, false},
		{"netTimeout", errors.Wrap(timeoutError{}, "read"), true, false, false},
		{"eof", errors.Wrap(io.EOF, "read basic header"), false, true, false},
		{"closed", net.ErrClosed, false, true, false},
		{"republish", errors.Wrap(ErrRepublish, "fmle"), false, false, true},
		{"closeStream", ErrCloseStream, false, false, true},
		{"violation", errors.Wrap(ErrProtocolViolation, "fmt"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTimeout(tt.err); got != tt.timeout {
				t.Errorf("IsTimeout = %v, want %v", got, tt.timeout)
			}
			if got := IsGracefulClose(tt.err); got != tt.graceful {
				t.Errorf("IsGracefulClose = %v, want %v", got, tt.graceful)
			}
			if got := IsControlSignal(tt.err); got != tt.control {
				t.Errorf("IsControlSignal = %v, want %v", got, tt.control)
			}
		})
	}
}

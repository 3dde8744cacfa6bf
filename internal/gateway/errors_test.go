package gateway

import (
	"errors"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"timed out", errors.New("context deadline exceeded: i/o timeout"), true},
		{"502", errors.New("unexpected status 502 Bad Gateway"), true},
		{"503", errors.New("gateway returned 503"), true},
		{"websocket service restart", errors.New("websocket: close 1012 (service restart)"), true},
		{"unsupported file", errors.New("unsupported file type: .bin"), false},
		{"unauthorized", errors.New("401 unauthorized"), false},
		{"parse error", errors.New("json parse error at offset 4"), false},
		{"method error is never transient", &MethodError{Method: "status", Code: -32000, Message: "boom"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTransportErrorUnwrap(t *testing.T) {
	cause := errors.New("dial failed")
	err := &TransportError{Op: "dial", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected TransportError to unwrap to its cause")
	}
}

// Package gateway is the JSON-RPC client to a remote gateway runtime: a
// bidirectional channel over gorilla/websocket, a centralized
// transient-error classifier, and cenkalti/backoff/v5-driven retry under a
// per-call deadline, grounded on the teacher's internal/hotreload
// websocket-upgrade pattern (connection lifecycle, read/write goroutines)
// adapted from server-side to client-side dialing.
package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// TransportError wraps a failure to reach the gateway at all (dial
// refused, connection reset, deadline exceeded) as distinct from a
// MethodError (the gateway answered with a JSON-RPC error object).
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string { return fmt.Sprintf("gateway transport (%s): %v", e.Op, e.Cause) }
func (e *TransportError) Unwrap() error { return e.Cause }

// MethodError is a JSON-RPC error object returned by the gateway itself.
type MethodError struct {
	Method  string
	Code    int
	Message string
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("gateway method %q failed (%d): %s", e.Method, e.Code, e.Message)
}

// transientSubstrings are matched case-insensitively against a failure's
// message. Centralizing this list is the point: scattering "is this worth
// retrying" checks across call sites risks silently retrying something
// that was actually fatal (an auth failure, a malformed request).
var transientSubstrings = []string{
	"connection refused",
	"connection reset",
	"timed out",
	"timeout",
	"502",
	"503",
	"504",
	"service restart",
	"1012",
	"eof",
	"broken pipe",
	"no such host",
}

// nonTransientSubstrings short-circuit IsTransient to false even when a
// broader substring above might otherwise match — e.g. "unsupported file"
// never contains a transient marker, but this exists for cases future
// error strings might collide.
var nonTransientSubstrings = []string{
	"unsupported file",
	"unauthorized",
	"forbidden",
	"invalid scope",
	"parse error",
}

// IsTransient classifies err as worth retrying with backoff (connection
// refused, 502/503/504, "timed out", "connection reset", websocket 1012
// service restart) versus failing fast (unsupported file, auth/scope
// errors, parse errors).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var methodErr *MethodError
	if errors.As(err, &methodErr) {
		// The gateway understood and rejected the call outright; a JSON-RPC
		// error object is never a transport hiccup.
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, s := range nonTransientSubstrings {
		if strings.Contains(msg, s) {
			return false
		}
	}
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

package signalr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConnected is returned by Invoke and Send when the client is not in the ClientConnected state.
	// No frame is sent in this case.
	ErrNotConnected = errors.New("signalr: client is not connected")
	// ErrConnectionClosed completes all pending invocations when the connection ends for good.
	ErrConnectionClosed = errors.New("signalr: connection closed")
	// ErrInvocationTimeout completes an invocation which did not get a result within the InvocationTimeout.
	ErrInvocationTimeout = errors.New("signalr: invocation timeout")
	// ErrInvalidURL is returned by NewClient for addresses which can not be used as hub endpoint
	ErrInvalidURL = errors.New("signalr: invalid hub url")
	// ErrHandshake is wrapped into the NegotiationError when the server rejected the handshake
	ErrHandshake = errors.New("signalr: handshake failed")
)

// NegotiationError reports a failure while negotiating with the server, opening the transport
// or processing the handshake.
type NegotiationError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NegotiationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("negotiation with %v failed (status %v): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("negotiation with %v failed: %v", e.URL, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// TransportError reports an I/O failure on an established connection.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is a malformed frame or a message which can not be encoded.
// The frame is dropped, the connection stays open.
type ProtocolError struct {
	Frame string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v (source: %v)", e.Err, e.Frame)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// InvocationError is the error the server reported for a single invocation.
type InvocationError struct {
	InvocationID string
	Method       string
	Message      string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invocation %v of %v failed: %v", e.InvocationID, e.Method, e.Message)
}

// ReconnectError is reported when the reconnect policy gave up.
type ReconnectError struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *ReconnectError) Error() string {
	return fmt.Sprintf("reconnect failed after %v attempts (%v): %v", e.Attempts, e.Elapsed, e.Err)
}

func (e *ReconnectError) Unwrap() error {
	return e.Err
}

// ServerCloseError is reported when the server sent a close message with an error.
type ServerCloseError struct {
	Message        string
	AllowReconnect bool
}

func (e *ServerCloseError) Error() string {
	return fmt.Sprintf("server closed the connection: %v", e.Message)
}

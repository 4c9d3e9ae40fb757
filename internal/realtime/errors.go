package realtime

import "errors"

var (
	// ErrConnectFailed wraps any transport error seen before the connection opened.
	ErrConnectFailed = errors.New("realtime connect failed")

	// ErrConnectTimeout is returned when the handshake outlives the connect deadline.
	ErrConnectTimeout = errors.New("realtime connect timed out")

	// ErrMisuse is returned for calls that are invalid in the current state,
	// such as opening a connection twice.
	ErrMisuse = errors.New("realtime connection misuse")

	// ErrClosed is returned by Open when Close won the race with the handshake.
	ErrClosed = errors.New("realtime connection closed")

	// ErrHandlerRegistered is returned when a second inbound handler is registered.
	ErrHandlerRegistered = errors.New("realtime message handler already registered")
)

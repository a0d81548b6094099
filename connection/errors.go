package connection

import "errors"

// Connection errors are returned by Connection methods and can be checked
// with errors.Is.
var (
	// ErrOversizeFrame is returned by Send when a frame exceeds the
	// transport's packet size for its channel. The frame is dropped; the
	// connection stays open.
	ErrOversizeFrame = errors.New("connection: frame exceeds transport packet size")

	// ErrAccountingViolation marks a constructed batch that exceeded the
	// transport's packet size. It points at a size accounting bug, is logged
	// and counted, and the batch is dropped.
	ErrAccountingViolation = errors.New("connection: batch exceeds transport packet size")

	// ErrTransportFailure wraps errors returned by the transport.
	ErrTransportFailure = errors.New("connection: transport failure")

	// ErrConnectionClosed is returned when a closed connection is used.
	ErrConnectionClosed = errors.New("connection: closed")
)

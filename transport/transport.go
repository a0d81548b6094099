// Package transport defines the contract the batching engine needs from the
// network layer below it: per-channel send, packet size limits, disconnect,
// and the asynchronous events a transport reports back.
package transport

import "fmt"

// Channel is a logical partition of a connection's traffic. The transport
// maps each channel to its delivery semantics; the batching engine only uses
// it as a partition key.
type Channel uint8

const (
	// Reliable is the ordered, reliable channel.
	Reliable Channel = 0
	// Unreliable is the best-effort channel.
	Unreliable Channel = 1
)

// MaxChannels is the number of distinct channel ids a Channel can hold.
const MaxChannels = 256

// String returns a human-readable name for the channel.
func (c Channel) String() string {
	switch c {
	case Reliable:
		return "reliable"
	case Unreliable:
		return "unreliable"
	default:
		return fmt.Sprintf("channel-%d", uint8(c))
	}
}

// Transport is the capability handle injected into every connection. A
// Transport must be safe for concurrent use by different connections.
type Transport interface {
	// Send hands one frame to the connection's peer on the given channel.
	// The transport must not retain frame after Send returns.
	//
	// Parameters:
	//   - connID: The connection to send to
	//   - frame: The serialized unit (a batch or a direct message)
	//   - channel: The channel to send on
	//
	// Returns:
	//   - An error if the transport could not accept the frame
	Send(connID uint32, frame []byte, channel Channel) error

	// GetMaxPacketSize returns the largest frame the transport accepts on
	// the given channel.
	//
	// Parameters:
	//   - channel: The channel to query
	//
	// Returns:
	//   - The maximum frame size in bytes
	GetMaxPacketSize(channel Channel) int

	// Disconnect asks the transport to tear down the connection. The
	// transport reports completion through EventHandler.OnDisconnected.
	//
	// Parameters:
	//   - connID: The connection to tear down
	//
	// Returns:
	//   - An error if the request failed
	Disconnect(connID uint32) error
}

// BatchThresholder is implemented by transports whose preferred batch size
// differs from their maximum packet size, e.g. a transport that accepts
// large reliable messages but wants batches to stay within one MTU.
type BatchThresholder interface {
	// GetBatchThreshold returns the size batches on channel should stay within.
	GetBatchThreshold(channel Channel) int
}

// BatchThreshold returns the batch size limit for channel: the transport's
// GetBatchThreshold when it implements BatchThresholder, otherwise its
// maximum packet size. The result never exceeds the maximum packet size,
// and a non-positive threshold falls back to it.
//
// Parameters:
//   - t: The transport to query
//   - channel: The channel to query
//
// Returns:
//   - The batch threshold in bytes
func BatchThreshold(t Transport, channel Channel) int {
	limit := t.GetMaxPacketSize(channel)

	if bt, ok := t.(BatchThresholder); ok {
		if threshold := bt.GetBatchThreshold(channel); threshold > 0 {
			return min(threshold, limit)
		}
	}

	return limit
}

// EventHandler receives the asynchronous events a transport produces.
// Handlers are called from the transport's own goroutines.
type EventHandler interface {
	// OnConnected is called once a peer has connected.
	OnConnected(connID uint32, addr string)

	// OnData is called for every frame received from a peer. data is only
	// valid for the duration of the call.
	OnData(connID uint32, data []byte, channel Channel)

	// OnDisconnected is called exactly once per connection, whether the peer
	// went away or Disconnect was requested locally.
	OnDisconnected(connID uint32)

	// OnError is called for transport errors that do not end the connection
	// by themselves.
	OnError(connID uint32, err error)
}

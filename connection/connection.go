// Package connection implements the per-connection send path: validating
// outbound frames, batching them per channel, flushing batches once per
// network tick, unbatching inbound frames, and tearing the connection down.
//
// A Connection is not safe for concurrent use. All of its methods must be
// called from one goroutine, normally the server's tick loop; different
// connections are fully independent.
package connection

import (
	"errors"
	"fmt"

	"github.com/cyberinferno/netbatch/batching"
	"github.com/cyberinferno/netbatch/logger"
	"github.com/cyberinferno/netbatch/metrics"
	"github.com/cyberinferno/netbatch/transport"
)

// State represents where a connection is in its lifecycle.
type State int

const (
	Connected State = iota // Open, not yet marked ready by the application
	Ready                  // Open and ready for application traffic
	Closed                 // Torn down; every further call is rejected
)

// String returns a human-readable name for the connection state.
func (s State) String() string {
	switch s {
	case Connected:
		return "Connected"
	case Ready:
		return "Ready"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Message is one inbound application message.
type Message struct {
	// Data is only valid for the duration of the DeliverFunc call.
	Data    []byte
	Channel transport.Channel
	// Timestamp is the sender's batch timestamp when batching is enabled,
	// and the local receive time otherwise.
	Timestamp float64
}

// DeliverFunc receives inbound messages from HandleData.
type DeliverFunc func(msg Message)

// ClosedFunc is called once when a connection closes.
type ClosedFunc func(c *Connection)

// Options configures a Connection.
type Options struct {
	// Batching selects batched mode; it is fixed for the connection's lifetime.
	Batching bool
	// Address is the remote address, informational only.
	Address string
	// Logger receives connection logs; logger.Nop() when nil.
	Logger logger.Logger
	// Metrics records connection metrics; nil disables them.
	Metrics *metrics.Registry
	// Clock stamps batches; batching.MonotonicClock() when nil.
	Clock batching.Clock
}

// Connection is the server side of one peer connection.
type Connection struct {
	id        uint32
	address   string
	transport transport.Transport
	batching  bool
	logger    logger.Logger
	metrics   *metrics.Registry
	clock     batching.Clock

	state    State
	batchers [transport.MaxChannels]*batching.Batcher
	channels []transport.Channel
	unbatch  *batching.Unbatcher
	onClosed []ClosedFunc
}

type event int

const (
	eventClosed event = iota
)

// New creates a Connection for connID that sends through t.
//
// Parameters:
//   - connID: The transport's id for the connection
//   - t: The transport the connection sends through
//   - opts: Mode, logging, metrics and clock settings
//
// Returns:
//   - A Connection in the Connected state
func New(connID uint32, t transport.Transport, opts Options) *Connection {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	if opts.Clock == nil {
		opts.Clock = batching.MonotonicClock()
	}

	c := &Connection{
		id:        connID,
		address:   opts.Address,
		transport: t,
		batching:  opts.Batching,
		logger:    opts.Logger.With(logger.Uint32("conn_id", connID), logger.Bool("batching", opts.Batching)),
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		state:     Connected,
		unbatch:   batching.NewUnbatcher(),
	}
	c.metrics.ConnectionOpened()

	return c
}

// ID returns the transport's id for the connection.
func (c *Connection) ID() uint32 { return c.id }

// Address returns the remote address given at construction.
func (c *Connection) Address() string { return c.address }

// Logger returns the connection's logger, already tagged with its id.
func (c *Connection) Logger() logger.Logger { return c.logger }

// Batching reports whether the connection is in batched mode.
func (c *Connection) Batching() bool { return c.batching }

// State returns the current lifecycle state.
func (c *Connection) State() State { return c.state }

// IsReady reports whether the application marked the connection ready.
func (c *Connection) IsReady() bool { return c.state == Ready }

// SetReady marks the connection ready or not ready. It has no effect on a
// closed connection.
func (c *Connection) SetReady(ready bool) {
	if c.state == Closed {
		return
	}

	if ready {
		c.state = Ready
	} else {
		c.state = Connected
	}
}

// OnClosed registers fn to run when the connection closes, whichever side
// initiated it.
func (c *Connection) OnClosed(fn ClosedFunc) {
	c.onClosed = append(c.onClosed, fn)
}

// Send validates msg and then either hands it straight to the transport
// (direct mode) or queues it on the channel's batcher (batched mode). In
// batched mode the bytes are copied and msg may be reused right away.
//
// Parameters:
//   - msg: The serialized application message
//   - channel: The channel to send on
//
// Returns:
//   - ErrConnectionClosed if the connection is closed
//   - An error wrapping ErrOversizeFrame if msg, framed as a batch of one in
//     batched mode, exceeds the packet size; msg is dropped
//   - An error wrapping ErrTransportFailure if a direct send failed
func (c *Connection) Send(msg []byte, channel transport.Channel) error {
	if c.state == Closed {
		return ErrConnectionClosed
	}

	// In batched mode the message must still fit a batch of its own.
	size := len(msg)
	if c.batching {
		size = batching.BatchSize(len(msg))
	}

	if limit := c.transport.GetMaxPacketSize(channel); size > limit {
		c.logger.Warn("dropping oversize frame",
			logger.String("channel", channel.String()),
			logger.Int("size", len(msg)),
			logger.Int("framed_size", size),
			logger.Int("max", limit),
		)
		c.metrics.OversizeDropped(channel.String())

		return fmt.Errorf("%w: %d bytes on %s, max %d", ErrOversizeFrame, size, channel, limit)
	}

	if c.batching {
		c.batcher(channel).AddMessage(msg)
		return nil
	}

	if err := c.transport.Send(c.id, msg, channel); err != nil {
		c.metrics.TransportFailed("send")
		return fmt.Errorf("%w: send on %s: %w", ErrTransportFailure, channel, err)
	}

	c.metrics.DirectSent(channel.String(), len(msg))
	return nil
}

// batcher returns the channel's batcher, creating it on first use.
func (c *Connection) batcher(channel transport.Channel) *batching.Batcher {
	b := c.batchers[channel]
	if b == nil {
		b = batching.NewBatcher(transport.BatchThreshold(c.transport, channel), c.clock)
		c.batchers[channel] = b
		c.channels = append(c.channels, channel)
	}

	return b
}

// Flush drains every channel's queue into batches and hands them to the
// transport. It is meant to run once per network tick and does nothing in
// direct mode. Batches that fail the packet size check are dropped and
// logged as accounting violations; they are not reported as errors.
//
// Returns:
//   - The transport errors of this flush joined together, or nil
func (c *Connection) Flush() error {
	if !c.batching || c.state == Closed {
		return nil
	}

	w := batching.AcquireWriter()
	defer batching.ReleaseWriter(w)

	var errs []error
	for _, channel := range c.channels {
		b := c.batchers[channel]
		for b.MakeNextBatch(w) {
			if err := c.sendBatch(w, channel); err != nil {
				errs = append(errs, err)
			}

			w.Reset()
		}
	}

	return errors.Join(errs...)
}

// sendBatch validates and sends the batch held by w. Send only accepts
// messages that fit a batch of their own and the threshold never exceeds
// the packet size, so a batch failing here means the batcher miscounted.
func (c *Connection) sendBatch(w *batching.Writer, channel transport.Channel) error {
	frame := w.Bytes()

	if !transport.ValidatePacketSize(c.transport, frame, channel) {
		c.logger.Error("dropping batch over transport packet size",
			logger.Err(ErrAccountingViolation),
			logger.String("channel", channel.String()),
			logger.Int("size", len(frame)),
			logger.Int("messages", w.Count()),
			logger.Int("max", c.transport.GetMaxPacketSize(channel)),
		)
		c.metrics.AccountingViolated(channel.String())

		return nil
	}

	if err := c.transport.Send(c.id, frame, channel); err != nil {
		c.metrics.TransportFailed("send")
		return fmt.Errorf("%w: send batch on %s: %w", ErrTransportFailure, channel, err)
	}

	c.metrics.BatchSent(channel.String(), w.Count(), len(frame), w.Timestamp()-w.OldestEnqueue())
	return nil
}

// PendingMessages returns the number of queued messages across all channels.
func (c *Connection) PendingMessages() int {
	n := 0
	for _, channel := range c.channels {
		n += c.batchers[channel].Len()
	}

	return n
}

// HandleData processes one frame received from the transport. In batched
// mode the frame is unbatched and every message it holds is delivered in
// order; in direct mode the frame is delivered as a single message.
//
// A malformed batch never closes the connection: the valid messages before
// the damage are delivered, the rest of the batch is discarded and an error
// wrapping batching.ErrTruncatedBatch is returned.
//
// Parameters:
//   - data: The received frame; only read during the call
//   - channel: The channel the frame arrived on
//   - deliver: Called for every extracted message
//
// Returns:
//   - ErrConnectionClosed if the connection is closed
//   - An error wrapping batching.ErrTruncatedBatch for malformed batches
func (c *Connection) HandleData(data []byte, channel transport.Channel, deliver DeliverFunc) error {
	if c.state == Closed {
		return ErrConnectionClosed
	}

	if !c.batching {
		c.metrics.MessageReceived(channel.String())
		deliver(Message{Data: data, Channel: channel, Timestamp: c.clock()})
		return nil
	}

	before := c.unbatch.Truncations()
	err := c.unbatch.AddBatch(data)

	for msg, ts := range c.unbatch.Messages() {
		c.metrics.MessageReceived(channel.String())
		deliver(Message{Data: msg, Channel: channel, Timestamp: ts})

		if c.state == Closed {
			break
		}
	}

	if n := c.unbatch.Truncations() - before; n > 0 {
		c.logger.Warn("discarding truncated batch",
			logger.String("channel", channel.String()),
			logger.Int("size", len(data)),
		)
		c.metrics.Truncated(channel.String(), n)

		if err == nil {
			err = fmt.Errorf("%w: %d bytes on %s", batching.ErrTruncatedBatch, len(data), channel)
		}
	}

	return err
}

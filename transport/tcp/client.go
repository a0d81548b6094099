package tcp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/netbatch/transport"
)

// ClientState represents the current state of a client transport.
type ClientState int

const (
	Disconnected ClientState = iota // Not connected
	Connecting                      // Dial in progress
	Connected                       // Frames can be sent
	Closed                          // Closed; the client cannot be reused
)

// String returns a human-readable name for the client state.
func (cs ClientState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// StateEvent is emitted when the client state changes.
type StateEvent struct {
	State     ClientState // The new state
	Address   string      // The remote address
	Timestamp time.Time   // When the change occurred
	Error     error       // Non-nil if the change was caused by an error
}

// DataEvent is emitted for every frame read from the server.
type DataEvent struct {
	Data      []byte            // Frame payload; only valid during the handler call
	Channel   transport.Channel // Channel the frame arrived on
	Timestamp time.Time         // When the frame was read
}

// StateHandler is called on state changes, from the caller's goroutine or
// from the read goroutine.
type StateHandler func(event StateEvent)

// DataHandler is called from the read goroutine for every received frame.
type DataHandler func(event DataEvent)

// Client is a single-peer client transport. The connID arguments of the
// transport.Transport methods are ignored. Register handlers before Connect.
// It is safe for concurrent use.
type Client struct {
	config ClientConfig
	conn   net.Conn
	state  ClientState
	// closing is set by Close so the read loop does not report Disconnected.
	closing bool

	onState StateHandler
	onData  DataHandler

	mu      sync.RWMutex
	writeMu sync.Mutex
	wg      sync.WaitGroup
}

var (
	_ transport.Transport        = (*Client)(nil)
	_ transport.BatchThresholder = (*Client)(nil)
)

// NewClient creates a client transport in the Disconnected state.
//
// Parameters:
//   - config: Connection settings (e.g. from DefaultClientConfig)
//
// Returns:
//   - A new *Client; call Close when done to release resources
func NewClient(config ClientConfig) *Client {
	return &Client{
		config: config,
		state:  Disconnected,
	}
}

// OnStateChange registers the handler for state changes. Repeated calls
// replace the previous handler.
func (c *Client) OnStateChange(handler StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

// OnData registers the handler for received frames. Repeated calls replace
// the previous handler.
func (c *Client) OnData(handler DataHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onData = handler
}

// Connect dials the configured address and starts the read goroutine.
//
// Returns:
//   - nil on success; an error if the client is closed, already connected,
//     or the dial fails
func (c *Client) Connect() error {
	c.mu.Lock()
	switch c.state {
	case Closed:
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	case Connected, Connecting:
		c.mu.Unlock()
		return fmt.Errorf("already connected or connecting")
	}
	c.mu.Unlock()

	c.setState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.setState(Connected, nil)

	c.wg.Add(1)
	go c.readLoop(conn)

	return nil
}

// Close closes the connection and waits for the read goroutine. Idempotent.
// Must not be called from a DataHandler; use Disconnect there.
func (c *Client) Close() error {
	err := c.shutdown()
	c.wg.Wait()
	return err
}

// shutdown closes the connection and moves to Closed without waiting for
// the read goroutine.
func (c *Client) shutdown() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}

	conn := c.conn
	c.conn = nil
	c.closing = true
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	c.setState(Closed, nil)

	return err
}

// State returns the current client state.
func (c *Client) State() ClientState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the client is in the Connected state.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// Send implements transport.Transport.
func (c *Client) Send(_ uint32, frame []byte, channel transport.Channel) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}

		defer func() {
			_ = conn.SetWriteDeadline(time.Time{})
		}()
	}

	return writeFrame(conn, channel, frame)
}

// GetMaxPacketSize implements transport.Transport.
func (c *Client) GetMaxPacketSize(channel transport.Channel) int {
	return c.config.Limits.MaxPacketSize(channel)
}

// GetBatchThreshold implements transport.BatchThresholder.
func (c *Client) GetBatchThreshold(channel transport.Channel) int {
	return c.config.Limits.BatchThreshold(channel)
}

// Disconnect implements transport.Transport by closing the client. It does
// not wait for the read goroutine, so it is safe to call from a DataHandler.
func (c *Client) Disconnect(uint32) error {
	return c.shutdown()
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	limit := maxFrameSize(c.config.MaxFrameSize)
	var buf []byte
	for {
		channel, payload, next, err := readFrame(conn, buf, limit)
		buf = next
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			if !closing {
				c.conn = nil
			}
			c.mu.Unlock()

			_ = conn.Close()

			if closing {
				return
			}

			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				err = nil
			}

			c.setState(Disconnected, err)
			return
		}

		c.mu.RLock()
		handler := c.onData
		c.mu.RUnlock()

		if handler != nil {
			handler(DataEvent{Data: payload, Channel: channel, Timestamp: time.Now()})
		}
	}
}

func (c *Client) setState(state ClientState, err error) {
	c.mu.Lock()
	if c.state == state || c.state == Closed {
		c.mu.Unlock()
		return
	}

	c.state = state
	handler := c.onState
	c.mu.Unlock()

	if handler != nil {
		handler(StateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}

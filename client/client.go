// Package client is the dialing side of a netbatch connection: a
// connection.Connection over a tcp.Client, flushed on its own tick.
package client

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/cyberinferno/netbatch/batching"
	"github.com/cyberinferno/netbatch/connection"
	"github.com/cyberinferno/netbatch/logger"
	"github.com/cyberinferno/netbatch/metrics"
	"github.com/cyberinferno/netbatch/transport"
	"github.com/cyberinferno/netbatch/transport/tcp"
)

// Config holds configuration for a Client.
type Config struct {
	// Transport configures the TCP dial.
	Transport tcp.ClientConfig
	// Batching must match the server's mode.
	Batching bool
	// TickInterval is the flush period.
	TickInterval time.Duration
}

// DefaultConfig returns a batched Config for address with a 50ms tick.
func DefaultConfig(address string) Config {
	return Config{
		Transport:    tcp.DefaultClientConfig(address),
		Batching:     true,
		TickInterval: 50 * time.Millisecond,
	}
}

// Options are the collaborators of a Client.
type Options struct {
	Logger  logger.Logger
	Metrics *metrics.Registry
	Clock   batching.Clock
	// OnMessage receives every inbound message on the transport's read
	// goroutine. Message data is a private copy.
	OnMessage func(msg connection.Message)
	// OnClosed is called once when the connection closes.
	OnClosed func()
}

// Client is a connected peer. It is safe for concurrent use.
type Client struct {
	tcp  *tcp.Client
	conn *connection.Connection
	opts Options
	mu   sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Dial connects to the server and starts the flush ticker.
//
// Parameters:
//   - cfg: Address, batching mode and tick settings
//   - opts: Logger, metrics, clock and callbacks
//
// Returns:
//   - A connected *Client, or the dial error
func Dial(cfg Config, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 50 * time.Millisecond
	}

	c := &Client{
		tcp:  tcp.NewClient(cfg.Transport),
		opts: opts,
		stop: make(chan struct{}),
	}

	c.conn = connection.New(0, c.tcp, connection.Options{
		Batching: cfg.Batching,
		Address:  cfg.Transport.Address,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
		Clock:    opts.Clock,
	})
	c.conn.OnClosed(func(*connection.Connection) {
		c.stopOnce.Do(func() { close(c.stop) })
		if opts.OnClosed != nil {
			opts.OnClosed()
		}
	})

	c.tcp.OnData(c.handleData)
	c.tcp.OnStateChange(c.handleState)

	// Ready before Connect starts the read goroutine, which may deliver
	// data or a disconnect at once.
	c.conn.SetReady(true)

	if err := c.tcp.Connect(); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.flushLoop(cfg.TickInterval)

	return c, nil
}

// Send queues or sends msg on channel, see connection.Connection.Send.
func (c *Client) Send(msg []byte, channel transport.Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Send(msg, channel)
}

// Flush sends everything queued so far without waiting for the next tick.
func (c *Client) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Flush()
}

// State returns the connection's lifecycle state.
func (c *Client) State() connection.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.State()
}

// Close flushes pending messages, disconnects and waits for the client's
// goroutines. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	flushErr := c.conn.Flush()
	err := c.conn.Disconnect()
	c.mu.Unlock()

	c.wg.Wait()
	if cerr := c.tcp.Close(); cerr != nil && err == nil {
		err = cerr
	}

	return errors.Join(flushErr, err)
}

func (c *Client) flushLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.Flush(); err != nil {
				c.opts.Logger.Warn("flush failed", logger.Err(err))
			}
		}
	}
}

// handleData unbatches under the lock and delivers outside it, so
// OnMessage may call Send.
func (c *Client) handleData(e tcp.DataEvent) {
	var msgs []connection.Message

	c.mu.Lock()
	err := c.conn.HandleData(e.Data, e.Channel, func(m connection.Message) {
		m.Data = bytes.Clone(m.Data)
		msgs = append(msgs, m)
	})
	c.mu.Unlock()

	if err != nil && !errors.Is(err, batching.ErrTruncatedBatch) && !errors.Is(err, connection.ErrConnectionClosed) {
		c.opts.Logger.Warn("handle data failed", logger.Err(err))
	}

	if c.opts.OnMessage == nil {
		return
	}

	for _, m := range msgs {
		c.opts.OnMessage(m)
	}
}

func (c *Client) handleState(e tcp.StateEvent) {
	// Closed is only reached through our own Disconnect, which holds the lock.
	if e.State != tcp.Disconnected {
		return
	}

	if e.Error != nil {
		c.opts.Logger.Warn("connection lost", logger.Err(e.Error))
	}

	c.mu.Lock()
	c.conn.HandleTransportDisconnect()
	c.mu.Unlock()
}

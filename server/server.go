// Package server runs connections over the TCP transport. A single loop
// goroutine owns every connection: it applies transport events in arrival
// order and flushes all connections once per tick, so no connection is ever
// touched from two goroutines.
package server

import (
	"bytes"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/cyberinferno/netbatch/batching"
	"github.com/cyberinferno/netbatch/connection"
	"github.com/cyberinferno/netbatch/logger"
	"github.com/cyberinferno/netbatch/metrics"
	"github.com/cyberinferno/netbatch/transport"
	"github.com/cyberinferno/netbatch/transport/tcp"
)

// Config holds configuration for a Server.
type Config struct {
	// Transport configures the TCP listener.
	Transport tcp.ServerConfig
	// Batching puts every accepted connection in batched mode.
	Batching bool
	// TickInterval is the flush period.
	TickInterval time.Duration
	// TombstoneTTL is how long a closed connection id stays known, so that
	// frames still in flight for it are dropped quietly.
	TombstoneTTL time.Duration
	// EventBuffer is the capacity of the loop's event queue.
	EventBuffer int
}

// DefaultConfig returns a batched Config listening on addr with a 50ms tick.
func DefaultConfig(addr string) Config {
	return Config{
		Transport:    tcp.ServerConfig{Name: "netbatch", Addr: addr},
		Batching:     true,
		TickInterval: 50 * time.Millisecond,
		TombstoneTTL: 30 * time.Second,
		EventBuffer:  1024,
	}
}

// Options are the collaborators of a Server.
type Options struct {
	Logger  logger.Logger
	Metrics *metrics.Registry
	// Clock stamps batches; batching.MonotonicClock() when nil.
	Clock batching.Clock
}

// Server accepts connections and drives them from its loop goroutine.
type Server struct {
	config  Config
	handler Handler
	logger  logger.Logger
	metrics *metrics.Registry
	clock   batching.Clock

	listener  *tcp.Server
	transport transport.Transport

	// Owned by the loop goroutine.
	conns      map[uint32]*connection.Connection
	tombstones *cache.Cache

	events  chan func()
	stop    chan struct{}
	done    chan struct{}
	loopWg  sync.WaitGroup
	started bool
	stopped bool
	mu      sync.Mutex
}

// New creates a stopped Server that reports to handler.
//
// Parameters:
//   - cfg: Listener, batching mode and loop settings
//   - handler: Receives connection events on the loop goroutine
//   - opts: Logger, metrics and clock
//
// Returns:
//   - A new *Server; call Start to accept connections
func New(cfg Config, handler Handler, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	if opts.Clock == nil {
		opts.Clock = batching.MonotonicClock()
	}

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 50 * time.Millisecond
	}

	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 1024
	}

	if cfg.TombstoneTTL <= 0 {
		cfg.TombstoneTTL = 30 * time.Second
	}

	s := &Server{
		config:     cfg,
		handler:    handler,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		clock:      opts.Clock,
		conns:      make(map[uint32]*connection.Connection),
		tombstones: cache.New(cfg.TombstoneTTL, 2*cfg.TombstoneTTL),
		events:     make(chan func(), cfg.EventBuffer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	s.listener = tcp.NewServer(cfg.Transport, transportEvents{s}, opts.Logger)
	s.transport = s.listener

	return s
}

// Start starts the TCP listener and the loop goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return errors.New("server already started")
	}

	if err := s.listener.Start(); err != nil {
		return err
	}

	s.started = true
	s.loopWg.Add(1)
	go s.loop()

	return nil
}

// Stop disconnects every connection, stops the loop and then the listener.
// Safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return
	}

	s.stopped = true
	close(s.stop)
	s.loopWg.Wait()
	s.listener.Stop()
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Do runs fn on the loop goroutine, where connections may be used. It
// returns false without running fn if the server has stopped.
func (s *Server) Do(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// Connection returns the open connection with id. Only call it on the loop
// goroutine, from a Handler or a Do function.
func (s *Server) Connection(id uint32) (*connection.Connection, bool) {
	c, ok := s.conns[id]
	return c, ok
}

// ConnectionCount returns the number of open connections. Only call it on
// the loop goroutine.
func (s *Server) ConnectionCount() int {
	return len(s.conns)
}

func (s *Server) loop() {
	defer s.loopWg.Done()
	defer close(s.done)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-s.events:
			fn()
		case <-ticker.C:
			s.tick()
		case <-s.stop:
			s.shutdown()
			return
		}
	}
}

// tick flushes every connection once.
func (s *Server) tick() {
	for id, c := range s.conns {
		if err := c.Flush(); err != nil {
			s.logger.Warn("flush failed", logger.Uint32("conn_id", id), logger.Err(err))
		}
	}
}

func (s *Server) shutdown() {
	for _, c := range s.conns {
		if err := c.Disconnect(); err != nil {
			s.logger.Debug("disconnect during shutdown", logger.Uint32("conn_id", c.ID()), logger.Err(err))
		}
	}
}

func (s *Server) handleConnected(id uint32, addr string) {
	c := connection.New(id, s.transport, connection.Options{
		Batching: s.config.Batching,
		Address:  addr,
		Logger:   s.logger,
		Metrics:  s.metrics,
		Clock:    s.clock,
	})

	c.OnClosed(func(c *connection.Connection) {
		delete(s.conns, c.ID())
		s.tombstones.SetDefault(tombstoneKey(c.ID()), struct{}{})
		s.handler.OnDisconnect(c)
	})

	s.conns[id] = c
	s.logger.Info("connection accepted", logger.Uint32("conn_id", id), logger.String("addr", addr))
	s.handler.OnConnect(c)
}

func (s *Server) handleData(id uint32, data []byte, channel transport.Channel) {
	c, ok := s.conns[id]
	if !ok {
		if _, closed := s.tombstones.Get(tombstoneKey(id)); closed {
			s.metrics.LateFrame()
			s.logger.Debug("dropping frame for closed connection", logger.Uint32("conn_id", id))
			return
		}

		s.logger.Warn("dropping frame for unknown connection", logger.Uint32("conn_id", id))
		return
	}

	err := c.HandleData(data, channel, func(msg connection.Message) {
		s.handler.OnMessage(c, msg)
	})
	if err != nil && !errors.Is(err, batching.ErrTruncatedBatch) && !errors.Is(err, connection.ErrConnectionClosed) {
		s.logger.Warn("handle data failed", logger.Uint32("conn_id", id), logger.Err(err))
	}
}

func (s *Server) handleDisconnected(id uint32) {
	if c, ok := s.conns[id]; ok {
		c.HandleTransportDisconnect()
	}
}

func tombstoneKey(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}

// transportEvents forwards transport callbacks onto the loop goroutine.
type transportEvents struct {
	s *Server
}

func (e transportEvents) OnConnected(connID uint32, addr string) {
	e.s.Do(func() { e.s.handleConnected(connID, addr) })
}

func (e transportEvents) OnData(connID uint32, data []byte, channel transport.Channel) {
	data = bytes.Clone(data)
	e.s.Do(func() { e.s.handleData(connID, data, channel) })
}

func (e transportEvents) OnDisconnected(connID uint32) {
	e.s.Do(func() { e.s.handleDisconnected(connID) })
}

func (e transportEvents) OnError(connID uint32, err error) {
	e.s.logger.Warn("transport error", logger.Uint32("conn_id", connID), logger.Err(err))
}

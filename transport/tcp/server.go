package tcp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/netbatch/idgenerator"
	"github.com/cyberinferno/netbatch/logger"
	"github.com/cyberinferno/netbatch/safemap"
	"github.com/cyberinferno/netbatch/transport"
)

// Server is a TCP server transport. It accepts connections, assigns each an
// id, and reports connects, frames and disconnects to its EventHandler. It
// implements transport.Transport and transport.BatchThresholder and is safe
// for concurrent use.
type Server struct {
	logger   logger.Logger
	config   ServerConfig
	handler  transport.EventHandler
	listener net.Listener
	sessions *safemap.SafeMap[uint32, *session]
	ids      *idgenerator.Generator
	running  atomic.Bool
	wg       sync.WaitGroup
}

var (
	_ transport.Transport        = (*Server)(nil)
	_ transport.BatchThresholder = (*Server)(nil)
)

// NewServer creates a server transport that reports to handler. Call Start
// to begin accepting connections.
//
// Parameters:
//   - cfg: Listen address, limits and timeouts
//   - handler: Receives connection events from the server's goroutines
//   - log: Logger for server events; logger.Nop() when nil
//
// Returns:
//   - A stopped Server
func NewServer(cfg ServerConfig, handler transport.EventHandler, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}

	if cfg.Name == "" {
		cfg.Name = "tcp"
	}

	return &Server{
		logger:   log.With(logger.String("transport", cfg.Name)),
		config:   cfg,
		handler:  handler,
		sessions: safemap.New[uint32, *session](),
		ids:      idgenerator.New(0),
	}
}

// Start binds to the configured address and begins the accept loop in a
// goroutine.
//
// Returns:
//   - An error if the server is already running or if listening fails
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("server %s already running", s.config.Name)
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.logger.Error("server failed to start", logger.Err(err))
		return fmt.Errorf("server %s failed to start: %w", s.config.Name, err)
	}

	s.listener = ln
	s.running.Store(true)

	s.logger.Info(fmt.Sprintf("%s server started", s.config.Name), logger.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and every session, then waits for all session
// goroutines to finish. Each open session reports OnDisconnected. Safe to
// call when the server is not running.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	_ = s.listener.Close()

	for _, sess := range s.sessions.All() {
		_ = sess.close()
	}

	s.wg.Wait()
	s.logger.Info(fmt.Sprintf("%s server stopped", s.config.Name))
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	return s.sessions.Len()
}

// Send implements transport.Transport.
func (s *Server) Send(connID uint32, frame []byte, channel transport.Channel) error {
	sess, ok := s.sessions.Load(connID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownConnection, connID)
	}

	return sess.send(frame, channel)
}

// GetMaxPacketSize implements transport.Transport.
func (s *Server) GetMaxPacketSize(channel transport.Channel) int {
	return s.config.Limits.MaxPacketSize(channel)
}

// GetBatchThreshold implements transport.BatchThresholder.
func (s *Server) GetBatchThreshold(channel transport.Channel) int {
	return s.config.Limits.BatchThreshold(channel)
}

// Disconnect implements transport.Transport. The session's read loop ends
// and OnDisconnected is reported from its goroutine.
func (s *Server) Disconnect(connID uint32) error {
	sess, ok := s.sessions.Load(connID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownConnection, connID)
	}

	return sess.close()
}

// acceptLoop accepts connections until the listener is closed. Each
// connection gets the next id and a session goroutine.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			s.logger.Error(fmt.Sprintf("%s server accept error", s.config.Name), logger.Err(err))
			continue
		}

		sess := newSession(s.ids.Next(), conn, s)
		s.sessions.Store(sess.id, sess)

		s.wg.Add(1)
		go sess.handle()

		// Stop may have ranged over sessions before this one was stored.
		if !s.running.Load() {
			_ = sess.close()
		}
	}
}

package tcp

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/netbatch/logger"
	"github.com/cyberinferno/netbatch/transport"
)

// session is one accepted connection. Writes are serialized by writeMu; the
// read loop runs in handle.
type session struct {
	id        uint32
	conn      net.Conn
	server    *Server
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newSession(id uint32, conn net.Conn, server *Server) *session {
	return &session{
		id:     id,
		conn:   conn,
		server: server,
	}
}

// handle reports the connection, reads frames until the connection ends and
// then reports the disconnect exactly once.
func (s *session) handle() {
	srv := s.server
	log := srv.logger.With(logger.Uint32("conn_id", s.id))

	defer srv.wg.Done()
	defer func() {
		_ = s.close()
		srv.sessions.Delete(s.id)
		srv.handler.OnDisconnected(s.id)
	}()

	srv.handler.OnConnected(s.id, s.conn.RemoteAddr().String())

	limit := maxFrameSize(srv.config.MaxFrameSize)
	var buf []byte
	for {
		if srv.config.ReadTimeout > 0 {
			if err := s.conn.SetReadDeadline(time.Now().Add(srv.config.ReadTimeout)); err != nil {
				srv.handler.OnError(s.id, err)
				return
			}
		}

		channel, payload, next, err := readFrame(s.conn, buf, limit)
		buf = next
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("session read ended", logger.Err(err))
				srv.handler.OnError(s.id, err)
			}

			return
		}

		srv.handler.OnData(s.id, payload, channel)
	}
}

// send writes one frame, bounded by the configured write timeout.
func (s *session) send(frame []byte, channel transport.Channel) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if timeout := s.server.config.WriteTimeout; timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}

		defer func() {
			_ = s.conn.SetWriteDeadline(time.Time{})
		}()
	}

	return writeFrame(s.conn, channel, frame)
}

// close closes the connection. Safe to call multiple times.
func (s *session) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})

	return s.closeErr
}

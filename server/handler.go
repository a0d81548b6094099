package server

import (
	"github.com/cyberinferno/netbatch/connection"
	"github.com/cyberinferno/netbatch/logger"
)

// Handler receives connection events from the server loop. All methods run
// on the loop goroutine, so they may use the connection directly but must
// not block.
type Handler interface {
	OnConnect(c *connection.Connection)
	OnMessage(c *connection.Connection, msg connection.Message)
	OnDisconnect(c *connection.Connection)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Connect    func(c *connection.Connection)
	Message    func(c *connection.Connection, msg connection.Message)
	Disconnect func(c *connection.Connection)
}

func (h HandlerFuncs) OnConnect(c *connection.Connection) {
	if h.Connect != nil {
		h.Connect(c)
	}
}

func (h HandlerFuncs) OnMessage(c *connection.Connection, msg connection.Message) {
	if h.Message != nil {
		h.Message(c, msg)
	}
}

func (h HandlerFuncs) OnDisconnect(c *connection.Connection) {
	if h.Disconnect != nil {
		h.Disconnect(c)
	}
}

// Echo returns a Handler that marks every connection ready and sends each
// received message back on the channel it arrived on. A reply that cannot
// be sent is logged and dropped.
func Echo() Handler {
	return HandlerFuncs{
		Connect: func(c *connection.Connection) { c.SetReady(true) },
		Message: func(c *connection.Connection, msg connection.Message) {
			if err := c.Send(msg.Data, msg.Channel); err != nil {
				c.Logger().Warn("echo dropped",
					logger.String("channel", msg.Channel.String()),
					logger.Int("size", len(msg.Data)),
					logger.Err(err),
				)
			}
		},
	}
}

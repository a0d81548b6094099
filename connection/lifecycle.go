package connection

import (
	"fmt"

	"github.com/cyberinferno/netbatch/logger"
)

// Disconnect marks the connection not ready, asks the transport to tear it
// down and closes it. Queued messages are discarded, not flushed. Calling
// Disconnect on a closed connection does nothing.
//
// Returns:
//   - An error wrapping ErrTransportFailure if the transport refused; the
//     connection is closed regardless
func (c *Connection) Disconnect() error {
	if c.state == Closed {
		return nil
	}

	c.SetReady(false)

	var err error
	if terr := c.transport.Disconnect(c.id); terr != nil {
		c.metrics.TransportFailed("disconnect")
		err = fmt.Errorf("%w: disconnect: %w", ErrTransportFailure, terr)
	}

	c.transition(eventClosed)
	return err
}

// HandleTransportDisconnect closes the connection after the transport
// reported the peer gone. It ends in the same state as Disconnect.
func (c *Connection) HandleTransportDisconnect() {
	c.transition(eventClosed)
}

// transition is the single place connection state changes on lifecycle
// events. Both disconnect paths go through it.
func (c *Connection) transition(ev event) {
	switch ev {
	case eventClosed:
		if c.state == Closed {
			return
		}

		c.state = Closed

		dropped := 0
		for _, channel := range c.channels {
			dropped += c.batchers[channel].Len()
			c.batchers[channel].Clear()
		}

		c.unbatch.Clear()
		c.metrics.ConnectionClosed()
		c.logger.Info("connection closed", logger.Int("dropped_messages", dropped))

		hooks := c.onClosed
		c.onClosed = nil
		for _, fn := range hooks {
			fn(c)
		}
	}
}

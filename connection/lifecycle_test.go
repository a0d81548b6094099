package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/netbatch/transport"
	"github.com/cyberinferno/netbatch/transport/transporttest"
)

// snapshot captures the observable state of a connection.
type snapshot struct {
	State    State
	Ready    bool
	Pending  int
	Inbound  int
	Channels []transport.Channel
}

func snap(c *Connection) snapshot {
	return snapshot{
		State:    c.State(),
		Ready:    c.IsReady(),
		Pending:  c.PendingMessages(),
		Inbound:  c.unbatch.Pending(),
		Channels: append([]transport.Channel(nil), c.channels...),
	}
}

// busyConnection returns a ready batched connection with queued outbound
// messages and an unread inbound batch.
func busyConnection(t *testing.T, rec *transporttest.Recorder) *Connection {
	t.Helper()

	c := newBatched(rec)
	c.SetReady(true)
	require.NoError(t, c.Send([]byte("a"), transport.Reliable))
	require.NoError(t, c.Send([]byte("b"), transport.Unreliable))
	require.NoError(t, c.unbatch.AddBatch(make([]byte, 12)))

	return c
}

func TestConnection_SetReady(t *testing.T) {
	c := New(7, transporttest.NewRecorder(64), Options{})

	c.SetReady(true)
	assert.True(t, c.IsReady())
	assert.Equal(t, Ready, c.State())

	c.SetReady(false)
	assert.False(t, c.IsReady())
	assert.Equal(t, Connected, c.State())
}

func TestConnection_Disconnect(t *testing.T) {
	rec := transporttest.NewRecorder(64)
	c := busyConnection(t, rec)

	closed := 0
	c.OnClosed(func(*Connection) { closed++ })

	require.NoError(t, c.Disconnect())
	assert.Equal(t, []uint32{7}, rec.Disconnects())
	assert.Equal(t, Closed, c.State())
	assert.False(t, c.IsReady())
	assert.Equal(t, 1, closed)

	t.Run("pending backlog is discarded, not flushed", func(t *testing.T) {
		assert.Zero(t, c.PendingMessages())
		require.NoError(t, c.Flush())
		assert.Empty(t, rec.Sent())
	})

	t.Run("second disconnect is a no-op", func(t *testing.T) {
		require.NoError(t, c.Disconnect())
		assert.Len(t, rec.Disconnects(), 1)
		assert.Equal(t, 1, closed)
	})

	t.Run("closed connection rejects use", func(t *testing.T) {
		assert.ErrorIs(t, c.Send([]byte("x"), transport.Reliable), ErrConnectionClosed)
		assert.ErrorIs(t, c.HandleData(make([]byte, 8), transport.Reliable, func(Message) {}), ErrConnectionClosed)

		c.SetReady(true)
		assert.Equal(t, Closed, c.State())
	})
}

func TestConnection_Disconnect_TransportFailure(t *testing.T) {
	rec := transporttest.NewRecorder(64)
	rec.DisconnectErr = assert.AnError
	c := busyConnection(t, rec)

	err := c.Disconnect()
	assert.ErrorIs(t, err, ErrTransportFailure)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, Closed, c.State(), "cleanup runs even when the transport fails")
}

func TestConnection_HandleTransportDisconnect(t *testing.T) {
	rec := transporttest.NewRecorder(64)
	c := busyConnection(t, rec)

	closed := 0
	c.OnClosed(func(*Connection) { closed++ })

	c.HandleTransportDisconnect()
	c.HandleTransportDisconnect()

	assert.Equal(t, Closed, c.State())
	assert.Equal(t, 1, closed)
	assert.Empty(t, rec.Disconnects(), "the transport already knows the peer is gone")
}

func TestConnection_DisconnectPathsConverge(t *testing.T) {
	local := busyConnection(t, transporttest.NewRecorder(64))
	remote := busyConnection(t, transporttest.NewRecorder(64))

	require.NoError(t, local.Disconnect())
	remote.HandleTransportDisconnect()

	assert.Equal(t, snap(local), snap(remote))

	t.Run("remote event after local disconnect changes nothing", func(t *testing.T) {
		before := snap(local)
		local.HandleTransportDisconnect()
		assert.Equal(t, before, snap(local))
	})
}

func TestConnection_DisconnectFromDeliver(t *testing.T) {
	rec := transporttest.NewRecorder(64)
	c := newBatched(rec)

	sender := newBatched(transporttest.NewRecorder(64))
	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, sender.Send([]byte(m), transport.Reliable))
	}
	frames := sender.transport.(*transporttest.Recorder)
	require.NoError(t, sender.Flush())

	var got []string
	err := c.HandleData(frames.SentOn(transport.Reliable)[0], transport.Reliable, func(m Message) {
		got = append(got, string(m.Data))
		require.NoError(t, c.Disconnect())
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, Closed, c.State())
}

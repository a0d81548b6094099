package batching

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock returns a Clock that advances by one second per call.
func stepClock() Clock {
	now := 0.0
	return func() float64 {
		now++
		return now
	}
}

func message(size int, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, size)
}

// drain unbatches one serialized batch and returns its messages.
func drain(t *testing.T, batch []byte) [][]byte {
	t.Helper()

	u := NewUnbatcher()
	require.NoError(t, u.AddBatch(batch))

	var msgs [][]byte
	for msg := range u.Messages() {
		msgs = append(msgs, bytes.Clone(msg))
	}

	assert.Zero(t, u.Truncations())
	return msgs
}

func TestNewBatcher(t *testing.T) {
	b := NewBatcher(64, nil)
	require.NotNil(t, b)
	assert.Equal(t, 64, b.Threshold())
	assert.Zero(t, b.Len())
	assert.NotNil(t, b.clock)
}

func TestBatcher_AddMessage(t *testing.T) {
	t.Run("copies the message", func(t *testing.T) {
		b := NewBatcher(64, stepClock())
		msg := []byte("hello")
		b.AddMessage(msg)
		copy(msg, "XXXXX")

		w := NewWriter()
		require.True(t, b.MakeNextBatch(w))
		assert.Equal(t, [][]byte{[]byte("hello")}, drain(t, w.Bytes()))
	})

	t.Run("accepts messages over the threshold", func(t *testing.T) {
		b := NewBatcher(64, stepClock())
		b.AddMessage(message(500, 'x'))
		assert.Equal(t, 1, b.Len())
		assert.Equal(t, 500, b.PendingBytes())
	})
}

func TestBatcher_MakeNextBatch_Scenario(t *testing.T) {
	b := NewBatcher(64, stepClock())
	b.AddMessage(message(10, 'a'))
	b.AddMessage(message(10, 'b'))
	b.AddMessage(message(50, 'c'))

	w := NewWriter()

	t.Run("first batch holds the two small messages", func(t *testing.T) {
		require.True(t, b.MakeNextBatch(w))
		assert.Equal(t, 2, w.Count())
		assert.Equal(t, BatchSize(10, 10), w.Len())
		assert.LessOrEqual(t, w.Len(), 64)
		assert.Equal(t, [][]byte{message(10, 'a'), message(10, 'b')}, drain(t, w.Bytes()))
	})

	t.Run("second batch holds the large message", func(t *testing.T) {
		require.True(t, b.MakeNextBatch(w))
		assert.Equal(t, 1, w.Count())
		assert.LessOrEqual(t, w.Len(), 64)
		assert.Equal(t, [][]byte{message(50, 'c')}, drain(t, w.Bytes()))
	})

	t.Run("third call reports nothing left", func(t *testing.T) {
		assert.False(t, b.MakeNextBatch(w))
		assert.Zero(t, b.Len())
	})
}

func TestBatcher_MakeNextBatch_OversizeSingleton(t *testing.T) {
	b := NewBatcher(64, stepClock())
	b.AddMessage(message(200, 'z'))
	b.AddMessage(message(5, 'y'))

	w := NewWriter()
	require.True(t, b.MakeNextBatch(w))
	assert.Equal(t, 1, w.Count())
	assert.Equal(t, BatchSize(200), w.Len())
	assert.Equal(t, [][]byte{message(200, 'z')}, drain(t, w.Bytes()))

	require.True(t, b.MakeNextBatch(w))
	assert.Equal(t, [][]byte{message(5, 'y')}, drain(t, w.Bytes()))
	assert.False(t, b.MakeNextBatch(w))
}

func TestBatcher_MakeNextBatch_Empty(t *testing.T) {
	b := NewBatcher(64, stepClock())
	w := NewWriter()

	assert.False(t, b.MakeNextBatch(w))
	assert.Zero(t, w.Len(), "no empty batch is ever written")
}

func TestBatcher_MakeNextBatch_ResetsWriter(t *testing.T) {
	b := NewBatcher(64, stepClock())
	b.AddMessage([]byte("one"))

	w := NewWriter()
	w.writeHeader(99)
	w.writeMessage([]byte("stale"), 0)

	require.True(t, b.MakeNextBatch(w))
	assert.Equal(t, [][]byte{[]byte("one")}, drain(t, w.Bytes()))
}

func TestBatcher_MakeNextBatch_Timestamps(t *testing.T) {
	b := NewBatcher(1024, stepClock())
	b.AddMessage([]byte("a")) // enqueued at 1
	b.AddMessage([]byte("b")) // enqueued at 2

	w := NewWriter()
	require.True(t, b.MakeNextBatch(w))
	assert.Equal(t, 3.0, w.Timestamp(), "stamped once at construction")
	assert.Equal(t, 1.0, w.OldestEnqueue())

	u := NewUnbatcher()
	require.NoError(t, u.AddBatch(w.Bytes()))
	for _, want := range []string{"a", "b"} {
		msg, ts, ok := u.GetNextMessage()
		require.True(t, ok)
		assert.Equal(t, want, string(msg))
		assert.Equal(t, 3.0, ts)
	}
}

func TestBatcher_Clear(t *testing.T) {
	b := NewBatcher(64, stepClock())
	b.AddMessage([]byte("a"))
	b.AddMessage([]byte("b"))
	b.Clear()

	assert.Zero(t, b.Len())
	assert.Zero(t, b.PendingBytes())
	assert.False(t, b.MakeNextBatch(NewWriter()))
}

func TestBatcher_Laws(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for round := 0; round < 50; round++ {
		threshold := HeaderSize + 1 + rng.IntN(300)
		b := NewBatcher(threshold, stepClock())

		var sent [][]byte
		count := rng.IntN(200)
		for i := 0; i < count; i++ {
			msg := message(rng.IntN(400), byte(i))
			sent = append(sent, msg)
			b.AddMessage(msg)
		}

		w := AcquireWriter()
		var received [][]byte
		calls := 0
		for b.MakeNextBatch(w) {
			calls++
			require.LessOrEqual(t, calls, len(sent), "draining must terminate")
			require.Positive(t, w.Count(), "empty batches are never produced")

			if w.Len() > threshold {
				assert.Equal(t, 1, w.Count(), "only a single oversize message may exceed the threshold")
			}

			received = append(received, drain(t, w.Bytes())...)
		}
		ReleaseWriter(w)

		assert.Zero(t, b.Len())
		if len(sent) == 0 {
			assert.Empty(t, received)
			continue
		}

		assert.Equal(t, sent, received, "order must be preserved (round %d)", round)
	}
}

func TestMessageSize(t *testing.T) {
	assert.Equal(t, 1, MessageSize(0))
	assert.Equal(t, 128, MessageSize(127))
	assert.Equal(t, 130, MessageSize(128))
	assert.Equal(t, HeaderSize+11+11, BatchSize(10, 10))
}

func TestWriter_Pool(t *testing.T) {
	w := AcquireWriter()
	require.NotNil(t, w)
	assert.Zero(t, w.Len())

	w.writeHeader(1)
	ReleaseWriter(w)
	assert.NotPanics(t, func() { ReleaseWriter(w) })
	assert.NotPanics(t, func() { ReleaseWriter(nil) })
}

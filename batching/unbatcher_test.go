package batching

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawBatch serializes a batch the way MakeNextBatch does.
func rawBatch(ts float64, msgs ...string) []byte {
	b := appendHeader(nil, ts)
	for _, m := range msgs {
		b = appendMessage(b, []byte(m))
	}

	return b
}

func collect(u *Unbatcher) ([]string, []float64) {
	var msgs []string
	var stamps []float64
	for msg, ts := range u.Messages() {
		msgs = append(msgs, string(msg))
		stamps = append(stamps, ts)
	}

	return msgs, stamps
}

func TestUnbatcher_AddBatch(t *testing.T) {
	t.Run("rejects data shorter than the header", func(t *testing.T) {
		u := NewUnbatcher()
		err := u.AddBatch([]byte{1, 2, 3})
		assert.ErrorIs(t, err, ErrTruncatedBatch)
		assert.Zero(t, u.Pending())
		assert.Equal(t, 1, u.Truncations())
	})

	t.Run("copies the input", func(t *testing.T) {
		u := NewUnbatcher()
		raw := rawBatch(1, "abc")
		require.NoError(t, u.AddBatch(raw))
		raw[len(raw)-1] = 'X'

		msg, _, ok := u.GetNextMessage()
		require.True(t, ok)
		assert.Equal(t, "abc", string(msg))
	})

	t.Run("header only batch yields nothing", func(t *testing.T) {
		u := NewUnbatcher()
		require.NoError(t, u.AddBatch(rawBatch(1)))

		_, _, ok := u.GetNextMessage()
		assert.False(t, ok)
		assert.Zero(t, u.Truncations())
		assert.Zero(t, u.Pending())
	})
}

func TestUnbatcher_GetNextMessage(t *testing.T) {
	t.Run("batches are consumed in arrival order", func(t *testing.T) {
		u := NewUnbatcher()
		require.NoError(t, u.AddBatch(rawBatch(1.5, "a", "b")))
		require.NoError(t, u.AddBatch(rawBatch(2.5, "c")))
		assert.Equal(t, 2, u.Pending())

		msgs, stamps := collect(u)
		assert.Equal(t, []string{"a", "b", "c"}, msgs)
		assert.Equal(t, []float64{1.5, 1.5, 2.5}, stamps)
		assert.Zero(t, u.Pending())
	})

	t.Run("empty messages survive the round trip", func(t *testing.T) {
		u := NewUnbatcher()
		require.NoError(t, u.AddBatch(rawBatch(1, "", "x", "")))

		msgs, _ := collect(u)
		assert.Equal(t, []string{"", "x", ""}, msgs)
	})

	t.Run("batches added mid extraction are picked up", func(t *testing.T) {
		u := NewUnbatcher()
		require.NoError(t, u.AddBatch(rawBatch(1, "a", "b")))

		msg, _, ok := u.GetNextMessage()
		require.True(t, ok)
		assert.Equal(t, "a", string(msg))

		require.NoError(t, u.AddBatch(rawBatch(2, "c")))
		msgs, _ := collect(u)
		assert.Equal(t, []string{"b", "c"}, msgs)
	})

	t.Run("nothing stored", func(t *testing.T) {
		msg, ts, ok := NewUnbatcher().GetNextMessage()
		assert.False(t, ok)
		assert.Nil(t, msg)
		assert.Zero(t, ts)
	})
}

func TestUnbatcher_Truncation(t *testing.T) {
	t.Run("short body discards the rest of its batch only", func(t *testing.T) {
		bad := rawBatch(1, "ok")
		bad = binary.AppendUvarint(bad, 10)
		bad = append(bad, "12345"...)

		u := NewUnbatcher()
		require.NoError(t, u.AddBatch(bad))
		require.NoError(t, u.AddBatch(rawBatch(2, "next")))

		msgs, stamps := collect(u)
		assert.Equal(t, []string{"ok", "next"}, msgs)
		assert.Equal(t, []float64{1, 2}, stamps)
		assert.Equal(t, 1, u.Truncations())
	})

	t.Run("unterminated length prefix", func(t *testing.T) {
		bad := append(rawBatch(1), 0x80, 0x80)

		u := NewUnbatcher()
		require.NoError(t, u.AddBatch(bad))
		require.NoError(t, u.AddBatch(rawBatch(2, "next")))

		msgs, _ := collect(u)
		assert.Equal(t, []string{"next"}, msgs)
		assert.Equal(t, 1, u.Truncations())
	})

	t.Run("huge length prefix never reads into the next batch", func(t *testing.T) {
		bad := binary.AppendUvarint(rawBatch(1), 1<<62)

		u := NewUnbatcher()
		require.NoError(t, u.AddBatch(bad))
		require.NoError(t, u.AddBatch(rawBatch(2, "a", "b")))

		msgs, _ := collect(u)
		assert.Equal(t, []string{"a", "b"}, msgs)
		assert.Equal(t, 1, u.Truncations())
	})

	t.Run("returned messages are bounded by their batch", func(t *testing.T) {
		u := NewUnbatcher()
		require.NoError(t, u.AddBatch(rawBatch(1, "abc")))

		msg, _, ok := u.GetNextMessage()
		require.True(t, ok)
		assert.Equal(t, 3, cap(msg))
	})
}

func TestUnbatcher_Messages_StopEarly(t *testing.T) {
	u := NewUnbatcher()
	require.NoError(t, u.AddBatch(rawBatch(1, "a", "b", "c")))

	for msg := range u.Messages() {
		assert.Equal(t, "a", string(msg))
		break
	}

	msgs, _ := collect(u)
	assert.Equal(t, []string{"b", "c"}, msgs)
}

func TestUnbatcher_Clear(t *testing.T) {
	u := NewUnbatcher()
	require.NoError(t, u.AddBatch(rawBatch(1, "a", "b")))
	require.NoError(t, u.AddBatch(rawBatch(2, "c")))

	_, _, ok := u.GetNextMessage()
	require.True(t, ok)

	u.Clear()
	assert.Zero(t, u.Pending())

	_, _, ok = u.GetNextMessage()
	assert.False(t, ok)
}

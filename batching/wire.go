// Package batching coalesces the messages of one (connection, channel) pair
// into size-bounded batches and turns received batches back into the original
// messages.
//
// A batch on the wire is an 8-byte little-endian float64 timestamp followed
// by (uvarint length, message bytes) pairs and nothing else:
//
//	+-----------+---------+-----------+---------+-----------+-----
//	| timestamp | len(m1) |    m1     | len(m2) |    m2     | ...
//	|  8 bytes  | uvarint | len bytes | uvarint | len bytes |
//	+-----------+---------+-----------+---------+-----------+-----
//
// Batcher and Unbatcher are not safe for concurrent use; each instance
// belongs to one connection's tick goroutine.
package batching

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
)

// HeaderSize is the size of the batch timestamp header in bytes.
const HeaderSize = 8

// ErrTruncatedBatch is reported when received batch data ends before the
// header or a message it announces.
var ErrTruncatedBatch = errors.New("batching: truncated batch")

// Clock returns the current time in seconds. Successive calls must never go
// backwards.
type Clock func() float64

// MonotonicClock returns a Clock counting seconds since the call, read from
// the monotonic clock.
func MonotonicClock() Clock {
	start := time.Now()
	return func() float64 {
		return time.Since(start).Seconds()
	}
}

// MessageSize returns how many bytes a message of n bytes occupies inside a
// batch, length prefix included.
//
// Parameters:
//   - n: The message length
//
// Returns:
//   - The framed size in bytes
func MessageSize(n int) int {
	return uvarintLen(uint64(n)) + n
}

// BatchSize returns the serialized size of a batch holding messages of the
// given lengths.
func BatchSize(lengths ...int) int {
	size := HeaderSize
	for _, n := range lengths {
		size += MessageSize(n)
	}

	return size
}

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}

	return n
}

func appendHeader(dst []byte, timestamp float64) []byte {
	return binary.LittleEndian.AppendUint64(dst, math.Float64bits(timestamp))
}

func readHeader(src []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(src[:HeaderSize]))
}

func appendMessage(dst []byte, msg []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(msg)))
	return append(dst, msg...)
}

package batching

import (
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/valyala/bytebufferpool"
)

// Unbatcher turns received batches back into the messages they carry.
// Batches are consumed strictly in the order they were added.
type Unbatcher struct {
	batches     []*bytebufferpool.ByteBuffer
	current     *bytebufferpool.ByteBuffer
	pos         int
	timestamp   float64
	truncations int
}

// NewUnbatcher returns an empty Unbatcher.
func NewUnbatcher() *Unbatcher {
	return &Unbatcher{}
}

// AddBatch stores a copy of a received batch for extraction after every
// batch added before it. Data shorter than the batch header is rejected
// and not stored.
//
// Parameters:
//   - raw: The received batch; the caller may reuse the slice afterwards
//
// Returns:
//   - An error wrapping ErrTruncatedBatch if raw cannot hold a header
func (u *Unbatcher) AddBatch(raw []byte) error {
	if len(raw) < HeaderSize {
		u.truncations++
		return fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncatedBatch, len(raw), HeaderSize)
	}

	buf := bytebufferpool.Get()
	buf.B = append(buf.B[:0], raw...)
	u.batches = append(u.batches, buf)

	return nil
}

// GetNextMessage returns the next message of the current batch, moving on
// to the next stored batch when the current one is exhausted. Every message
// of a batch reports that batch's timestamp.
//
// If a length prefix is malformed or announces more bytes than the batch
// holds, the rest of that batch is discarded, Truncations is incremented and
// extraction continues with the next batch.
//
// The returned slice is only valid until the next call to GetNextMessage or
// Clear; copy it to keep it.
//
// Returns:
//   - The message bytes
//   - The remote timestamp of the batch the message came in
//   - false when no stored batch has messages left
func (u *Unbatcher) GetNextMessage() ([]byte, float64, bool) {
	for {
		if u.current == nil && !u.advance() {
			return nil, 0, false
		}

		data := u.current.B
		if u.pos >= len(data) {
			u.releaseCurrent()
			continue
		}

		n, k := binary.Uvarint(data[u.pos:])
		if k <= 0 || n > uint64(len(data)-u.pos-k) {
			u.truncations++
			u.releaseCurrent()
			continue
		}

		start := u.pos + k
		end := start + int(n)
		u.pos = end

		return data[start:end:end], u.timestamp, true
	}
}

// Messages returns an iterator over every message currently stored, with
// the timestamp of the batch each came in. It consumes messages exactly like
// repeated GetNextMessage calls; the yielded slice is only valid during the
// loop iteration that receives it.
func (u *Unbatcher) Messages() iter.Seq2[[]byte, float64] {
	return func(yield func([]byte, float64) bool) {
		for {
			msg, ts, ok := u.GetNextMessage()
			if !ok || !yield(msg, ts) {
				return
			}
		}
	}
}

// advance makes the oldest stored batch current.
func (u *Unbatcher) advance() bool {
	if len(u.batches) == 0 {
		return false
	}

	u.current = u.batches[0]
	u.batches[0] = nil
	u.batches = u.batches[1:]
	if len(u.batches) == 0 {
		u.batches = nil
	}

	u.timestamp = readHeader(u.current.B)
	u.pos = HeaderSize

	return true
}

func (u *Unbatcher) releaseCurrent() {
	if u.current == nil {
		return
	}

	bytebufferpool.Put(u.current)
	u.current = nil
	u.pos = 0
	u.timestamp = 0
}

// Pending returns the number of batches not yet fully extracted.
func (u *Unbatcher) Pending() int {
	n := len(u.batches)
	if u.current != nil {
		n++
	}

	return n
}

// Truncations returns how many batches were cut short or rejected because
// of malformed or missing data.
func (u *Unbatcher) Truncations() int {
	return u.truncations
}

// Clear discards every stored batch and returns their buffers to the pool.
func (u *Unbatcher) Clear() {
	u.releaseCurrent()
	for i, buf := range u.batches {
		bytebufferpool.Put(buf)
		u.batches[i] = nil
	}

	u.batches = nil
}

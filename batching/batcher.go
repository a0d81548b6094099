package batching

type pendingMessage struct {
	data       []byte
	enqueuedAt float64
}

// Batcher accumulates the pending messages of one (connection, channel) pair
// and cuts them into batches that stay within a size threshold.
type Batcher struct {
	threshold int
	clock     Clock
	queue     []pendingMessage
	bytes     int
}

// NewBatcher creates a Batcher whose batches stay within threshold bytes,
// except for a single message that alone exceeds it.
//
// Parameters:
//   - threshold: Maximum serialized batch size in bytes
//   - clock: Time source for enqueue and batch timestamps; MonotonicClock when nil
//
// Returns:
//   - An empty Batcher
func NewBatcher(threshold int, clock Clock) *Batcher {
	if clock == nil {
		clock = MonotonicClock()
	}

	return &Batcher{
		threshold: threshold,
		clock:     clock,
	}
}

// AddMessage appends a copy of msg to the pending queue. It never fails and
// accepts messages larger than the threshold; size is enforced when batches
// are made.
//
// Parameters:
//   - msg: The message bytes; the caller may reuse the slice afterwards
func (b *Batcher) AddMessage(msg []byte) {
	b.queue = append(b.queue, pendingMessage{
		data:       append(make([]byte, 0, len(msg)), msg...),
		enqueuedAt: b.clock(),
	})
	b.bytes += len(msg)
}

// MakeNextBatch writes the next batch into w: the header stamped with the
// current time, then messages from the front of the queue until the queue is
// empty or the next message would push the batch past the threshold. A first
// message that alone exceeds the threshold becomes a batch of its own.
//
// w is reset before writing. Call MakeNextBatch in a loop until it returns
// false to drain the queue.
//
// Parameters:
//   - w: The Writer to serialize the batch into
//
// Returns:
//   - true if a batch was written, false if the queue was empty
func (b *Batcher) MakeNextBatch(w *Writer) bool {
	if len(b.queue) == 0 {
		return false
	}

	w.Reset()
	w.writeHeader(b.clock())

	for len(b.queue) > 0 {
		next := b.queue[0]
		if w.Count() > 0 && w.Len()+MessageSize(len(next.data)) > b.threshold {
			break
		}

		w.writeMessage(next.data, next.enqueuedAt)
		b.pop()
	}

	return true
}

// pop drops the front of the queue.
func (b *Batcher) pop() {
	b.bytes -= len(b.queue[0].data)
	b.queue[0] = pendingMessage{}
	b.queue = b.queue[1:]

	if len(b.queue) == 0 {
		b.queue = nil
	}
}

// Len returns the number of pending messages.
func (b *Batcher) Len() int {
	return len(b.queue)
}

// PendingBytes returns the payload bytes waiting in the queue, framing excluded.
func (b *Batcher) PendingBytes() int {
	return b.bytes
}

// Threshold returns the batch size threshold in bytes.
func (b *Batcher) Threshold() int {
	return b.threshold
}

// Clear discards every pending message.
func (b *Batcher) Clear() {
	b.queue = nil
	b.bytes = 0
}

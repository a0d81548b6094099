package batching

import "github.com/valyala/bytebufferpool"

// Writer is the serialization buffer a Batcher writes one batch into. Writers
// are checked out of a shared pool with AcquireWriter and must be returned
// with ReleaseWriter; between batches they are reset, not reallocated.
type Writer struct {
	buf       *bytebufferpool.ByteBuffer
	count     int
	timestamp float64
	oldest    float64
}

// NewWriter returns a Writer backed by its own buffer, outside the pool.
func NewWriter() *Writer {
	return &Writer{buf: &bytebufferpool.ByteBuffer{}}
}

// AcquireWriter checks a Writer out of the shared buffer pool. The caller
// must call ReleaseWriter on every exit path, typically with defer.
//
// Returns:
//   - An empty Writer
func AcquireWriter() *Writer {
	return &Writer{buf: bytebufferpool.Get()}
}

// ReleaseWriter resets w and returns its buffer to the pool. w must not be
// used afterwards. Releasing nil or an already released Writer is a no-op.
//
// Parameters:
//   - w: The Writer to release
func ReleaseWriter(w *Writer) {
	if w == nil || w.buf == nil {
		return
	}

	w.Reset()
	bytebufferpool.Put(w.buf)
	w.buf = nil
}

// Reset empties the Writer while keeping its buffer.
func (w *Writer) Reset() {
	w.buf.Reset()
	w.count = 0
	w.timestamp = 0
	w.oldest = 0
}

// Bytes returns the serialized batch. The slice is only valid until the
// next Reset or ReleaseWriter.
func (w *Writer) Bytes() []byte {
	return w.buf.B
}

// Len returns the serialized size of the batch in bytes.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Count returns the number of messages written into the batch.
func (w *Writer) Count() int {
	return w.count
}

// Timestamp returns the timestamp stamped on the batch.
func (w *Writer) Timestamp() float64 {
	return w.timestamp
}

// OldestEnqueue returns the enqueue timestamp of the first message in the
// batch. Timestamp minus OldestEnqueue is the longest time a message of this
// batch waited in the queue.
func (w *Writer) OldestEnqueue() float64 {
	return w.oldest
}

func (w *Writer) writeHeader(timestamp float64) {
	w.buf.B = appendHeader(w.buf.B, timestamp)
	w.timestamp = timestamp
}

func (w *Writer) writeMessage(msg []byte, enqueuedAt float64) {
	if w.count == 0 {
		w.oldest = enqueuedAt
	}

	w.buf.B = appendMessage(w.buf.B, msg)
	w.count++
}

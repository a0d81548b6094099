// Package transporttest provides an in-memory Transport that records every
// call, for tests of code built on top of the transport contract.
package transporttest

import (
	"sync"

	"github.com/cyberinferno/netbatch/transport"
)

// SentFrame is one recorded Send call. Frame is a copy of the bytes passed in.
type SentFrame struct {
	ConnID  uint32
	Frame   []byte
	Channel transport.Channel
}

// Recorder is a transport.Transport that records sends and disconnects
// instead of touching the network. It is safe for concurrent use.
type Recorder struct {
	// MaxPacketSize is the limit reported for channels missing from
	// MaxPacketSizes.
	MaxPacketSize int
	// MaxPacketSizes overrides MaxPacketSize per channel.
	MaxPacketSizes map[transport.Channel]int
	// Thresholds, when non-nil, makes the Recorder report batch thresholds
	// separately from packet sizes.
	Thresholds map[transport.Channel]int
	// SendErr is returned from every Send when set; the frame is still recorded.
	SendErr error
	// DisconnectErr is returned from every Disconnect when set.
	DisconnectErr error

	mu          sync.Mutex
	sent        []SentFrame
	disconnects []uint32
}

// NewRecorder returns a Recorder reporting maxPacketSize on every channel.
func NewRecorder(maxPacketSize int) *Recorder {
	return &Recorder{MaxPacketSize: maxPacketSize}
}

// Send implements transport.Transport.
func (r *Recorder) Send(connID uint32, frame []byte, channel transport.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = append(r.sent, SentFrame{
		ConnID:  connID,
		Frame:   append([]byte(nil), frame...),
		Channel: channel,
	})

	return r.SendErr
}

// GetMaxPacketSize implements transport.Transport.
func (r *Recorder) GetMaxPacketSize(channel transport.Channel) int {
	if size, ok := r.MaxPacketSizes[channel]; ok {
		return size
	}

	return r.MaxPacketSize
}

// GetBatchThreshold implements transport.BatchThresholder.
func (r *Recorder) GetBatchThreshold(channel transport.Channel) int {
	if size, ok := r.Thresholds[channel]; ok {
		return size
	}

	return r.GetMaxPacketSize(channel)
}

// Disconnect implements transport.Transport.
func (r *Recorder) Disconnect(connID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.disconnects = append(r.disconnects, connID)
	return r.DisconnectErr
}

// Sent returns a copy of every recorded Send call in call order.
func (r *Recorder) Sent() []SentFrame {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]SentFrame(nil), r.sent...)
}

// SentOn returns the recorded frames for one channel in call order.
func (r *Recorder) SentOn(channel transport.Channel) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	var frames [][]byte
	for _, s := range r.sent {
		if s.Channel == channel {
			frames = append(frames, s.Frame)
		}
	}

	return frames
}

// Disconnects returns the connection ids passed to Disconnect.
func (r *Recorder) Disconnects() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]uint32(nil), r.disconnects...)
}

// Reset forgets every recorded call.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = nil
	r.disconnects = nil
}

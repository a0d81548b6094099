package tcp

import (
	"time"

	"github.com/cyberinferno/netbatch/transport"
)

// DefaultMaxPacketSize is the packet size reported for channels without an
// explicit limit.
const DefaultMaxPacketSize = 64 * 1024

// Limits holds the per-channel sizes a transport reports to the engine.
type Limits struct {
	// MaxPacketSizes is the largest frame accepted per channel.
	MaxPacketSizes map[transport.Channel]int
	// BatchThresholds is the preferred batch size per channel; channels
	// missing here batch up to their packet size.
	BatchThresholds map[transport.Channel]int
}

// MaxPacketSize returns the packet size limit for channel.
func (l Limits) MaxPacketSize(channel transport.Channel) int {
	if size, ok := l.MaxPacketSizes[channel]; ok && size > 0 {
		return size
	}

	return DefaultMaxPacketSize
}

// BatchThreshold returns the batch threshold for channel, capped at the
// channel's packet size.
func (l Limits) BatchThreshold(channel transport.Channel) int {
	if size, ok := l.BatchThresholds[channel]; ok && size > 0 {
		return min(size, l.MaxPacketSize(channel))
	}

	return l.MaxPacketSize(channel)
}

// ServerConfig holds configuration for the server transport.
type ServerConfig struct {
	// Name is used in log messages.
	Name string
	// Addr is the "host:port" to listen on; port 0 picks a free port.
	Addr string
	// Limits are the per-channel packet sizes and batch thresholds.
	Limits Limits
	// MaxFrameSize caps received frames; DefaultMaxFrameSize when zero.
	MaxFrameSize int
	// WriteTimeout is the max duration for a single write; 0 means no timeout.
	WriteTimeout time.Duration
	// ReadTimeout closes connections idle for longer; 0 means no timeout.
	ReadTimeout time.Duration
}

// ClientConfig holds configuration for the client transport.
type ClientConfig struct {
	// Address is the "host:port" to connect to.
	Address string
	// Limits are the per-channel packet sizes and batch thresholds.
	Limits Limits
	// MaxFrameSize caps received frames; DefaultMaxFrameSize when zero.
	MaxFrameSize int
	// ConnectionTimeout is the max duration for establishing the connection.
	ConnectionTimeout time.Duration
	// WriteTimeout is the max duration for a single write; 0 means no timeout.
	WriteTimeout time.Duration
}

// DefaultClientConfig returns a ClientConfig for address with a 10s connect
// and write timeout.
func DefaultClientConfig(address string) ClientConfig {
	return ClientConfig{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

func maxFrameSize(configured int) int {
	if configured > 0 {
		return configured
	}

	return DefaultMaxFrameSize
}

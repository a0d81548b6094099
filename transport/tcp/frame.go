// Package tcp is a stream transport for the batching engine. Every frame on
// the wire is a 4-byte little-endian length, one channel byte and the
// payload; the length counts the channel byte and the payload.
package tcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/cyberinferno/netbatch/transport"
)

const frameHeaderSize = 5

// DefaultMaxFrameSize caps a single received frame.
const DefaultMaxFrameSize = 16 * 1024 * 1024

var (
	// ErrFrameTooLarge is returned when a peer announces a frame above the
	// configured maximum.
	ErrFrameTooLarge = errors.New("tcp: frame too large")

	// ErrEmptyFrame is returned when a peer announces a frame without a
	// channel byte.
	ErrEmptyFrame = errors.New("tcp: empty frame")

	// ErrUnknownConnection is returned for operations on a connection id the
	// server does not know.
	ErrUnknownConnection = errors.New("tcp: unknown connection")

	// ErrNotConnected is returned by Client.Send before Connect succeeds.
	ErrNotConnected = errors.New("tcp: not connected")
)

// writeFrame writes one frame to w without copying payload.
func writeFrame(w io.Writer, channel transport.Channel, payload []byte) error {
	var header [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:4], uint32(len(payload)+1))
	header[4] = byte(channel)

	bufs := net.Buffers{header[:], payload}
	_, err := bufs.WriteTo(w)
	return err
}

// readFrame reads one frame from r into buf, growing it when needed. The
// returned payload aliases the returned buffer.
func readFrame(r io.Reader, buf []byte, maxFrameSize int) (transport.Channel, []byte, []byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:4]); err != nil {
		return 0, nil, buf, err
	}

	length := binary.LittleEndian.Uint32(header[:4])
	if length == 0 {
		return 0, nil, buf, ErrEmptyFrame
	}

	if uint64(length) > uint64(maxFrameSize)+1 {
		return 0, nil, buf, fmt.Errorf("%w: %d bytes, max %d", ErrFrameTooLarge, length-1, maxFrameSize)
	}

	if cap(buf) < int(length) {
		buf = make([]byte, length)
	}

	buf = buf[:length]
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, buf, err
	}

	return transport.Channel(buf[0]), buf[1:], buf, nil
}

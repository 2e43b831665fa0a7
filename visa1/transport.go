package visa1

import "time"

// Transport is the duplex byte line a Link drives.
//
// Implementations wrap the physical port or modem and own its connection
// state; the link only reads that state and never closes the line.
// Only the link's dispatch worker (or a caller of the exported handshake
// methods) issues I/O, so implementations need not be goroutine-safe for
// reads and writes, but IsConnected may be called from any goroutine.
type Transport interface {
	// Send writes data to the line.
	Send(data []byte) error
	// SendByte writes a single control character.
	SendByte(b byte) error
	// ReadUntil reads until one of terminators is read or timeout elapses.
	// It returns the bytes consumed, including the terminator when one
	// matched. A timeout is not an error: the partial bytes are returned
	// with a nil error. Only line faults are reported as errors.
	ReadUntil(terminators []byte, timeout time.Duration) ([]byte, error)
	// Read reads up to len(buf) bytes, waiting at most timeout.
	// It returns 0 and a nil error on timeout.
	Read(buf []byte, timeout time.Duration) (int, error)
	// FlushReceiver discards any unread input.
	FlushReceiver() error
	// FlushTransmitter blocks until written data has left the line buffer.
	FlushTransmitter() error
	// IsConnected reports whether the line (carrier) is up.
	IsConnected() bool
	// HangUp drops the line.
	HangUp() error
}

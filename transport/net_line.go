package transport

import (
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-visa1/logger"
)

// Default NetLine settings.
const (
	DefaultWriteTimeout = 10 * time.Second
	// drainTimeout is the quiet period FlushReceiver waits for.
	drainTimeout = 5 * time.Millisecond
)

// NetLine is a line over a net.Conn.
//
// Only one goroutine may read or write at a time; IsConnected and HangUp
// may be called from any goroutine.
type NetLine struct {
	conn         net.Conn
	reader       lineReader
	writeTimeout time.Duration
	logger       logger.Logger

	connected atomic.Bool
	closeOnce sync.Once
}

// NewNetLine wraps conn. A writeTimeout <= 0 selects DefaultWriteTimeout.
func NewNetLine(conn net.Conn, writeTimeout time.Duration, l logger.Logger) *NetLine {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	if l == nil {
		l = logger.GetLogger()
	}

	nl := &NetLine{
		conn:         conn,
		writeTimeout: writeTimeout,
		logger:       l.With("remote", conn.RemoteAddr().String()),
	}
	nl.reader.read = nl.readTimeout
	nl.connected.Store(true)

	return nl
}

// DialNetLine connects to address over TCP.
func DialNetLine(address string, dialTimeout time.Duration, l logger.Logger) (*NetLine, error) {
	conn, err := net.DialTimeout("tcp", address, dialTimeout)
	if err != nil {
		return nil, err
	}

	return NewNetLine(conn, 0, l), nil
}

func (nl *NetLine) Send(data []byte) error {
	if err := nl.conn.SetWriteDeadline(time.Now().Add(nl.writeTimeout)); err != nil {
		return nl.fault(err)
	}

	for written := 0; written < len(data); {
		n, err := nl.conn.Write(data[written:])
		written += n
		if err != nil {
			return nl.fault(err)
		}
	}

	return nil
}

func (nl *NetLine) SendByte(b byte) error {
	return nl.Send([]byte{b})
}

func (nl *NetLine) ReadUntil(terminators []byte, timeout time.Duration) ([]byte, error) {
	return nl.reader.readUntil(terminators, timeout)
}

func (nl *NetLine) Read(buf []byte, timeout time.Duration) (int, error) {
	return nl.reader.readBuffered(buf, timeout)
}

// FlushReceiver drops buffered input and discards whatever the peer sent
// until the line is quiet.
func (nl *NetLine) FlushReceiver() error {
	nl.reader.reset()

	var scratch [readChunkSize]byte
	for {
		n, err := nl.readTimeout(scratch[:], drainTimeout)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// FlushTransmitter is a no-op; Send returns once the kernel took the data.
func (nl *NetLine) FlushTransmitter() error {
	return nil
}

func (nl *NetLine) IsConnected() bool {
	return nl.connected.Load()
}

// HangUp closes the connection.
func (nl *NetLine) HangUp() error {
	var err error
	nl.closeOnce.Do(func() {
		nl.connected.Store(false)
		err = nl.conn.Close()
		nl.logger.Info("transport: line hung up")
	})

	return err
}

// Close is an alias of HangUp.
func (nl *NetLine) Close() error {
	return nl.HangUp()
}

func (nl *NetLine) readTimeout(p []byte, timeout time.Duration) (int, error) {
	if err := nl.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, nl.fault(err)
	}

	n, err := nl.conn.Read(p)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n, nil
		}

		return n, nl.fault(err)
	}

	return n, nil
}

// fault marks the line down unless err is only a timeout.
func (nl *NetLine) fault(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return err
	}

	if nl.connected.CompareAndSwap(true, false) {
		nl.logger.Warn("transport: line down", "error", err)
	}

	return err
}

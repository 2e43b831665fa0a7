package transport

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/arloliu/go-visa1/logger"
)

// Default serial settings: the usual 1200 baud 7E1 of dial-up POS lines.
const (
	DefaultBaudRate    = 1200
	DefaultDataBits    = 7
	DefaultParity      = "even"
	DefaultStopBits    = "1"
	DefaultHangUpDelay = time.Second
)

// ErrPortClosed is returned by operations on a closed SerialLine.
var ErrPortClosed = errors.New("transport: serial port closed")

// SerialPort is the part of serial.Port used by SerialLine.
type SerialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Drain() error
	SetDTR(dtr bool) error
	GetModemStatusBits() (*serial.ModemStatusBits, error)
}

var _ SerialPort = serial.Port(nil)

// SerialConfig describes a serial line.
type SerialConfig struct {
	// Device is the OS device path, e.g. "/dev/ttyS0" or "COM3".
	Device   string
	BaudRate int
	DataBits int
	// Parity is one of "none", "odd", "even", "mark" or "space".
	Parity string
	// StopBits is one of "1", "1.5" or "2".
	StopBits string
	// CarrierDetect reports the line as connected only while DCD is raised.
	// Leave it off for direct cables without modem control lines.
	CarrierDetect bool
	// HangUpDelay is how long DTR is dropped to hang up.
	HangUpDelay time.Duration
}

// Mode converts cfg to a serial.Mode, applying defaults to zero fields.
func (cfg SerialConfig) Mode() (*serial.Mode, error) {
	mode := &serial.Mode{BaudRate: cfg.BaudRate, DataBits: cfg.DataBits}
	if mode.BaudRate == 0 {
		mode.BaudRate = DefaultBaudRate
	}
	if mode.DataBits == 0 {
		mode.DataBits = DefaultDataBits
	}
	if mode.DataBits < 5 || mode.DataBits > 8 {
		return nil, fmt.Errorf("transport: invalid data bits %d", mode.DataBits)
	}

	parity, err := ParseParity(cfg.Parity)
	if err != nil {
		return nil, err
	}
	mode.Parity = parity

	stopBits, err := ParseStopBits(cfg.StopBits)
	if err != nil {
		return nil, err
	}
	mode.StopBits = stopBits

	return mode, nil
}

// ParseParity converts a parity name to serial.Parity. An empty name
// selects DefaultParity.
func ParseParity(s string) (serial.Parity, error) {
	if s == "" {
		s = DefaultParity
	}

	switch strings.ToLower(s) {
	case "none", "n":
		return serial.NoParity, nil
	case "odd", "o":
		return serial.OddParity, nil
	case "even", "e":
		return serial.EvenParity, nil
	case "mark", "m":
		return serial.MarkParity, nil
	case "space", "s":
		return serial.SpaceParity, nil
	default:
		return serial.NoParity, fmt.Errorf("transport: invalid parity %q", s)
	}
}

// ParseStopBits converts "1", "1.5" or "2" to serial.StopBits. An empty
// value selects DefaultStopBits.
func ParseStopBits(s string) (serial.StopBits, error) {
	if s == "" {
		s = DefaultStopBits
	}

	switch s {
	case "1":
		return serial.OneStopBit, nil
	case "1.5":
		return serial.OnePointFiveStopBits, nil
	case "2":
		return serial.TwoStopBits, nil
	default:
		return serial.OneStopBit, fmt.Errorf("transport: invalid stop bits %q", s)
	}
}

// SerialLine is a line over a serial port or modem.
//
// Only one goroutine may read or write at a time; IsConnected and HangUp
// may be called from any goroutine.
type SerialLine struct {
	port          SerialPort
	reader        lineReader
	carrierDetect bool
	hangUpDelay   time.Duration
	logger        logger.Logger

	mu     sync.Mutex // serializes modem control against Close
	closed atomic.Bool
}

// OpenSerialLine opens cfg.Device and raises DTR.
func OpenSerialLine(cfg SerialConfig, l logger.Logger) (*SerialLine, error) {
	if cfg.Device == "" {
		return nil, errors.New("transport: serial device is required")
	}

	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open serial port %q: %w", cfg.Device, err)
	}

	sl := NewSerialLine(port, cfg, l)
	if err := port.SetDTR(true); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("transport: raise DTR on %q: %w", cfg.Device, err)
	}

	return sl, nil
}

// NewSerialLine wraps an opened port. Only the CarrierDetect and
// HangUpDelay fields of cfg are used.
func NewSerialLine(port SerialPort, cfg SerialConfig, l logger.Logger) *SerialLine {
	if l == nil {
		l = logger.GetLogger()
	}
	if cfg.HangUpDelay <= 0 {
		cfg.HangUpDelay = DefaultHangUpDelay
	}

	sl := &SerialLine{
		port:          port,
		carrierDetect: cfg.CarrierDetect,
		hangUpDelay:   cfg.HangUpDelay,
		logger:        l.With("device", cfg.Device),
	}
	sl.reader.read = sl.readTimeout

	return sl
}

func (sl *SerialLine) Send(data []byte) error {
	if sl.closed.Load() {
		return ErrPortClosed
	}

	for written := 0; written < len(data); {
		n, err := sl.port.Write(data[written:])
		written += n
		if err != nil {
			return err
		}
	}

	return nil
}

func (sl *SerialLine) SendByte(b byte) error {
	return sl.Send([]byte{b})
}

func (sl *SerialLine) ReadUntil(terminators []byte, timeout time.Duration) ([]byte, error) {
	return sl.reader.readUntil(terminators, timeout)
}

func (sl *SerialLine) Read(buf []byte, timeout time.Duration) (int, error) {
	return sl.reader.readBuffered(buf, timeout)
}

func (sl *SerialLine) FlushReceiver() error {
	if sl.closed.Load() {
		return ErrPortClosed
	}
	sl.reader.reset()

	return sl.port.ResetInputBuffer()
}

func (sl *SerialLine) FlushTransmitter() error {
	if sl.closed.Load() {
		return ErrPortClosed
	}

	return sl.port.Drain()
}

// IsConnected reports whether the port is open and, with carrier detect,
// whether DCD is raised.
func (sl *SerialLine) IsConnected() bool {
	if sl.closed.Load() {
		return false
	}
	if !sl.carrierDetect {
		return true
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	bits, err := sl.port.GetModemStatusBits()
	if err != nil {
		sl.logger.Warn("transport: cannot read modem status", "error", err)
		return false
	}

	return bits.DCD
}

// HangUp drops DTR for the hang-up delay, making the modem release the call,
// then raises it again so the modem can answer the next one.
func (sl *SerialLine) HangUp() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.closed.Load() {
		return ErrPortClosed
	}

	if err := sl.port.SetDTR(false); err != nil {
		return fmt.Errorf("transport: drop DTR: %w", err)
	}
	time.Sleep(sl.hangUpDelay)
	if err := sl.port.SetDTR(true); err != nil {
		return fmt.Errorf("transport: raise DTR: %w", err)
	}
	sl.logger.Info("transport: line hung up")

	return nil
}

// Close closes the port.
func (sl *SerialLine) Close() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if !sl.closed.CompareAndSwap(false, true) {
		return nil
	}

	return sl.port.Close()
}

func (sl *SerialLine) readTimeout(p []byte, timeout time.Duration) (int, error) {
	if sl.closed.Load() {
		return 0, ErrPortClosed
	}

	if err := sl.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}

	return sl.port.Read(p)
}

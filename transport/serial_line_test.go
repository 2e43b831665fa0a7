package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

type mockPort struct {
	mock.Mock
}

var _ SerialPort = (*mockPort)(nil)

func (m *mockPort) Read(p []byte) (int, error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *mockPort) Write(p []byte) (int, error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *mockPort) Close() error {
	return m.Called().Error(0)
}

func (m *mockPort) SetReadTimeout(t time.Duration) error {
	return m.Called(t).Error(0)
}

func (m *mockPort) ResetInputBuffer() error {
	return m.Called().Error(0)
}

func (m *mockPort) Drain() error {
	return m.Called().Error(0)
}

func (m *mockPort) SetDTR(dtr bool) error {
	return m.Called(dtr).Error(0)
}

func (m *mockPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	args := m.Called()
	bits, _ := args.Get(0).(*serial.ModemStatusBits)

	return bits, args.Error(1)
}

// onRead makes the next Read deliver data.
func (m *mockPort) onRead(data []byte) {
	m.On("Read", mock.Anything).Run(func(args mock.Arguments) {
		copy(args.Get(0).([]byte), data)
	}).Return(len(data), nil).Once()
}

func newMockSerialLine(t *testing.T, cfg SerialConfig) (*SerialLine, *mockPort) {
	t.Helper()

	port := &mockPort{}
	t.Cleanup(func() { port.AssertExpectations(t) })

	return NewSerialLine(port, cfg, newTestLogger()), port
}

func TestSerialConfig_Mode(t *testing.T) {
	mode, err := SerialConfig{}.Mode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{
		BaudRate: 1200,
		DataBits: 7,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}, mode)

	mode, err = SerialConfig{BaudRate: 9600, DataBits: 8, Parity: "none", StopBits: "2"}.Mode()
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)

	_, err = SerialConfig{DataBits: 9}.Mode()
	require.Error(t, err)
	_, err = SerialConfig{Parity: "bogus"}.Mode()
	require.Error(t, err)
	_, err = SerialConfig{StopBits: "3"}.Mode()
	require.Error(t, err)
}

func TestParseParity(t *testing.T) {
	tests := map[string]serial.Parity{
		"":      serial.EvenParity,
		"none":  serial.NoParity,
		"O":     serial.OddParity,
		"even":  serial.EvenParity,
		"mark":  serial.MarkParity,
		"space": serial.SpaceParity,
	}
	for in, want := range tests {
		got, err := ParseParity(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseStopBits(t *testing.T) {
	got, err := ParseStopBits("1.5")
	require.NoError(t, err)
	assert.Equal(t, serial.OnePointFiveStopBits, got)

	got, err = ParseStopBits("")
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, got)
}

func TestOpenSerialLine_RequiresDevice(t *testing.T) {
	_, err := OpenSerialLine(SerialConfig{}, newTestLogger())
	require.Error(t, err)
}

func TestSerialLine_ReadUntil(t *testing.T) {
	line, port := newMockSerialLine(t, SerialConfig{})

	port.On("SetReadTimeout", mock.Anything).Return(nil)
	port.onRead([]byte("01"))
	port.onRead([]byte("10\x03\x02"))

	got, err := line.ReadUntil([]byte{0x03}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("0110\x03"), got)

	var lrc [1]byte
	n, err := line.Read(lrc[:], time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, byte(0x02), lrc[0])
}

func TestSerialLine_ReadTimeout(t *testing.T) {
	line, port := newMockSerialLine(t, SerialConfig{})

	port.On("SetReadTimeout", mock.Anything).Return(nil)
	port.On("Read", mock.Anything).Return(0, nil).Run(func(mock.Arguments) {
		time.Sleep(5 * time.Millisecond)
	})

	got, err := line.ReadUntil([]byte{0x05}, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSerialLine_SendAndFlush(t *testing.T) {
	line, port := newMockSerialLine(t, SerialConfig{})

	port.On("Write", []byte("\x02AB")).Return(2, nil).Once()
	port.On("Write", []byte("B")).Return(1, nil).Once()
	port.On("Write", []byte{0x06}).Return(1, nil).Once()
	port.On("Drain").Return(nil).Once()
	port.On("ResetInputBuffer").Return(nil).Once()

	require.NoError(t, line.Send([]byte("\x02AB")))
	require.NoError(t, line.SendByte(0x06))
	require.NoError(t, line.FlushTransmitter())
	require.NoError(t, line.FlushReceiver())
}

func TestSerialLine_SendError(t *testing.T) {
	line, port := newMockSerialLine(t, SerialConfig{})

	boom := errors.New("boom")
	port.On("Write", mock.Anything).Return(0, boom).Once()

	require.ErrorIs(t, line.Send([]byte{0x05}), boom)
}

func TestSerialLine_CarrierDetect(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		line, _ := newMockSerialLine(t, SerialConfig{})
		assert.True(t, line.IsConnected())
	})

	t.Run("DCD", func(t *testing.T) {
		line, port := newMockSerialLine(t, SerialConfig{CarrierDetect: true})

		port.On("GetModemStatusBits").Return(&serial.ModemStatusBits{DCD: true}, nil).Once()
		port.On("GetModemStatusBits").Return(&serial.ModemStatusBits{DCD: false}, nil).Once()
		port.On("GetModemStatusBits").Return(nil, errors.New("ioctl")).Once()

		assert.True(t, line.IsConnected())
		assert.False(t, line.IsConnected())
		assert.False(t, line.IsConnected())
	})
}

func TestSerialLine_HangUp(t *testing.T) {
	line, port := newMockSerialLine(t, SerialConfig{HangUpDelay: 10 * time.Millisecond})

	port.On("SetDTR", false).Return(nil).Once()
	port.On("SetDTR", true).Return(nil).Once()

	start := time.Now()
	require.NoError(t, line.HangUp())
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestSerialLine_Close(t *testing.T) {
	line, port := newMockSerialLine(t, SerialConfig{})

	port.On("Close").Return(nil).Once()

	require.NoError(t, line.Close())
	require.NoError(t, line.Close())
	assert.False(t, line.IsConnected())

	require.ErrorIs(t, line.Send([]byte{0x05}), ErrPortClosed)
	require.ErrorIs(t, line.FlushReceiver(), ErrPortClosed)
	require.ErrorIs(t, line.FlushTransmitter(), ErrPortClosed)
	require.ErrorIs(t, line.HangUp(), ErrPortClosed)

	_, err := line.ReadUntil([]byte{0x05}, time.Second)
	require.ErrorIs(t, err, ErrPortClosed)
}

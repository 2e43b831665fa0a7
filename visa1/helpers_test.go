package visa1

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-visa1/iso8583"
	"github.com/arloliu/go-visa1/logger"
)

var errLineDown = errors.New("line down")

// fakeLine is a scripted Transport. Bytes queued with push are returned by
// reads; respond is called with every write and its result is pushed back,
// which lets a test play the remote station.
type fakeLine struct {
	mu      sync.Mutex
	inbound []byte
	sent    [][]byte
	notify  chan struct{}

	respond   func(sent []byte) []byte
	onFlushRx func() []byte

	connected atomic.Bool
	ioCount   atomic.Int64
	hangups   atomic.Int32
	failFlush atomic.Int32 // fail this many FlushReceiver calls
	failSend  atomic.Bool
}

var _ Transport = (*fakeLine)(nil)

func newFakeLine() *fakeLine {
	f := &fakeLine{notify: make(chan struct{}, 1)}
	f.connected.Store(true)

	return f
}

func (f *fakeLine) push(data ...byte) {
	if len(data) == 0 {
		return
	}

	f.mu.Lock()
	f.inbound = append(f.inbound, data...)
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *fakeLine) Send(data []byte) error {
	f.ioCount.Add(1)
	if f.failSend.Load() {
		return errLineDown
	}

	out := bytes.Clone(data)
	f.mu.Lock()
	f.sent = append(f.sent, out)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		f.push(respond(out)...)
	}

	return nil
}

func (f *fakeLine) SendByte(b byte) error {
	return f.Send([]byte{b})
}

func (f *fakeLine) ReadUntil(terminators []byte, timeout time.Duration) ([]byte, error) {
	f.ioCount.Add(1)
	deadline := time.Now().Add(timeout)

	for {
		f.mu.Lock()
		if i := bytes.IndexAny(f.inbound, string(terminators)); i >= 0 {
			out := bytes.Clone(f.inbound[:i+1])
			f.inbound = f.inbound[i+1:]
			f.mu.Unlock()

			return out, nil
		}
		f.mu.Unlock()

		if !f.wait(deadline) {
			f.mu.Lock()
			out := f.inbound
			f.inbound = nil
			f.mu.Unlock()

			return out, nil
		}
	}
}

func (f *fakeLine) Read(buf []byte, timeout time.Duration) (int, error) {
	f.ioCount.Add(1)
	deadline := time.Now().Add(timeout)

	for {
		f.mu.Lock()
		if len(f.inbound) > 0 {
			n := copy(buf, f.inbound)
			f.inbound = f.inbound[n:]
			f.mu.Unlock()

			return n, nil
		}
		f.mu.Unlock()

		if !f.wait(deadline) {
			return 0, nil
		}
	}
}

// wait blocks until new input is pushed or deadline passes.
func (f *fakeLine) wait(deadline time.Time) bool {
	d := time.Until(deadline)
	if d <= 0 {
		return false
	}

	select {
	case <-f.notify:
		return true
	case <-time.After(d):
		return false
	}
}

func (f *fakeLine) FlushReceiver() error {
	f.ioCount.Add(1)
	if f.failFlush.Load() > 0 {
		f.failFlush.Add(-1)
		return errLineDown
	}

	f.mu.Lock()
	f.inbound = nil
	f.mu.Unlock()

	if f.onFlushRx != nil {
		f.push(f.onFlushRx()...)
	}

	return nil
}

func (f *fakeLine) FlushTransmitter() error { return nil }

func (f *fakeLine) IsConnected() bool { return f.connected.Load() }

func (f *fakeLine) HangUp() error {
	f.hangups.Add(1)
	return nil
}

// sentBytes returns a copy of every write, in order.
func (f *fakeLine) sentBytes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([][]byte, len(f.sent))
	copy(out, f.sent)

	return out
}

// sentFrames returns the payloads of the frames written to the line.
func (f *fakeLine) sentFrames(t *testing.T) [][]byte {
	t.Helper()

	var frames [][]byte
	for _, data := range f.sentBytes() {
		if len(data) > 1 && data[0] == STX {
			payload, err := UnbuildFrame(data)
			require.NoError(t, err)
			frames = append(frames, payload)
		}
	}

	return frames
}

// hostPeer plays the host answering each request frame with the framed
// result of answer. A nil answer leaves the line silent.
func hostPeer(t *testing.T, codec iso8583.Codec, answer func(req *iso8583.Message) *iso8583.Message) func([]byte) []byte {
	return func(sent []byte) []byte {
		if len(sent) < 2 || sent[0] != STX {
			return nil
		}

		payload, err := UnbuildFrame(sent)
		if err != nil {
			t.Errorf("host got invalid frame %s: %v", DumpString(sent), err)
			return []byte{NAK}
		}

		req := &iso8583.Message{}
		if err := codec.Unpack(payload, req); err != nil {
			t.Errorf("host cannot unpack %q: %v", payload, err)
			return []byte{NAK}
		}

		resp := answer(req)
		if resp == nil {
			return nil
		}

		raw, err := codec.Pack(resp)
		if err != nil {
			t.Errorf("host cannot pack response: %v", err)
			return nil
		}

		return BuildFrame(raw)
	}
}

// approve answers with the response MTI, the request STAN and code 00.
func approve(req *iso8583.Message) *iso8583.Message {
	resp := iso8583.NewMessage(iso8583.ResponseMTI(req.MTI()))
	resp.MustSet(iso8583.FieldSTAN, req.GetString(iso8583.FieldSTAN))
	resp.MustSet(iso8583.FieldResponseCode, iso8583.ResponseApproved)
	resp.MustSet(38, "A1B2C3")

	return resp
}

func newTestLogger() logger.Logger {
	return logger.NewSlogWriter(io.Discard, logger.DebugLevel, false)
}

// newTestConfig creates a LinkConfig with short timeouts suitable for tests.
func newTestConfig(t *testing.T, opts ...LinkOption) *LinkConfig {
	t.Helper()

	defaults := []LinkOption{
		WithTimeout(500 * time.Millisecond),
		WithWaitENQ(false),
		WithPollInterval(10 * time.Millisecond),
		WithRetryBackoff(20 * time.Millisecond),
		WithChecksumTimeout(100 * time.Millisecond),
		WithEnqPollTimeout(50 * time.Millisecond),
		WithFrameTimeout(200 * time.Millisecond),
		WithLogger(newTestLogger()),
	}

	cfg, err := NewLinkConfig(append(defaults, opts...)...)
	require.NoError(t, err)

	return cfg
}

// newTestLink creates a Link over line that is closed when the test ends.
func newTestLink(t *testing.T, line Transport, opts ...LinkOption) *Link {
	t.Helper()

	l, err := NewLink(context.Background(), newTestConfig(t, opts...), line, iso8583.NewDefaultPackager())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	return l
}

func authRequest(stan string) *iso8583.Message {
	m := iso8583.NewMessage("0100")
	m.MustSet(3, "000000")
	m.MustSet(4, "000000001000")
	m.MustSet(iso8583.FieldSTAN, stan)
	m.MustSet(41, "TERM0001")

	return m
}

// recordingSink keeps every recorded event.
type recordingSink struct {
	mu     sync.Mutex
	events []*Event
}

func (s *recordingSink) Record(evt *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, evt)
}

func (s *recordingSink) all() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Event, len(s.events))
	copy(out, s.events)

	return out
}

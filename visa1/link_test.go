package visa1

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-visa1/iso8583"
)

func TestNewLink_Invalid(t *testing.T) {
	cfg := newTestConfig(t)

	_, err := NewLink(context.Background(), nil, newFakeLine(), nil)
	require.Error(t, err)

	_, err = NewLink(context.Background(), cfg, nil, nil)
	require.Error(t, err)

	l, err := NewLink(context.Background(), cfg, newFakeLine(), nil)
	require.NoError(t, err)
	assert.Same(t, cfg, l.Config())
}

func TestLink_OpenClose(t *testing.T) {
	l := newTestLink(t, newFakeLine())

	require.NoError(t, l.Open())
	require.ErrorIs(t, l.Open(), ErrAlreadyOpened)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	require.ErrorIs(t, l.Open(), ErrLinkClosed)
	require.ErrorIs(t, l.Send(authRequest("000001")), ErrLinkClosed)
}

func TestLink_RequestApproved(t *testing.T) {
	codec := iso8583.NewDefaultPackager()
	line := newFakeLine()
	line.respond = hostPeer(t, codec, approve)

	l := newTestLink(t, line)
	require.NoError(t, l.Open())

	req := authRequest("000123")
	resp, err := l.Request(context.Background(), req, 0)
	require.NoError(t, err)

	assert.Equal(t, "0110", resp.MTI())
	assert.Equal(t, iso8583.ResponseApproved, resp.GetString(iso8583.FieldResponseCode))
	assert.Equal(t, "A1B2C3", resp.GetString(38))
	assert.Equal(t, "000123", resp.GetString(iso8583.FieldSTAN))
	assert.True(t, resp.IsIncoming())

	m := l.GetMetrics()
	assert.Equal(t, uint64(1), m.RequestCount.Load())
	assert.Equal(t, uint64(1), m.ResponseCount.Load())
	assert.Equal(t, int64(1), m.MTICount("0110"))
	assert.Equal(t, map[string]int64{"0110": 1}, m.MTICounts())
	assert.Equal(t, 0, l.Pending())
}

func TestLink_NoAnswerDeclines(t *testing.T) {
	line := newFakeLine()
	l := newTestLink(t, line, WithTimeout(150*time.Millisecond))
	require.NoError(t, l.Open())

	req := NewRequest(authRequest("000123"), 5*time.Second)
	require.NoError(t, l.Queue(req))

	resp, err := req.Response(context.Background())
	require.NoError(t, err)
	assert.True(t, req.IsTransmitted())

	assert.Equal(t, "0110", resp.MTI())
	assert.Equal(t, iso8583.ResponseDeclined, resp.GetString(iso8583.FieldResponseCode))
	assert.ElementsMatch(t, append(req.Message().Fields(), iso8583.FieldResponseCode), resp.Fields())
	assert.False(t, resp.Has(38))

	assert.Equal(t, uint64(1), l.GetMetrics().TimeoutCount.Load())
	assert.Len(t, line.sentFrames(t), 1)
}

func TestLink_FIFO(t *testing.T) {
	codec := iso8583.NewDefaultPackager()
	line := newFakeLine()
	line.respond = hostPeer(t, codec, approve)

	l := newTestLink(t, line)

	// queued before the worker starts so the order is fixed
	reqs := make([]*Request, 0, 5)
	for i := 1; i <= 5; i++ {
		req := NewRequest(authRequest(fmt.Sprintf("%06d", i)), 0)
		require.NoError(t, l.Queue(req))
		reqs = append(reqs, req)
	}
	assert.Equal(t, 5, l.Pending())

	require.NoError(t, l.Open())

	for i, req := range reqs {
		resp, err := req.Response(context.Background())
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%06d", i+1), resp.GetString(iso8583.FieldSTAN))
	}

	frames := line.sentFrames(t)
	require.Len(t, frames, 5)
	for i, payload := range frames {
		msg := &iso8583.Message{}
		require.NoError(t, codec.Unpack(payload, msg))
		assert.Equal(t, fmt.Sprintf("%06d", i+1), msg.GetString(iso8583.FieldSTAN))
	}
}

func TestLink_ConcurrentProducers(t *testing.T) {
	codec := iso8583.NewDefaultPackager()
	line := newFakeLine()
	line.respond = hostPeer(t, codec, approve)

	l := newTestLink(t, line)
	require.NoError(t, l.Open())

	const producers = 8

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			stan := fmt.Sprintf("%06d", i+1)
			resp, err := l.Request(context.Background(), authRequest(stan), 5*time.Second)
			if assert.NoError(t, err) {
				assert.Equal(t, stan, resp.GetString(iso8583.FieldSTAN))
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, line.sentFrames(t), producers)
	assert.Equal(t, uint64(producers), l.GetMetrics().ResponseCount.Load())
}

func TestLink_ExpiredBeforeAttempt(t *testing.T) {
	line := newFakeLine()
	l := newTestLink(t, line)

	req := NewRequest(authRequest("000001"), time.Nanosecond)
	require.NoError(t, l.Queue(req))
	require.Eventually(t, req.IsExpired, time.Second, time.Millisecond)

	require.NoError(t, l.Open())

	resp, err := req.Response(context.Background())
	require.ErrorIs(t, err, ErrRequestExpired)
	assert.Nil(t, resp)
	assert.True(t, req.IsTransmitted())

	assert.Zero(t, line.ioCount.Load(), "no transport I/O for an expired request")
	assert.Equal(t, uint64(1), l.GetMetrics().ExpiredCount.Load())
	assert.Equal(t, 0, l.Pending())
}

func TestLink_DroppedRequest(t *testing.T) {
	line := newFakeLine()
	l := newTestLink(t, line)

	req := NewRequest(authRequest("000001"), 0)
	require.NoError(t, l.Queue(req))
	req.Drop()

	require.NoError(t, l.Open())

	_, err := req.Response(context.Background())
	require.ErrorIs(t, err, ErrRequestDropped)
	assert.Zero(t, line.ioCount.Load())
	assert.Equal(t, uint64(1), l.GetMetrics().DroppedCount.Load())
}

func TestLink_TransportFaultKeepsHead(t *testing.T) {
	codec := iso8583.NewDefaultPackager()
	line := newFakeLine()
	line.respond = hostPeer(t, codec, approve)
	line.failFlush.Store(2)

	l := newTestLink(t, line)

	first := NewRequest(authRequest("000001"), 0)
	second := NewRequest(authRequest("000002"), 0)
	require.NoError(t, l.Queue(first))
	require.NoError(t, l.Queue(second))

	require.NoError(t, l.Open())

	resp, err := first.Response(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "000001", resp.GetString(iso8583.FieldSTAN))

	resp, err = second.Response(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "000002", resp.GetString(iso8583.FieldSTAN))

	// the faulted request went out once, and before the next one
	frames := line.sentFrames(t)
	require.Len(t, frames, 2)
	msg := &iso8583.Message{}
	require.NoError(t, codec.Unpack(frames[0], msg))
	assert.Equal(t, "000001", msg.GetString(iso8583.FieldSTAN))

	assert.Equal(t, uint64(2), l.GetMetrics().TransportErrCount.Load())
	assert.Equal(t, uint64(4), l.GetMetrics().RequestCount.Load())
}

func TestLink_WaitsForConnection(t *testing.T) {
	codec := iso8583.NewDefaultPackager()
	line := newFakeLine()
	line.respond = hostPeer(t, codec, approve)
	line.connected.Store(false)

	l := newTestLink(t, line)
	require.NoError(t, l.Open())

	req := NewRequest(authRequest("000001"), 0)
	require.NoError(t, l.Queue(req))

	time.Sleep(50 * time.Millisecond)
	_, done := req.TryResponse()
	assert.False(t, done)
	assert.Zero(t, line.ioCount.Load())
	assert.Equal(t, 1, l.Pending())

	line.connected.Store(true)

	resp, err := req.Response(context.Background())
	require.NoError(t, err)
	assert.Equal(t, iso8583.ResponseApproved, resp.GetString(iso8583.FieldResponseCode))
}

func TestLink_SendFireAndForget(t *testing.T) {
	codec := iso8583.NewDefaultPackager()
	line := newFakeLine()
	line.respond = hostPeer(t, codec, approve)

	l := newTestLink(t, line)
	require.NoError(t, l.Open())

	require.NoError(t, l.Send(iso8583.NewMessage("0800").MustSet(70, "301")))
	require.ErrorIs(t, l.Send(nil), ErrNilMessage)
	require.ErrorIs(t, l.Queue(nil), ErrNilMessage)

	require.Eventually(t, func() bool {
		return l.GetMetrics().ResponseCount.Load() == 1 && l.Pending() == 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, l.GetMetrics().MTICounts(), "uncorrelated responses are discarded")
}

func TestLink_PackFailureIsTerminal(t *testing.T) {
	line := newFakeLine()
	l := newTestLink(t, line)

	bad := NewRequest(iso8583.NewMessage("01X0"), 0)
	good := NewRequest(authRequest("000002"), 0)
	require.NoError(t, l.Queue(bad))
	require.NoError(t, l.Queue(good))

	require.NoError(t, l.Open())

	_, err := bad.Response(context.Background())
	require.ErrorIs(t, err, ErrPack)
	require.ErrorIs(t, err, iso8583.ErrInvalidMTI)

	_, err = good.Response(context.Background())
	require.NoError(t, err)
	assert.Len(t, line.sentFrames(t), 1)
}

func TestLink_CloseFailsPending(t *testing.T) {
	line := newFakeLine()
	line.connected.Store(false)

	l := newTestLink(t, line)
	require.NoError(t, l.Open())

	req := NewRequest(authRequest("000001"), 0)
	require.NoError(t, l.Queue(req))

	require.NoError(t, l.Close())

	_, err := req.Response(context.Background())
	require.ErrorIs(t, err, ErrLinkClosed)
	assert.Equal(t, 0, l.Pending())
	require.ErrorIs(t, l.Queue(NewRequest(authRequest("000002"), 0)), ErrLinkClosed)
}

func TestLink_QueueRacingCloseNeverStrands(t *testing.T) {
	line := newFakeLine()
	line.connected.Store(false)

	l := newTestLink(t, line)
	require.NoError(t, l.Open())

	const producers = 32
	accepted := make(chan *Request, producers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start

			req := NewRequest(authRequest(fmt.Sprintf("%06d", i)), 0)
			if err := l.Queue(req); err != nil {
				assert.ErrorIs(t, err, ErrLinkClosed)
				return
			}
			accepted <- req
		}(i)
	}

	close(start)
	require.NoError(t, l.Close())
	wg.Wait()
	close(accepted)

	for req := range accepted {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := req.Response(ctx)
		cancel()
		require.ErrorIs(t, err, ErrLinkClosed)
	}
	assert.Zero(t, l.Pending())
}

func TestLink_RequestBeforeOpen(t *testing.T) {
	l := newTestLink(t, newFakeLine())

	_, err := l.Request(context.Background(), authRequest("000001"), 0)
	require.ErrorIs(t, err, ErrNotOpened)
	assert.Zero(t, l.Pending())

	_, err = l.Request(context.Background(), nil, 0)
	require.ErrorIs(t, err, ErrNilMessage)

	require.NoError(t, l.Close())
	_, err = l.Request(context.Background(), authRequest("000002"), 0)
	require.ErrorIs(t, err, ErrLinkClosed)
}

func TestLink_RequestContextDrops(t *testing.T) {
	line := newFakeLine()
	line.connected.Store(false)

	l := newTestLink(t, line)
	require.NoError(t, l.Open())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := l.Request(ctx, authRequest("000001"), time.Minute)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	line.connected.Store(true)
	require.Eventually(t, func() bool {
		return l.GetMetrics().DroppedCount.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, l.GetMetrics().RequestCount.Load())
}

func TestLink_RecordsTransceiveEvents(t *testing.T) {
	codec := iso8583.NewDefaultPackager()
	sink := &recordingSink{}
	line := newFakeLine()
	line.respond = hostPeer(t, codec, approve)

	l := newTestLink(t, line, WithEventSink(sink))
	require.NoError(t, l.Open())

	_, err := l.Request(context.Background(), authRequest("000001"), 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, time.Millisecond)
	evt := sink.all()[0]
	assert.Equal(t, "transceive", evt.Tag())
	assert.Equal(t, []string{"pack", "tx", "send", "rx", "recv", "done", "response"}, evt.Tags())
}

package visa1

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-visa1/internal/pool"
	"github.com/arloliu/go-visa1/internal/task"
	"github.com/arloliu/go-visa1/iso8583"
	"github.com/arloliu/go-visa1/logger"
)

// Link drives a VISA-1 line as tributary station.
//
// Any number of goroutines may queue messages and requests. A single
// dispatch worker, started by Open, takes them in FIFO order and runs one
// transceive at a time on the Transport.
type Link struct {
	pctx    context.Context
	cfg     *LinkConfig
	logger  logger.Logger
	line    Transport
	codec   iso8583.Codec
	taskMgr *task.Manager

	// lineMu serializes transceives and poll operations on the line.
	lineMu sync.Mutex

	pending *pendingQueue
	opened  atomic.Bool
	closed  atomic.Bool

	metrics *LinkMetrics
}

// NewLink creates a Link driving line with cfg. A nil codec selects
// iso8583.NewDefaultPackager.
//
// The link only queues requests until Open starts the dispatch worker.
func NewLink(ctx context.Context, cfg *LinkConfig, line Transport, codec iso8583.Codec) (*Link, error) {
	if cfg == nil {
		return nil, errors.New("visa1: link config is nil")
	}
	if line == nil {
		return nil, errors.New("visa1: transport is nil")
	}
	if codec == nil {
		codec = iso8583.NewDefaultPackager()
	}

	l := &Link{
		pctx:    ctx,
		cfg:     cfg,
		logger:  cfg.logger.With("realm", cfg.realm),
		line:    line,
		codec:   codec,
		pending: newPendingQueue(),
		metrics: newLinkMetrics(),
	}
	l.taskMgr = task.NewManager(ctx, l.logger)

	return l, nil
}

// Open starts the dispatch worker.
func (l *Link) Open() error {
	if l.closed.Load() {
		return ErrLinkClosed
	}
	if !l.opened.CompareAndSwap(false, true) {
		return ErrAlreadyOpened
	}

	if err := l.taskMgr.Start("dispatchWorker", l.dispatchTask); err != nil {
		l.opened.Store(false)
		return err
	}
	l.logger.Info("visa1: link opened", "waitENQ", l.cfg.waitENQ, "timeout", l.cfg.timeout.String())

	return nil
}

// Close stops the dispatch worker and fails every request still queued
// with ErrLinkClosed. A transceive in progress is allowed to finish first.
// The Transport is left open.
func (l *Link) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	l.taskMgr.Stop()
	l.pending.notify()
	l.taskMgr.Wait()

	items := l.pending.drain()
	for _, item := range items {
		if item.req != nil {
			item.req.complete(nil, ErrLinkClosed)
		}
	}
	l.logger.Info("visa1: link closed", "discarded", len(items))

	return nil
}

// Send queues msg without correlation; any response is logged and discarded.
func (l *Link) Send(msg *iso8583.Message) error {
	if msg == nil {
		return ErrNilMessage
	}

	return l.enqueue(&queueItem{msg: msg})
}

// Queue queues req. Its outcome is delivered through req.
func (l *Link) Queue(req *Request) error {
	if req == nil || req.Message() == nil {
		return ErrNilMessage
	}

	return l.enqueue(&queueItem{req: req})
}

// Request queues msg as a request expiring after timeout and waits for the
// response. A timeout <= 0 uses the link timeout.
//
// When ctx ends first the request is dropped and ctx.Err is returned; a
// transceive already in progress still completes on the line.
//
// Request returns ErrNotOpened before Open.
// Send and Queue accept items before Open.
func (l *Link) Request(ctx context.Context, msg *iso8583.Message, timeout time.Duration) (*iso8583.Message, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	switch {
	case l.closed.Load():
		return nil, ErrLinkClosed
	case !l.opened.Load():
		return nil, ErrNotOpened
	}
	if timeout <= 0 {
		timeout = l.cfg.timeout
	}

	req := NewRequest(msg, timeout)
	if err := l.Queue(req); err != nil {
		return nil, err
	}

	resp, err := req.Response(ctx)
	if err != nil && ctx.Err() != nil {
		req.Drop()
	}

	return resp, err
}

// Pending returns the number of queued items, including the one in progress.
func (l *Link) Pending() int {
	return l.pending.length()
}

// GetMetrics returns the metrics of the link.
func (l *Link) GetMetrics() *LinkMetrics {
	return l.metrics
}

// GetLogger returns the logger of the link.
func (l *Link) GetLogger() logger.Logger {
	return l.logger
}

// Config returns the link configuration.
func (l *Link) Config() *LinkConfig {
	return l.cfg
}

func (l *Link) enqueue(item *queueItem) error {
	if !l.pending.enqueue(item) {
		return ErrLinkClosed
	}

	return nil
}

// dispatchTask is one iteration of the dispatch worker.
func (l *Link) dispatchTask(ctx context.Context) bool {
	item, ok := l.pending.peek()
	if !ok || !l.line.IsConnected() {
		l.waitForWork(ctx)
		return true
	}

	if err := l.doTransceive(item); err != nil {
		l.logger.Error("visa1: transport fault, request kept at queue head",
			"error", err, "backoff", l.cfg.retryBackoff.String(), "pending", l.pending.length())

		return pool.Sleep(ctx, l.cfg.retryBackoff)
	}

	return true
}

// waitForWork blocks until an item is queued, the poll interval elapses or
// ctx is done. The interval re-checks line state, which has no notification.
func (l *Link) waitForWork(ctx context.Context) {
	timer := pool.GetTimer(l.cfg.pollInterval)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
	case <-l.pending.wake:
	case <-timer.C:
	}
}

// doTransceive handles the head item. It returns an error only for a
// transport fault, in which case the item stays at the head to be retried.
// Every other outcome removes the item and completes its request.
func (l *Link) doTransceive(item *queueItem) error {
	evt := NewEvent(l.cfg.realm, "transceive")
	defer l.cfg.sink.Record(evt)

	if req := item.req; req != nil {
		switch {
		case req.IsDropped():
			evt.Add("dropped")
			l.metrics.incDroppedCount()
			l.finish(item, nil, ErrRequestDropped)

			return nil

		case req.IsExpired():
			evt.Add("expired", "expiresAt", req.ExpiresAt().Format(time.RFC3339Nano))
			l.metrics.incExpiredCount()
			l.logger.Warn("visa1: request expired before transmission", "mti", req.Message().MTI())
			l.finish(item, nil, ErrRequestExpired)

			return nil
		}
	}

	msg := item.message()
	payload, err := l.codec.Pack(msg)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPack, err)
		evt.AddError("pack", err)
		l.logger.Error("visa1: discard request", "mti", msg.MTI(), "error", err)
		l.finish(item, nil, err)

		return nil
	}
	evt.Add("pack", "mti", msg.MTI(), "size", len(payload))

	if item.req != nil {
		item.req.setTransmitted()
	}
	l.metrics.incRequestCount()

	raw, err := l.PerformRequest(payload, evt)
	if err != nil {
		return err
	}

	if raw == nil {
		l.metrics.incTimeoutCount()
		l.logger.Warn("visa1: no response", "mti", msg.MTI(), "timeout", l.cfg.timeout.String())
	} else {
		l.metrics.incResponseCount()
	}

	if item.req == nil {
		if raw != nil {
			evt.Add("discard", "size", len(raw))
			l.logger.Debug("visa1: discard response to unsolicited message", "mti", msg.MTI(), "data", DumpString(raw))
		}
		l.finish(item, nil, nil)

		return nil
	}

	resp, err := BuildResponse(msg, raw, l.codec)
	if err != nil {
		evt.AddError("unpack", err)
		l.logger.Error("visa1: keep declined response", "mti", msg.MTI(), "error", err)
	}
	evt.Add("response", "mti", resp.MTI(), "code", resp.GetString(iso8583.FieldResponseCode))
	l.metrics.incMTICount(resp.MTI())
	l.finish(item, resp, err)

	return nil
}

// finish removes the head item and completes its request, in that order, so
// a caller woken by the request sees it gone from the queue.
func (l *Link) finish(item *queueItem, resp *iso8583.Message, err error) {
	l.pending.dequeue()

	if item.req != nil {
		item.req.setTransmitted()
		item.req.complete(resp, err)
	}
}

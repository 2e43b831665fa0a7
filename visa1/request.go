package visa1

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-visa1/iso8583"
)

// Request is a queued message that expects a correlated response.
//
// The link owns the request message from the time the request is queued
// until Done is closed. Afterwards Response returns the response message,
// which is always set for requests that were transmitted: when the peer did
// not answer it is a decline built from the request.
type Request struct {
	msg       *iso8583.Message
	expiresAt time.Time

	transmitted atomic.Bool
	dropped     atomic.Bool

	once sync.Once
	done chan struct{}
	resp *iso8583.Message
	err  error
}

// NewRequest creates a request for msg that expires timeout from now.
// A timeout <= 0 creates a request that never expires.
func NewRequest(msg *iso8583.Message, timeout time.Duration) *Request {
	req := &Request{msg: msg, done: make(chan struct{})}
	if timeout > 0 {
		req.expiresAt = time.Now().Add(timeout)
	}

	return req
}

// Message returns the request message.
func (r *Request) Message() *iso8583.Message { return r.msg }

// ExpiresAt returns the expiry instant; the zero time means never.
func (r *Request) ExpiresAt() time.Time { return r.expiresAt }

// IsExpired reports whether the request is past its expiry.
func (r *Request) IsExpired() bool {
	return !r.expiresAt.IsZero() && !time.Now().Before(r.expiresAt)
}

// IsTransmitted reports whether the link has consumed the request, either by
// running its handshake or by discarding it.
func (r *Request) IsTransmitted() bool { return r.transmitted.Load() }

// Drop asks the link to skip the request if it has not reached the line yet.
// A dropped request completes with ErrRequestDropped when it reaches the
// head of the queue.
func (r *Request) Drop() { r.dropped.Store(true) }

// IsDropped reports whether Drop was called.
func (r *Request) IsDropped() bool { return r.dropped.Load() }

// Done returns a channel closed when the request completes.
func (r *Request) Done() <-chan struct{} { return r.done }

// Response waits for the request to complete and returns its response.
func (r *Request) Response(ctx context.Context) (*iso8583.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return r.resp, r.err
	}
}

// TryResponse returns the response without waiting. ok is false while the
// request is pending.
func (r *Request) TryResponse() (resp *iso8583.Message, ok bool) {
	select {
	case <-r.done:
		return r.resp, true
	default:
		return nil, false
	}
}

// Err returns the completion error, or nil while pending or on success.
func (r *Request) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

func (r *Request) setTransmitted() { r.transmitted.Store(true) }

// complete stores the outcome and releases waiters. Only the first call
// has effect.
func (r *Request) complete(resp *iso8583.Message, err error) {
	r.once.Do(func() {
		r.resp = resp
		r.err = err
		close(r.done)
	})
}

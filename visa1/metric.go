package visa1

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// LinkMetrics contains atomic metrics for a VISA-1 link.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type LinkMetrics struct {
	// RequestCount indicates the number of requests handed to the line.
	RequestCount atomic.Uint64
	// ResponseCount indicates the number of valid response frames received.
	ResponseCount atomic.Uint64
	// TimeoutCount indicates the number of requests that got no response
	// within the link timeout.
	TimeoutCount atomic.Uint64
	// TransportErrCount indicates the number of transport faults.
	TransportErrCount atomic.Uint64
	// RetransmitCount indicates the number of frames sent again after a NAK.
	RetransmitCount atomic.Uint64
	// NakSentCount indicates the number of NAKs sent for corrupted frames.
	NakSentCount atomic.Uint64
	// ExpiredCount indicates the number of requests consumed unsent because
	// their deadline had passed.
	ExpiredCount atomic.Uint64
	// DroppedCount indicates the number of requests the caller dropped.
	DroppedCount atomic.Uint64
	// PollReceivedCount indicates the number of requests received by the
	// polling role.
	PollReceivedCount atomic.Uint64

	// per response MTI counters
	mtiCounts *xsync.MapOf[string, *xsync.Counter]
}

func newLinkMetrics() *LinkMetrics {
	return &LinkMetrics{mtiCounts: xsync.NewMapOf[string, *xsync.Counter]()}
}

// MTICount returns the number of responses completed with the given MTI.
func (m *LinkMetrics) MTICount(mti string) int64 {
	c, ok := m.mtiCounts.Load(mti)
	if !ok {
		return 0
	}

	return c.Value()
}

// MTICounts returns a snapshot of the per MTI response counters.
func (m *LinkMetrics) MTICounts() map[string]int64 {
	out := make(map[string]int64, m.mtiCounts.Size())
	m.mtiCounts.Range(func(mti string, c *xsync.Counter) bool {
		out[mti] = c.Value()
		return true
	})

	return out
}

func (m *LinkMetrics) incMTICount(mti string) {
	c, _ := m.mtiCounts.LoadOrCompute(mti, func() *xsync.Counter { return xsync.NewCounter() })
	c.Inc()
}

func (m *LinkMetrics) incRequestCount()      { m.RequestCount.Add(1) }
func (m *LinkMetrics) incResponseCount()     { m.ResponseCount.Add(1) }
func (m *LinkMetrics) incTimeoutCount()      { m.TimeoutCount.Add(1) }
func (m *LinkMetrics) incTransportErrCount() { m.TransportErrCount.Add(1) }
func (m *LinkMetrics) incRetransmitCount()   { m.RetransmitCount.Add(1) }
func (m *LinkMetrics) incNakSentCount()      { m.NakSentCount.Add(1) }
func (m *LinkMetrics) incExpiredCount()      { m.ExpiredCount.Add(1) }
func (m *LinkMetrics) incDroppedCount()      { m.DroppedCount.Add(1) }
func (m *LinkMetrics) incPollReceivedCount() { m.PollReceivedCount.Add(1) }

package visa1

import (
	"time"
)

// ReceiveRequest polls the line as master and returns the payload of the
// first valid request frame, or nil when timeout elapses.
//
// Each round sends ENQ and waits EnqPollTimeout for STX or EOT. STX starts a
// frame read bounded by FrameTimeout, answered with ACK or NAK. EOT hangs the
// line up and polling continues. Transport faults are recorded in evt and
// end the poll with a nil result.
func (l *Link) ReceiveRequest(timeout time.Duration, evt *Event) []byte {
	l.lineMu.Lock()
	defer l.lineMu.Unlock()

	if evt == nil {
		evt = NewEvent(l.cfg.realm, "receive-request")
		defer l.cfg.sink.Record(evt)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := l.line.SendByte(ENQ); err != nil {
			l.transportErr(evt, "send ENQ", err)
			return nil
		}

		data, err := l.line.ReadUntil([]byte{STX, EOT}, l.cfg.enqPollTimeout)
		if err != nil {
			l.transportErr(evt, "wait STX", err)
			return nil
		}

		switch {
		case endsWith(data, STX):
			req, err := l.receiveFrame(l.cfg.frameTimeout, evt)
			if err != nil {
				l.transportErr(evt, "receive frame", err)
				return nil
			}

			reply := ACK
			if req == nil {
				reply = NAK
				l.metrics.incNakSentCount()
			}
			if err := l.line.SendByte(reply); err != nil {
				l.transportErr(evt, "send "+ControlName(reply), err)
				return nil
			}

			if req != nil {
				l.metrics.incPollReceivedCount()
				return req
			}

		case endsWith(data, EOT):
			evt.Add("eot")
			if err := l.line.HangUp(); err != nil {
				l.transportErr(evt, "hang up", err)
				return nil
			}
		}
	}

	return nil
}

// SendResponse sends payload as master and waits for the tributary's ACK,
// resending after NAK or silence until timeout elapses. It reports whether
// the frame was acknowledged; transport faults are recorded in evt and
// reported as false.
func (l *Link) SendResponse(payload []byte, timeout time.Duration, evt *Event) bool {
	l.lineMu.Lock()
	defer l.lineMu.Unlock()

	if evt == nil {
		evt = NewEvent(l.cfg.realm, "send-response")
		defer l.cfg.sink.Record(evt)
	}

	frame := BuildFrame(payload)
	deadline := time.Now().Add(timeout)
	sent := false

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		if sent {
			l.metrics.incRetransmitCount()
		}
		if err := l.sendFrame(frame, evt); err != nil {
			l.transportErr(evt, "send frame", err)
			return false
		}
		sent = true

		data, err := l.line.ReadUntil([]byte{ACK, NAK}, remaining)
		if err != nil {
			l.transportErr(evt, "wait ACK", err)
			return false
		}
		if endsWith(data, ACK) {
			evt.Add("acked")
			return true
		}
	}
}

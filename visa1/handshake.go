package visa1

import (
	"bytes"
	"fmt"
	"time"

	"github.com/arloliu/go-visa1/internal/util"
)

// handshakeState is the initiator's position in a transceive.
type handshakeState int

const (
	stateWaitENQ handshakeState = iota
	stateTransmit
	stateReceive
)

func (s handshakeState) String() string {
	switch s {
	case stateWaitENQ:
		return "enq"
	case stateTransmit:
		return "tx"
	case stateReceive:
		return "rx"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PerformRequest runs one initiator transceive: it sends payload and
// returns the payload of the response frame.
//
// A nil response with a nil error means the peer did not answer within the
// link timeout or the line dropped; it is not a fault. A non-nil error wraps
// ErrTransport and reports a line fault.
//
// Steps are recorded in evt. When evt is nil a new event is created and
// handed to the link's EventSink on return.
//
// Transceives are mutually exclusive per link. The dispatch worker uses
// this method too, so calling it directly on an opened link interleaves
// with queued requests.
func (l *Link) PerformRequest(payload []byte, evt *Event) ([]byte, error) {
	l.lineMu.Lock()
	defer l.lineMu.Unlock()

	if evt == nil {
		evt = NewEvent(l.cfg.realm, "request")
		defer l.cfg.sink.Record(evt)
	}

	return l.performRequest(payload, evt)
}

func (l *Link) performRequest(payload []byte, evt *Event) ([]byte, error) {
	start := time.Now()
	deadline := start.Add(l.cfg.timeout)
	frame := BuildFrame(payload)

	if err := l.line.FlushReceiver(); err != nil {
		return nil, l.transportErr(evt, "flush receiver", err)
	}

	state := stateTransmit
	if l.cfg.waitENQ {
		state = stateWaitENQ
	}

	var response []byte
	sent := false

	for response == nil && l.line.IsConnected() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		evt.Add(state.String())

		switch state {
		case stateWaitENQ:
			data, err := l.line.ReadUntil([]byte{ENQ}, remaining)
			if err != nil {
				return nil, l.transportErr(evt, "wait ENQ", err)
			}
			if endsWith(data, ENQ) {
				state = stateTransmit
			}

		case stateTransmit:
			if sent {
				l.metrics.incRetransmitCount()
			}
			if err := l.sendFrame(frame, evt); err != nil {
				return nil, l.transportErr(evt, "send frame", err)
			}
			sent = true

			// NAK and silence both leave us in TRANSMIT for a retransmission
			data, err := l.line.ReadUntil([]byte{STX, NAK}, remaining)
			if err != nil {
				return nil, l.transportErr(evt, "wait STX", err)
			}
			if endsWith(data, STX) {
				state = stateReceive
			}

		case stateReceive:
			rsp, err := l.receiveFrame(remaining, evt)
			if err != nil {
				return nil, l.transportErr(evt, "receive frame", err)
			}

			reply := ACK
			if rsp == nil {
				reply = NAK
				l.metrics.incNakSentCount()
			}
			if err := l.line.SendByte(reply); err != nil {
				return nil, l.transportErr(evt, "send "+ControlName(reply), err)
			}
			response = rsp
		}
	}

	if response == nil && l.line.IsConnected() {
		evt.Add("eot")
	}
	evt.Add("done", "elapsed", time.Since(start).String(), "answered", response != nil)

	return response, nil
}

// sendFrame writes frame and waits for it to leave the line buffer.
func (l *Link) sendFrame(frame []byte, evt *Event) error {
	if err := l.line.Send(frame); err != nil {
		return err
	}
	if err := l.line.FlushTransmitter(); err != nil {
		return err
	}
	evt.Add("send", "frame", DumpString(frame))

	return nil
}

// receiveFrame reads one frame whose STX has already been consumed.
// A further STX restarts the frame.
//
// It returns the payload of a valid frame, or nil when the frame was
// interrupted, corrupted or did not arrive within timeout. Only transport
// faults are returned as errors.
func (l *Link) receiveFrame(timeout time.Duration, evt *Event) ([]byte, error) {
	deadline := time.Now().Add(timeout)

	var tail []byte
	for {
		data, err := l.line.ReadUntil(frameTerminators, time.Until(deadline))
		if err != nil {
			return nil, err
		}
		tail = data

		// STX starts a fresh frame, e.g. a retransmission after our NAK
		if !endsWith(tail, STX) || time.Until(deadline) <= 0 {
			break
		}
		if len(tail) > 1 {
			evt.Add("restart", "discarded", DumpString(tail[:len(tail)-1]))
		}
	}
	if len(tail) <= MinPayloadLen || !endsWith(tail, ETX) {
		if len(tail) > 0 {
			evt.Add("invalid", "data", DumpString(tail))
		}
		return nil, nil
	}

	var lrc [1]byte
	n, err := l.line.Read(lrc[:], l.cfg.checksumTimeout)
	if err != nil {
		return nil, err
	}
	if n != 1 {
		evt.Add("invalid", "data", DumpString(tail), "reason", "missing LRC")
		return nil, nil
	}

	payload, ok := ValidateFrame(tail, lrc[0])
	if !ok {
		evt.Add("invalid", "data", DumpString(tail), "lrc", fmt.Sprintf("%02X", lrc[0]), "want", fmt.Sprintf("%02X", Checksum(tail[:len(tail)-1])))
		return nil, nil
	}
	evt.Add("recv", "frame", DumpString(tail))

	return util.CloneSlice(payload, 0), nil
}

// transportErr records a line fault and wraps it with ErrTransport.
func (l *Link) transportErr(evt *Event, op string, err error) error {
	l.metrics.incTransportErrCount()
	err = fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
	evt.AddError(op, err)

	return err
}

func endsWith(data []byte, b byte) bool {
	return bytes.HasSuffix(data, []byte{b})
}

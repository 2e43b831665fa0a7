package visa1

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFrame is returned by UnbuildFrame for a malformed or corrupted frame.
var ErrInvalidFrame = errors.New("visa1: invalid frame")

// frameTerminators ends a frame read: ETX completes a frame, any other
// control character means the frame was interrupted.
var frameTerminators = []byte{STX, ETX, EOT, ENQ, ACK, NAK}

// Checksum computes the LRC of payload: ETX XOR every payload byte.
func Checksum(payload []byte) byte {
	lrc := ETX
	for _, b := range payload {
		lrc ^= b
	}

	return lrc
}

// BuildFrame wraps payload as STX · payload · ETX · LRC.
func BuildFrame(payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+3)
	frame = append(frame, STX)
	frame = append(frame, payload...)
	frame = append(frame, ETX, Checksum(payload))

	return frame
}

// MinPayloadLen is the shortest payload accepted from the line.
const MinPayloadLen = 2

// ValidateFrame checks a frame tail as read from the line.
//
// rawTail holds the bytes read after STX up to and including the terminator,
// lrc is the checksum byte read right after it. The payload is returned when
// the terminator is ETX, the payload holds at least MinPayloadLen bytes and
// the checksum matches.
func ValidateFrame(rawTail []byte, lrc byte) ([]byte, bool) {
	if len(rawTail) <= MinPayloadLen || rawTail[len(rawTail)-1] != ETX {
		return nil, false
	}

	payload := rawTail[:len(rawTail)-1]
	if Checksum(payload) != lrc {
		return nil, false
	}

	return payload, true
}

// UnbuildFrame is the inverse of BuildFrame.
func UnbuildFrame(frame []byte) ([]byte, error) {
	if len(frame) < MinPayloadLen+3 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidFrame, len(frame))
	}
	if frame[0] != STX {
		return nil, fmt.Errorf("%w: starts with %s", ErrInvalidFrame, ControlName(frame[0]))
	}

	payload, ok := ValidateFrame(frame[1:len(frame)-1], frame[len(frame)-1])
	if !ok {
		return nil, fmt.Errorf("%w: bad terminator or checksum", ErrInvalidFrame)
	}

	out := make([]byte, len(payload))
	copy(out, payload)

	return out, nil
}

// DumpString renders line traffic for logs: printable ASCII as is, control
// characters by mnemonic and anything else as hex, e.g. "[STX]0800[ETX][1F]".
func DumpString(data []byte) string {
	var sb strings.Builder
	for _, b := range data {
		switch {
		case controlNames[b] != "":
			sb.WriteString("[" + controlNames[b] + "]")
		case b >= 0x20 && b < 0x7F:
			sb.WriteByte(b)
		default:
			fmt.Fprintf(&sb, "[%02X]", b)
		}
	}

	return sb.String()
}

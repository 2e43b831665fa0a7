package iso8583

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// MaxField is the highest field number supported (secondary bitmap).
const MaxField = 128

// Well known field numbers used by the link.
const (
	FieldMTI          = 0
	FieldSTAN         = 11
	FieldResponseCode = 39
)

// Action codes placed in field 39.
const (
	ResponseApproved = "00"
	// ResponseDeclined is the "do not honor" code used when no response arrived.
	ResponseDeclined = "05"
)

// ErrInvalidField is returned when a field number is outside [0, MaxField].
var ErrInvalidField = errors.New("iso8583: invalid field number")

// Direction tells whether a message travels out of or into this station.
type Direction int

const (
	DirectionUnknown Direction = iota
	Outgoing
	Incoming
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	default:
		return "unknown"
	}
}

// Message is an ISO 8583 style message made of numbered string fields.
//
// The zero value is an empty message of unknown direction.
//
// Message is not goroutine-safe. Once queued on a link, the message belongs
// to the link until the request completes.
type Message struct {
	fields    map[int]string
	direction Direction
}

// NewMessage creates an outgoing message with the given MTI.
func NewMessage(mti string) *Message {
	m := &Message{fields: make(map[int]string), direction: Outgoing}
	if mti != "" {
		m.fields[FieldMTI] = mti
	}

	return m
}

// MTI returns the message type indicator (field 0).
func (m *Message) MTI() string {
	return m.fields[FieldMTI]
}

// SetMTI sets the message type indicator.
func (m *Message) SetMTI(mti string) {
	m.ensureFields()
	m.fields[FieldMTI] = mti
}

// Set assigns value to field n.
func (m *Message) Set(n int, value string) error {
	if n < 0 || n > MaxField {
		return fmt.Errorf("%w: %d", ErrInvalidField, n)
	}
	m.ensureFields()
	m.fields[n] = value

	return nil
}

// MustSet is like Set but panics on an invalid field number.
// It is intended for building messages from literals.
func (m *Message) MustSet(n int, value string) *Message {
	if err := m.Set(n, value); err != nil {
		panic(err)
	}

	return m
}

// Get returns the value of field n and whether it is present.
func (m *Message) Get(n int) (string, bool) {
	v, ok := m.fields[n]
	return v, ok
}

// GetString returns the value of field n, or "" when absent.
func (m *Message) GetString(n int) string {
	return m.fields[n]
}

// Has reports whether field n is present.
func (m *Message) Has(n int) bool {
	_, ok := m.fields[n]
	return ok
}

// Unset removes the given fields.
func (m *Message) Unset(fields ...int) {
	for _, n := range fields {
		delete(m.fields, n)
	}
}

// Fields returns the present field numbers in ascending order, MTI included.
func (m *Message) Fields() []int {
	return slices.Sorted(maps.Keys(m.fields))
}

// Direction returns the message direction.
func (m *Message) Direction() Direction {
	return m.direction
}

// SetDirection sets the message direction.
func (m *Message) SetDirection(d Direction) {
	m.direction = d
}

func (m *Message) IsIncoming() bool { return m.direction == Incoming }

func (m *Message) IsOutgoing() bool { return m.direction == Outgoing }

func (m *Message) ensureFields() {
	if m.fields == nil {
		m.fields = make(map[int]string)
	}
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	return &Message{
		fields:    maps.Clone(m.fields),
		direction: m.direction,
	}
}

// String renders the message as "MTI [n=value ...]" for logs.
// Field 2 (PAN) and 35 (track 2) are masked and 52 (PIN block) is omitted.
func (m *Message) String() string {
	var sb strings.Builder
	sb.WriteString(m.MTI())
	sb.WriteString(" [")

	first := true
	for _, n := range m.Fields() {
		if n == FieldMTI {
			continue
		}
		if !first {
			sb.WriteByte(' ')
		}
		first = false

		v := m.fields[n]
		switch n {
		case 2, 35:
			v = mask(v)
		case 52:
			v = "***"
		}
		fmt.Fprintf(&sb, "%d=%s", n, v)
	}
	sb.WriteByte(']')

	return sb.String()
}

func mask(v string) string {
	if len(v) <= 10 {
		return strings.Repeat("*", len(v))
	}

	return v[:6] + strings.Repeat("*", len(v)-10) + v[len(v)-4:]
}

// ResponseMTI returns the MTI of the response family for a request MTI.
//
// The third digit (message function) is replaced by the response digit, so
// 0100 becomes 0110, 0200 becomes 0210 and 0420 becomes 0430. An MTI that is
// already in a response family is returned unchanged; anything that is not a
// four digit MTI falls back to 0110.
func ResponseMTI(mti string) string {
	const fallback = "0110"

	if len(mti) != 4 {
		return fallback
	}
	for i := 0; i < len(mti); i++ {
		if mti[i] < '0' || mti[i] > '9' {
			return fallback
		}
	}

	fn := mti[2]
	if (fn-'0')%2 != 0 {
		return mti
	}

	return mti[:2] + string(fn+1) + mti[3:]
}

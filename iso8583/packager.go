package iso8583

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Codec converts messages to and from frame payloads.
type Codec interface {
	// Pack serializes m.
	Pack(m *Message) ([]byte, error)
	// Unpack decodes data into m, overwriting the fields present in data and
	// leaving the others untouched.
	Unpack(data []byte, m *Message) error
}

// Packager errors.
var (
	ErrInvalidMTI    = errors.New("iso8583: invalid MTI")
	ErrUnknownField  = errors.New("iso8583: field not defined by packager")
	ErrFieldLength   = errors.New("iso8583: field length out of range")
	ErrFieldContent  = errors.New("iso8583: invalid field content")
	ErrShortData     = errors.New("iso8583: not enough data")
	ErrInvalidBitmap = errors.New("iso8583: invalid bitmap")
)

// Kind is the length encoding of a field.
type Kind int

const (
	// KindFixed fields always occupy Length characters.
	KindFixed Kind = iota
	// KindLLVar fields carry a 2 digit length prefix.
	KindLLVar
	// KindLLLVar fields carry a 3 digit length prefix.
	KindLLLVar
)

// FieldSpec describes how a field is encoded.
type FieldSpec struct {
	Name string
	Kind Kind
	// Length is the exact length of a fixed field or the maximum length of a
	// variable one.
	Length int
	// Numeric fields only accept digits; short fixed numeric values are
	// left padded with zeros, other short fixed values are right padded with
	// spaces.
	Numeric bool
}

// Fixed describes a fixed length field.
func Fixed(name string, length int, numeric bool) FieldSpec {
	return FieldSpec{Name: name, Kind: KindFixed, Length: length, Numeric: numeric}
}

// LLVar describes a variable field with a 2 digit length prefix.
func LLVar(name string, maxLength int, numeric bool) FieldSpec {
	return FieldSpec{Name: name, Kind: KindLLVar, Length: min(maxLength, 99), Numeric: numeric}
}

// LLLVar describes a variable field with a 3 digit length prefix.
func LLLVar(name string, maxLength int, numeric bool) FieldSpec {
	return FieldSpec{Name: name, Kind: KindLLLVar, Length: min(maxLength, 999), Numeric: numeric}
}

func (s FieldSpec) encode(n int, v string) (string, error) {
	if s.Numeric && !isDigits(v) {
		return "", fmt.Errorf("%w: field %d (%s) must be numeric", ErrFieldContent, n, s.Name)
	}

	switch s.Kind {
	case KindFixed:
		if len(v) > s.Length {
			return "", fmt.Errorf("%w: field %d (%s) is %d long, max %d", ErrFieldLength, n, s.Name, len(v), s.Length)
		}
		pad := strings.Repeat(" ", s.Length-len(v))
		if s.Numeric {
			return strings.Repeat("0", s.Length-len(v)) + v, nil
		}

		return v + pad, nil

	case KindLLVar, KindLLLVar:
		if len(v) > s.Length {
			return "", fmt.Errorf("%w: field %d (%s) is %d long, max %d", ErrFieldLength, n, s.Name, len(v), s.Length)
		}
		width := 2
		if s.Kind == KindLLLVar {
			width = 3
		}

		return fmt.Sprintf("%0*d%s", width, len(v), v), nil
	}

	return "", fmt.Errorf("%w: field %d has unknown kind %d", ErrUnknownField, n, s.Kind)
}

func (s FieldSpec) decode(n int, data []byte) (string, int, error) {
	length := s.Length
	offset := 0

	if s.Kind != KindFixed {
		width := 2
		if s.Kind == KindLLLVar {
			width = 3
		}
		if len(data) < width {
			return "", 0, fmt.Errorf("%w: length prefix of field %d", ErrShortData, n)
		}

		l, err := strconv.Atoi(string(data[:width]))
		if err != nil || l < 0 || l > s.Length {
			return "", 0, fmt.Errorf("%w: field %d (%s) prefix %q", ErrFieldLength, n, s.Name, data[:width])
		}
		length = l
		offset = width
	}

	if len(data) < offset+length {
		return "", 0, fmt.Errorf("%w: field %d (%s) needs %d bytes, have %d", ErrShortData, n, s.Name, length, len(data)-offset)
	}

	v := string(data[offset : offset+length])
	if s.Numeric && !isDigits(v) {
		return "", 0, fmt.Errorf("%w: field %d (%s) must be numeric", ErrFieldContent, n, s.Name)
	}
	if s.Kind == KindFixed && !s.Numeric {
		v = strings.TrimRight(v, " ")
	}

	return v, offset + length, nil
}

// Packager is an ASCII ISO 8583 Codec.
type Packager struct {
	specs map[int]FieldSpec
}

var _ Codec = (*Packager)(nil)

// NewPackager creates a Packager for the given field specs.
// Field 0 (MTI) and field 1 (secondary bitmap) are handled internally and
// must not appear in specs.
func NewPackager(specs map[int]FieldSpec) (*Packager, error) {
	for n := range specs {
		if n < 2 || n > MaxField {
			return nil, fmt.Errorf("%w: %d", ErrInvalidField, n)
		}
	}

	p := &Packager{specs: make(map[int]FieldSpec, len(specs))}
	for n, s := range specs {
		p.specs[n] = s
	}

	return p, nil
}

// NewDefaultPackager returns a Packager defining the fields commonly used by
// authorization and network management messages on a dial-up POS link.
func NewDefaultPackager() *Packager {
	p, _ := NewPackager(map[int]FieldSpec{
		2:  LLVar("PAN", 19, true),
		3:  Fixed("processing code", 6, true),
		4:  Fixed("transaction amount", 12, true),
		7:  Fixed("transmission date and time", 10, true),
		11: Fixed("system trace audit number", 6, true),
		12: Fixed("local transaction time", 6, true),
		13: Fixed("local transaction date", 4, true),
		14: Fixed("expiration date", 4, true),
		18: Fixed("merchant type", 4, true),
		22: Fixed("POS entry mode", 3, true),
		25: Fixed("POS condition code", 2, true),
		35: LLVar("track 2 data", 37, false),
		37: Fixed("retrieval reference number", 12, false),
		38: Fixed("authorization identification response", 6, false),
		39: Fixed("response code", 2, false),
		41: Fixed("card acceptor terminal id", 8, false),
		42: Fixed("card acceptor id code", 15, false),
		43: Fixed("card acceptor name/location", 40, false),
		49: Fixed("currency code", 3, true),
		52: Fixed("PIN data", 16, false),
		54: LLLVar("additional amounts", 120, false),
		60: LLLVar("reserved private 60", 999, false),
		61: LLLVar("reserved private 61", 999, false),
		62: LLLVar("reserved private 62", 999, false),
		63: LLLVar("reserved private 63", 999, false),
		70: Fixed("network management information code", 3, true),
		90: Fixed("original data elements", 42, true),
	})

	return p
}

// Spec returns the spec of field n.
func (p *Packager) Spec(n int) (FieldSpec, bool) {
	s, ok := p.specs[n]
	return s, ok
}

// Pack encodes m as MTI + hex bitmap + fields.
func (p *Packager) Pack(m *Message) ([]byte, error) {
	mti := m.MTI()
	if len(mti) != 4 || !isDigits(mti) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMTI, mti)
	}

	var bitmap [16]byte
	secondary := false

	fields := m.Fields()
	for _, n := range fields {
		if n < 2 {
			continue
		}
		if _, ok := p.specs[n]; !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownField, n)
		}
		setBit(bitmap[:], n)
		if n > 64 {
			secondary = true
		}
	}

	bitmapLen := 8
	if secondary {
		setBit(bitmap[:], 1)
		bitmapLen = 16
	}

	var sb strings.Builder
	sb.WriteString(mti)
	sb.WriteString(strings.ToUpper(hex.EncodeToString(bitmap[:bitmapLen])))

	for _, n := range fields {
		if n < 2 {
			continue
		}
		enc, err := p.specs[n].encode(n, m.GetString(n))
		if err != nil {
			return nil, err
		}
		sb.WriteString(enc)
	}

	return []byte(sb.String()), nil
}

// Unpack decodes data into m. Fields absent from data keep their values.
func (p *Packager) Unpack(data []byte, m *Message) error {
	if len(data) < 4+16 {
		return fmt.Errorf("%w: %d bytes cannot hold MTI and bitmap", ErrShortData, len(data))
	}

	mti := string(data[:4])
	if !isDigits(mti) {
		return fmt.Errorf("%w: %q", ErrInvalidMTI, mti)
	}

	bitmap := make([]byte, 16)
	if _, err := hex.Decode(bitmap[:8], data[4:20]); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBitmap, err)
	}

	pos := 20
	last := 64
	if bitSet(bitmap, 1) {
		if len(data) < pos+16 {
			return fmt.Errorf("%w: secondary bitmap", ErrShortData)
		}
		if _, err := hex.Decode(bitmap[8:], data[pos:pos+16]); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidBitmap, err)
		}
		pos += 16
		last = MaxField
	}

	decoded := make(map[int]string)
	for n := 2; n <= last; n++ {
		if !bitSet(bitmap, n) {
			continue
		}
		spec, ok := p.specs[n]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownField, n)
		}

		v, consumed, err := spec.decode(n, data[pos:])
		if err != nil {
			return err
		}
		decoded[n] = v
		pos += consumed
	}

	if pos != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrFieldContent, len(data)-pos)
	}

	// only touch m once the whole payload decoded cleanly
	m.SetMTI(mti)
	for n, v := range decoded {
		m.fields[n] = v
	}

	return nil
}

func setBit(bitmap []byte, n int) {
	bitmap[(n-1)/8] |= 0x80 >> ((n - 1) % 8)
}

func bitSet(bitmap []byte, n int) bool {
	return bitmap[(n-1)/8]&(0x80>>((n-1)%8)) != 0
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}

	return true
}

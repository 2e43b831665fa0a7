package visa1

import "fmt"

// VISA-1 control characters.
//
// SOH and DLE belong to the character set but are never sent by this link;
// only STX/ETX/LRC framing is used.
const (
	SOH byte = 0x01
	STX byte = 0x02
	ETX byte = 0x03
	EOT byte = 0x04
	ENQ byte = 0x05
	ACK byte = 0x06
	DLE byte = 0x10
	NAK byte = 0x15
)

var controlNames = map[byte]string{
	SOH: "SOH",
	STX: "STX",
	ETX: "ETX",
	EOT: "EOT",
	ENQ: "ENQ",
	ACK: "ACK",
	DLE: "DLE",
	NAK: "NAK",
}

// ControlName returns the mnemonic of a control character, or its hex value.
func ControlName(b byte) string {
	if name, ok := controlNames[b]; ok {
		return name
	}

	return fmt.Sprintf("0x%02X", b)
}

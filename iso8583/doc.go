// Package iso8583 provides the message model and codec that the VISA-1 link
// uses to turn financial messages into frame payloads and back.
//
// A Message is a sparse set of numbered fields; field 0 carries the message
// type indicator (MTI). The link only needs the Codec interface, the MTI and
// a few fields (39, the action code) to correlate a response with its
// request, so any packager implementing Codec can be plugged in.
//
// Packager is a plain ASCII ISO 8583 packager: a 4 character MTI, a
// hexadecimal bitmap (with a secondary bitmap when any field above 64 is
// present) and the fields in ascending order, each encoded per its FieldSpec.
package iso8583

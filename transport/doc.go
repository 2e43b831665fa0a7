// Package transport provides byte lines for the visa1 link.
//
// NetLine runs the link over a net.Conn, e.g. a terminal server or a TCP
// bridge in front of a modem bank. SerialLine drives a local serial port or
// modem through go.bug.st/serial, using DCD as carrier and a DTR drop to
// hang up. Both satisfy visa1.Transport.
package transport

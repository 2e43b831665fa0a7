// Package visa1 implements the station side of the VISA-1 link protocol: a
// half-duplex, character framed protocol used to carry financial transaction
// messages over a point-to-point serial or modem line.
//
// # Protocol Overview
//
// VISA-1 turns are negotiated with single-byte control characters:
//
//   - ENQ (0x05): poll: the master invites the tributary to transmit
//   - STX (0x02): start of a frame
//   - ETX (0x03): end of a frame, followed by the LRC byte
//   - ACK (0x06): frame received correctly
//   - NAK (0x15): frame corrupted, retransmit
//   - EOT (0x04): end of transmission, the master hangs up
//
// A frame is STX · payload · ETX · LRC where LRC is ETX XOR every payload byte.
//
// # Roles
//
// By default a Link is the tributary (secondary) station: PerformRequest
// waits for the master's ENQ, transmits the request frame, retransmits it on
// NAK, then receives and acknowledges the response frame. With
// WithWaitENQ(false) the request frame is sent straight away.
//
// ReceiveRequest and SendResponse implement the polling master side, used
// when this station answers requests instead of originating them.
//
// # Dispatching
//
// Producers call Send (fire and forget), Queue or Request from any goroutine.
// A single dispatch worker started by Open owns the line: it waits until the
// queue is not empty and the line is connected, performs exactly one
// transceive for the head item, hands the correlated response back to the
// Request and removes the item. A protocol timeout completes the request with
// a declined response; a transport fault leaves the item at the head and the
// worker retries it after a fixed backoff.
package visa1

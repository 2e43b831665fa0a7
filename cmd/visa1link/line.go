package main

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/arloliu/go-visa1/logger"
	"github.com/arloliu/go-visa1/transport"
	"github.com/arloliu/go-visa1/visa1"
)

// line is a visa1.Transport the command owns and must close.
type line interface {
	visa1.Transport
	io.Closer
}

// openLine opens the transport described by s.
func openLine(ctx context.Context, s TransportSettings, l logger.Logger) (line, error) {
	switch s.Kind {
	case kindSerial:
		return transport.OpenSerialLine(s.Serial, l)

	case kindTCP:
		return transport.DialNetLine(s.Address, s.DialTimeout, l)

	case kindTCPListen:
		return acceptNetLine(ctx, s.Address, l)

	default:
		return nil, fmt.Errorf("unknown transport kind %q", s.Kind)
	}
}

// acceptNetLine waits for one inbound connection on address.
func acceptNetLine(ctx context.Context, address string, l logger.Logger) (line, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	defer ln.Close()

	l.Info("visa1link: waiting for connection", "address", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	return transport.NewNetLine(conn, 0, l), nil
}

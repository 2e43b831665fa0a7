package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-visa1/iso8583"
	"github.com/arloliu/go-visa1/visa1"
)

type sendOptions struct {
	mti     string
	fields  []string
	expiry  time.Duration
	noReply bool
}

func newSendCmd(root *rootOptions) *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a request as tributary station and print the response",
		Example: `  visa1link send -c link.toml --mti 0100 \
    -f 3=000000 -f 4=000000001000 -f 41=TERM0001`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return runSend(ctx, root, opts, cmd)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.mti, "mti", "0100", "message type indicator")
	flags.StringArrayVarP(&opts.fields, "field", "f", nil, "field as n=value, repeatable")
	flags.DurationVar(&opts.expiry, "expiry", 0, "drop the request if not sent within this time (0: link timeout)")
	flags.BoolVar(&opts.noReply, "no-reply", false, "send without waiting for a correlated response")

	return cmd
}

func runSend(ctx context.Context, root *rootOptions, opts *sendOptions, cmd *cobra.Command) error {
	msg, err := buildMessage(opts.mti, opts.fields)
	if err != nil {
		return err
	}
	if !msg.Has(iso8583.FieldSTAN) {
		msg.MustSet(iso8583.FieldSTAN, fmt.Sprintf("%06d", time.Now().UnixNano()%1000000))
	}

	ln, err := openLine(ctx, root.cfg.Transport, root.log)
	if err != nil {
		return err
	}
	defer ln.Close()

	cfg, err := visa1.NewLinkConfig(root.cfg.Link.linkOptions(root.log)...)
	if err != nil {
		return err
	}

	link, err := visa1.NewLink(ctx, cfg, ln, iso8583.NewDefaultPackager())
	if err != nil {
		return err
	}
	if err := link.Open(); err != nil {
		return err
	}
	defer link.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "request:  %s\n", msg)

	if opts.noReply {
		if err := link.Send(msg); err != nil {
			return err
		}

		return waitDrained(ctx, link)
	}

	resp, err := link.Request(ctx, msg, opts.expiry)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "response: %s\n", resp)

	if code := resp.GetString(iso8583.FieldResponseCode); code != iso8583.ResponseApproved {
		return fmt.Errorf("request declined with code %q", code)
	}

	return nil
}

// waitDrained blocks until the link has handled every queued item.
func waitDrained(ctx context.Context, link *visa1.Link) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for link.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return nil
}

// buildMessage creates a message from an MTI and "n=value" field specs.
func buildMessage(mti string, specs []string) (*iso8583.Message, error) {
	msg := iso8583.NewMessage(mti)

	for _, spec := range specs {
		num, value, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid field %q, want n=value", spec)
		}

		n, err := strconv.Atoi(strings.TrimSpace(num))
		if err != nil || n < 2 {
			return nil, fmt.Errorf("invalid field number in %q", spec)
		}
		if err := msg.Set(n, value); err != nil {
			return nil, err
		}
	}

	return msg, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-visa1/iso8583"
	"github.com/arloliu/go-visa1/visa1"
)

// errLineDown stops polling once the line hung up or faulted.
var errLineDown = errors.New("line disconnected")

type pollOptions struct {
	count       int
	code        string
	authID      string
	waitTimeout time.Duration
}

func newPollCmd(root *rootOptions) *cobra.Command {
	opts := &pollOptions{}

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Poll the line as master and answer each request",
		Long: `poll acts as the polling master: it sends ENQ until the tributary
transmits a request, then answers it with a response carrying the given
action code. Useful as a host simulator for terminal testing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return runPoll(ctx, root, opts, cmd)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.count, "count", 0, "stop after answering this many requests (0: run until interrupted)")
	flags.StringVar(&opts.code, "code", iso8583.ResponseApproved, "action code placed in field 39")
	flags.StringVar(&opts.authID, "auth-id", "000000", "authorization id placed in field 38 of approvals")
	flags.DurationVar(&opts.waitTimeout, "wait", 30*time.Second, "length of one polling round")

	return cmd
}

func runPoll(ctx context.Context, root *rootOptions, opts *pollOptions, cmd *cobra.Command) error {
	ln, err := openLine(ctx, root.cfg.Transport, root.log)
	if err != nil {
		return err
	}
	defer ln.Close()

	return pollLine(ctx, root, opts, ln, cmd.OutOrStdout())
}

// pollLine answers requests arriving on ln until ctx ends, opts.count
// requests were answered or the line goes down.
func pollLine(ctx context.Context, root *rootOptions, opts *pollOptions, ln visa1.Transport, out io.Writer) error {
	cfg, err := visa1.NewLinkConfig(root.cfg.Link.linkOptions(root.log)...)
	if err != nil {
		return err
	}

	codec := iso8583.NewDefaultPackager()
	link, err := visa1.NewLink(ctx, cfg, ln, codec)
	if err != nil {
		return err
	}
	defer link.Close()

	answered := 0

	for ctx.Err() == nil && (opts.count == 0 || answered < opts.count) {
		if !ln.IsConnected() {
			return fmt.Errorf("%w after %d answered requests", errLineDown, answered)
		}

		raw := link.ReceiveRequest(opts.waitTimeout, nil)
		if raw == nil {
			continue
		}

		req := &iso8583.Message{}
		if err := codec.Unpack(raw, req); err != nil {
			root.log.Error("visa1link: cannot unpack request", "error", err, "data", visa1.DumpString(raw))
			continue
		}
		fmt.Fprintf(out, "request:  %s\n", req)

		resp := answer(req, opts.code, opts.authID)
		payload, err := codec.Pack(resp)
		if err != nil {
			return fmt.Errorf("pack response: %w", err)
		}

		if !link.SendResponse(payload, cfg.Timeout(), nil) {
			root.log.Warn("visa1link: response not acknowledged", "stan", req.GetString(iso8583.FieldSTAN))
			continue
		}
		fmt.Fprintf(out, "response: %s\n", resp)
		answered++
	}

	return nil
}

// answer builds the host response to req.
func answer(req *iso8583.Message, code string, authID string) *iso8583.Message {
	resp := iso8583.NewMessage(iso8583.ResponseMTI(req.MTI()))
	for _, n := range []int{3, 4, 7, iso8583.FieldSTAN, 41, 42} {
		if v, ok := req.Get(n); ok {
			resp.MustSet(n, v)
		}
	}
	resp.MustSet(iso8583.FieldResponseCode, code)
	if code == iso8583.ResponseApproved {
		resp.MustSet(38, authID)
	}

	return resp
}

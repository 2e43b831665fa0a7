package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-visa1/logger"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logBackend string

	cfg Config
	log logger.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "visa1link",
		Short: "Exchange ISO 8583 messages over a VISA-1 line",
		Long: `visa1link drives a VISA-1 half-duplex line over a serial port, a modem
or a TCP bridge.

  send  acts as the tributary station: it queues requests and waits for
        the host's responses.
  poll  acts as the polling master: it polls for requests and answers them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "TOML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logBackend, "log-backend", "", "log backend: slog or zerolog")

	cmd.AddCommand(newSendCmd(opts), newPollCmd(opts))

	return cmd
}

// load reads the config file and applies flag overrides.
func (opts *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		level, err := logger.ParseLevel(opts.logLevel)
		if err != nil {
			return err
		}
		cfg.Log.Level = level
	}
	if flags.Changed("log-backend") {
		cfg.Log.Backend = opts.logBackend
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	opts.cfg = cfg
	opts.log = cfg.Log.newLogger()
	logger.SetLogger(opts.log)

	return nil
}

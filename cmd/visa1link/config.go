package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/arloliu/go-visa1/logger"
	"github.com/arloliu/go-visa1/transport"
	"github.com/arloliu/go-visa1/visa1"
)

// Transport kinds.
const (
	kindSerial    = "serial"
	kindTCP       = "tcp"
	kindTCPListen = "tcp-listen"
)

// Config is the runtime configuration of visa1link.
type Config struct {
	Link      LinkSettings
	Transport TransportSettings
	Log       LogSettings
}

type LinkSettings struct {
	Timeout         time.Duration
	WaitENQ         bool
	PollInterval    time.Duration
	RetryBackoff    time.Duration
	ChecksumTimeout time.Duration
	EnqPollTimeout  time.Duration
	FrameTimeout    time.Duration
	Realm           string
}

type TransportSettings struct {
	Kind        string
	Serial      transport.SerialConfig
	Address     string
	DialTimeout time.Duration
}

type LogSettings struct {
	Level   logger.Level
	Backend string
}

func defaultConfig() Config {
	return Config{
		Link: LinkSettings{
			Timeout:         visa1.DefaultTimeout,
			WaitENQ:         true,
			PollInterval:    visa1.DefaultPollInterval,
			RetryBackoff:    visa1.DefaultRetryBackoff,
			ChecksumTimeout: visa1.DefaultChecksumTimeout,
			EnqPollTimeout:  visa1.DefaultEnqPollTimeout,
			FrameTimeout:    visa1.DefaultFrameTimeout,
			Realm:           visa1.DefaultRealm,
		},
		Transport: TransportSettings{
			Kind: kindSerial,
			Serial: transport.SerialConfig{
				Device:      "/dev/ttyS0",
				BaudRate:    transport.DefaultBaudRate,
				DataBits:    transport.DefaultDataBits,
				Parity:      transport.DefaultParity,
				StopBits:    transport.DefaultStopBits,
				HangUpDelay: transport.DefaultHangUpDelay,
			},
			DialTimeout: 10 * time.Second,
		},
		Log: LogSettings{Level: logger.InfoLevel, Backend: "slog"},
	}
}

type fileConfig struct {
	Link struct {
		Timeout         string `toml:"timeout"`
		WaitENQ         bool   `toml:"wait_enq"`
		PollInterval    string `toml:"poll_interval"`
		RetryBackoff    string `toml:"retry_backoff"`
		ChecksumTimeout string `toml:"checksum_timeout"`
		EnqPollTimeout  string `toml:"enq_poll_timeout"`
		FrameTimeout    string `toml:"frame_timeout"`
		Realm           string `toml:"realm"`
	} `toml:"link"`

	Transport struct {
		Kind          string `toml:"kind"`
		Device        string `toml:"device"`
		Baud          int    `toml:"baud"`
		DataBits      int    `toml:"data_bits"`
		Parity        string `toml:"parity"`
		StopBits      string `toml:"stop_bits"`
		CarrierDetect bool   `toml:"carrier_detect"`
		HangUpDelay   string `toml:"hangup_delay"`
		Address       string `toml:"address"`
		DialTimeout   string `toml:"dial_timeout"`
	} `toml:"transport"`

	Log struct {
		Level   string `toml:"level"`
		Backend string `toml:"backend"`
	} `toml:"log"`
}

// loadConfig overlays the TOML file at path onto the defaults. An empty
// path returns the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	durations := []struct {
		key []string
		val string
		dst *time.Duration
	}{
		{[]string{"link", "timeout"}, raw.Link.Timeout, &cfg.Link.Timeout},
		{[]string{"link", "poll_interval"}, raw.Link.PollInterval, &cfg.Link.PollInterval},
		{[]string{"link", "retry_backoff"}, raw.Link.RetryBackoff, &cfg.Link.RetryBackoff},
		{[]string{"link", "checksum_timeout"}, raw.Link.ChecksumTimeout, &cfg.Link.ChecksumTimeout},
		{[]string{"link", "enq_poll_timeout"}, raw.Link.EnqPollTimeout, &cfg.Link.EnqPollTimeout},
		{[]string{"link", "frame_timeout"}, raw.Link.FrameTimeout, &cfg.Link.FrameTimeout},
		{[]string{"transport", "hangup_delay"}, raw.Transport.HangUpDelay, &cfg.Transport.Serial.HangUpDelay},
		{[]string{"transport", "dial_timeout"}, raw.Transport.DialTimeout, &cfg.Transport.DialTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}

	if meta.IsDefined("link", "wait_enq") {
		cfg.Link.WaitENQ = raw.Link.WaitENQ
	}
	if meta.IsDefined("link", "realm") {
		cfg.Link.Realm = strings.TrimSpace(raw.Link.Realm)
	}

	if meta.IsDefined("transport", "kind") {
		cfg.Transport.Kind = strings.ToLower(strings.TrimSpace(raw.Transport.Kind))
	}
	if meta.IsDefined("transport", "device") {
		cfg.Transport.Serial.Device = strings.TrimSpace(raw.Transport.Device)
	}
	if meta.IsDefined("transport", "baud") {
		cfg.Transport.Serial.BaudRate = raw.Transport.Baud
	}
	if meta.IsDefined("transport", "data_bits") {
		cfg.Transport.Serial.DataBits = raw.Transport.DataBits
	}
	if meta.IsDefined("transport", "parity") {
		cfg.Transport.Serial.Parity = strings.TrimSpace(raw.Transport.Parity)
	}
	if meta.IsDefined("transport", "stop_bits") {
		cfg.Transport.Serial.StopBits = strings.TrimSpace(raw.Transport.StopBits)
	}
	if meta.IsDefined("transport", "carrier_detect") {
		cfg.Transport.Serial.CarrierDetect = raw.Transport.CarrierDetect
	}
	if meta.IsDefined("transport", "address") {
		cfg.Transport.Address = strings.TrimSpace(raw.Transport.Address)
	}

	if meta.IsDefined("log", "level") {
		level, err := logger.ParseLevel(raw.Log.Level)
		if err != nil {
			return Config{}, err
		}
		cfg.Log.Level = level
	}
	if meta.IsDefined("log", "backend") {
		cfg.Log.Backend = strings.ToLower(strings.TrimSpace(raw.Log.Backend))
	}

	return cfg, cfg.validate()
}

func (cfg Config) validate() error {
	switch cfg.Transport.Kind {
	case kindSerial:
		if _, err := cfg.Transport.Serial.Mode(); err != nil {
			return err
		}
	case kindTCP, kindTCPListen:
		if cfg.Transport.Address == "" {
			return fmt.Errorf("transport kind %q requires an address", cfg.Transport.Kind)
		}
	default:
		return fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}

	switch cfg.Log.Backend {
	case "slog", "zerolog":
	default:
		return fmt.Errorf("unknown log backend %q", cfg.Log.Backend)
	}

	return nil
}

// linkOptions converts the link settings to visa1 options.
func (s LinkSettings) linkOptions(l logger.Logger) []visa1.LinkOption {
	return []visa1.LinkOption{
		visa1.WithTimeout(s.Timeout),
		visa1.WithWaitENQ(s.WaitENQ),
		visa1.WithPollInterval(s.PollInterval),
		visa1.WithRetryBackoff(s.RetryBackoff),
		visa1.WithChecksumTimeout(s.ChecksumTimeout),
		visa1.WithEnqPollTimeout(s.EnqPollTimeout),
		visa1.WithFrameTimeout(s.FrameTimeout),
		visa1.WithRealm(s.Realm),
		visa1.WithLogger(l),
	}
}

// newLogger builds the logger selected by the log settings.
func (s LogSettings) newLogger() logger.Logger {
	if s.Backend == "zerolog" {
		return logger.NewZerolog(nil, s.Level)
	}

	return logger.NewSlog(s.Level, false)
}

package visa1

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-visa1/logger"
)

// Default link settings.
const (
	DefaultTimeout         = 60 * time.Second // per request handshake budget
	DefaultPollInterval    = 1 * time.Second  // worker liveness re-check
	DefaultRetryBackoff    = 10 * time.Second // pause after a transport fault
	DefaultChecksumTimeout = 2 * time.Second  // wait for the LRC byte after ETX
	DefaultEnqPollTimeout  = 1 * time.Second  // master: wait for STX/EOT after ENQ
	DefaultFrameTimeout    = 10 * time.Second // master: receive one request frame
	DefaultRealm           = "visa1"

	DefaultQueuePrealloc = 16
)

// Setting limits.
const (
	MinTimeout = 100 * time.Millisecond
	MaxTimeout = 10 * time.Minute

	MinInterval = 1 * time.Millisecond
	MaxInterval = 10 * time.Minute
)

// LinkConfig holds the settings of a Link.
type LinkConfig struct {
	timeout time.Duration
	// waitENQ makes the link a tributary station that transmits only
	// after being polled.
	waitENQ bool

	pollInterval    time.Duration
	retryBackoff    time.Duration
	checksumTimeout time.Duration
	enqPollTimeout  time.Duration
	frameTimeout    time.Duration

	realm  string
	logger logger.Logger
	sink   EventSink
}

// NewLinkConfig creates a link configuration.
//
// opts are functional options applied in order; see With* functions.
func NewLinkConfig(opts ...LinkOption) (*LinkConfig, error) {
	cfg := &LinkConfig{
		timeout:         DefaultTimeout,
		waitENQ:         true,
		pollInterval:    DefaultPollInterval,
		retryBackoff:    DefaultRetryBackoff,
		checksumTimeout: DefaultChecksumTimeout,
		enqPollTimeout:  DefaultEnqPollTimeout,
		frameTimeout:    DefaultFrameTimeout,
		realm:           DefaultRealm,
		logger:          logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.sink == nil {
		cfg.sink = NewLoggerSink(cfg.logger)
	}

	return cfg, nil
}

// Timeout returns the per request handshake budget.
func (cfg *LinkConfig) Timeout() time.Duration { return cfg.timeout }

// WaitENQ reports whether requests wait to be polled before transmitting.
func (cfg *LinkConfig) WaitENQ() bool { return cfg.waitENQ }

// PollInterval returns how often an idle worker re-checks the line.
func (cfg *LinkConfig) PollInterval() time.Duration { return cfg.pollInterval }

// RetryBackoff returns the pause after a transport fault.
func (cfg *LinkConfig) RetryBackoff() time.Duration { return cfg.retryBackoff }

// ChecksumTimeout returns the wait for the LRC byte following ETX.
func (cfg *LinkConfig) ChecksumTimeout() time.Duration { return cfg.checksumTimeout }

// EnqPollTimeout returns how long the polling master waits for STX or EOT after ENQ.
func (cfg *LinkConfig) EnqPollTimeout() time.Duration { return cfg.enqPollTimeout }

// FrameTimeout returns how long the polling master waits for a request frame.
func (cfg *LinkConfig) FrameTimeout() time.Duration { return cfg.frameTimeout }

// Realm returns the event source tag.
func (cfg *LinkConfig) Realm() string { return cfg.realm }

// GetLogger returns the configured logger.
func (cfg *LinkConfig) GetLogger() logger.Logger { return cfg.logger }

// EventSink returns the configured event sink.
func (cfg *LinkConfig) EventSink() EventSink { return cfg.sink }

// --- LinkOption ---

// LinkOption is a functional option for configuring a LinkConfig.
type LinkOption interface {
	apply(*LinkConfig) error
}

type linkOptFunc func(*LinkConfig) error

func (f linkOptFunc) apply(cfg *LinkConfig) error { return f(cfg) }

func checkRange(name string, d, lo, hi time.Duration) error {
	if d < lo || d > hi {
		return fmt.Errorf("visa1: %s %v out of range [%v, %v]", name, d, lo, hi)
	}

	return nil
}

// WithTimeout sets the per request handshake budget, [100ms, 10m].
func WithTimeout(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if err := checkRange("timeout", d, MinTimeout, MaxTimeout); err != nil {
			return err
		}
		cfg.timeout = d

		return nil
	})
}

// WithWaitENQ selects whether requests wait for the master's ENQ.
// Enabled by default.
func WithWaitENQ(enabled bool) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		cfg.waitENQ = enabled
		return nil
	})
}

// WithPollInterval sets how often an idle worker re-checks queue and line.
func WithPollInterval(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if err := checkRange("poll interval", d, MinInterval, MaxInterval); err != nil {
			return err
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithRetryBackoff sets the pause after a transport fault before the head
// item is retried.
func WithRetryBackoff(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if err := checkRange("retry backoff", d, MinInterval, MaxInterval); err != nil {
			return err
		}
		cfg.retryBackoff = d

		return nil
	})
}

// WithChecksumTimeout sets the wait for the LRC byte following ETX.
func WithChecksumTimeout(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if err := checkRange("checksum timeout", d, MinInterval, MaxInterval); err != nil {
			return err
		}
		cfg.checksumTimeout = d

		return nil
	})
}

// WithEnqPollTimeout sets the master's wait for STX or EOT after each ENQ.
func WithEnqPollTimeout(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if err := checkRange("ENQ poll timeout", d, MinInterval, MaxInterval); err != nil {
			return err
		}
		cfg.enqPollTimeout = d

		return nil
	})
}

// WithFrameTimeout sets the master's wait for a complete request frame.
func WithFrameTimeout(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if err := checkRange("frame timeout", d, MinInterval, MaxInterval); err != nil {
			return err
		}
		cfg.frameTimeout = d

		return nil
	})
}

// WithRealm sets the source tag of recorded events.
func WithRealm(realm string) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if realm == "" {
			return errors.New("visa1: realm must not be empty")
		}
		cfg.realm = realm

		return nil
	})
}

// WithLogger sets the logger. Unless WithEventSink is given, events are
// written to this logger as well.
func WithLogger(l logger.Logger) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if l == nil {
			return errors.New("visa1: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

// WithEventSink sets where handshake events are recorded.
func WithEventSink(sink EventSink) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if sink == nil {
			return errors.New("visa1: event sink must not be nil")
		}
		cfg.sink = sink

		return nil
	})
}

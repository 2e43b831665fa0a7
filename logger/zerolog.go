package logger

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger is a Logger backed by rs/zerolog.
type ZerologLogger struct {
	logger zerolog.Logger
	level  *atomic.Int32
}

var _ Logger = (*ZerologLogger)(nil)

// NewZerolog creates a zerolog based Logger writing JSON lines to w.
// A nil writer means stdout.
//
// When ENV is "development" the output is rendered with zerolog.ConsoleWriter.
func NewZerolog(w io.Writer, level Level) Logger {
	if w == nil {
		w = os.Stdout
	}
	if os.Getenv("ENV") == "development" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339Nano}
	}

	lv := &atomic.Int32{}
	lv.Store(int32(level))

	return &ZerologLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
		level:  lv,
	}
}

func (l *ZerologLogger) Debug(msg string, keysAndValues ...any) {
	l.log(DebugLevel, msg, keysAndValues)
}

func (l *ZerologLogger) Info(msg string, keysAndValues ...any) {
	l.log(InfoLevel, msg, keysAndValues)
}

func (l *ZerologLogger) Warn(msg string, keysAndValues ...any) {
	l.log(WarnLevel, msg, keysAndValues)
}

func (l *ZerologLogger) Error(msg string, keysAndValues ...any) {
	l.log(ErrorLevel, msg, keysAndValues)
}

func (l *ZerologLogger) Fatal(msg string, keysAndValues ...any) {
	l.log(FatalLevel, msg, keysAndValues)
	os.Exit(1)
}

func (l *ZerologLogger) With(keyValues ...any) Logger {
	return &ZerologLogger{
		logger: l.logger.With().Fields(keyValues).Logger(),
		level:  l.level,
	}
}

func (l *ZerologLogger) Level() Level {
	return Level(l.level.Load())
}

func (l *ZerologLogger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

func (l *ZerologLogger) log(level Level, msg string, keysAndValues []any) {
	if level < l.Level() {
		return
	}

	evt := l.logger.WithLevel(toZerologLevel(level))
	if len(keysAndValues) > 0 {
		evt = evt.Fields(keysAndValues)
	}
	evt.Msg(msg)
}

func toZerologLevel(level Level) zerolog.Level {
	switch level {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.FatalLevel
	}
}

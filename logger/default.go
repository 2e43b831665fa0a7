package logger

import "sync/atomic"

type holder struct{ l Logger }

var defLogger atomic.Pointer[holder]

func init() {
	defLogger.Store(&holder{l: NewSlog(InfoLevel, false)})
}

func current() Logger {
	return defLogger.Load().l
}

// Debug logs at DebugLevel on the package default logger.
func Debug(msg string, keysAndValues ...any) {
	current().Debug(msg, keysAndValues...)
}

// Info logs at InfoLevel on the package default logger.
func Info(msg string, keysAndValues ...any) {
	current().Info(msg, keysAndValues...)
}

// Warn logs at WarnLevel on the package default logger.
func Warn(msg string, keysAndValues ...any) {
	current().Warn(msg, keysAndValues...)
}

// Error logs at ErrorLevel on the package default logger.
func Error(msg string, keysAndValues ...any) {
	current().Error(msg, keysAndValues...)
}

// Fatal logs at FatalLevel on the package default logger and exits.
func Fatal(msg string, keysAndValues ...any) {
	current().Fatal(msg, keysAndValues...)
}

// SetLevel changes the level of the package default logger.
func SetLevel(level Level) {
	current().SetLevel(level)
}

// GetLogger returns the package default logger.
func GetLogger() Logger {
	return current()
}

// SetLogger replaces the package default logger. Nil is ignored.
//
// Links created afterwards without WithLogger pick up the new logger.
func SetLogger(l Logger) {
	if l != nil {
		defLogger.Store(&holder{l: l})
	}
}

// With returns a child of the package default logger.
func With(keyValues ...any) Logger {
	return current().With(keyValues...)
}

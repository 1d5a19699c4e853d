// Package extiolog is the structured logging surface every extio package
// logs through. It mirrors tpie_log.h's single log stream with severity
// levels (log_error/log_warning/log_info/log_debug); the sink the messages
// land on (stderr, a file, a collector) is an external concern by design —
// callers choose it by building the Logger they pass to extioctx.New, and
// every package picks it up through extioctx.Context.
package extiolog

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with the level-named helpers the rest of
// extio calls, in the spirit of tpie's log_error()/log_warning()/...
// free functions.
type Logger struct {
	z zerolog.Logger
}

// Default returns a Logger writing to stderr at info level, the same
// default tpie_log.h ships (a stderr_log_target at a sane threshold).
func Default() *Logger {
	z := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.InfoLevel).
		With().Timestamp().Logger()
	return &Logger{z: z}
}

// Null returns a Logger that discards everything, for tests and for
// progress_enabled=false-style silent runs.
func Null() *Logger {
	return &Logger{z: zerolog.Nop()}
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.z.Error().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.z.Warn().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.z.Info().Msgf(format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.z.Debug().Msgf(format, args...)
}

// WithField returns a Logger that tags every subsequent message with
// key=value, used to attach a phase's unique id or a stream's path to its
// log lines without threading a format string through every call site.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{z: l.z.With().Interface(key, value).Logger()}
}

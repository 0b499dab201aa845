// Package logruslogger adapts a github.com/sirupsen/logrus logger to the
// logger.Logger interface, for hosts that standardize on logrus.
package logruslogger

import (
	"github.com/sirupsen/logrus"

	"github.com/get-eventually/eventledger/logger"
)

var _ logger.Logger = Logger{}

// Logger wraps a logrus.FieldLogger.
type Logger struct {
	entry logrus.FieldLogger
}

// Wrap returns a logger.Logger backed by the provided logrus logger.
func Wrap(l logrus.FieldLogger) Logger {
	return Logger{entry: l}
}

// NewJSON returns a logrus JSON logger at the given level,
// following the way services in the ecosystem usually configure logrus.
func NewJSON(level logrus.Level) Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(level)

	return Wrap(l)
}

func (l Logger) with(fields []logger.Field) logrus.FieldLogger {
	if len(fields) == 0 {
		return l.entry
	}

	lf := make(logrus.Fields, len(fields))
	for _, f := range fields {
		lf[f.Key] = f.Value
	}

	return l.entry.WithFields(lf)
}

// Debug prints a debug log message.
func (l Logger) Debug(msg string, fields ...logger.Field) { l.with(fields).Debug(msg) }

// Info prints an info log message.
func (l Logger) Info(msg string, fields ...logger.Field) { l.with(fields).Info(msg) }

// Warn prints a warning log message.
func (l Logger) Warn(msg string, fields ...logger.Field) { l.with(fields).Warn(msg) }

// Error prints an error log message.
func (l Logger) Error(msg string, fields ...logger.Field) { l.with(fields).Error(msg) }

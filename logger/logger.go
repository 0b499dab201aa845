// Package logger contains the structured logging contract used by the
// long-running components of the ledger (relay, tracking subscriptions,
// processor runners), together with nil-safe helpers.
package logger

// Field represents a structured field to be added to a Log entry.
type Field struct {
	Key   string
	Value any
}

// With is an helper function to add a field in a functional way.
func With(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Err is a shorthand for With("error", err).
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Logger is a structured logger capable of printing information about
// the execution of a component at various levels.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Debug delegates the debug log call to the provided logger, if not nil.
func Debug(l Logger, msg string, fields ...Field) {
	if l != nil {
		l.Debug(msg, fields...)
	}
}

// Info delegates the info log call to the provided logger, if not nil.
func Info(l Logger, msg string, fields ...Field) {
	if l != nil {
		l.Info(msg, fields...)
	}
}

// Warn delegates the warn log call to the provided logger, if not nil.
func Warn(l Logger, msg string, fields ...Field) {
	if l != nil {
		l.Warn(msg, fields...)
	}
}

// Error delegates the error log call to the provided logger, if not nil.
func Error(l Logger, msg string, fields ...Field) {
	if l != nil {
		l.Error(msg, fields...)
	}
}

// Named returns a Logger that adds the provided fields to every entry.
// A nil Logger stays nil.
func Named(l Logger, fields ...Field) Logger {
	if l == nil {
		return nil
	}

	return scoped{parent: l, fields: fields}
}

type scoped struct {
	parent Logger
	fields []Field
}

func (s scoped) merge(fields []Field) []Field {
	all := make([]Field, 0, len(s.fields)+len(fields))
	all = append(all, s.fields...)

	return append(all, fields...)
}

func (s scoped) Debug(msg string, fields ...Field) { s.parent.Debug(msg, s.merge(fields)...) }
func (s scoped) Info(msg string, fields ...Field)  { s.parent.Info(msg, s.merge(fields)...) }
func (s scoped) Warn(msg string, fields ...Field)  { s.parent.Warn(msg, s.merge(fields)...) }
func (s scoped) Error(msg string, fields ...Field) { s.parent.Error(msg, s.merge(fields)...) }

package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/get-eventually/eventledger/logger"
)

type entry struct {
	level  string
	msg    string
	fields []logger.Field
}

type recorder struct{ entries []entry }

func (r *recorder) add(level, msg string, fields []logger.Field) {
	r.entries = append(r.entries, entry{level: level, msg: msg, fields: fields})
}

func (r *recorder) Debug(msg string, fields ...logger.Field) { r.add("debug", msg, fields) }
func (r *recorder) Info(msg string, fields ...logger.Field)  { r.add("info", msg, fields) }
func (r *recorder) Warn(msg string, fields ...logger.Field)  { r.add("warn", msg, fields) }
func (r *recorder) Error(msg string, fields ...logger.Field) { r.add("error", msg, fields) }

func TestHelpersAreNilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		logger.Debug(nil, "debug")
		logger.Info(nil, "info")
		logger.Warn(nil, "warn")
		logger.Error(nil, "error")
	})

	assert.Nil(t, logger.Named(nil, logger.With("a", 1)))
}

func TestNamed(t *testing.T) {
	rec := new(recorder)
	l := logger.Named(rec, logger.With("component", "relay"))

	logger.Info(l, "started", logger.With("cursor", 10))

	assert.Equal(t, []entry{{
		level: "info",
		msg:   "started",
		fields: []logger.Field{
			logger.With("component", "relay"),
			logger.With("cursor", 10),
		},
	}}, rec.entries)
}

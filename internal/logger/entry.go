package logger

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Entry carries metric fields such as duration_ms or rows for a single log
// line, on top of the fields of the context it is logged with.
type Entry struct {
	fields Fields
}

// With creates a new Entry with the given metric fields.
// Example: logger.With(logger.Fields{logger.FieldRows: 10}).Info(ctx, "Batch classified")
func With(fields Fields) *Entry {
	return &Entry{fields: fields}
}

// With returns a copy of e with fields added.
func (e *Entry) With(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{fields: merged}
}

// WithField returns a copy of e with one field added.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return e.With(Fields{key: value})
}

// WithDuration adds duration_ms.
func (e *Entry) WithDuration(ms int64) *Entry { return e.WithField(FieldDurationMs, ms) }

// WithRows adds rows.
func (e *Entry) WithRows(rows int) *Entry { return e.WithField(FieldRows, rows) }

// WithAttempt adds attempt.
func (e *Entry) WithAttempt(attempt int) *Entry { return e.WithField(FieldAttempt, attempt) }

func (e *Entry) log(ctx context.Context, level logrus.Level, format string, args ...interface{}) {
	FromContext(ctx).WithFields(e.fields).Logf(level, format, args...)
}

// Debug logs at Debug level with ctx's fields and e's metric fields.
func (e *Entry) Debug(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.DebugLevel, format, args...)
}

// Info logs at Info level with ctx's fields and e's metric fields.
func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.InfoLevel, format, args...)
}

// Warn logs at Warn level with ctx's fields and e's metric fields.
func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.WarnLevel, format, args...)
}

// Error logs at Error level with ctx's fields and e's metric fields.
func (e *Entry) Error(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.ErrorLevel, format, args...)
}

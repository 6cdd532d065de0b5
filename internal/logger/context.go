package logger

import (
	"context"
	"sync"
)

type contextKey struct{}

var loggerKey = contextKey{}

// defaultLogger is used when ctx carries no logger.
var (
	defaultLogger   = New(nil)
	defaultLoggerMu sync.RWMutex
)

// GetDefault returns the process-wide logger.
func GetDefault() *Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the process-wide logger. A nil l is ignored.
// Parameters:
//   - l: logger to set as default.
//
// Returns: none.
func SetDefaultLogger(l *Logger) {
	if l == nil {
		return
	}
	defaultLoggerMu.Lock()
	defaultLogger = l
	defaultLoggerMu.Unlock()
}

// WithContext returns a new context with the logger attached.
// Parameters:
//   - ctx: existing context to wrap.
//
// Returns:
//   - context.Context: context containing the logger.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger attached to ctx, or the default logger.
// Parameters:
//   - ctx: context to inspect; may be nil.
//
// Returns:
//   - *Logger: logger carrying the context's fields.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*Logger); ok {
			return l
		}
	}
	return GetDefault()
}

// WithField returns a context whose logger carries one more field.
func WithField(ctx context.Context, key string, value interface{}) context.Context {
	return FromContext(ctx).WithField(key, value).WithContext(ctx)
}

// WithFields returns a context whose logger carries fields.
func WithFields(ctx context.Context, fields Fields) context.Context {
	return FromContext(ctx).WithFields(fields).WithContext(ctx)
}

// SetRequestID tags ctx with an HTTP request id.
func SetRequestID(ctx context.Context, id string) context.Context {
	return WithField(ctx, FieldRequestID, id)
}

// SetRun tags ctx with a classification run and the dataset it reads.
func SetRun(ctx context.Context, runID, datasetRef string) context.Context {
	return WithFields(ctx, Fields{FieldRunID: runID, FieldDataset: datasetRef})
}

// SetColumn tags ctx with the column being classified.
func SetColumn(ctx context.Context, column string) context.Context {
	return WithField(ctx, FieldColumn, column)
}

// SetWorker tags ctx with a parallel worker index.
func SetWorker(ctx context.Context, worker int) context.Context {
	return WithField(ctx, FieldWorker, worker)
}

// SetComponent tags ctx with the emitting component.
func SetComponent(ctx context.Context, name string) context.Context {
	return WithField(ctx, FieldComponent, name)
}

func fieldString(ctx context.Context, key string) string {
	s, _ := FromContext(ctx).Data[key].(string)
	return s
}

// GetRequestID returns the request id of ctx, if any.
func GetRequestID(ctx context.Context) string { return fieldString(ctx, FieldRequestID) }

// GetRunID returns the run id of ctx, if any.
func GetRunID(ctx context.Context) string { return fieldString(ctx, FieldRunID) }

// GetColumn returns the column of ctx, if any.
func GetColumn(ctx context.Context) string { return fieldString(ctx, FieldColumn) }

// GetComponent returns the component of ctx, if any.
func GetComponent(ctx context.Context) string { return fieldString(ctx, FieldComponent) }

// GetFields returns a copy of every field carried by ctx's logger.
func GetFields(ctx context.Context) Fields {
	data := FromContext(ctx).Data
	fields := make(Fields, len(data))
	for k, v := range data {
		fields[k] = v
	}
	return fields
}

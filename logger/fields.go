package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across datapump.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldRunID     = "run_id"
	FieldSuite     = "suite"
	FieldJob       = "job"
	FieldComponent = "component"
	FieldWorker    = "worker"

	// Replication
	FieldTable     = "table"
	FieldTarget    = "target"
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldFilter    = "filter"
	FieldPartition = "partition"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldRunStart   = "run_start"
	FieldNextRun    = "next_run"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts and sizes
	FieldCount     = "count"
	FieldExpected  = "expected"
	FieldPublished = "published"
	FieldChunkSize = "chunk_size"
	FieldFirstRow  = "first_row"

	// Status
	FieldStatus = "status"

	// Files, network and symbols
	FieldFile   = "file"
	FieldURL    = "url"
	FieldSymbol = "symbol"
)

// Context keys for propagating logging context
type contextKey string

const (
	runIDKey     contextKey = "logger_run_id"
	suiteKey     contextKey = "logger_suite"
	componentKey contextKey = "logger_component"
)

// WithRunID adds a suite run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithSuite adds a suite name to the context for logging
func WithSuite(ctx context.Context, suite string) context.Context {
	return context.WithValue(ctx, suiteKey, suite)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}
	if suite, ok := ctx.Value(suiteKey).(string); ok && suite != "" {
		fields = append(fields, FieldSuite, suite)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// FromContext returns base with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Scanner struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func NewScanner() *Scanner {
//	    return &Scanner{
//	        logger: logger.ComponentLogger("daemon.scanner"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
//
//	jobLogger := logger.ChildLogger(base, logger.FieldJob, job.Name)
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}

package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging across gometa.
const (
	// Identity and context
	FieldRunID    = "run_id"
	FieldWorkUnit = "work_unit"
	FieldRecordID = "record_id"

	// Components
	FieldComponent = "component"
	FieldPlugin    = "plugin"
	FieldKind      = "kind"
	FieldExtractor = "extractor"

	// Operations
	FieldStage  = "stage"
	FieldURL    = "url"
	FieldStatus = "status"
	FieldState  = "state"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"

	// Counts and sizes
	FieldCount     = "count"
	FieldBatchSize = "batch_size"
	FieldWorkers   = "workers"

	// Files and paths
	FieldFile = "file"
	FieldPath = "path"

	// Metadata
	FieldEntityURN = "entity_urn"
	FieldAspect    = "aspect"
)

type contextKey string

const (
	runIDKey     contextKey = "logger_run_id"
	workUnitKey  contextKey = "logger_work_unit"
	componentKey contextKey = "logger_component"
)

// WithRunID adds a pipeline run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithWorkUnit adds a work unit ID to the context for logging
func WithWorkUnit(ctx context.Context, unitID string) context.Context {
	return context.WithValue(ctx, workUnitKey, unitID)
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
	if unitID, ok := ctx.Value(workUnitKey).(string); ok && unitID != "" {
		fields = append(fields, FieldWorkUnit, unitID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns base (or the global logger when base is nil)
// decorated with the run and work unit fields carried by ctx.
func LoggerFromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
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
//	type Sink struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func New() *Sink {
//	    return &Sink{logger: logger.ComponentLogger("sink.sqlite")}
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

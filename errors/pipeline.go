package errors

import "fmt"

// Pipeline error taxonomy.
//
// Configuration errors are fatal at construction. Run errors are fatal during
// a run and always carry the plugin kind, key and stage they came from.
// Per-record write failures never appear here: they travel through write
// callbacks and end up in reports.
var (
	// ErrConfiguration marks any error that makes a pipeline unconstructable:
	// unknown plugin keys, malformed recipes, unresolvable extractor names.
	ErrConfiguration = New("configuration error")

	// ErrRunFailed marks an unrecoverable error during a pipeline run.
	ErrRunFailed = New("pipeline run failed")

	// ErrAlreadyRun is returned when Run is called on a pipeline that has
	// already left the constructed state.
	ErrAlreadyRun = New("pipeline already run")

	// ErrUnacknowledgedWrites is returned when a sink finished closing while
	// some submitted records never had their callback invoked.
	ErrUnacknowledgedWrites = New("writes left unacknowledged after sink close")

	// ErrPoolClosed is reported to callbacks of writes submitted after a write
	// pool was drained.
	ErrPoolClosed = New("write pool closed")
)

// Plugin kinds used in error context.
const (
	KindSource    = "source"
	KindSink      = "sink"
	KindExtractor = "extractor"
	KindRecipe    = "recipe"
)

// ConfigurationError names the plugin kind and key that could not be
// configured.
type ConfigurationError struct {
	Kind   string
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Key == "":
		return fmt.Sprintf("invalid %s configuration: %s", e.Kind, e.Reason)
	case e.Reason == "":
		return fmt.Sprintf("invalid %s configuration for %q", e.Kind, e.Key)
	default:
		return fmt.Sprintf("invalid %s configuration for %q: %s", e.Kind, e.Key, e.Reason)
	}
}

// NewConfigurationError builds a ConfigurationError marked with
// ErrConfiguration and carrying a stack trace.
func NewConfigurationError(kind, key, format string, args ...interface{}) error {
	cfgErr := &ConfigurationError{
		Kind:   kind,
		Key:    key,
		Reason: fmt.Sprintf(format, args...),
	}
	return WithStack(Mark(cfgErr, ErrConfiguration))
}

// WrapConfigurationError wraps a plugin construction failure as a
// configuration error for kind/key.
func WrapConfigurationError(err error, kind, key string) error {
	if err == nil {
		return nil
	}
	cfgErr := &ConfigurationError{Kind: kind, Key: key, Reason: err.Error()}
	return WithSecondaryError(WithStack(Mark(cfgErr, ErrConfiguration)), err)
}

// IsConfigurationError checks if an error is or wraps ErrConfiguration.
func IsConfigurationError(err error) bool {
	return err != nil && Is(err, ErrConfiguration)
}

// NewRunError wraps a fatal run error with the plugin kind, key and stage
// it came from, and marks it with ErrRunFailed.
func NewRunError(err error, kind, key, stage string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrapf(err, "%s %q: %s", kind, key, stage), ErrRunFailed)
}

// IsRunFailed checks if an error is or wraps ErrRunFailed.
func IsRunFailed(err error) bool {
	return err != nil && Is(err, ErrRunFailed)
}

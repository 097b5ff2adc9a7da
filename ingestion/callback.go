package ingestion

// WriteCallback acknowledges one asynchronous write. A sink must invoke
// exactly one of the two methods exactly once per envelope it accepted.
// Implementations must not panic and must be safe for concurrent use.
type WriteCallback interface {
	OnSuccess(env *RecordEnvelope, meta map[string]any)
	OnFailure(env *RecordEnvelope, err error, meta map[string]any)
}

// WriteCallbackFuncs adapts a pair of functions to WriteCallback. Nil
// functions are skipped.
type WriteCallbackFuncs struct {
	Success func(env *RecordEnvelope, meta map[string]any)
	Failure func(env *RecordEnvelope, err error, meta map[string]any)
}

func (f WriteCallbackFuncs) OnSuccess(env *RecordEnvelope, meta map[string]any) {
	if f.Success != nil {
		f.Success(env, meta)
	}
}

func (f WriteCallbackFuncs) OnFailure(env *RecordEnvelope, err error, meta map[string]any) {
	if f.Failure != nil {
		f.Failure(env, err, meta)
	}
}

// NoopWriteCallback discards acknowledgements.
var NoopWriteCallback WriteCallback = WriteCallbackFuncs{}

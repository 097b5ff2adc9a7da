package emitter

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/metadata"
)

// StreamEmitter writes each proposal as one JSON document to a writer.
type StreamEmitter struct {
	mu     sync.Mutex
	w      io.Writer
	pretty bool
	count  int
}

func newStream(opts Options) *StreamEmitter {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	return &StreamEmitter{w: w, pretty: opts.Pretty}
}

func (e *StreamEmitter) Transport() Transport { return TransportStream }

// Emit writes one proposal. Writes are serialized so documents never
// interleave.
func (e *StreamEmitter) Emit(ctx context.Context, p *metadata.ChangeProposal) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var (
		out []byte
		err error
	)
	if e.pretty {
		out, err = json.MarshalIndent(p, "", "  ")
	} else {
		out, err = json.Marshal(p)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode proposal")
	}
	out = append(out, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.w.Write(out)
	if err != nil {
		return nil, errors.Wrap(err, "failed to write proposal")
	}
	e.count++
	return map[string]any{"bytes": n, "offset": e.count - 1}, nil
}

// Close flushes the writer when it supports Sync.
func (e *StreamEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.w.(interface{ Sync() error }); ok && e.w != os.Stdout && e.w != os.Stderr {
		return s.Sync()
	}
	return nil
}

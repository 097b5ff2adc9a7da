// Package emitter sends change proposals to a metadata service. The
// transport is a closed set of variants chosen once by New; callers use the
// Emitter interface without knowing which one they hold.
package emitter

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/metadata"
	"go.uber.org/zap"
)

// Transport names an emitter variant.
type Transport string

const (
	// TransportREST posts proposals to the metadata service's REST API.
	TransportREST Transport = "rest"
	// TransportStream writes proposals as JSON lines to a stream.
	TransportStream Transport = "stream"
)

// ParseTransport parses a transport name.
func ParseTransport(s string) (Transport, error) {
	switch t := Transport(strings.ToLower(strings.TrimSpace(s))); t {
	case TransportREST, TransportStream:
		return t, nil
	default:
		return "", errors.NewInvalidRequestError("unknown transport %q (want rest or stream)", s)
	}
}

// Emitter delivers one proposal at a time. Emit is safe for concurrent use
// and returns metadata describing the delivery.
type Emitter interface {
	Emit(ctx context.Context, p *metadata.ChangeProposal) (map[string]any, error)
	Transport() Transport
	Close() error
}

// Options configures every transport; each variant reads only its fields.
type Options struct {
	// REST
	Server            string
	Token             string
	Timeout           time.Duration
	MaxRetries        int
	RetryWaitMin      time.Duration
	RetryWaitMax      time.Duration
	RequestsPerSecond float64
	ExtraHeaders      map[string]string

	// Stream
	Writer io.Writer
	Pretty bool

	Logger *zap.SugaredLogger
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		Timeout:      30 * time.Second,
		MaxRetries:   3,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 10 * time.Second,
		Writer:       os.Stdout,
	}
}

// New builds the emitter for transport t.
func New(t Transport, opts Options) (Emitter, error) {
	switch t {
	case TransportREST:
		return newREST(opts)
	case TransportStream:
		return newStream(opts), nil
	default:
		return nil, errors.NewInvalidRequestError("unknown transport %q", t)
	}
}

package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/logger"
	"github.com/divyamanohar-stripe/datahub/metadata"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	ingestPath         = "/aspects?action=ingestProposal"
	configPath         = "/config"
	restliHeader       = "X-RestLi-Protocol-Version"
	restliVersion      = "2.0.0"
	maxErrorBodyLength = 512
)

// RESTEmitter posts proposals to {server}/aspects?action=ingestProposal.
// Connection errors and 5xx responses are retried; 4xx responses are not.
type RESTEmitter struct {
	server  string
	token   string
	headers map[string]string
	client  *retryablehttp.Client
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

func newREST(opts Options) (*RESTEmitter, error) {
	defaults := DefaultOptions()
	if opts.Server == "" {
		return nil, errors.WithHint(
			errors.NewInvalidRequestError("rest transport requires a server address"),
			"set server: http://localhost:8080 in the sink config",
		)
	}
	u, err := url.Parse(opts.Server)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.NewInvalidRequestError("invalid server address %q", opts.Server)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = defaults.RetryWaitMin
	}
	if opts.RetryWaitMax < opts.RetryWaitMin {
		opts.RetryWaitMax = opts.RetryWaitMin
	}
	log := opts.Logger
	if log == nil {
		log = logger.ComponentLogger("emitter.rest")
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.MaxRetries
	client.RetryWaitMin = opts.RetryWaitMin
	client.RetryWaitMax = opts.RetryWaitMax
	client.HTTPClient.Timeout = opts.Timeout
	client.Logger = leveledLogger{log}
	// hand back the last response instead of a generic "giving up" error
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	e := &RESTEmitter{
		server:  strings.TrimRight(opts.Server, "/"),
		token:   opts.Token,
		headers: opts.ExtraHeaders,
		client:  client,
		logger:  log,
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return e, nil
}

func (e *RESTEmitter) Transport() Transport { return TransportREST }

// Emit posts one proposal.
func (e *RESTEmitter) Emit(ctx context.Context, p *metadata.ChangeProposal) (map[string]any, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]any{"proposal": p})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode proposal")
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "rate limiter")
		}
	}

	endpoint := e.server + ingestPath
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(restliHeader, restliVersion)
	e.authorize(req.Header)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "POST %s", endpoint)
	}
	defer resp.Body.Close()

	meta := map[string]any{
		"status":     resp.StatusCode,
		"entity_urn": p.EntityURN,
		"aspect":     p.AspectName,
	}
	if resp.StatusCode >= 300 {
		return meta, statusError(resp, endpoint)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return meta, nil
}

// TestConnection checks that the server answers its config endpoint.
func (e *RESTEmitter) TestConnection(ctx context.Context) error {
	endpoint := e.server + configPath
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	e.authorize(req.Header)

	resp, err := e.client.Do(req)
	if err != nil {
		return errors.WithHint(errors.Wrapf(err, "GET %s", endpoint), "is the metadata service running?")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp, endpoint)
	}
	return nil
}

func (e *RESTEmitter) authorize(h http.Header) {
	for k, v := range e.headers {
		h.Set(k, v)
	}
	if e.token != "" {
		h.Set("Authorization", "Bearer "+e.token)
	}
}

// Close releases idle connections.
func (e *RESTEmitter) Close() error {
	e.client.HTTPClient.CloseIdleConnections()
	return nil
}

func statusError(resp *http.Response, endpoint string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLength))
	err := errors.Newf("%s %s returned %d", resp.Request.Method, endpoint, resp.StatusCode)
	if len(bytes.TrimSpace(snippet)) > 0 {
		err = errors.WithDetail(err, string(bytes.TrimSpace(snippet)))
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		err = errors.Mark(err, errors.ErrInvalidRequest)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			err = errors.WithHint(err, "check the token in the sink config")
		}
	} else {
		err = errors.Mark(err, errors.ErrServiceUnavailable)
	}
	return err
}

// leveledLogger adapts zap to retryablehttp's LeveledLogger.
type leveledLogger struct {
	l *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.l.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.l.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.l.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.l.Warnw(msg, keysAndValues...)
}

var _ retryablehttp.LeveledLogger = leveledLogger{}

func (e *RESTEmitter) String() string {
	return fmt.Sprintf("rest(%s)", e.server)
}

package datasource

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/yourusername/fleetwatch/internal/model"
	"go.uber.org/zap"
)

// Request identifies one resource on one cluster
type Request struct {
	Path      string
	Cluster   string // cluster context passed to the agent
	Namespace string
	Params    url.Values
}

func (r Request) query() url.Values {
	q := url.Values{}
	for k, vs := range r.Params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if r.Cluster != "" {
		q.Set("cluster", r.Cluster)
	}
	if r.Namespace != "" {
		q.Set("namespace", r.Namespace)
	}
	return q
}

// Fetcher issues bounded-timeout requests to the agent, one cluster at a time.
// It never touches failure tracking or the gate's state.
type Fetcher struct {
	client  *AgentClient
	gate    *AvailabilityGate
	timeout time.Duration
	logger  *zap.Logger
}

// NewFetcher creates a fetcher. A non-positive timeout uses DefaultFetchTimeout.
func NewFetcher(client *AgentClient, gate *AvailabilityGate, timeout time.Duration, logger *zap.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Fetcher{
		client:  client,
		gate:    gate,
		timeout: timeout,
		logger:  logger,
	}
}

// Timeout returns the per-request timeout
func (f *Fetcher) Timeout() time.Duration {
	return f.timeout
}

// Fetch retrieves and decodes one resource from one cluster. Every failure
// comes back as an Outcome with OK false.
func Fetch[T any](ctx context.Context, f *Fetcher, req Request, decode Decoder[T]) model.Outcome[T] {
	fail := func(kind model.FetchErrorKind, status int, err error) model.Outcome[T] {
		return model.Fail[T](&model.FetchError{
			Kind:       kind,
			Cluster:    req.Cluster,
			Path:       req.Path,
			StatusCode: status,
			Err:        err,
		})
	}

	if f.gate != nil && f.gate.IsUnavailable() {
		return fail(model.FetchUnavailable, 0, model.ErrAgentUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, err := f.client.Get(ctx, req.Path, req.query())
	if err != nil {
		var statusErr *StatusError
		switch {
		case errors.As(err, &statusErr):
			return fail(model.FetchStatus, statusErr.StatusCode, err)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return fail(model.FetchTimeout, 0, err)
		default:
			return fail(model.FetchNetwork, 0, err)
		}
	}

	items, err := decode(body)
	if err != nil {
		return fail(model.FetchDecode, 0, err)
	}

	return model.Succeed(items)
}

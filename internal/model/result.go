package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Resource is an agent item whose shape is opaque to the aggregation layer
type Resource map[string]any

// MetricSample is one element of a Prometheus instant vector
type MetricSample struct {
	Metric    map[string]string `json:"metric"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
}

// Item is a value tagged with the cluster it came from
type Item[T any] struct {
	Cluster string
	Value   T
}

// MarshalJSON flattens object values and adds a "cluster" key.
// Non-object values are wrapped as {"cluster": ..., "value": ...}.
func (i Item[T]) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(i.Value)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, err
		}
		if fields == nil {
			fields = make(map[string]json.RawMessage, 1)
		}
		cluster, _ := json.Marshal(i.Cluster)
		fields["cluster"] = cluster
		return json.Marshal(fields)
	}

	return json.Marshal(struct {
		Cluster string          `json:"cluster"`
		Value   json.RawMessage `json:"value"`
	}{Cluster: i.Cluster, Value: raw})
}

// Result is the merged outcome of one aggregation round
type Result[T any] struct {
	Items     []Item[T] `json:"items"`
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
}

// Failed reports whether every attempted cluster failed
func (r *Result[T]) Failed() bool {
	return r == nil || r.Succeeded == 0
}

// Partial reports whether some, but not all, clusters succeeded
func (r *Result[T]) Partial() bool {
	return r != nil && r.Succeeded > 0 && r.Succeeded < r.Attempted
}

// FetchErrorKind classifies a failed fetch
type FetchErrorKind string

const (
	FetchUnavailable FetchErrorKind = "unavailable"
	FetchTimeout     FetchErrorKind = "timeout"
	FetchNetwork     FetchErrorKind = "network"
	FetchStatus      FetchErrorKind = "status"
	FetchDecode      FetchErrorKind = "decode"
)

// ErrAgentUnavailable is wrapped by fetch errors skipped by the availability gate
var ErrAgentUnavailable = errors.New("agent unavailable")

// FetchError describes why a fetch against one cluster failed
type FetchError struct {
	Kind       FetchErrorKind
	Cluster    string
	Path       string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s from cluster %q: %s", e.Path, e.Cluster, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// AgentAnswered reports whether the agent responded at all. Only status and
// decode failures carry a response.
func (e *FetchError) AgentAnswered() bool {
	return e != nil && (e.Kind == FetchStatus || e.Kind == FetchDecode)
}

// Outcome is the result of fetching one resource from one cluster
type Outcome[T any] struct {
	OK    bool
	Items []T
	Err   *FetchError
}

// Succeed builds a successful outcome; nil items become an empty slice
func Succeed[T any](items []T) Outcome[T] {
	if items == nil {
		items = []T{}
	}
	return Outcome[T]{OK: true, Items: items}
}

// Fail builds a failed outcome
func Fail[T any](err *FetchError) Outcome[T] {
	return Outcome[T]{Err: err}
}

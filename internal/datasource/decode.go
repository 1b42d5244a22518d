package datasource

import (
	"encoding/json"
	"fmt"

	"github.com/prometheus/common/model"

	fwmodel "github.com/yourusername/fleetwatch/internal/model"
)

// Decoder turns a 2xx agent body into items
type Decoder[T any] func(body []byte) ([]T, error)

// ItemsKey decodes bodies shaped like {"<key>": [...]}. A missing key is a
// decode failure; an explicit null decodes to no items.
func ItemsKey[T any](key string) Decoder[T] {
	return func(body []byte) ([]T, error) {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}

		raw, ok := envelope[key]
		if !ok {
			return nil, fmt.Errorf("response has no %q field", key)
		}

		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to decode %q: %w", key, err)
		}
		if items == nil {
			items = []T{}
		}
		return items, nil
	}
}

type promResponse struct {
	Status    string `json:"status"`
	ErrorType string `json:"errorType,omitempty"`
	Error     string `json:"error,omitempty"`
	Data      struct {
		ResultType string          `json:"resultType"`
		Result     json.RawMessage `json:"result"`
	} `json:"data"`
}

// PrometheusVector decodes a Prometheus instant-query response into samples.
// Any status other than "success" or a non-vector result is a decode error.
func PrometheusVector() Decoder[fwmodel.MetricSample] {
	return func(body []byte) ([]fwmodel.MetricSample, error) {
		var resp promResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode prometheus response: %w", err)
		}
		if resp.Status != "success" {
			return nil, fmt.Errorf("prometheus query failed: %s %s", resp.ErrorType, resp.Error)
		}
		if resp.Data.ResultType != "" && resp.Data.ResultType != model.ValVector.String() {
			return nil, fmt.Errorf("unsupported prometheus result type %q", resp.Data.ResultType)
		}
		if len(resp.Data.Result) == 0 {
			return []fwmodel.MetricSample{}, nil
		}

		var vector model.Vector
		if err := json.Unmarshal(resp.Data.Result, &vector); err != nil {
			return nil, fmt.Errorf("failed to decode prometheus vector: %w", err)
		}

		samples := make([]fwmodel.MetricSample, 0, len(vector))
		for _, s := range vector {
			labels := make(map[string]string, len(s.Metric))
			for name, value := range s.Metric {
				labels[string(name)] = string(value)
			}
			samples = append(samples, fwmodel.MetricSample{
				Metric:    labels,
				Value:     float64(s.Value),
				Timestamp: s.Timestamp.Time(),
			})
		}
		return samples, nil
	}
}

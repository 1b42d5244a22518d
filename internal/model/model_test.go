package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestItemMarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		item any
		want string
	}{
		{
			name: "object is flattened",
			item: Item[Resource]{Cluster: "prod", Value: Resource{"name": "a1"}},
			want: `{"cluster":"prod","name":"a1"}`,
		},
		{
			name: "cluster tag wins over a value field",
			item: Item[Resource]{Cluster: "prod", Value: Resource{"cluster": "other"}},
			want: `{"cluster":"prod"}`,
		},
		{
			name: "struct value",
			item: Item[MetricSample]{Cluster: "dev", Value: MetricSample{Metric: map[string]string{"namespace": "default"}, Value: 1.5}},
			want: `{"cluster":"dev","metric":{"namespace":"default"},"timestamp":"0001-01-01T00:00:00Z","value":1.5}`,
		},
		{
			name: "scalar is wrapped",
			item: Item[int]{Cluster: "dev", Value: 3},
			want: `{"cluster":"dev","value":3}`,
		},
		{
			name: "nil map is wrapped",
			item: Item[Resource]{Cluster: "dev"},
			want: `{"cluster":"dev","value":null}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.item)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestResultHelpers(t *testing.T) {
	var none *Result[int]
	if !none.Failed() || none.Partial() {
		t.Error("Expected a nil result to count as failed and not partial")
	}

	tests := []struct {
		name               string
		attempted, success int
		failed, partial    bool
	}{
		{"all failed", 3, 0, true, false},
		{"partial", 3, 1, false, true},
		{"complete", 2, 2, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Result[int]{Attempted: tt.attempted, Succeeded: tt.success}
			if r.Failed() != tt.failed || r.Partial() != tt.partial {
				t.Errorf("Expected failed=%v partial=%v, got %v %v", tt.failed, tt.partial, r.Failed(), r.Partial())
			}
		})
	}
}

func TestFetchError(t *testing.T) {
	err := &FetchError{Kind: FetchUnavailable, Cluster: "prod", Path: "/x", Err: ErrAgentUnavailable}
	if !errors.Is(err, ErrAgentUnavailable) {
		t.Error("Expected FetchError to unwrap to ErrAgentUnavailable")
	}

	status := &FetchError{Kind: FetchStatus, Cluster: "dev", Path: "/pods", StatusCode: 502}
	if got := status.Error(); got != `fetch /pods from cluster "dev": status (status 502)` {
		t.Errorf("Unexpected message %q", got)
	}
}

func TestFetchErrorAgentAnswered(t *testing.T) {
	tests := []struct {
		kind FetchErrorKind
		want bool
	}{
		{FetchStatus, true},
		{FetchDecode, true},
		{FetchTimeout, false},
		{FetchNetwork, false},
		{FetchUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := &FetchError{Kind: tt.kind}
			if got := err.AgentAnswered(); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}

	var none *FetchError
	if none.AgentAnswered() {
		t.Error("Expected a nil error not to count as an answer")
	}
}

func TestSucceedNormalisesNil(t *testing.T) {
	out := Succeed[int](nil)
	if !out.OK || out.Items == nil {
		t.Errorf("Expected OK with empty slice, got %+v", out)
	}
}

func TestClusterDescriptor(t *testing.T) {
	unknown := ClusterDescriptor{Name: "a"}
	if !unknown.IsReachable() {
		t.Error("Expected unknown reachability to count as reachable")
	}

	down := ClusterDescriptor{Name: "b", Reachable: Reachability(false)}
	if down.IsReachable() {
		t.Error("Expected unreachable cluster")
	}

	clone := down.Clone()
	*clone.Reachable = true
	if *down.Reachable {
		t.Error("Expected Clone not to share the Reachable pointer")
	}
}

func TestSnapshotErase(t *testing.T) {
	snap := Snapshot[int]{Source: "s", Data: []Item[int]{{Cluster: "a", Value: 1}}, Mode: ModeLive}
	st := snap.Erase()
	if st.Error != nil || st.Count != 1 {
		t.Errorf("Expected nil error and count 1, got %+v", st)
	}

	snap.Error = "boom"
	if st := snap.Erase(); st.Error == nil || *st.Error != "boom" {
		t.Errorf("Expected error to be carried, got %+v", st.Error)
	}
}

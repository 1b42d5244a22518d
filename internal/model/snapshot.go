package model

import "time"

// Mode is the display mode of a data source
type Mode string

const (
	// ModeLive means the consumer is showing aggregated data
	ModeLive Mode = "LIVE"
	// ModeDegraded means the consumer is showing fallback data while polling continues
	ModeDegraded Mode = "DEGRADED"
)

// Snapshot is the uniform per-source state handed to consumers
type Snapshot[T any] struct {
	Source              string     `json:"source"`
	Data                []Item[T]  `json:"data"`
	IsLoading           bool       `json:"isLoading"`
	IsRefreshing        bool       `json:"isRefreshing"`
	Error               string     `json:"error"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	IsDemo              bool       `json:"isDemo"`
	Mode                Mode       `json:"mode"`
	Attempted           int        `json:"attempted"`
	Succeeded           int        `json:"succeeded"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// SourceState is a type-erased Snapshot for generic consumers
type SourceState struct {
	Source              string     `json:"source"`
	Data                any        `json:"data"`
	Count               int        `json:"count"`
	IsLoading           bool       `json:"isLoading"`
	IsRefreshing        bool       `json:"isRefreshing"`
	Error               *string    `json:"error"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	IsDemo              bool       `json:"isDemo"`
	Mode                Mode       `json:"mode"`
	Attempted           int        `json:"attempted"`
	Succeeded           int        `json:"succeeded"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Erase converts a Snapshot into a SourceState
func (s Snapshot[T]) Erase() SourceState {
	st := SourceState{
		Source:              s.Source,
		Data:                s.Data,
		Count:               len(s.Data),
		IsLoading:           s.IsLoading,
		IsRefreshing:        s.IsRefreshing,
		ConsecutiveFailures: s.ConsecutiveFailures,
		IsDemo:              s.IsDemo,
		Mode:                s.Mode,
		Attempted:           s.Attempted,
		Succeeded:           s.Succeeded,
		LastSuccessAt:       s.LastSuccessAt,
		UpdatedAt:           s.UpdatedAt,
	}
	if s.Error != "" {
		msg := s.Error
		st.Error = &msg
	}
	return st
}

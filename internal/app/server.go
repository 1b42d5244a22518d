package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yourusername/fleetwatch/internal/cache"
	"github.com/yourusername/fleetwatch/internal/datasource"
	"github.com/yourusername/fleetwatch/internal/model"
	"go.uber.org/zap"
)

const (
	refetchTimeout     = 30 * time.Second
	agentHealthTimeout = 3 * time.Second
)

// sourceSummary is one entry of GET /api/sources
type sourceSummary struct {
	Source              string     `json:"source"`
	Description         string     `json:"description"`
	Mode                model.Mode `json:"mode"`
	Count               int        `json:"count"`
	IsDemo              bool       `json:"isDemo"`
	IsLoading           bool       `json:"isLoading"`
	IsRefreshing        bool       `json:"isRefreshing"`
	Error               *string    `json:"error"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

type agentResponse struct {
	URL    string                  `json:"url"`
	Gate   datasource.GateStatus   `json:"gate"`
	Health *datasource.AgentHealth `json:"health,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler builds the HTTP API. Requests under /api/ count as activity for
// idle, which may be nil.
func (a *App) Handler(idle *cache.IdleVisibility) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/sources", a.handleSources)
	mux.HandleFunc("GET /api/sources/{name}", a.handleSource)
	mux.HandleFunc("POST /api/sources/{name}/refetch", a.handleRefetch)
	mux.HandleFunc("GET /api/clusters", a.handleClusters)
	mux.HandleFunc("GET /api/agent", a.handleAgent)
	mux.HandleFunc("GET /api/diagnostics", a.handleDiagnostics)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	return a.withActivity(idle, mux)
}

// Serve runs the HTTP API until ctx is cancelled
func (a *App) Serve(ctx context.Context, idle *cache.IdleVisibility) error {
	srv := &http.Server{
		Addr:              a.config.ServeAddr,
		Handler:           a.Handler(idle),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP API listening", zap.String("addr", a.config.ServeAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err, ok := <-errChan:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}
	a.logger.Info("HTTP API stopped")
	return nil
}

func (a *App) withActivity(idle *cache.IdleVisibility, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if idle != nil && strings.HasPrefix(r.URL.Path, "/api/") {
			idle.Touch()
		}
		a.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r)
	})
}

func (a *App) handleSources(w http.ResponseWriter, r *http.Request) {
	out := make([]sourceSummary, 0, len(a.runners))
	for _, runner := range a.runners {
		st := runner.State()
		out = append(out, sourceSummary{
			Source:              st.Source,
			Description:         datasource.Describe(st.Source),
			Mode:                st.Mode,
			Count:               st.Count,
			IsDemo:              st.IsDemo,
			IsLoading:           st.IsLoading,
			IsRefreshing:        st.IsRefreshing,
			Error:               st.Error,
			ConsecutiveFailures: st.ConsecutiveFailures,
			UpdatedAt:           st.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleSource(w http.ResponseWriter, r *http.Request) {
	runner, ok := a.Runner(r.PathValue("name"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown source"})
		return
	}
	writeJSON(w, http.StatusOK, runner.State())
}

func (a *App) handleRefetch(w http.ResponseWriter, r *http.Request) {
	runner, ok := a.Runner(r.PathValue("name"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown source"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), refetchTimeout)
	defer cancel()

	if err := runner.Refetch(ctx); err != nil {
		a.logger.Warn("Refetch failed", zap.String("source", runner.Name()), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, runner.State())
}

func (a *App) handleClusters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.registry.All())
}

func (a *App) handleAgent(w http.ResponseWriter, r *http.Request) {
	resp := agentResponse{
		URL:  a.agent.URL(),
		Gate: a.gate.Status(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), agentHealthTimeout)
	defer cancel()
	health, err := a.agent.Health(ctx)
	if err != nil {
		resp.Error = "agent health check failed"
		a.logger.Debug("Agent health check failed", zap.Error(err))
	} else {
		resp.Health = health
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refetchTimeout)
	defer cancel()

	refresh := r.URL.Query().Get("refresh") == "true"
	writeJSON(w, http.StatusOK, a.Diagnose(ctx, refresh))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

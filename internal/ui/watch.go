package ui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/yourusername/fleetwatch/internal/cache"
	"github.com/yourusername/fleetwatch/internal/datasource"
	"github.com/yourusername/fleetwatch/internal/model"
	"go.uber.org/zap"
)

const (
	refetchTimeout = 30 * time.Second
	maxItemRows    = 40
)

// Backend is what the watch view reads from
type Backend interface {
	Runners() []datasource.Runner
	Clusters() []model.ClusterDescriptor
	AgentStatus() datasource.GateStatus
}

// KeyMap defines key bindings
type KeyMap struct {
	Quit    key.Binding
	Refresh key.Binding
	Up      key.Binding
	Down    key.Binding
	Tab     key.Binding
}

// DefaultKeyMap returns the default key bindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refetch"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Tab: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "sources/clusters"),
		),
	}
}

type stateChangedMsg struct{}

type refetchDoneMsg struct {
	source string
	err    error
}

// Model is the watch view. Terminal focus drives the scheduler's visibility.
type Model struct {
	backend Backend
	focus   *cache.StaticVisibility
	logger  *zap.Logger
	version string
	keys    KeyMap
	spinner spinner.Model

	selected     int
	showClusters bool
	lastErr      string
	width        int
	height       int

	changes chan struct{}
	done    chan struct{}
	unsubs  []func()
	closed  bool
	now     func() time.Time
}

// NewModel creates the watch view and subscribes to every feed
func NewModel(backend Backend, focus *cache.StaticVisibility, logger *zap.Logger, version string) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = StyleInfo

	m := &Model{
		backend: backend,
		focus:   focus,
		logger:  logger,
		version: version,
		keys:    DefaultKeyMap(),
		spinner: s,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
		now:     time.Now,
	}

	for _, r := range backend.Runners() {
		ch, unsub := r.Subscribe()
		m.unsubs = append(m.unsubs, unsub)
		go m.forward(ch)
	}

	return m
}

// forward folds one feed's notifications into the shared changes channel
func (m *Model) forward(ch <-chan struct{}) {
	for {
		select {
		case <-m.done:
			return
		case <-ch:
			select {
			case m.changes <- struct{}{}:
			default:
			}
		}
	}
}

// Close cancels every subscription. It is safe to call more than once.
func (m *Model) Close() {
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
	for _, unsub := range m.unsubs {
		unsub()
	}
}

// Init initializes the model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.waitForChange(),
	)
}

func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.changes:
			return stateChangedMsg{}
		case <-m.done:
			return nil
		}
	}
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.FocusMsg:
		m.setVisible(true)
		return m, nil

	case tea.BlurMsg:
		m.setVisible(false)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case stateChangedMsg:
		return m, m.waitForChange()

	case refetchDoneMsg:
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("refetch %s: %v", msg.source, msg.err)
		} else {
			m.lastErr = ""
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.Close()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Tab):
			m.showClusters = !m.showClusters
		case key.Matches(msg, m.keys.Up):
			if m.selected > 0 {
				m.selected--
			}
		case key.Matches(msg, m.keys.Down):
			if m.selected < len(m.backend.Runners())-1 {
				m.selected++
			}
		case key.Matches(msg, m.keys.Refresh):
			return m, m.refetch()
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) setVisible(visible bool) {
	if m.focus == nil {
		return
	}
	m.logger.Debug("Terminal focus changed", zap.Bool("visible", visible))
	m.focus.Set(visible)
}

func (m *Model) refetch() tea.Cmd {
	runner := m.selectedRunner()
	if runner == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refetchTimeout)
		defer cancel()
		return refetchDoneMsg{source: runner.Name(), err: runner.Refetch(ctx)}
	}
}

func (m *Model) selectedRunner() datasource.Runner {
	runners := m.backend.Runners()
	if m.selected < 0 || m.selected >= len(runners) {
		return nil
	}
	return runners[m.selected]
}

// View renders the watch view
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	if m.showClusters {
		b.WriteString(m.renderClusters())
	} else {
		b.WriteString(m.renderSources())
		b.WriteString("\n")
		b.WriteString(m.renderItems())
	}

	if m.lastErr != "" {
		b.WriteString("\n")
		b.WriteString(StyleError.Render(m.lastErr))
	}

	b.WriteString("\n\n")
	b.WriteString(strings.Join([]string{
		RenderKeyBinding("↑/↓", "select"),
		RenderKeyBinding("r", "refetch"),
		RenderKeyBinding("tab", "sources/clusters"),
		RenderKeyBinding("q", "quit"),
	}, "  "))

	return b.String()
}

func (m *Model) renderHeader() string {
	title := StyleTitle.Render("fleetwatch " + m.version)

	gate := m.backend.AgentStatus()
	agent := StyleLive.Render("agent up")
	if !gate.Available {
		agent = StyleError.Render("agent down")
		if gate.Reason != "" {
			agent += " " + StyleTextMuted.Render(truncate(gate.Reason, 60))
		}
	}

	visibility := StyleTextMuted.Render("focused")
	if m.focus != nil && !m.focus.Visible() {
		visibility = StyleTextMuted.Render("background (slow polling)")
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", agent, "  ", visibility)
}

func (m *Model) renderSources() string {
	var b strings.Builder
	b.WriteString(StyleHeader.Render(fmt.Sprintf("%s %s %s %s %s",
		padRight("SOURCE", 12), padRight("MODE", 18), padRight("ITEMS", 6), padRight("CLUSTERS", 9), "STATUS")))
	b.WriteString("\n")

	for i, r := range m.backend.Runners() {
		st := r.State()

		status := ""
		switch {
		case st.IsLoading:
			status = m.spinner.View() + " loading"
		case st.IsRefreshing:
			status = m.spinner.View() + " refreshing"
		case st.Error != nil:
			status = StyleTextMuted.Render(truncate(*st.Error, 60))
		default:
			status = StyleTextMuted.Render("updated " + FormatAge(st.UpdatedAt, m.now()) + " ago")
		}

		clusters := "-"
		if st.Attempted > 0 {
			clusters = fmt.Sprintf("%d/%d", st.Succeeded, st.Attempted)
		}

		row := fmt.Sprintf("%s %s %s %s %s",
			padRight(st.Source, 12),
			padRight(RenderMode(st.Mode, st.IsDemo), 18),
			padRight(fmt.Sprint(st.Count), 6),
			padRight(clusters, 9),
			status,
		)
		if i == m.selected {
			row = StyleSelected.Render(stripANSI(row))
		}
		b.WriteString(row)
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderItems() string {
	runner := m.selectedRunner()
	if runner == nil {
		return StyleTextMuted.Render("no sources enabled")
	}
	st := runner.State()

	rows := itemRows(st.Data)
	var b strings.Builder
	b.WriteString(StyleSubHeader.Render(fmt.Sprintf("%s (%d)", st.Source, len(rows))))
	b.WriteString("\n")
	b.WriteString(StyleHeader.Render(fmt.Sprintf("%s %s %s %s",
		padRight("CLUSTER", 14), padRight("NAMESPACE", 14), padRight("NAME", 36), "STATUS")))
	b.WriteString("\n")

	limit := maxItemRows
	if m.height > 0 && m.height-16 < limit {
		limit = max(m.height-16, 5)
	}
	for i, row := range rows {
		if i >= limit {
			b.WriteString(StyleTextMuted.Render(fmt.Sprintf("… %d more", len(rows)-limit)))
			b.WriteString("\n")
			break
		}
		b.WriteString(fmt.Sprintf("%s %s %s %s\n",
			padRight(truncate(row.cluster, 14), 14),
			padRight(truncate(row.namespace, 14), 14),
			padRight(truncate(row.name, 36), 36),
			RenderStatus(row.status),
		))
	}
	return b.String()
}

func (m *Model) renderClusters() string {
	clusters := m.backend.Clusters()

	var b strings.Builder
	b.WriteString(StyleHeader.Render(fmt.Sprintf("%s %s %s %s",
		padRight("CLUSTER", 20), padRight("CONTEXT", 24), padRight("STATE", 12), "VERSION")))
	b.WriteString("\n")
	if len(clusters) == 0 {
		b.WriteString(StyleTextMuted.Render("no clusters discovered"))
		b.WriteString("\n")
	}
	for _, c := range clusters {
		b.WriteString(fmt.Sprintf("%s %s %s %s\n",
			padRight(truncate(c.Name, 20), 20),
			padRight(truncate(c.Context, 24), 24),
			padRight(RenderReachable(c), 12),
			c.Version,
		))
	}
	return StyleBorder.Render(strings.TrimRight(b.String(), "\n"))
}

// itemRow is one display row of a source's data
type itemRow struct {
	cluster   string
	namespace string
	name      string
	status    string
}

func itemRows(data any) []itemRow {
	switch items := data.(type) {
	case []model.Item[model.Resource]:
		rows := make([]itemRow, 0, len(items))
		for _, item := range items {
			name, namespace, status := describeResource(item.Value)
			rows = append(rows, itemRow{cluster: item.Cluster, namespace: namespace, name: name, status: status})
		}
		return rows
	case []model.Item[model.MetricSample]:
		rows := make([]itemRow, 0, len(items))
		for _, item := range items {
			rows = append(rows, itemRow{
				cluster:   item.Cluster,
				namespace: item.Value.Metric["namespace"],
				name:      formatLabels(item.Value.Metric),
				status:    fmt.Sprintf("%.3f", item.Value.Value),
			})
		}
		return rows
	default:
		return nil
	}
}

// describeResource extracts name, namespace and a status word from either a
// Kubernetes-shaped object or a flat agent record
func describeResource(r model.Resource) (name, namespace, status string) {
	if meta, ok := r["metadata"].(map[string]any); ok {
		name, _ = meta["name"].(string)
		namespace, _ = meta["namespace"].(string)
	} else {
		name, _ = r["name"].(string)
		namespace, _ = r["namespace"].(string)
	}

	switch s := r["status"].(type) {
	case string:
		status = s
	case map[string]any:
		status = describeStatus(s)
	}
	if status == "" {
		if reason, ok := r["reason"].(string); ok {
			status = reason
		}
	}
	return name, namespace, status
}

func describeStatus(s map[string]any) string {
	if phase, ok := s["phase"].(string); ok {
		return phase
	}
	if conds, ok := s["conditions"].([]any); ok {
		for _, c := range conds {
			cond, _ := c.(map[string]any)
			if cond["type"] == "Ready" {
				if cond["status"] == "True" {
					return "Ready"
				}
				return "NotReady"
			}
		}
	}
	if replicas, ok := asInt(s["replicas"]); ok {
		ready, _ := asInt(s["readyReplicas"])
		return fmt.Sprintf("%d/%d ready", ready, replicas)
	}
	return ""
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+labels[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Run starts the watch view and blocks until the user quits or ctx is done
func Run(ctx context.Context, backend Backend, focus *cache.StaticVisibility, logger *zap.Logger, version string) error {
	logger.Info("Starting watch view")

	m := NewModel(backend, focus, logger, version)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithReportFocus(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("UI error: %w", err)
	}
	return nil
}

package ui

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/yourusername/fleetwatch/internal/model"
)

// Color scheme
var (
	ColorPrimary   = lipgloss.Color("#00D9FF")
	ColorSecondary = lipgloss.Color("#7C3AED")
	ColorSuccess   = lipgloss.Color("#10B981")
	ColorWarning   = lipgloss.Color("#F59E0B")
	ColorDanger    = lipgloss.Color("#EF4444")
	ColorInfo      = lipgloss.Color("#3B82F6")

	ColorTextPrimary   = lipgloss.Color("#FFFFFF")
	ColorTextSecondary = lipgloss.Color("#9CA3AF")
	ColorTextMuted     = lipgloss.Color("#6B7280")

	ColorBgSecondary = lipgloss.Color("#374151")
	ColorBgHover     = lipgloss.Color("#4B5563")
)

// Common styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorTextPrimary).
			Background(ColorBgSecondary).
			Padding(0, 1)

	StyleSubHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSecondary)

	// Mode badges
	StyleLive = lipgloss.NewStyle().
			Foreground(ColorSuccess).
			Bold(true)

	StyleDegraded = lipgloss.NewStyle().
			Foreground(ColorWarning).
			Bold(true)

	StyleKey = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	StyleKeyDesc = lipgloss.NewStyle().
			Foreground(ColorTextSecondary)

	StyleBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBgSecondary).
			Padding(0, 1)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorDanger).
			Bold(true)

	StyleInfo = lipgloss.NewStyle().
			Foreground(ColorInfo)

	StyleTextMuted = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	// Selection style (for highlighting selected row in lists)
	StyleSelected = lipgloss.NewStyle().
			Background(ColorBgHover).
			Foreground(ColorPrimary).
			Bold(true)
)

// RenderKeyBinding renders a key binding help text
func RenderKeyBinding(key, desc string) string {
	return fmt.Sprintf("%s %s", StyleKey.Render(key), StyleKeyDesc.Render(desc))
}

// RenderMode renders a source mode badge
func RenderMode(mode model.Mode, isDemo bool) string {
	if mode == model.ModeDegraded {
		label := string(mode)
		if isDemo {
			label += " (demo)"
		}
		return StyleDegraded.Render(label)
	}
	return StyleLive.Render(string(mode))
}

// RenderStatus renders a resource status with appropriate color
func RenderStatus(status string) string {
	switch status {
	case "Ready", "Running", "Succeeded", "True":
		return StyleLive.Render(status)
	case "NotReady", "Failed", "Error", "False":
		return StyleError.Render(status)
	case "Pending", "Unknown":
		return StyleDegraded.Render(status)
	default:
		return status
	}
}

// RenderReachable renders a cluster reachability cell
func RenderReachable(c model.ClusterDescriptor) string {
	switch {
	case c.Reachable == nil:
		return StyleTextMuted.Render("unknown")
	case *c.Reachable:
		return StyleLive.Render("reachable")
	default:
		return StyleError.Render("unreachable")
	}
}

// FormatAge formats the time elapsed since t
func FormatAge(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// ansiRegex matches ANSI color codes
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// stripANSI removes ANSI color codes from a string
func stripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// visualLength returns the display width of s, excluding ANSI codes
func visualLength(s string) int {
	return runewidth.StringWidth(stripANSI(s))
}

// padRight pads s to width, handling ANSI codes and wide characters
func padRight(s string, width int) string {
	vlen := visualLength(s)
	if vlen >= width {
		return s
	}
	return s + strings.Repeat(" ", width-vlen)
}

// truncate truncates s to maxLen display width, adding "..." if truncated
func truncate(s string, maxLen int) string {
	stripped := stripANSI(s)
	if runewidth.StringWidth(stripped) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return runewidth.Truncate(stripped, maxLen, "")
	}
	return runewidth.Truncate(stripped, maxLen-3, "") + "..."
}

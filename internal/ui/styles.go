// Package ui renders library data for the terminal.
package ui

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Color palette
var (
	Teal      = lipgloss.Color("#2DD4BF")
	SlateDark = lipgloss.Color("#1F2937")
	DimGray   = lipgloss.Color("#6B7280")
	LightGray = lipgloss.Color("#9CA3AF")
	White     = lipgloss.Color("#F9FAFB")
	Green     = lipgloss.Color("#10B981")
	Red       = lipgloss.Color("#EF4444")
)

// Raw listen status characters (unstyled)
const (
	UnstartedChar  = "●"
	InProgressChar = "◐"
	FinishedChar   = "✓"
)

// SpinnerFrames animate the wait on a network call.
var SpinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Theme holds the styles bound to one output. With color off every style
// renders plain text.
type Theme struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Dim      lipgloss.Style
	Accent   lipgloss.Style
	Error    lipgloss.Style
	Success  lipgloss.Style
	Badge    lipgloss.Style
	Match    lipgloss.Style
	Header   lipgloss.Style

	ProgressFull  lipgloss.Style
	ProgressEmpty lipgloss.Style

	Unstarted  lipgloss.Style
	InProgress lipgloss.Style
	Finished   lipgloss.Style
}

// NewTheme creates the styles for w.
func NewTheme(w io.Writer, color bool) *Theme {
	r := lipgloss.NewRenderer(w)
	if !color {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Theme{
		Title:    r.NewStyle().Foreground(White).Bold(true),
		Subtitle: r.NewStyle().Foreground(LightGray),
		Dim:      r.NewStyle().Foreground(DimGray),
		Accent:   r.NewStyle().Foreground(Teal),
		Error:    r.NewStyle().Foreground(Red),
		Success:  r.NewStyle().Foreground(Green),
		Badge:    r.NewStyle().Foreground(White).Background(SlateDark).Padding(0, 1),
		Match:    r.NewStyle().Foreground(Teal).Bold(true),
		Header: r.NewStyle().
			Foreground(Teal).
			Bold(true).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(DimGray),

		ProgressFull:  r.NewStyle().Foreground(Teal),
		ProgressEmpty: r.NewStyle().Foreground(DimGray),

		Unstarted:  r.NewStyle().Foreground(DimGray),
		InProgress: r.NewStyle().Foreground(Teal),
		Finished:   r.NewStyle().Foreground(Green),
	}
}

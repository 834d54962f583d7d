package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mmcdole/shelf/internal/domain"
)

// Truncate shortens s to width cells, ending in an ellipsis when cut.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if width <= 3 {
		return string(runes[:min(width, len(runes))])
	}
	for len(runes) > 0 && lipgloss.Width(string(runes))+3 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

// Pad pads s with spaces to width cells.
func Pad(s string, width int) string {
	if n := width - lipgloss.Width(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}

// ProgressBar renders fraction (0..1) as a bar of width cells.
func (t *Theme) ProgressBar(fraction float64, width int) string {
	if width < 3 {
		return ""
	}
	filled := min(max(int(float64(width)*fraction), 0), width)
	return t.ProgressFull.Render(strings.Repeat("█", filled)) +
		t.ProgressEmpty.Render(strings.Repeat("░", width-filled))
}

// Status renders the listen status indicator of item.
func (t *Theme) Status(item domain.LibraryItem) string {
	switch item.ListenStatus() {
	case domain.ListenStatusFinished:
		return t.Finished.Render(FinishedChar)
	case domain.ListenStatusInProgress:
		return t.InProgress.Render(InProgressChar)
	default:
		return t.Unstarted.Render(UnstartedChar)
	}
}

// Highlight renders text with the bytes at matched styled as matches.
func (t *Theme) Highlight(text string, matched []int) string {
	if len(matched) == 0 {
		return text
	}
	set := make(map[int]bool, len(matched))
	for _, i := range matched {
		set[i] = true
	}
	var b strings.Builder
	for i, r := range text {
		if set[i] {
			b.WriteString(t.Match.Render(string(r)))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ItemRow renders one library item as a list row.
func (t *Theme) ItemRow(item domain.LibraryItem, titleWidth int) string {
	title := Pad(Truncate(item.Title, titleWidth), titleWidth)
	row := fmt.Sprintf("%s %s  %s  %s",
		t.Status(item),
		t.Title.Render(title),
		t.Subtitle.Render(Pad(Truncate(item.AuthorName, 24), 24)),
		t.Dim.Render(item.FormattedDuration()),
	)
	if item.SeriesName != "" {
		row += "  " + t.Badge.Render(item.SeriesName)
	}
	return row
}

package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mmcdole/shelf/internal/domain"
)

func plain() *Theme { return NewTheme(&bytes.Buffer{}, false) }

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"Anathem", 10, "Anathem"},
		{"The Left Hand of Darkness", 10, "The Lef..."},
		{"Dune", 2, "Du"},
		{"Dune", 0, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Truncate(tt.in, tt.width), tt.in)
	}
}

func TestPad(t *testing.T) {
	assert.Equal(t, "ab  ", Pad("ab", 4))
	assert.Equal(t, "abcdef", Pad("abcdef", 4))
}

func TestProgressBar(t *testing.T) {
	th := plain()
	assert.Equal(t, "█████░░░░░", th.ProgressBar(0.5, 10))
	assert.Equal(t, "░░░░", th.ProgressBar(-1, 4))
	assert.Equal(t, "████", th.ProgressBar(2, 4))
	assert.Empty(t, th.ProgressBar(0.5, 2))
}

func TestStatus(t *testing.T) {
	th := plain()
	assert.Equal(t, UnstartedChar, th.Status(domain.LibraryItem{}))
	assert.Equal(t, InProgressChar, th.Status(domain.LibraryItem{Progress: &domain.MediaProgress{CurrentTime: 30}}))
	assert.Equal(t, FinishedChar, th.Status(domain.LibraryItem{Progress: &domain.MediaProgress{IsFinished: true}}))
}

func TestHighlightWithoutColorIsIdentity(t *testing.T) {
	assert.Equal(t, "babel", plain().Highlight("babel", []int{0, 1, 2}))
}

func TestItemRow(t *testing.T) {
	row := plain().ItemRow(domain.LibraryItem{
		Title:      "Babel",
		AuthorName: "R. F. Kuang",
		SeriesName: "Standalone #1",
		Duration:   3 * 3600,
	}, 12)
	assert.Contains(t, row, "Babel       ")
	assert.Contains(t, row, "R. F. Kuang")
	assert.Contains(t, row, "3h 0m")
	assert.Contains(t, row, "Standalone #1")
}

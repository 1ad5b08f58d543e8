package output

import (
	"fmt"
	"strings"

	"github.com/blackwell-systems/d20meter/internal/roll"
	"github.com/charmbracelet/lipgloss"
)

// DegreeStyle returns the style used for an outcome category.
func DegreeStyle(d roll.Degree) lipgloss.Style {
	switch d {
	case roll.DegreeCriticalFailure:
		return StyleCritFailure
	case roll.DegreeFailure:
		return StyleError
	case roll.DegreeSuccess:
		return StyleSuccess
	case roll.DegreeCriticalSuccess:
		return StyleCritSuccess
	default:
		return StyleMuted
	}
}

// DegreeGlyph returns the bar glyph for an outcome category, so bars stay
// readable without color.
func DegreeGlyph(d roll.Degree) string {
	switch d {
	case roll.DegreeCriticalFailure:
		return "▓"
	case roll.DegreeFailure:
		return "▒"
	case roll.DegreeSuccess:
		return "█"
	case roll.DegreeCriticalSuccess:
		return "◆"
	default:
		return "░"
	}
}

// DegreeLabel returns a short column label for an outcome category.
func DegreeLabel(d roll.Degree) string {
	switch d {
	case roll.DegreeCriticalFailure:
		return "Crit Fail"
	case roll.DegreeFailure:
		return "Fail"
	case roll.DegreeSuccess:
		return "Success"
	case roll.DegreeCriticalSuccess:
		return "Crit"
	default:
		return "Unknown"
	}
}

// StackedBar renders per-degree counts as one bar scaled so that peak fills
// width. Segments follow presentation order, worst outcome first. Non-zero
// counts always get at least one cell.
// Example: "▓▒▒███◆"
func StackedBar(counts map[roll.Degree]int, peak, width int) string {
	if width <= 0 {
		width = 40
	}
	if peak <= 0 {
		return ""
	}

	var sb strings.Builder
	for _, d := range roll.Degrees() {
		n := counts[d]
		if n == 0 {
			continue
		}
		cells := n * width / peak
		if cells == 0 {
			cells = 1
		}
		sb.WriteString(DegreeStyle(d).Render(strings.Repeat(DegreeGlyph(d), cells)))
	}
	return sb.String()
}

// Legend renders the glyph key for StackedBar.
func Legend() string {
	parts := make([]string, 0, len(roll.Degrees()))
	for _, d := range roll.Degrees() {
		parts = append(parts, DegreeStyle(d).Render(DegreeGlyph(d))+" "+DegreeLabel(d))
	}
	return " " + strings.Join(parts, "  ")
}

// Section prints a styled section header with a horizontal rule.
func Section(title string) string {
	header := StyleHeader.Render(title)
	rule := StyleMuted.Render(strings.Repeat("─", 66))
	return fmt.Sprintf("\n %s\n %s", header, rule)
}

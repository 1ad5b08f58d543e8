package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisualLen(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"plain", "hello", 5},
		{"empty", "", 0},
		{"bold", "\x1b[1mhello\x1b[0m", 5},
		{"color", "\x1b[31mred\x1b[0m", 3},
		{"multiple sequences", "\x1b[1m\x1b[34mblue bold\x1b[0m", 9},
		{"box drawing", "███░", 4},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, visualLen(tc.input))
		})
	}
}

func TestPad(t *testing.T) {
	assert.Equal(t, "hi        ", pad("hi", 10))
	assert.Equal(t, "hello", pad("hello", 5))
	assert.Equal(t, "toolong", pad("toolong", 3), "no truncation")
	assert.Equal(t, 6, visualLen(pad("\x1b[31mred\x1b[0m", 6)))
}

func TestTable_Render(t *testing.T) {
	SetNoColor(true)
	defer SetNoColor(false)

	tbl := NewTable("Die", "Rolls")
	tbl.AddRow("20", "3")
	tbl.AddRow("1", "12")

	out := tbl.Render()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4, "header, separator, two rows")
	assert.Contains(t, lines[0], "Die")
	assert.Contains(t, lines[1], "─")
	assert.Equal(t, "20   3", strings.TrimRight(lines[2], " "))
	assert.Equal(t, 2, tbl.Len())
}

func TestTable_StyledCellsAlign(t *testing.T) {
	tbl := NewTable("Name", "Bar")
	tbl.AddRow("Alice", "\x1b[32m████\x1b[0m")
	tbl.AddRow("Bob", "██")

	lines := strings.Split(strings.TrimRight(tbl.Render(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, visualLen(lines[2]), visualLen(lines[3]))
}

func TestTable_EmptyHeaders(t *testing.T) {
	assert.Empty(t, NewTable().Render())
}

func TestTable_Print(t *testing.T) {
	SetNoColor(true)
	defer SetNoColor(false)

	tbl := NewTable("Col1")
	tbl.AddRow("Val1")

	var buf bytes.Buffer
	tbl.Print(&buf)
	assert.Equal(t, tbl.String(), buf.String())
}

func TestSetNoColor(t *testing.T) {
	SetNoColor(true)
	defer SetNoColor(false)
	assert.NotContains(t, StyleHeader.Render("test"), "\x1b[")
	assert.True(t, IsNoColor())
}

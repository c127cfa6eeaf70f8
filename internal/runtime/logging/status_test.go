package logging

import (
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTableColumnsAlign(t *testing.T) {
	previous := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = previous }()

	var lines []string
	table := NewStatusTable(func(line string) { lines = append(lines, line) })

	table.Header("Inbound service")
	table.Row("orders-in", StatusStarted, "Orders")
	table.Row("a-very-long-service-name-that-overflows", StatusNotFound, "Orders")
	table.Footer()

	require.Len(t, lines, 6)
	width := len(lines[0])
	for _, line := range lines {
		assert.Len(t, line, width, "line %q", line)
	}
	assert.True(t, strings.HasPrefix(lines[3], "|orders-in "))
	assert.Contains(t, lines[3], "Started")
	assert.Contains(t, lines[4], "Not found")
}

func TestFormatRowColoursStatus(t *testing.T) {
	previous := color.NoColor
	color.NoColor = false
	defer func() { color.NoColor = previous }()

	row := FormatRow("svc", StatusDisabled, "flow")
	assert.Contains(t, row, "\x1b[")
	assert.Contains(t, row, "Disabled")
}

func TestNilSinkIsIgnored(t *testing.T) {
	table := NewStatusTable(nil)
	table.Row("svc", StatusStopped, "flow")
}

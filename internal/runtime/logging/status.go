package logging

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Status is the lifecycle state printed for a service in the status table.
type Status string

const (
	StatusStarted  Status = "Started"
	StatusStopped  Status = "Stopped"
	StatusDisabled Status = "Disabled"
	StatusNotFound Status = "Not found"
	StatusFailed   Status = "Failed"
)

const (
	serviceColumn = 20
	statusColumn  = 9
	flowColumn    = 40
)

var statusColors = map[Status]*color.Color{
	StatusStarted:  color.New(color.FgGreen),
	StatusStopped:  color.New(color.FgYellow),
	StatusDisabled: color.New(color.FgHiBlack),
	StatusNotFound: color.New(color.FgRed),
	StatusFailed:   color.New(color.FgRed, color.Bold),
}

// StatusTable renders fixed-width, colored service status lines. Every line
// is handed to the sink, which usually prints it and mirrors it to the hub.
type StatusTable struct {
	mu   sync.Mutex
	sink func(line string)
}

// NewStatusTable returns a table writing to sink. A nil sink drops output.
func NewStatusTable(sink func(line string)) *StatusTable {
	if sink == nil {
		sink = func(string) {}
	}
	return &StatusTable{sink: sink}
}

// Header prints the column titles, using title for the first column.
func (t *StatusTable) Header(title string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sink(separator())
	t.sink(fmt.Sprintf("|%s|  %s  |%s|", pad(title, serviceColumn), pad("Status", statusColumn-2), pad("Flow", flowColumn)))
	t.sink(separator())
}

// Row prints one service line.
func (t *StatusTable) Row(service string, status Status, flow string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink(FormatRow(service, status, flow))
}

// Footer closes the table.
func (t *StatusTable) Footer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink(separator())
}

// FormatRow renders a single status line. Padding is applied before
// colouring so escape codes do not break the column widths.
func FormatRow(service string, status Status, flow string) string {
	label := pad(string(status), statusColumn)
	if c, ok := statusColors[status]; ok {
		label = c.Sprint(label)
	}
	return fmt.Sprintf("|%s| %s |%s|", pad(service, serviceColumn), label, pad(flow, flowColumn))
}

func separator() string {
	return "|" + strings.Repeat("-", serviceColumn) + "|" + strings.Repeat("-", statusColumn+2) + "|" + strings.Repeat("-", flowColumn) + "|"
}

func pad(s string, width int) string {
	if len(s) > width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

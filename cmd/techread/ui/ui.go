// Package ui provides terminal output for the techread CLI.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

// UI writes human or JSON output.
type UI struct {
	out      io.Writer
	err      io.Writer
	noColor  bool
	jsonMode bool
}

// New creates a UI writing to stdout and stderr.
func New(jsonMode, noColor bool) *UI {
	return NewWithWriters(os.Stdout, os.Stderr, jsonMode, noColor)
}

// NewWithWriters creates a UI with explicit writers.
func NewWithWriters(out, errOut io.Writer, jsonMode, noColor bool) *UI {
	if noColor {
		color.NoColor = true
	}
	return &UI{out: out, err: errOut, noColor: noColor, jsonMode: jsonMode}
}

// JSON reports whether machine-readable output is selected.
func (ui *UI) JSON() bool {
	return ui.jsonMode
}

func (ui *UI) print(w io.Writer, attr color.Attribute, symbol, format string, args ...interface{}) {
	line := fmt.Sprintf("%s %s\n", symbol, fmt.Sprintf(format, args...))
	if ui.noColor {
		fmt.Fprint(w, line)
		return
	}
	color.New(attr).Fprint(w, line)
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	ui.print(ui.out, color.FgGreen, "✓", format, args...)
}

// Error prints an error message to stderr. It is shown in JSON mode too.
func (ui *UI) Error(format string, args ...interface{}) {
	ui.print(ui.err, color.FgRed, "✗", format, args...)
}

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	ui.print(ui.err, color.FgYellow, "⚠", format, args...)
}

// Info prints an informational message.
func (ui *UI) Info(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	ui.print(ui.out, color.FgCyan, "ℹ", format, args...)
}

// Section prints a section header.
func (ui *UI) Section(title string) {
	if ui.jsonMode {
		return
	}
	if ui.noColor {
		fmt.Fprintf(ui.out, "\n%s\n%s\n", title, strings.Repeat("=", len(title)))
		return
	}
	color.New(color.FgMagenta, color.Bold).Fprintf(ui.out, "\n━━━ %s ━━━\n", strings.ToUpper(title))
}

// Table prints rows aligned under headers.
func (ui *UI) Table(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(ui.out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))
	separator := make([]string, len(headers))
	for i := range separator {
		separator[i] = strings.Repeat("-", len(headers[i]))
	}
	fmt.Fprintln(w, strings.Join(separator, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

// Emit writes v as one JSON line.
func (ui *UI) Emit(v any) error {
	return json.NewEncoder(ui.out).Encode(v)
}

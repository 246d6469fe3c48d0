package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"sigs.k8s.io/yaml"

	"github.com/agentpkg/tsx/pkg/transform"
)

var (
	locationStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#87CEEB"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	lineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	caretStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))
)

// renderTransformError formats every diagnostic of err with the offending
// source line when it can be read.
func renderTransformError(err *transform.Error) string {
	diags := err.Diagnostics
	if len(diags) == 0 {
		diags = []transform.Diagnostic{{File: err.File, Line: err.Line, Column: err.Column, Text: err.Message}}
	}

	var lines []string
	if src, rerr := os.ReadFile(err.File); rerr == nil {
		lines = strings.Split(string(src), "\n")
	}

	var b strings.Builder
	for _, d := range diags {
		loc := d.File
		if d.Line > 0 {
			loc = fmt.Sprintf("%s:%d:%d", d.File, d.Line, d.Column)
		}
		fmt.Fprintf(&b, "%s %s\n", locationStyle.Render(loc), errorStyle.Render(d.Text))

		if d.Line > 0 && d.Line <= len(lines) {
			text := lines[d.Line-1]
			prefix := fmt.Sprintf("%5d | ", d.Line)
			fmt.Fprintf(&b, "%s%s\n", lineStyle.Render(prefix), text)
			if d.Column > 0 {
				pad := strings.Repeat(" ", len(prefix)+d.Column-1)
				fmt.Fprintf(&b, "%s%s\n", pad, caretStyle.Render("^"))
			}
		}
	}
	return b.String()
}

// writeOutput prints v as YAML or indented JSON.
func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "", "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling output: %w", err)
		}
		_, err = w.Write(data)
		return err
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling output: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	default:
		return fmt.Errorf("unknown output format %q (want yaml or json)", format)
	}
}

package transform

import (
	"errors"
	"fmt"
	"strings"
)

// Diagnostic is a message attached to a position in the source. Line and
// Column are 1-based; zero means unknown.
type Diagnostic struct {
	File   string
	Line   int
	Column int
	Text   string
}

func (d Diagnostic) String() string {
	switch {
	case d.File == "":
		return d.Text
	case d.Line == 0:
		return fmt.Sprintf("%s: %s", d.File, d.Text)
	default:
		return fmt.Sprintf("%s:%d:%d: %s", d.File, d.Line, d.Column, d.Text)
	}
}

// Error is a transform failure. It carries the position of the first error
// reported by the engine and every diagnostic that came with it.
type Error struct {
	File        string
	Line        int
	Column      int
	Message     string
	Diagnostics []Diagnostic
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(Diagnostic{File: e.File, Line: e.Line, Column: e.Column, Text: e.Message}.String())
	if n := len(e.Diagnostics); n > 1 {
		fmt.Fprintf(&b, " (and %d more)", n-1)
	}
	return b.String()
}

// bindError attaches location to a failure. The engine only ever sees a
// placeholder file name and concurrent callers share one error value, so
// each caller gets its own copy.
func bindError(err error, location string) error {
	var te *Error
	if !errors.As(err, &te) {
		return fmt.Errorf("transforming %s: %w", location, err)
	}
	out := *te
	out.File = location
	out.Diagnostics = make([]Diagnostic, len(te.Diagnostics))
	for i, d := range te.Diagnostics {
		d.File = location
		out.Diagnostics[i] = d
	}
	return &out
}

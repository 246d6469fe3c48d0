package resolve

import (
	"fmt"
	"strings"
)

// NotFoundError is returned when no candidate location exists for a
// specifier.
type NotFoundError struct {
	Specifier string
	Referrer  string
	Probed    []string
}

func (e *NotFoundError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cannot find module '%s'", e.Specifier)
	if e.Referrer != "" {
		fmt.Fprintf(&b, " imported from %s", e.Referrer)
	}
	if len(e.Probed) > 0 {
		b.WriteString("\nTried:")
		for _, p := range e.Probed {
			b.WriteString("\n- ")
			b.WriteString(p)
		}
	}
	return b.String()
}

// Code mirrors the error code a Node host reports for the same failure.
func (e *NotFoundError) Code() string {
	return "MODULE_NOT_FOUND"
}

package tools

import (
	"fmt"
	"strings"
)

// ErrToolUnavailable is returned when a tool call targets a name with
// no bound handler. This is a capability mismatch (the model invented
// a name, or wiring is incomplete), not a transient execution failure.
// Callers should not retry.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}

// ErrCatalogMismatch reports catalog entries without handlers and
// handlers without catalog entries. It is a startup defect.
type ErrCatalogMismatch struct {
	Missing []string // declared, no handler
	Orphans []string // handler, not declared
}

// Error implements the error interface.
func (e *ErrCatalogMismatch) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "no handler for "+strings.Join(e.Missing, ", "))
	}
	if len(e.Orphans) > 0 {
		parts = append(parts, "not in catalog: "+strings.Join(e.Orphans, ", "))
	}
	return "tool catalog mismatch: " + strings.Join(parts, "; ")
}

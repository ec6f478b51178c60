package plan

import "fmt"

// Issue is a single validation failure, with a JSON-pointer-ish path for
// the offending field and a human-readable message.
type Issue struct {
	Path    string
	Message string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// SchemaError is raised when a plan fails structural or semantic
// validation (missing fields, unknown enum values, negative durations or
// attempt counts, duplicate item/gate names). It carries the full
// ordered list of issues rather than failing on the first one, so a
// caller can report everything wrong with a plan in one pass.
type SchemaError struct {
	Issues []Issue
}

func (e *SchemaError) Error() string {
	if len(e.Issues) == 1 {
		return fmt.Sprintf("invalid plan: %s", e.Issues[0])
	}
	return fmt.Sprintf("invalid plan: %d issues, first: %s", len(e.Issues), e.Issues[0])
}

// UnknownDependencyError and CycleError are produced by
// internal/depgraph and surfaced unwrapped by Load; they are not
// redefined here so that callers of the resolver and callers of the
// loader see exactly the same error values.

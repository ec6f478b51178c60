package main

import (
	"errors"

	"github.com/mergepilot-dev/mergepilot/internal/depgraph"
	"github.com/mergepilot-dev/mergepilot/internal/plan"
)

// isValidationError reports whether err is one of the three plan-load
// failure modes §7 of the specification this engine implements classes
// as "validation": a schema violation, an unknown dependency reference,
// or a dependency cycle. Apart from a failure to write the deliverables
// run directory, these are the only errors orchestrator.Run returns
// rather than folding into the summary.
func isValidationError(err error) bool {
	var schemaErr *plan.SchemaError
	var unknownDepErr *depgraph.UnknownDependencyError
	var cycleErr *depgraph.CycleError

	return errors.As(err, &schemaErr) ||
		errors.As(err, &unknownDepErr) ||
		errors.As(err, &cycleErr)
}

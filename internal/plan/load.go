package plan

import (
	"encoding/json"
	"fmt"

	"github.com/mergepilot-dev/mergepilot/internal/depgraph"
)

// Load parses and validates raw plan JSON bytes, returning a typed Plan
// and the dependency levels computed over its items. It never returns a
// Plan alongside an error.
//
// Validation order: structural/semantic issues (*SchemaError), then
// unknown dependency references and cycles (depgraph.UnknownDependencyError,
// depgraph.CycleError), matching the "validation" exit class of §7 of
// the specification this engine implements.
func Load(raw []byte) (*Plan, [][]string, error) {
	var p Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil, &SchemaError{Issues: []Issue{{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)}}}
	}

	if issues := validate(&p); len(issues) > 0 {
		return nil, nil, &SchemaError{Issues: issues}
	}

	nodes := make([]depgraph.Node, len(p.Items))
	for i, item := range p.Items {
		nodes[i] = depgraph.Node{Name: item.Name, Deps: item.Deps}
	}

	levels, err := depgraph.Levelize(nodes)
	if err != nil {
		return nil, nil, err
	}

	return &p, levels, nil
}

// validate performs all structural and semantic checks that do not
// require graph resolution, collecting every issue rather than stopping
// at the first one.
func validate(p *Plan) []Issue {
	var issues []Issue

	if p.SchemaVersion == "" {
		issues = append(issues, Issue{Path: "$.schemaVersion", Message: "must be non-empty"})
	}
	if p.Target == "" {
		issues = append(issues, Issue{Path: "$.target", Message: "must be non-empty"})
	}
	if len(p.Items) == 0 {
		issues = append(issues, Issue{Path: "$.items", Message: "must contain at least one item"})
	}

	seenItems := make(map[string]bool, len(p.Items))
	for i, item := range p.Items {
		path := fmt.Sprintf("$.items[%d]", i)

		if item.Name == "" {
			issues = append(issues, Issue{Path: path + ".name", Message: "must be non-empty"})
		} else if seenItems[item.Name] {
			issues = append(issues, Issue{Path: path + ".name", Message: fmt.Sprintf("duplicate item name %q", item.Name)})
		} else {
			seenItems[item.Name] = true
		}

		seenDeps := make(map[string]bool, len(item.Deps))
		for j, dep := range item.Deps {
			depPath := fmt.Sprintf("%s.deps[%d]", path, j)
			if dep == "" {
				issues = append(issues, Issue{Path: depPath, Message: "must be non-empty"})
				continue
			}
			if seenDeps[dep] {
				issues = append(issues, Issue{Path: depPath, Message: fmt.Sprintf("duplicate dependency %q", dep)})
			}
			seenDeps[dep] = true
		}

		seenGates := make(map[string]bool, len(item.Gates))
		for j, gate := range item.Gates {
			gatePath := fmt.Sprintf("%s.gates[%d]", path, j)
			issues = append(issues, validateGate(gatePath, gate)...)
			if gate.Name != "" {
				if seenGates[gate.Name] {
					issues = append(issues, Issue{Path: gatePath + ".name", Message: fmt.Sprintf("duplicate gate name %q within item %q", gate.Name, item.Name)})
				}
				seenGates[gate.Name] = true
			}
		}
	}

	if p.Policy != nil {
		issues = append(issues, validatePolicy(p.Policy)...)
	}

	return issues
}

func validateGate(path string, g Gate) []Issue {
	var issues []Issue

	if g.Name == "" {
		issues = append(issues, Issue{Path: path + ".name", Message: "must be non-empty"})
	}
	if g.Run == "" {
		issues = append(issues, Issue{Path: path + ".run", Message: "must be non-empty"})
	}
	if g.TimeoutMs < 0 {
		issues = append(issues, Issue{Path: path + ".timeoutMs", Message: "must not be negative"})
	}

	switch g.Runtime {
	case "", RuntimeLocal, RuntimeContainer, RuntimeCIService:
	default:
		issues = append(issues, Issue{Path: path + ".runtime", Message: fmt.Sprintf("unknown runtime %q", g.Runtime)})
	}

	return issues
}

func validatePolicy(p *Policy) []Issue {
	var issues []Issue

	if p.MaxWorkers < 0 {
		issues = append(issues, Issue{Path: "$.policy.maxWorkers", Message: "must be >= 1 when set"})
	} else if p.MaxWorkers == 0 {
		// zero means "use default of 1"; only negative values are rejected.
	}

	for name, rp := range p.Retries {
		path := fmt.Sprintf("$.policy.retries[%q]", name)
		if rp.MaxAttempts < 1 {
			issues = append(issues, Issue{Path: path + ".maxAttempts", Message: "must be >= 1"})
		}
		if rp.BackoffSeconds < 0 {
			issues = append(issues, Issue{Path: path + ".backoffSeconds", Message: "must be >= 0"})
		}
	}

	switch p.MergeRule.Type {
	case "", MergeRuleStrictRequired:
	default:
		issues = append(issues, Issue{Path: "$.policy.mergeRule.type", Message: fmt.Sprintf("unknown merge rule type %q", p.MergeRule.Type)})
	}

	return issues
}

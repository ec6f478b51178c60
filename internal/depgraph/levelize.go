// Package depgraph levelizes a dependency graph over item names using
// Kahn's algorithm with deterministic, name-lexicographic tie-breaking,
// and detects cycles and unknown references. Tie-breaking is always by
// name, never by input order, so two callers that built the same graph
// with items in different orders get byte-identical levels.
package depgraph

import (
	"fmt"
	"sort"
)

// Node is the minimal shape the resolver needs: a name and the set of
// names it depends on. internal/plan.Item satisfies this by projection.
type Node struct {
	Name string
	Deps []string
}

// UnknownDependencyError is raised when a Node.Deps entry does not name
// any Node in the input set.
type UnknownDependencyError struct {
	Item       string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("item %q depends on unknown item %q", e.Item, e.Dependency)
}

// CycleError is raised when the deps graph contains a cycle. Members
// lists the node names still unresolved when Kahn's algorithm
// terminated, in ascending name order.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected among items: %v", e.Members)
}

// Levelize produces the ordered sequence of levels for nodes: level 0 is
// every node with no deps, sorted ascending by name; level k+1 is every
// node whose deps are all satisfied by levels 0..k, again sorted
// ascending by name. It returns UnknownDependencyError if any dep does
// not resolve to a node in the input, and CycleError if the graph is not
// a DAG.
func Levelize(nodes []Node) ([][]string, error) {
	byName := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byName[n.Name] = n
	}

	// Validate references before computing anything, in node order for
	// a stable first-error report.
	for _, n := range nodes {
		for _, d := range n.Deps {
			if _, ok := byName[d]; !ok {
				return nil, &UnknownDependencyError{Item: n.Name, Dependency: d}
			}
		}
	}

	inDegree := make(map[string]int, len(nodes))
	children := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		if _, ok := inDegree[n.Name]; !ok {
			inDegree[n.Name] = 0
		}
		for _, d := range n.Deps {
			inDegree[n.Name]++
			children[d] = append(children[d], n.Name)
		}
	}

	remaining := len(nodes)
	var levels [][]string

	frontier := namesWithZeroInDegree(inDegree)
	for len(frontier) > 0 {
		sort.Strings(frontier)
		levels = append(levels, frontier)
		remaining -= len(frontier)

		var next []string
		seen := make(map[string]bool)
		for _, name := range frontier {
			for _, child := range children[name] {
				inDegree[child]--
				if inDegree[child] == 0 && !seen[child] {
					seen[child] = true
					next = append(next, child)
				}
			}
		}
		frontier = next
	}

	if remaining > 0 {
		var stuck []string
		for name, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, &CycleError{Members: stuck}
	}

	return levels, nil
}

func namesWithZeroInDegree(inDegree map[string]int) []string {
	var names []string
	for name, deg := range inDegree {
		if deg == 0 {
			names = append(names, name)
		}
	}
	return names
}

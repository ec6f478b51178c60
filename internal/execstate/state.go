// Package execstate owns the per-node, per-gate execution state: gate
// result accumulation, node-status aggregation, and dependency-blocked
// propagation. It is mutated exclusively through the operations below,
// never by a caller reaching in and setting fields directly, so the
// status-monotonicity invariant (once pass/fail, only blocked may
// overwrite, and only to blocked) always holds.
package execstate

import (
	"sort"
	"sync"

	"github.com/mergepilot-dev/mergepilot/internal/gate"
	"github.com/mergepilot-dev/mergepilot/internal/plan"
)

// Status mirrors gate.Status at the node level; the two are kept as
// distinct types because a node's status is an aggregation, not a
// passthrough, of its gates' statuses.
type Status string

const (
	StatusPass     Status = "pass"
	StatusFail     Status = "fail"
	StatusBlocked  Status = "blocked"
	StatusSkipped  Status = "skipped"
	StatusRetrying Status = "retrying"
)

// NodeResult is the externally visible state of one item.
type NodeResult struct {
	Name             string
	Status           Status
	Gates            []gate.Result // ordered by gate name
	EligibleForMerge bool
	BlockedBy        []string
}

type node struct {
	name             string
	deps             []string
	requiredGates    map[string]bool // union of policy.requiredGates and item's own gate names
	gateResults      map[string]gate.Result
	status           Status
	eligibleForMerge bool
	blockedBy        []string
}

// State is the execution state machine for one run. Constructed from a
// Plan, mutated only through UpdateGateResult and
// PropagateBlockedStatus, and owned by the scheduler for the run's
// lifetime.
type State struct {
	mu    sync.Mutex
	order []string // item names, plan order; not read by any method (GetResults sorts by name)
	nodes map[string]*node
}

// New builds a State from p with every node initialized to skipped,
// not eligible, and an empty gate list, per §4.7's initial state, except
// that a node whose required-gate set is empty starts as pass and
// eligible (see below).
func New(p *plan.Plan) *State {
	pol := p.EffectivePolicy()
	globallyRequired := make(map[string]bool, len(pol.RequiredGates))
	for _, g := range pol.RequiredGates {
		globallyRequired[g] = true
	}

	s := &State{nodes: make(map[string]*node, len(p.Items))}
	for _, item := range p.Items {
		required := make(map[string]bool, len(item.Gates)+len(globallyRequired))
		for k := range globallyRequired {
			required[k] = true
		}
		for _, g := range item.Gates {
			required[g.Name] = true
		}

		n := &node{
			name:          item.Name,
			deps:          append([]string(nil), item.Deps...),
			requiredGates: required,
			gateResults:   make(map[string]gate.Result),
			status:        StatusSkipped,
		}
		// An empty required-gate set passes vacuously per §4.7.1; this
		// must be decided at construction time, not just on the next
		// UpdateGateResult, since an item with no gates never receives
		// one.
		recomputeStatus(n)

		s.order = append(s.order, item.Name)
		s.nodes[item.Name] = n
	}
	return s
}

// UpdateGateResult appends or replaces a gate result by gate name for
// nodeName, then recomputes that node's status per §4.7.1.
func (s *State) UpdateGateResult(nodeName string, gr gate.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[nodeName]
	if !ok {
		return
	}

	// Status monotonicity: once blocked, a node never leaves blocked
	// within the same run (§3 invariant; §4.7.2).
	if n.status == StatusBlocked {
		return
	}

	n.gateResults[gr.Gate] = gr
	recomputeStatus(n)
}

// recomputeStatus applies the node-status aggregation table of §4.7.1
// over n.requiredGates using n.gateResults.
func recomputeStatus(n *node) {
	if len(n.requiredGates) == 0 {
		n.status = StatusPass
		n.eligibleForMerge = true
		return
	}

	anyFail := false
	anyRetrying := false
	allPass := true

	for gateName := range n.requiredGates {
		gr, ok := n.gateResults[gateName]
		if !ok {
			allPass = false
			continue
		}
		switch mapGateStatus(gr.Status) {
		case StatusFail:
			anyFail = true
			allPass = false
		case StatusRetrying:
			anyRetrying = true
			allPass = false
		case StatusPass:
			// contributes to allPass remaining true
		default: // blocked, skipped
			allPass = false
		}
	}

	switch {
	case anyFail:
		n.status = StatusFail
		n.eligibleForMerge = false
	case anyRetrying:
		n.status = StatusRetrying
		n.eligibleForMerge = false
	case allPass:
		n.status = StatusPass
		n.eligibleForMerge = true
	default:
		n.status = StatusSkipped
		n.eligibleForMerge = false
	}
}

func mapGateStatus(gs gate.Status) Status {
	switch gs {
	case gate.StatusPass:
		return StatusPass
	case gate.StatusFail:
		return StatusFail
	case gate.StatusBlocked:
		return StatusBlocked
	case gate.StatusSkipped:
		return StatusSkipped
	case gate.StatusRetrying:
		return StatusRetrying
	default:
		return StatusSkipped
	}
}

// PropagateBlockedStatus implements §4.7.2: for every node whose status
// is not already pass (a vacuous pass from an empty required-gate set
// does not count, so a gate-less node never stays eligible behind a
// failed dependency), if any dep is fail or blocked, the node
// transitions to blocked, eligibleForMerge is cleared, blockedBy is
// recorded, and any non-terminal gate is marked blocked. The transition
// is terminal: once blocked, a node stays blocked for the rest of the
// run (enforced by UpdateGateResult's early return above).
func (s *State) PropagateBlockedStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.nodes))
	for name := range s.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		n := s.nodes[name]
		if n.status == StatusPass && len(n.requiredGates) > 0 {
			continue
		}

		var blockedBy []string
		for _, dep := range n.deps {
			depNode, ok := s.nodes[dep]
			if !ok {
				continue
			}
			if depNode.status == StatusFail || depNode.status == StatusBlocked {
				blockedBy = append(blockedBy, dep)
			}
		}

		if len(blockedBy) == 0 {
			continue
		}

		sort.Strings(blockedBy)
		n.status = StatusBlocked
		n.eligibleForMerge = false
		n.blockedBy = blockedBy

		for gateName, gr := range n.gateResults {
			if gr.Status == gate.StatusPass || gr.Status == gate.StatusFail {
				continue
			}
			gr.Status = gate.StatusBlocked
			n.gateResults[gateName] = gr
		}
	}
}

// GetNodeResult returns a snapshot of one node's state.
func (s *State) GetNodeResult(name string) (NodeResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[name]
	if !ok {
		return NodeResult{}, false
	}
	return snapshot(n), true
}

// GetResults returns a snapshot of every node, ordered by name.
func (s *State) GetResults() []NodeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.nodes))
	for name := range s.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]NodeResult, 0, len(names))
	for _, name := range names {
		out = append(out, snapshot(s.nodes[name]))
	}
	return out
}

// IsExecutionComplete reports whether every node has reached a terminal
// status (pass, fail, blocked, or skipped-but-no-required-gates-pending
// is NOT terminal: skipped means "not yet run" unless the node has no
// required gates, which recomputeStatus already turns into pass).
// Terminal here means the scheduler has nothing left to do for this
// node: it is pass, fail, or blocked. A node legitimately stays skipped
// only while work remains runnable elsewhere.
func (s *State) IsExecutionComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.nodes {
		if n.status != StatusPass && n.status != StatusFail && n.status != StatusBlocked {
			return false
		}
	}
	return true
}

func snapshot(n *node) NodeResult {
	gateNames := make([]string, 0, len(n.gateResults))
	for name := range n.gateResults {
		gateNames = append(gateNames, name)
	}
	sort.Strings(gateNames)

	gates := make([]gate.Result, 0, len(gateNames))
	for _, name := range gateNames {
		gates = append(gates, n.gateResults[name])
	}

	var blockedBy []string
	if len(n.blockedBy) > 0 {
		blockedBy = append([]string(nil), n.blockedBy...)
	}

	return NodeResult{
		Name:             n.name,
		Status:           n.status,
		Gates:            gates,
		EligibleForMerge: n.eligibleForMerge,
		BlockedBy:        blockedBy,
	}
}

// Package eligibility turns execution state into merge decisions: one
// MergeDecision per node under the plan's merge rule, an override
// protocol for authorized bypasses, and a run-level summary partitioned
// into eligible/pending/blocked/failed buckets.
package eligibility

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mergepilot-dev/mergepilot/internal/execstate"
	"github.com/mergepilot-dev/mergepilot/internal/gate"
	"github.com/mergepilot-dev/mergepilot/internal/plan"
	"github.com/mergepilot-dev/mergepilot/internal/telemetry"
)

// MergeDecision is the per-node outcome of evaluating eligibility.
type MergeDecision struct {
	NodeName         string
	Eligible         bool
	Reason           string
	RequiresOverride bool
	BlockedBy        []string
}

// Override records one accepted override request. It persists only for
// the lifetime of the Evaluator that granted it, never across runs.
type Override struct {
	NodeName    string
	RequestedBy string
	Reason      string
	Timestamp   time.Time
}

// Summary partitions every node's decision and lists overrides taken, in
// the order they were accepted.
type Summary struct {
	Eligible  []string
	Pending   []string
	Blocked   []string
	Failed    []string
	Overrides []Override
}

// Evaluator decides merge eligibility for one run's ExecutionState under
// a fixed policy. Only strict-required is implemented, per
// plan.MergeRuleStrictRequired.
type Evaluator struct {
	state   *execstate.State
	policy  plan.Policy
	deps    map[string][]string // node name -> dep names, for pending/readiness checks
	metrics *telemetry.Metrics

	mu            sync.Mutex
	overrides     map[string]Override
	overrideOrder []string
}

// NewEvaluator builds an Evaluator over p's items and state, scoped to
// policy. metrics may be nil.
func NewEvaluator(p *plan.Plan, state *execstate.State, policy plan.Policy, metrics *telemetry.Metrics) *Evaluator {
	deps := make(map[string][]string, len(p.Items))
	for _, item := range p.Items {
		deps[item.Name] = append([]string(nil), item.Deps...)
	}
	return &Evaluator{
		state:     state,
		policy:    policy,
		deps:      deps,
		metrics:   metrics,
		overrides: make(map[string]Override),
	}
}

// RequestOverride accepts or rejects an override request per §4.9's
// protocol: policy.overrides.adminGreen must be configured, requestedBy
// must be in allowedUsers when that list is non-empty, and reason must
// be non-empty when requireReason is set. Accepted overrides are
// recorded with the observed timestamp.
func (e *Evaluator) RequestOverride(nodeName, requestedBy, reason string, now time.Time) bool {
	ag := e.policy.Overrides.AdminGreen
	if ag == nil {
		return false
	}
	if len(ag.AllowedUsers) > 0 && !containsUser(ag.AllowedUsers, requestedBy) {
		return false
	}
	if ag.RequireReason && reason == "" {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.overrides[nodeName]; !exists {
		e.overrideOrder = append(e.overrideOrder, nodeName)
	}
	e.overrides[nodeName] = Override{
		NodeName:    nodeName,
		RequestedBy: requestedBy,
		Reason:      reason,
		Timestamp:   now,
	}

	if e.metrics != nil {
		e.metrics.EligibilityDecisions.WithLabelValues("override_granted").Inc()
	}
	return true
}

func containsUser(users []string, name string) bool {
	for _, u := range users {
		if u == name {
			return true
		}
	}
	return false
}

// Decide evaluates one node's MergeDecision against the current
// ExecutionState snapshot.
func (e *Evaluator) Decide(nodeName string) MergeDecision {
	nr, ok := e.state.GetNodeResult(nodeName)
	if !ok {
		return MergeDecision{NodeName: nodeName, Eligible: false, Reason: "unknown node"}
	}

	if override, overridden := e.overrideFor(nodeName); overridden && e.policy.MergeRule.Type == plan.MergeRuleStrictRequired {
		return MergeDecision{
			NodeName: nodeName,
			Eligible: true,
			Reason:   fmt.Sprintf("overridden by %s", override.RequestedBy),
		}
	}

	switch nr.Status {
	case execstate.StatusBlocked:
		return MergeDecision{
			NodeName:         nodeName,
			Eligible:         false,
			Reason:           "blocked by failed or blocked dependency",
			RequiresOverride: true,
			BlockedBy:        nr.BlockedBy,
		}
	case execstate.StatusFail:
		return MergeDecision{
			NodeName:         nodeName,
			Eligible:         false,
			Reason:           fmt.Sprintf("required gate(s) failed: %s", failedGateNames(nr.Gates)),
			RequiresOverride: true,
		}
	case execstate.StatusRetrying:
		return MergeDecision{
			NodeName: nodeName,
			Eligible: false,
			Reason:   "gate attempts in progress",
		}
	case execstate.StatusPass:
		if nr.EligibleForMerge {
			return MergeDecision{NodeName: nodeName, Eligible: true, Reason: "all required gates passed"}
		}
	}

	var pendingDeps []string
	for _, dep := range e.deps[nodeName] {
		depResult, ok := e.state.GetNodeResult(dep)
		if !ok {
			continue
		}
		if depResult.Status != execstate.StatusPass && depResult.Status != execstate.StatusFail {
			pendingDeps = append(pendingDeps, dep)
		}
	}
	sort.Strings(pendingDeps)

	reason := "waiting on dependencies"
	if len(pendingDeps) == 0 {
		reason = "gates not yet run"
	}
	return MergeDecision{NodeName: nodeName, Eligible: false, Reason: reason, BlockedBy: pendingDeps}
}

func (e *Evaluator) overrideFor(nodeName string) (Override, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.overrides[nodeName]
	return o, ok
}

func failedGateNames(gates []gate.Result) string {
	var names []string
	for _, g := range gates {
		if g.Status == gate.StatusFail {
			names = append(names, g.Gate)
		}
	}
	sort.Strings(names)
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

// Summarize evaluates every node named in nodeNames (typically every
// item in the plan, in any order; the result buckets are always
// re-sorted) and partitions the results, plus every override accepted
// so far, in acceptance order.
func (e *Evaluator) Summarize(nodeNames []string) Summary {
	var s Summary
	for _, name := range nodeNames {
		d := e.Decide(name)
		switch {
		case d.Eligible:
			s.Eligible = append(s.Eligible, name)
		case d.RequiresOverride:
			nr, _ := e.state.GetNodeResult(name)
			if nr.Status == execstate.StatusBlocked {
				s.Blocked = append(s.Blocked, name)
			} else {
				s.Failed = append(s.Failed, name)
			}
		default:
			s.Pending = append(s.Pending, name)
		}
	}
	sort.Strings(s.Eligible)
	sort.Strings(s.Pending)
	sort.Strings(s.Blocked)
	sort.Strings(s.Failed)

	e.mu.Lock()
	for _, name := range e.overrideOrder {
		s.Overrides = append(s.Overrides, e.overrides[name])
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.EligibilityDecisions.WithLabelValues("eligible").Add(float64(len(s.Eligible)))
		e.metrics.EligibilityDecisions.WithLabelValues("pending").Add(float64(len(s.Pending)))
		e.metrics.EligibilityDecisions.WithLabelValues("blocked").Add(float64(len(s.Blocked)))
		e.metrics.EligibilityDecisions.WithLabelValues("failed").Add(float64(len(s.Failed)))
	}

	return s
}

// GetNodesReadyForMerge computes a fixed-point order over eligible: a
// node is included once every one of its deps is already included.
// Within each fixed-point pass, candidates are appended in ascending
// name order, so the overall result is deterministic.
func (e *Evaluator) GetNodesReadyForMerge(eligible []string) []string {
	eligibleSet := make(map[string]bool, len(eligible))
	for _, name := range eligible {
		eligibleSet[name] = true
	}

	ready := make(map[string]bool, len(eligible))
	var order []string

	for {
		var addedThisPass []string
		remaining := make([]string, 0, len(eligible))
		for _, name := range eligible {
			if ready[name] {
				continue
			}
			remaining = append(remaining, name)
		}
		if len(remaining) == 0 {
			break
		}

		sort.Strings(remaining)
		for _, name := range remaining {
			allDepsReady := true
			for _, dep := range e.deps[name] {
				if eligibleSet[dep] && !ready[dep] {
					allDepsReady = false
					break
				}
			}
			if allDepsReady {
				addedThisPass = append(addedThisPass, name)
			}
		}

		if len(addedThisPass) == 0 {
			break // no further progress possible; remaining nodes have unready eligible deps
		}
		for _, name := range addedThisPass {
			ready[name] = true
			order = append(order, name)
		}
	}

	return order
}

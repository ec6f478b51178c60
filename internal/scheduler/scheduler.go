// Package scheduler runs a bounded worker pool over the items of a plan,
// in dependency order, honoring maxWorkers as the only concurrency dial.
// Gates within one item run strictly sequentially; different items run
// concurrently up to the bound via github.com/sourcegraph/conc's
// structured worker pool. A cancellation signal (an abstract
// context.Context, satisfying §6's "process signals or an in-process
// cancellation token" contract identically) stops new starts, lets
// in-flight gates observe their own per-attempt timeout/cancel path, and
// triggers one final blocked-propagation pass so downstream nodes report
// coherent state rather than staying skipped forever.
package scheduler

import (
	"context"
	"sort"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/mergepilot-dev/mergepilot/internal/execstate"
	"github.com/mergepilot-dev/mergepilot/internal/gate"
	"github.com/mergepilot-dev/mergepilot/internal/plan"
	"github.com/mergepilot-dev/mergepilot/internal/retry"
	"github.com/mergepilot-dev/mergepilot/internal/telemetry"
)

// GateObserver is notified as each gate's final result lands, as each
// transitional retrying result lands between attempts, and as each node
// reaches a new status. Both hooks are optional; the
// scheduler does not depend on any observer for correctness. This is the
// seam internal/sink plugs into for a live push sink, matching §9's
// "optional sinks the orchestrator writes to if configured" guidance.
type GateObserver interface {
	OnGateResult(itemName string, result gate.Result)
	OnNodeResult(result execstate.NodeResult)
}

type noopObserver struct{}

func (noopObserver) OnGateResult(string, gate.Result)  {}
func (noopObserver) OnNodeResult(execstate.NodeResult) {}

// ThrottlePredicate is consulted before starting a new item; returning
// true stops dispatching for the current scheduling pass. The scheduler
// does not sleep before the next pass: it re-polls the predicate
// immediately, and there is no upper bound on how long it keeps
// deferring work while the predicate returns true. The default never
// throttles, per §4.8's memory-pressure hook note that implementations
// may stub it without affecting correctness.
type ThrottlePredicate func() bool

func neverThrottle() bool { return false }

// Scheduler wires the execution state, the retry wrapper, and run-scoped
// configuration together to drive one plan through to quiescence.
type Scheduler struct {
	State            *execstate.State
	Wrapper          *retry.Wrapper
	ArtifactDir      string
	DefaultTimeoutMs int
	Observer         GateObserver
	Throttle         ThrottlePredicate
	Logger           telemetry.Logger
	Metrics          *telemetry.Metrics
}

// Run schedules p's items across a pool bounded by pol.MaxWorkers,
// respecting dependency order, until no node is runnable and no worker
// is active. It returns only when the run has quiesced; cancellation is
// observed via ctx, never by a returned error; a cancelled run still
// returns normally, with the resulting NodeResults reflecting fail/blocked
// status for whatever was in flight or downstream.
func (sch *Scheduler) Run(ctx context.Context, p *plan.Plan) {
	observer := sch.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	throttle := sch.Throttle
	if throttle == nil {
		throttle = neverThrottle
	}

	// Wire the retry wrapper's mid-backoff "retrying" notifications into
	// this run's state and observer, so the transitional status the
	// specification this engine implements calls for (visible while a
	// gate is between attempts, not just in the final result) actually
	// reaches execstate's aggregation and any live observer/sink rather
	// than being dropped on the floor between attempts.
	if sch.Wrapper.OnAttempt == nil {
		sch.Wrapper.OnAttempt = func(itemName string, result gate.Result) {
			sch.State.UpdateGateResult(itemName, result)
			observer.OnGateResult(itemName, result)
			if nr, ok := sch.State.GetNodeResult(itemName); ok {
				observer.OnNodeResult(nr)
			}
		}
	}

	pol := p.EffectivePolicy()
	itemsByName := make(map[string]plan.Item, len(p.Items))
	for _, it := range p.Items {
		itemsByName[it.Name] = it
	}

	wp := pool.New().WithMaxGoroutines(pol.MaxWorkers)

	var mu sync.Mutex
	dispatched := make(map[string]bool, len(p.Items))
	inFlight := 0
	completion := make(chan struct{}, len(p.Items)+1)

	for {
		mu.Lock()
		runnable := sch.computeRunnable(p, itemsByName, dispatched)
		mu.Unlock()

		cancelled := ctx.Err() != nil

		if cancelled || len(runnable) == 0 {
			mu.Lock()
			done := inFlight == 0
			mu.Unlock()
			if done {
				break
			}
			<-completion
			sch.State.PropagateBlockedStatus()
			continue
		}

		for _, name := range runnable {
			if throttle() {
				break
			}
			name := name
			item := itemsByName[name]

			mu.Lock()
			dispatched[name] = true
			inFlight++
			mu.Unlock()

			if sch.Metrics != nil {
				sch.Metrics.ActiveWorkers.Inc()
			}

			wp.Go(func() {
				sch.runItem(ctx, item, pol, observer)

				mu.Lock()
				inFlight--
				mu.Unlock()
				if sch.Metrics != nil {
					sch.Metrics.ActiveWorkers.Dec()
				}
				completion <- struct{}{}
			})
		}

		sch.State.PropagateBlockedStatus()
	}

	wp.Wait()
	sch.State.PropagateBlockedStatus()
}

// computeRunnable returns, sorted ascending by name, every item that has
// not already been dispatched this run, whose node status is not
// terminal (pass/fail/blocked), and whose every dep is pass.
func (sch *Scheduler) computeRunnable(p *plan.Plan, itemsByName map[string]plan.Item, dispatched map[string]bool) []string {
	var runnable []string

	for _, item := range p.Items {
		if dispatched[item.Name] {
			continue
		}
		nr, ok := sch.State.GetNodeResult(item.Name)
		if !ok {
			continue
		}
		if nr.Status == execstate.StatusPass || nr.Status == execstate.StatusFail || nr.Status == execstate.StatusBlocked {
			continue
		}

		ready := true
		for _, dep := range item.Deps {
			depResult, ok := sch.State.GetNodeResult(dep)
			if !ok || depResult.Status != execstate.StatusPass {
				ready = false
				break
			}
		}
		if ready {
			runnable = append(runnable, item.Name)
		}
	}

	sort.Strings(runnable)
	return runnable
}

// runItem executes item's gates strictly in declared order. A failing
// gate abandons the remaining gates for this item; each result still
// lands in execstate, which aggregates node status per §4.7.1.
func (sch *Scheduler) runItem(ctx context.Context, item plan.Item, pol plan.Policy, observer GateObserver) {
	for _, g := range item.Gates {
		result := sch.Wrapper.ExecuteGate(ctx, item.Name, g, pol, sch.ArtifactDir, sch.DefaultTimeoutMs)
		sch.State.UpdateGateResult(item.Name, result)
		observer.OnGateResult(item.Name, result)

		if result.Status == gate.StatusFail || result.Status == gate.StatusBlocked {
			break
		}
	}

	if nr, ok := sch.State.GetNodeResult(item.Name); ok {
		observer.OnNodeResult(nr)
	}
}

// Package orchestrator wires the plan loader, dependency resolver,
// execution state, scheduler, eligibility evaluator, and deliverables
// writer into the single entry point a host calls: Run. It is the only
// package that knows about all of the others; every other package in
// this module only knows its own neighbors.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mergepilot-dev/mergepilot/internal/deliverables"
	"github.com/mergepilot-dev/mergepilot/internal/eligibility"
	"github.com/mergepilot-dev/mergepilot/internal/execstate"
	"github.com/mergepilot-dev/mergepilot/internal/plan"
	"github.com/mergepilot-dev/mergepilot/internal/retry"
	"github.com/mergepilot-dev/mergepilot/internal/scheduler"
	"github.com/mergepilot-dev/mergepilot/internal/telemetry"
)

// Options configures one Run call. Every field is optional; the zero
// value runs with no artifact output, a silent logger, and no metrics.
type Options struct {
	// ArtifactDir is where gate.Run collects declared per-gate
	// artifacts. Empty means artifact collection is skipped.
	ArtifactDir string
	// DefaultTimeoutMs, when positive, is the timeout applied to gates
	// that don't set their own timeoutMs; when zero, such gates fall back
	// to plan.DefaultTimeoutMs.
	DefaultTimeoutMs int

	Logger   telemetry.Logger
	Metrics  *telemetry.Metrics
	Observer scheduler.GateObserver
	Throttle scheduler.ThrottlePredicate

	// DeliverablesDir, when non-empty, causes Run to write a timestamped
	// run directory under it (and repoint DeliverablesDir/latest) via
	// internal/deliverables. Empty means Run only returns the Summary.
	DeliverablesDir string
	RunnerVersion   string
	ProfilePath     string
	Actor           string
	Environment     deliverables.EnvironmentKind
	// CorrelationID, when empty, is generated per run.
	CorrelationID string
}

// Summary is everything Run hands back: the computed levels, every
// node's final state, every node's merge decision, the partitioned
// eligibility summary, a merge-ready order, and, when deliverables were
// written, the manifest and run directory.
type Summary struct {
	Target        string
	Levels        [][]string
	Nodes         []execstate.NodeResult
	Decisions     map[string]eligibility.MergeDecision
	Eligibility   eligibility.Summary
	ReadyForMerge []string

	RunDir   string
	PlanHash string
	Manifest deliverables.Manifest
}

// HasFailuresOrBlocks reports whether any node ended fail or blocked,
// the signal a host maps to exit code 1 per §6's exit conventions.
func (s Summary) HasFailuresOrBlocks() bool {
	for _, n := range s.Nodes {
		if n.Status == execstate.StatusFail || n.Status == execstate.StatusBlocked {
			return true
		}
	}
	return false
}

// Run validates and loads plan bytes, levelizes the dependency graph,
// runs the scheduler to quiescence under ctx's cancellation, evaluates
// merge eligibility, and, when configured, writes the deliverables run
// directory. A validation failure (schema, unknown dependency, cycle) is
// returned unwrapped so callers can type-switch it into the "validation"
// exit class of §7. A failure to write the deliverables run directory is
// returned as a wrapped error alongside the Summary computed so far.
// Every other failure mode is captured into the returned Summary's
// node/gate statuses rather than surfaced as an error, matching §7's
// "the engine never throws out of the scheduler" policy.
func Run(ctx context.Context, raw []byte, opts Options) (Summary, error) {
	p, levels, err := plan.Load(raw)
	if err != nil {
		return Summary{}, err
	}

	ctx, span := telemetry.StartRunSpan(ctx, p.Target, len(p.Items))
	defer span.End()

	state := execstate.New(p)

	wrapper := &retry.Wrapper{Metrics: opts.Metrics, Logger: opts.Logger}
	sch := &scheduler.Scheduler{
		State:            state,
		Wrapper:          wrapper,
		ArtifactDir:      opts.ArtifactDir,
		DefaultTimeoutMs: opts.DefaultTimeoutMs,
		Observer:         opts.Observer,
		Throttle:         opts.Throttle,
		Logger:           opts.Logger,
		Metrics:          opts.Metrics,
	}
	sch.Run(ctx, p)

	nodes := state.GetResults()

	pol := p.EffectivePolicy()
	evaluator := eligibility.NewEvaluator(p, state, pol, opts.Metrics)

	names := make([]string, len(p.Items))
	for i, it := range p.Items {
		names[i] = it.Name
	}

	elig := evaluator.Summarize(names)
	ready := evaluator.GetNodesReadyForMerge(elig.Eligible)

	decisions := make(map[string]eligibility.MergeDecision, len(names))
	for _, name := range names {
		decisions[name] = evaluator.Decide(name)
	}

	summary := Summary{
		Target:        p.Target,
		Levels:        levels,
		Nodes:         nodes,
		Decisions:     decisions,
		Eligibility:   elig,
		ReadyForMerge: ready,
	}

	if opts.DeliverablesDir != "" {
		correlationID := opts.CorrelationID
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		runDir := filepath.Join(opts.DeliverablesDir, time.Now().UTC().Format("20060102T150405.000000000Z"))
		latest := filepath.Join(opts.DeliverablesDir, "latest")

		environment := opts.Environment
		if environment == "" {
			environment = deliverables.EnvironmentLocal
		}

		wr, err := deliverables.WriteRun(p, levels, nodes, deliverables.WriteOptions{
			RunDir:        runDir,
			LatestLink:    latest,
			RunnerVersion: opts.RunnerVersion,
			LevelExecuted: len(levels),
			ProfilePath:   opts.ProfilePath,
			ExecutionContext: deliverables.ExecutionContext{
				Environment:   environment,
				Actor:         opts.Actor,
				CorrelationID: correlationID,
			},
		})
		if err != nil {
			return summary, fmt.Errorf("orchestrator: write deliverables: %w", err)
		}

		summary.RunDir = runDir
		summary.PlanHash = wr.PlanHash
		summary.Manifest = wr.Manifest
	}

	return summary, nil
}

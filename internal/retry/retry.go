// Package retry wraps internal/gate with per-gate retry: attempt
// counting, deterministic wall-clock backoff, classifier-driven early
// abort on permanent failures, administrative blocking via
// policy.blockOn, and a per-gate-name circuit breaker (always active)
// that suppresses retry storms from a single chronically-flaky gate
// command.
package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mergepilot-dev/mergepilot/internal/classify"
	"github.com/mergepilot-dev/mergepilot/internal/gate"
	"github.com/mergepilot-dev/mergepilot/internal/plan"
	"github.com/mergepilot-dev/mergepilot/internal/telemetry"
)

// Runner abstracts internal/gate.Run so tests can substitute a stub
// without spawning subprocesses. The production entry point (Wrapper
// zero value) uses gate.Run.
type Runner func(ctx context.Context, itemName string, g plan.Gate, artifactDir string, w gate.Warner) gate.Result

// AttemptObserver is notified with a transitional gate.Result — always
// Status: gate.StatusRetrying — the moment ExecuteGate decides an
// attempt's failure is worth another try, before the backoff sleep for
// the next attempt begins. This is the only way the retrying status
// described in spec.md ("mark the outcome's transient state as
// retrying internally and loop"; "Retries are visible in attempts and
// status=retrying transitional states") becomes observable outside
// ExecuteGate's own call stack: nil means nobody is watching mid-retry,
// which is fine, the final result is still returned as usual.
type AttemptObserver func(itemName string, result gate.Result)

// consecutiveTransientTrip is how many consecutive transient failures of
// the same gate name (across items, since flakiness is a property of the
// command, not the item) trip that gate's circuit breaker open.
const consecutiveTransientTrip = 5

// breakerCooldown is how long a tripped breaker stays open before
// allowing a single trial attempt through again.
const breakerCooldown = 30 * time.Second

// Wrapper executes one gate through its full retry policy. The zero
// value is ready to use; Metrics and Logger are optional.
type Wrapper struct {
	Run       Runner
	Metrics   *telemetry.Metrics
	Logger    telemetry.Logger
	OnAttempt AttemptObserver

	breakers breakerRegistry
}

// breakerRegistry lazily creates one circuit breaker per gate name. It
// is not safe for concurrent initialization from multiple goroutines
// without the mutex embedded in breakerRegistry itself; the scheduler
// only ever calls through one Wrapper value shared across workers, so
// the mutex here is load-bearing, not decorative.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func (r *breakerRegistry) get(gateName string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.breakers == nil {
		r.breakers = make(map[string]*gobreaker.CircuitBreaker)
	}
	if b, ok := r.breakers[gateName]; ok {
		return b
	}

	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "gate:" + gateName,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveTransientTrip
		},
		Timeout: breakerCooldown,
	})
	r.breakers[gateName] = b
	return b
}

// ExecuteGate runs g to completion under policy's retry configuration
// for g.Name, returning the final gate.Result. artifactDir is forwarded
// to internal/gate for artifact collection; defaultTimeoutMs, when
// positive, becomes g's timeout if g sets none of its own (otherwise
// plan.Gate.EffectiveTimeoutMs falls back to plan.DefaultTimeoutMs).
func (w *Wrapper) ExecuteGate(ctx context.Context, itemName string, g plan.Gate, pol plan.Policy, artifactDir string, defaultTimeoutMs int) gate.Result {
	run := w.Run
	if run == nil {
		run = gate.Run
	}

	if g.TimeoutMs <= 0 && defaultTimeoutMs > 0 {
		g.TimeoutMs = defaultTimeoutMs
	}

	if pol.IsBlocked(g.Name) {
		w.logger().Info("gate administratively blocked", "item", itemName, "gate", g.Name)
		return gate.Result{
			Gate:        g.Name,
			Status:      gate.StatusBlocked,
			Attempts:    0,
			LastAttempt: time.Now().UTC(),
		}
	}

	rp := pol.RetryPolicyFor(g.Name)
	if rp.MaxAttempts < 1 {
		rp.MaxAttempts = 1
	}

	breaker := w.breakerFor(g.Name)

	var result gate.Result
	for attempt := 1; attempt <= rp.MaxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(time.Duration(rp.BackoffSeconds * float64(time.Second)))
		}

		if breaker != nil && breaker.State() == gobreaker.StateOpen {
			result = gate.Result{
				Gate:     g.Name,
				Status:   gate.StatusFail,
				Stderr:   fmt.Sprintf("circuit open for gate %q: suppressing further attempts after repeated transient failures", g.Name),
				Attempts: attempt,
			}
			result.LastAttempt = time.Now().UTC()
			w.recordAttempt(g.Name, result)
			return result
		}

		ctx, span := telemetry.StartGateSpan(ctx, itemName, g.Name, attempt)
		attemptResult := run(ctx, itemName, g, artifactDir, w.logger())
		span.End()

		attemptResult.Attempts = attempt
		result = attemptResult
		w.recordAttempt(g.Name, result)

		if breaker != nil {
			if result.Status == gate.StatusPass {
				_, _ = breaker.Execute(func() (interface{}, error) { return nil, nil })
			} else {
				cls := classify.ClassifyText(result.Stderr, g.Name)
				if cls.Type == classify.Transient {
					_, _ = breaker.Execute(func() (interface{}, error) { return nil, fmt.Errorf("transient failure") })
				}
			}
		}

		if result.Status == gate.StatusPass || result.Status == gate.StatusSkipped {
			return result
		}

		cls := classify.ClassifyText(result.Stderr, g.Name)
		if cls.Type == classify.Permanent {
			w.logger().Debug("permanent failure classified, not retrying", "item", itemName, "gate", g.Name, "code", cls.Code)
			return result
		}

		if attempt < rp.MaxAttempts {
			w.recordRetry(cls)
			w.logger().Info("gate failed, will retry", "item", itemName, "gate", g.Name, "attempt", attempt, "maxAttempts", rp.MaxAttempts, "classification", cls.Type)

			if w.OnAttempt != nil {
				retrying := result
				retrying.Status = gate.StatusRetrying
				w.OnAttempt(itemName, retrying)
			}
		}
	}

	return result
}

func (w *Wrapper) breakerFor(gateName string) *gobreaker.CircuitBreaker {
	return w.breakers.get(gateName)
}

func (w *Wrapper) recordAttempt(gateName string, r gate.Result) {
	if w.Metrics == nil {
		return
	}
	w.Metrics.GateAttempts.WithLabelValues(string(r.Status)).Inc()
	w.Metrics.GateDuration.WithLabelValues(gateName).Observe(float64(r.DurationMs) / 1000.0)
}

func (w *Wrapper) recordRetry(cls classify.Classification) {
	if w.Metrics == nil {
		return
	}
	w.Metrics.RetryCount.WithLabelValues(string(cls.Type)).Inc()
}

func (w *Wrapper) logger() telemetry.Logger {
	return w.Logger
}

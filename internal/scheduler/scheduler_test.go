package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mergepilot-dev/mergepilot/internal/execstate"
	"github.com/mergepilot-dev/mergepilot/internal/gate"
	"github.com/mergepilot-dev/mergepilot/internal/plan"
	"github.com/mergepilot-dev/mergepilot/internal/retry"
)

func planWithItems(maxWorkers int, items ...plan.Item) *plan.Plan {
	return &plan.Plan{
		SchemaVersion: "1.0.0",
		Target:        "main",
		Items:         items,
		Policy:        &plan.Policy{MaxWorkers: maxWorkers},
	}
}

func alwaysPass(ctx context.Context, itemName string, g plan.Gate, artifactDir string, w gate.Warner) gate.Result {
	return gate.Result{Gate: g.Name, Status: gate.StatusPass}
}

func TestSchedulerRunsIndependentItemsToPass(t *testing.T) {
	p := planWithItems(2,
		plan.Item{Name: "a", Gates: []plan.Gate{{Name: "g", Run: "true"}}},
		plan.Item{Name: "b", Gates: []plan.Gate{{Name: "g", Run: "true"}}},
	)
	s := execstate.New(p)
	sch := &Scheduler{State: s, Wrapper: &retry.Wrapper{Run: alwaysPass}}

	sch.Run(context.Background(), p)

	for _, name := range []string{"a", "b"} {
		nr, _ := s.GetNodeResult(name)
		if nr.Status != execstate.StatusPass {
			t.Errorf("node %s status = %q, want pass", name, nr.Status)
		}
	}
}

func TestSchedulerBlocksDependentOnFailure(t *testing.T) {
	p := planWithItems(2,
		plan.Item{Name: "a", Gates: []plan.Gate{{Name: "g", Run: "false"}}},
		plan.Item{Name: "b", Deps: []string{"a"}, Gates: []plan.Gate{{Name: "g", Run: "true"}}},
	)
	s := execstate.New(p)
	sch := &Scheduler{
		State: s,
		Wrapper: &retry.Wrapper{Run: func(ctx context.Context, itemName string, g plan.Gate, artifactDir string, w gate.Warner) gate.Result {
			if itemName == "a" {
				return gate.Result{Gate: g.Name, Status: gate.StatusFail, Stderr: "syntax error"}
			}
			return gate.Result{Gate: g.Name, Status: gate.StatusPass}
		}},
	}

	sch.Run(context.Background(), p)

	a, _ := s.GetNodeResult("a")
	b, _ := s.GetNodeResult("b")
	if a.Status != execstate.StatusFail {
		t.Errorf("a.Status = %q, want fail", a.Status)
	}
	if b.Status != execstate.StatusBlocked {
		t.Errorf("b.Status = %q, want blocked", b.Status)
	}
	if len(b.BlockedBy) != 1 || b.BlockedBy[0] != "a" {
		t.Errorf("b.BlockedBy = %v, want [a]", b.BlockedBy)
	}
}

func TestSchedulerHonorsMaxWorkersBound(t *testing.T) {
	const maxWorkers = 2
	items := make([]plan.Item, 0, 6)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		items = append(items, plan.Item{Name: name, Gates: []plan.Gate{{Name: "g", Run: "true"}}})
	}
	p := planWithItems(maxWorkers, items...)
	s := execstate.New(p)

	var mu sync.Mutex
	var current, observedMax int32

	sch := &Scheduler{
		State: s,
		Wrapper: &retry.Wrapper{Run: func(ctx context.Context, itemName string, g plan.Gate, artifactDir string, w gate.Warner) gate.Result {
			n := atomic.AddInt32(&current, 1)
			mu.Lock()
			if n > observedMax {
				observedMax = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			return gate.Result{Gate: g.Name, Status: gate.StatusPass}
		}},
	}

	sch.Run(context.Background(), p)

	if observedMax > maxWorkers {
		t.Errorf("observed concurrency %d exceeds maxWorkers %d", observedMax, maxWorkers)
	}

	for _, item := range items {
		nr, _ := s.GetNodeResult(item.Name)
		if nr.Status != execstate.StatusPass {
			t.Errorf("node %s status = %q, want pass", item.Name, nr.Status)
		}
	}
}

func TestSchedulerStopsNewWorkOnCancellation(t *testing.T) {
	p := planWithItems(1, plan.Item{Name: "a", Gates: []plan.Gate{{Name: "g", Run: "true"}}})
	s := execstate.New(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sch := &Scheduler{State: s, Wrapper: &retry.Wrapper{Run: alwaysPass}}
	sch.Run(ctx, p)

	nr, _ := s.GetNodeResult("a")
	if nr.Status == execstate.StatusPass {
		t.Error("a cancelled run should not dispatch new work, node a should not reach pass")
	}
}

func TestSchedulerInvokesObserver(t *testing.T) {
	p := planWithItems(1, plan.Item{Name: "a", Gates: []plan.Gate{{Name: "g", Run: "true"}}})
	s := execstate.New(p)

	var gateCalls, nodeCalls int32
	obs := &countingObserver{gateCalls: &gateCalls, nodeCalls: &nodeCalls}

	sch := &Scheduler{State: s, Wrapper: &retry.Wrapper{Run: alwaysPass}, Observer: obs}
	sch.Run(context.Background(), p)

	if atomic.LoadInt32(&gateCalls) != 1 {
		t.Errorf("gateCalls = %d, want 1", gateCalls)
	}
	if atomic.LoadInt32(&nodeCalls) != 1 {
		t.Errorf("nodeCalls = %d, want 1", nodeCalls)
	}
}

func TestSchedulerReportsRetryingStatusMidBackoff(t *testing.T) {
	p := &plan.Plan{
		SchemaVersion: "1.0.0",
		Target:        "main",
		Items: []plan.Item{
			{Name: "a", Gates: []plan.Gate{{Name: "g"}}},
		},
		Policy: &plan.Policy{
			MaxWorkers: 1,
			Retries:    map[string]plan.RetryPolicy{"g": {MaxAttempts: 2, BackoffSeconds: 0}},
		},
	}
	s := execstate.New(p)

	calls := 0
	var observedStatuses []gate.Status
	obs := &statusRecordingObserver{statuses: &observedStatuses}

	sch := &Scheduler{
		State: s,
		Wrapper: &retry.Wrapper{Run: func(ctx context.Context, itemName string, g plan.Gate, artifactDir string, w gate.Warner) gate.Result {
			calls++
			if calls == 1 {
				return gate.Result{Gate: g.Name, Status: gate.StatusFail, Stderr: "connection reset"}
			}
			return gate.Result{Gate: g.Name, Status: gate.StatusPass}
		}},
		Observer: obs,
	}
	sch.Run(context.Background(), p)

	a, _ := s.GetNodeResult("a")
	if a.Status != execstate.StatusPass {
		t.Fatalf("a.Status = %q, want pass", a.Status)
	}

	sawRetrying := false
	for _, st := range observedStatuses {
		if st == gate.StatusRetrying {
			sawRetrying = true
		}
	}
	if !sawRetrying {
		t.Errorf("observer never saw a gate.StatusRetrying result; the mid-backoff retrying status never reached it, statuses = %v", observedStatuses)
	}
}

type statusRecordingObserver struct {
	mu       sync.Mutex
	statuses *[]gate.Status
}

func (o *statusRecordingObserver) OnGateResult(itemName string, result gate.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	*o.statuses = append(*o.statuses, result.Status)
}

func (o *statusRecordingObserver) OnNodeResult(result execstate.NodeResult) {}

type countingObserver struct {
	gateCalls *int32
	nodeCalls *int32
}

func (c *countingObserver) OnGateResult(itemName string, result gate.Result) {
	atomic.AddInt32(c.gateCalls, 1)
}

func (c *countingObserver) OnNodeResult(result execstate.NodeResult) {
	atomic.AddInt32(c.nodeCalls, 1)
}

package deliverables

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mergepilot-dev/mergepilot/internal/execstate"
	"github.com/mergepilot-dev/mergepilot/internal/gate"
	"github.com/mergepilot-dev/mergepilot/internal/plan"
)

func samplePlan() *plan.Plan {
	return &plan.Plan{
		SchemaVersion: "1.0.0",
		Target:        "main",
		Items: []plan.Item{
			{Name: "a", Gates: []plan.Gate{{Name: "g", Run: "true"}}},
		},
	}
}

func sampleNodes() []execstate.NodeResult {
	return []execstate.NodeResult{
		{
			Name:             "a",
			Status:           execstate.StatusPass,
			EligibleForMerge: true,
			Gates: []gate.Result{
				{Gate: "g", Status: gate.StatusPass, DurationMs: 12, Attempts: 1, LastAttempt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
			},
		},
	}
}

// TestWriteRunIsDeterministic implements §8's determinism property for
// deliverables: identical plan/nodes input produces byte-identical
// plan.json, snapshot.md, and gate-result files across two independent
// calls, apart from manifest.json's own timestamp field.
func TestWriteRunIsDeterministic(t *testing.T) {
	p := samplePlan()
	nodes := sampleNodes()

	dir1 := filepath.Join(tempDirInMemory(t), "run1")
	dir2 := filepath.Join(tempDirInMemory(t), "run2")

	r1, err := WriteRun(p, [][]string{{"a"}}, nodes, WriteOptions{RunDir: dir1, RunnerVersion: "v1", LevelExecuted: 1})
	require.NoError(t, err)
	r2, err := WriteRun(p, [][]string{{"a"}}, nodes, WriteOptions{RunDir: dir2, RunnerVersion: "v1", LevelExecuted: 1})
	require.NoError(t, err)

	require.Equal(t, r1.PlanHash, r2.PlanHash)

	for _, rel := range []string{"plan.json", "snapshot.md", filepath.Join("results", "a", "g.json")} {
		b1 := readFile(t, filepath.Join(dir1, rel))
		b2 := readFile(t, filepath.Join(dir2, rel))
		require.Equal(t, string(b1), string(b2), "file %s differs between runs", rel)
	}
}

// TestWriteRunOrdersInsertionIndependently verifies that item insertion
// order in the source plan does not affect the canonical plan.json bytes
// written to disk, the other half of §8's determinism property.
func TestWriteRunOrdersInsertionIndependently(t *testing.T) {
	pA := &plan.Plan{
		SchemaVersion: "1.0.0", Target: "main",
		Items: []plan.Item{{Name: "a"}, {Name: "b"}},
	}
	pB := &plan.Plan{
		SchemaVersion: "1.0.0", Target: "main",
		Items: []plan.Item{{Name: "b"}, {Name: "a"}},
	}

	dirA := filepath.Join(tempDirInMemory(t), "a")
	dirB := filepath.Join(tempDirInMemory(t), "b")

	_, err := WriteRun(pA, [][]string{{"a", "b"}}, nil, WriteOptions{RunDir: dirA})
	require.NoError(t, err)
	_, err = WriteRun(pB, [][]string{{"a", "b"}}, nil, WriteOptions{RunDir: dirB})
	require.NoError(t, err)

	require.Equal(t, string(readFile(t, filepath.Join(dirA, "plan.json"))), string(readFile(t, filepath.Join(dirB, "plan.json"))))
}

func TestWriteRunRepointsLatest(t *testing.T) {
	p := samplePlan()
	base := tempDirInMemory(t)
	runDir := filepath.Join(base, "run1")
	latest := filepath.Join(base, "latest")

	_, err := WriteRun(p, [][]string{{"a"}}, sampleNodes(), WriteOptions{RunDir: runDir, LatestLink: latest})
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(latest)
	if err == nil {
		require.Equal(t, runDir, resolved)
		return
	}
	content := readFile(t, latest)
	require.Contains(t, string(content), runDir)
}

func TestReadGateReportCurrentShape(t *testing.T) {
	raw := []byte(`{"item":"a","gate":"g","status":"pass","duration_ms":10,"started_at":"2026-01-02T03:04:05Z"}`)

	report, err := ReadGateReport(raw)
	require.NoError(t, err)
	require.Equal(t, "a", report.Item)
	require.Equal(t, "pass", report.Status)
	require.Equal(t, int64(10), report.DurationMs)
}

// TestReadGateReportLegacyShape implements §6's back-compat contract:
// readers must accept {result: success|failure, duration, start_time}.
func TestReadGateReportLegacyShape(t *testing.T) {
	raw := []byte(`{"item":"a","gate":"g","result":"success","duration":42,"start_time":"2026-01-02T03:04:05Z"}`)

	report, err := ReadGateReport(raw)
	require.NoError(t, err)
	require.Equal(t, "pass", report.Status)
	require.Equal(t, int64(42), report.DurationMs)
	require.Equal(t, "2026-01-02T03:04:05Z", report.StartedAt)
}

func TestReadGateReportRejectsBadSchemaVersion(t *testing.T) {
	raw := []byte(`{"item":"a","gate":"g","status":"pass","duration_ms":1,"started_at":"2026-01-02T03:04:05Z","schemaVersion":"2.0.0"}`)

	_, err := ReadGateReport(raw)
	require.Error(t, err)
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

package gate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mergepilot-dev/mergepilot/internal/plan"
)

func withStubRunner(t *testing.T, fn commandRunner) {
	t.Helper()
	prev := runCommand
	runCommand = fn
	t.Cleanup(func() { runCommand = prev })
}

func TestRunPass(t *testing.T) {
	withStubRunner(t, func(ctx context.Context, dir, shell, flag, script string, env []string) (string, string, int, bool, bool, error) {
		return "ok\n", "", 0, true, false, nil
	})

	res := Run(context.Background(), "item-a", plan.Gate{Name: "g", Run: "true"}, "", nil)
	if res.Status != StatusPass {
		t.Errorf("Status = %q, want pass", res.Status)
	}
	if res.Stdout != "ok" {
		t.Errorf("Stdout = %q, want trimmed %q", res.Stdout, "ok")
	}
}

func TestRunFailNonZeroExit(t *testing.T) {
	withStubRunner(t, func(ctx context.Context, dir, shell, flag, script string, env []string) (string, string, int, bool, bool, error) {
		return "", "boom", 1, true, false, nil
	})

	res := Run(context.Background(), "item-a", plan.Gate{Name: "g", Run: "false"}, "", nil)
	if res.Status != StatusFail {
		t.Errorf("Status = %q, want fail", res.Status)
	}
	if res.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", res.ExitCode)
	}
}

func TestRunTimeoutReportsFailWithNote(t *testing.T) {
	withStubRunner(t, func(ctx context.Context, dir, shell, flag, script string, env []string) (string, string, int, bool, bool, error) {
		return "", "", 0, false, true, nil
	})

	res := Run(context.Background(), "item-a", plan.Gate{Name: "g", Run: "sleep 100", TimeoutMs: 10}, "", nil)
	if res.Status != StatusFail {
		t.Errorf("Status = %q, want fail", res.Status)
	}
	if !strings.Contains(res.Stderr, "timed out") {
		t.Errorf("Stderr = %q, want mention of timeout", res.Stderr)
	}
}

func TestRunCIServiceRuntimeSkips(t *testing.T) {
	res := Run(context.Background(), "item-a", plan.Gate{Name: "g", Run: "true", Runtime: plan.RuntimeCIService}, "", nil)
	if res.Status != StatusSkipped {
		t.Errorf("Status = %q, want skipped", res.Status)
	}
}

func TestRunContainerRuntimeFallsBackToLocal(t *testing.T) {
	withStubRunner(t, func(ctx context.Context, dir, shell, flag, script string, env []string) (string, string, int, bool, bool, error) {
		return "", "", 0, true, false, nil
	})

	res := Run(context.Background(), "item-a", plan.Gate{Name: "g", Run: "true", Runtime: plan.RuntimeContainer}, "", nil)
	if res.Status != StatusPass {
		t.Errorf("Status = %q, want pass (container falls back to local)", res.Status)
	}
}

func TestRunCollectsArtifacts(t *testing.T) {
	tmp := t.TempDir()
	srcFile := filepath.Join(tmp, "report.txt")
	if err := os.WriteFile(srcFile, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	withStubRunner(t, func(ctx context.Context, dir, shell, flag, script string, env []string) (string, string, int, bool, bool, error) {
		return "", "", 0, true, false, nil
	})

	artifactDir := filepath.Join(tmp, "artifacts")
	res := Run(context.Background(), "item-a", plan.Gate{
		Name:      "g",
		Run:       "true",
		Cwd:       tmp,
		Artifacts: []string{"report.txt", "missing.txt"},
	}, artifactDir, nil)

	if len(res.Artifacts) != 1 {
		t.Fatalf("Artifacts = %v, want exactly 1 collected", res.Artifacts)
	}
	want := filepath.Join(artifactDir, "item-a", "g", "report.txt")
	if res.Artifacts[0] != want {
		t.Errorf("Artifacts[0] = %q, want %q", res.Artifacts[0], want)
	}
}

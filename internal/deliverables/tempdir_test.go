package deliverables

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// tempDirInMemory creates a scratch run directory for one test,
// preferring /dev/shm (a tmpfs ramdisk) on Linux when available. This
// package's tests write a run directory's worth of small files on every
// call to WriteRun/ApplyRetention fixtures (plan.json, snapshot.md, one
// results/<item>/<gate>.json per gate, manifest.json) rather than one
// file, so avoiding real disk I/O for each of those small writes matters
// more here than in packages that write one or two files per test.
func tempDirInMemory(t testing.TB) string {
	t.Helper()

	baseDir := os.TempDir()
	if runtime.GOOS == "linux" {
		if stat, err := os.Stat("/dev/shm"); err == nil && stat.IsDir() {
			candidate := filepath.Join("/dev/shm", "mergepilot-deliverables-test")
			if err := os.MkdirAll(candidate, 0o755); err == nil {
				baseDir = candidate
			}
		}
	}

	dir, err := os.MkdirTemp(baseDir, "mergepilot-deliverables-*")
	if err != nil {
		t.Fatalf("create scratch run directory: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

// seedRunDir populates dir the way a real WriteRun call would leave a
// run directory on disk: a manifest.json plus gatesPerItem
// results/<item>/<gate>.json files per item name, each a non-empty
// JSON gate report. Retention tests use this instead of a single
// placeholder file so ApplyRetention's freedBytes accounting is
// exercised against a realistic multi-file run directory rather than a
// single zero-length stand-in.
func seedRunDir(t testing.TB, dir string, itemNames []string, gatesPerItem int) {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("seedRunDir: mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(`{"schemaVersion":"1.0.0"}`+"\n"), 0o644); err != nil {
		t.Fatalf("seedRunDir: write manifest: %v", err)
	}

	for _, item := range itemNames {
		resultsDir := filepath.Join(dir, "results", item)
		if err := os.MkdirAll(resultsDir, 0o755); err != nil {
			t.Fatalf("seedRunDir: mkdir %s: %v", resultsDir, err)
		}
		for i := 0; i < gatesPerItem; i++ {
			gateName := fmt.Sprintf("gate-%d", i)
			body := fmt.Sprintf(`{"item":%q,"gate":%q,"status":"pass","duration_ms":%d,"started_at":"2026-01-02T03:04:05Z"}`+"\n", item, gateName, i*10)
			path := filepath.Join(resultsDir, gateName+".json")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatalf("seedRunDir: write %s: %v", path, err)
			}
		}
	}
}

package deliverables

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// makeRunDir seeds a run directory the way WriteRun actually leaves one
// (manifest.json plus a couple of per-gate result files under results/),
// then backdates its mtime by age so retention's age/count bucketing has
// something realistic to sort.
func makeRunDir(t *testing.T, base, name string, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(base, name)
	seedRunDir(t, dir, []string{"a", "b"}, 2)
	modTime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(dir, modTime, modTime))
	return dir
}

func intPtr(v int) *int { return &v }

func TestApplyRetentionKeepsNewestByMaxCount(t *testing.T) {
	base := tempDirInMemory(t)
	makeRunDir(t, base, "20260101T000000.000000000Z", 3*24*time.Hour)
	makeRunDir(t, base, "20260102T000000.000000000Z", 2*24*time.Hour)
	makeRunDir(t, base, "20260103T000000.000000000Z", 1*24*time.Hour)

	report, err := ApplyRetention(base, RetentionPolicy{MaxCount: intPtr(2)})
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"20260103T000000.000000000Z", "20260102T000000.000000000Z"}, report.Kept)
	require.Equal(t, []string{"20260101T000000.000000000Z"}, report.Removed)

	_, err = os.Stat(filepath.Join(base, "20260101T000000.000000000Z"))
	require.True(t, os.IsNotExist(err))
}

func TestApplyRetentionRemovesByMaxAge(t *testing.T) {
	base := tempDirInMemory(t)
	makeRunDir(t, base, "old-run", 48*time.Hour)
	makeRunDir(t, base, "new-run", 1*time.Hour)

	report, err := ApplyRetention(base, RetentionPolicy{MaxAge: intPtr(1)})
	require.NoError(t, err)

	require.Equal(t, []string{"old-run"}, report.Removed)
	require.Equal(t, []string{"new-run"}, report.Kept)
	require.Positive(t, report.FreedBytes)
}

func TestApplyRetentionKeepLatestOverridesMaxCount(t *testing.T) {
	base := tempDirInMemory(t)
	makeRunDir(t, base, "20260101T000000.000000000Z", 10*24*time.Hour)
	makeRunDir(t, base, "20260105T000000.000000000Z", 1*time.Hour)

	report, err := ApplyRetention(base, RetentionPolicy{MaxCount: intPtr(0), KeepLatest: true})
	require.NoError(t, err)

	require.Equal(t, []string{"20260105T000000.000000000Z"}, report.Kept)
	require.Equal(t, []string{"20260101T000000.000000000Z"}, report.Removed)
}

func TestApplyRetentionNeverTouchesExcludedNames(t *testing.T) {
	base := tempDirInMemory(t)
	makeRunDir(t, base, "run1", 10*24*time.Hour)
	require.NoError(t, os.WriteFile(filepath.Join(base, "latest"), []byte("run1"), 0o644))

	report, err := ApplyRetention(base, RetentionPolicy{MaxCount: intPtr(0)}, "latest")
	require.NoError(t, err)

	require.Equal(t, []string{"run1"}, report.Removed)
	_, err = os.Stat(filepath.Join(base, "latest"))
	require.NoError(t, err)
}

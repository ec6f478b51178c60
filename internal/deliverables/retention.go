package deliverables

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// RetentionPolicy bounds how many run directories under a base directory
// survive a call to ApplyRetention, per §4.10.
type RetentionPolicy struct {
	// MaxAge, when non-nil, removes runs older than this many days.
	MaxAge *int
	// MaxCount, when non-nil, keeps at most this many runs (newest first).
	MaxCount *int
	// KeepLatest always keeps the single newest run, overriding MaxAge
	// and MaxCount for that one directory.
	KeepLatest bool
}

// RetentionReport is what ApplyRetention reports back.
type RetentionReport struct {
	Removed    []string
	Kept       []string
	FreedBytes int64
}

// ApplyRetention lists baseDir's immediate subdirectories (run
// directories, named so that lexicographic order is newest-first when
// sorted descending, e.g. RFC3339 timestamps), computes the keep-set
// per policy, deletes the rest, and reports what happened. It never
// touches excludeNames (typically the "latest" link/file sitting
// alongside the run directories).
func ApplyRetention(baseDir string, policy RetentionPolicy, excludeNames ...string) (RetentionReport, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return RetentionReport{}, fmt.Errorf("deliverables: list run directories: %w", err)
	}

	excluded := make(map[string]bool, len(excludeNames))
	for _, n := range excludeNames {
		excluded[n] = true
	}

	type run struct {
		name    string
		path    string
		modTime time.Time
	}

	var runs []run
	for _, e := range entries {
		if !e.IsDir() || excluded[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		runs = append(runs, run{name: e.Name(), path: filepath.Join(baseDir, e.Name()), modTime: info.ModTime()})
	}

	// Newest-first: by name descending, since run directories are named
	// with sortable timestamps and this avoids relying on filesystem
	// mtimes that a restore or copy could have disturbed.
	sort.Slice(runs, func(i, j int) bool { return runs[i].name > runs[j].name })

	keep := make(map[string]bool, len(runs))
	now := time.Now()

	for i, r := range runs {
		if policy.KeepLatest && i == 0 {
			keep[r.name] = true
			continue
		}
		if policy.MaxCount != nil && i >= *policy.MaxCount {
			continue
		}
		if policy.MaxAge != nil {
			age := now.Sub(r.modTime)
			if age > time.Duration(*policy.MaxAge)*24*time.Hour {
				continue
			}
		}
		keep[r.name] = true
	}

	var report RetentionReport
	for _, r := range runs {
		if keep[r.name] {
			report.Kept = append(report.Kept, r.name)
			continue
		}

		size, _ := dirSize(r.path)
		if err := os.RemoveAll(r.path); err != nil {
			return report, fmt.Errorf("deliverables: remove run directory %s: %w", r.name, err)
		}
		report.Removed = append(report.Removed, r.name)
		report.FreedBytes += size
	}

	return report, nil
}

func dirSize(path string) (int64, error) {
	var total int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

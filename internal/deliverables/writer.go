// Package deliverables writes the immutable run directory an
// orchestrator run leaves behind: the canonical plan, a human-readable
// snapshot, one result file per gate, and a manifest tying every
// artifact back to a SHA-256 hash and the plan's own hash. It also
// implements the back-compat gate-report reader and the retention GC
// described for this directory.
package deliverables

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mergepilot-dev/mergepilot/internal/canonical"
	"github.com/mergepilot-dev/mergepilot/internal/execstate"
	"github.com/mergepilot-dev/mergepilot/internal/plan"
)

// SchemaVersion is written into every manifest this package produces.
const SchemaVersion = "1.0.0"

// ArtifactType classifies one manifest artifact entry.
type ArtifactType string

const (
	ArtifactJSON     ArtifactType = "json"
	ArtifactMarkdown ArtifactType = "markdown"
	ArtifactLog      ArtifactType = "log"
)

// ArtifactEntry is one row of manifest.json's artifacts list.
type ArtifactEntry struct {
	Name         string       `json:"name"`
	RelativePath string       `json:"relativePath"`
	Type         ArtifactType `json:"type"`
	Size         int64        `json:"size"`
	SHA256       string       `json:"sha256"`
}

// EnvironmentKind names where a run executed, for manifest.executionContext.
type EnvironmentKind string

const (
	EnvironmentCI    EnvironmentKind = "ci"
	EnvironmentLocal EnvironmentKind = "local"
)

// ExecutionContext records where and by whom a run was driven.
type ExecutionContext struct {
	WorkingDirectory string          `json:"workingDirectory"`
	Environment      EnvironmentKind `json:"environment"`
	Actor            string          `json:"actor,omitempty"`
	CorrelationID    string          `json:"correlationId,omitempty"`
}

// Manifest is the top-level record of one run directory, per §4.10 and
// §6 of the specification this engine implements.
type Manifest struct {
	SchemaVersion    string           `json:"schemaVersion"`
	Timestamp        string           `json:"timestamp"`
	PlanHash         string           `json:"planHash"`
	RunnerVersion    string           `json:"runnerVersion"`
	LevelExecuted    int              `json:"levelExecuted"`
	ProfilePath      string           `json:"profilePath,omitempty"`
	Artifacts        []ArtifactEntry  `json:"artifacts"`
	ExecutionContext ExecutionContext `json:"executionContext"`
}

// WriteOptions configures one WriteRun call.
type WriteOptions struct {
	// RunDir is the timestamped run directory to populate; it must not
	// already exist. WriteRun creates it and every subdirectory it needs.
	RunDir string
	// LatestLink, if non-empty, is (re)pointed at RunDir after every
	// other file has been written, giving callers a stable "most recent
	// run" path per §4.10's "latest indirection".
	LatestLink string

	RunnerVersion    string
	LevelExecuted    int
	ProfilePath      string
	ExecutionContext ExecutionContext
}

// Result is what WriteRun reports back: the manifest it wrote and the
// plan hash it computed, so callers don't need to recompute either.
type Result struct {
	Manifest Manifest
	PlanHash string
}

// WriteRun emits plan.json, snapshot.md, results/<item>/<gate>.json for
// every gate recorded in nodes, and manifest.json, then repoints
// opts.LatestLink at opts.RunDir. Every byte written is a function only
// of p, levels, nodes, and opts, never of wall-clock time beyond the
// timestamp field itself, so two runs over the same inputs produce
// byte-identical artifacts apart from that one field.
func WriteRun(p *plan.Plan, levels [][]string, nodes []execstate.NodeResult, opts WriteOptions) (Result, error) {
	if err := os.MkdirAll(opts.RunDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("deliverables: create run dir: %w", err)
	}

	planBytes, err := canonical.Encode(p)
	if err != nil {
		return Result{}, fmt.Errorf("deliverables: encode plan: %w", err)
	}
	planHash := canonical.HashBytes(planBytes)

	var artifacts []ArtifactEntry

	planEntry, err := writeFile(opts.RunDir, "plan.json", planBytes, ArtifactJSON)
	if err != nil {
		return Result{}, err
	}
	artifacts = append(artifacts, planEntry)

	snapshotBytes := renderSnapshot(p, levels, nodes)
	snapshotEntry, err := writeFile(opts.RunDir, "snapshot.md", snapshotBytes, ArtifactMarkdown)
	if err != nil {
		return Result{}, err
	}
	artifacts = append(artifacts, snapshotEntry)

	resultEntries, err := writeGateResults(opts.RunDir, nodes)
	if err != nil {
		return Result{}, err
	}
	artifacts = append(artifacts, resultEntries...)

	manifest := Manifest{
		SchemaVersion: SchemaVersion,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		PlanHash:      planHash,
		RunnerVersion: orDefault(opts.RunnerVersion, "dev"),
		LevelExecuted: opts.LevelExecuted,
		ProfilePath:   opts.ProfilePath,
		Artifacts:     artifacts,
		ExecutionContext: orDefaultContext(opts.ExecutionContext),
	}

	manifestBytes, err := canonical.Encode(manifest)
	if err != nil {
		return Result{}, fmt.Errorf("deliverables: encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(opts.RunDir, "manifest.json"), manifestBytes, 0o644); err != nil {
		return Result{}, fmt.Errorf("deliverables: write manifest: %w", err)
	}

	if opts.LatestLink != "" {
		if err := repointLatest(opts.LatestLink, opts.RunDir); err != nil {
			return Result{}, err
		}
	}

	return Result{Manifest: manifest, PlanHash: planHash}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultContext(ec ExecutionContext) ExecutionContext {
	if ec.Environment == "" {
		ec.Environment = EnvironmentLocal
	}
	if ec.WorkingDirectory == "" {
		if wd, err := os.Getwd(); err == nil {
			ec.WorkingDirectory = wd
		}
	}
	return ec
}

func writeFile(runDir, relPath string, content []byte, typ ArtifactType) (ArtifactEntry, error) {
	full := filepath.Join(runDir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return ArtifactEntry{}, fmt.Errorf("deliverables: create dir for %s: %w", relPath, err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		return ArtifactEntry{}, fmt.Errorf("deliverables: write %s: %w", relPath, err)
	}
	return ArtifactEntry{
		Name:         filepath.Base(relPath),
		RelativePath: filepath.ToSlash(relPath),
		Type:         typ,
		Size:         int64(len(content)),
		SHA256:       canonical.HashBytes(content),
	}, nil
}

// writeGateResults writes results/<item>/<gate>.json for every gate
// recorded against every node, in item-name-then-gate-name order
// (nodes and their Gates slices are already sorted by the caller's
// execstate snapshot), and returns one ArtifactEntry per file.
func writeGateResults(runDir string, nodes []execstate.NodeResult) ([]ArtifactEntry, error) {
	var entries []ArtifactEntry

	names := make([]string, len(nodes))
	byName := make(map[string]execstate.NodeResult, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
		byName[n.Name] = n
	}
	sort.Strings(names)

	for _, name := range names {
		n := byName[name]
		for _, gr := range n.Gates {
			report := GateReport{
				Item:       n.Name,
				Gate:       gr.Gate,
				Status:     string(gr.Status),
				DurationMs: gr.DurationMs,
				StartedAt:  gr.LastAttempt.UTC().Format("2006-01-02T15:04:05.000Z"),
			}
			if len(gr.Artifacts) > 0 {
				for _, a := range gr.Artifacts {
					report.Artifacts = append(report.Artifacts, ArtifactRef{Path: a})
				}
			}

			encoded, err := canonical.Encode(report)
			if err != nil {
				return nil, fmt.Errorf("deliverables: encode gate report %s/%s: %w", n.Name, gr.Gate, err)
			}

			rel := filepath.Join("results", n.Name, gr.Gate+".json")
			entry, err := writeFile(runDir, rel, encoded, ArtifactJSON)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
	}

	return entries, nil
}

// renderSnapshot produces the human-readable run summary: levels and a
// per-item gate rundown, matching the declared stable order (item name,
// then gate name) everywhere a list appears.
func renderSnapshot(p *plan.Plan, levels [][]string, nodes []execstate.NodeResult) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run snapshot: %s\n\n", p.Target)

	b.WriteString("## Levels\n\n")
	for i, level := range levels {
		fmt.Fprintf(&b, "%d. %s\n", i, strings.Join(level, ", "))
	}
	b.WriteString("\n## Items\n\n")

	byName := make(map[string]execstate.NodeResult, len(nodes))
	for _, n := range nodes {
		byName[n.Name] = n
	}

	itemNames := make([]string, len(p.Items))
	for i, it := range p.Items {
		itemNames[i] = it.Name
	}
	sort.Strings(itemNames)

	for _, name := range itemNames {
		n := byName[name]
		fmt.Fprintf(&b, "### %s — %s\n\n", name, n.Status)
		if len(n.BlockedBy) > 0 {
			fmt.Fprintf(&b, "Blocked by: %s\n\n", strings.Join(n.BlockedBy, ", "))
		}
		if len(n.Gates) == 0 {
			b.WriteString("(no gates recorded)\n\n")
			continue
		}
		for _, g := range n.Gates {
			fmt.Fprintf(&b, "- `%s`: %s (attempts=%d, %dms)\n", g.Gate, g.Status, g.Attempts, g.DurationMs)
		}
		b.WriteString("\n")
	}

	return []byte(b.String())
}

// repointLatest makes link point at target, replacing any previous
// link. It tries a symlink first; if the host filesystem doesn't
// support one (notably some Windows configurations without the
// privilege to create symlinks), it falls back to a plain text file
// holding target's path.
func repointLatest(link, target string) error {
	_ = os.Remove(link)

	relTarget, err := filepath.Rel(filepath.Dir(link), target)
	if err != nil {
		relTarget = target
	}

	if err := os.Symlink(relTarget, link); err == nil {
		return nil
	}

	return os.WriteFile(link, []byte(target+"\n"), 0o644)
}

package deliverables

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// schemaVersionPattern matches the §6 gate-report schemaVersion contract:
// "1.N.N".
var schemaVersionPattern = regexp.MustCompile(`^1\.\d+\.\d+$`)

// ArtifactRef is one entry in a gate report's optional artifacts list.
type ArtifactRef struct {
	Path        string `json:"path"`
	Type        string `json:"type,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Description string `json:"description,omitempty"`
}

// GateReport is the on-disk shape of results/<item>/<gate>.json, per §6.
// Field names are snake_case here by contract; a different convention
// from plan.json/manifest.json's camelCase, and one this package
// preserves deliberately rather than "fixing" to match the rest of the
// on-disk surface.
type GateReport struct {
	Item          string            `json:"item"`
	Gate          string            `json:"gate"`
	Status        string            `json:"status"`
	DurationMs    int64             `json:"duration_ms"`
	StartedAt     string            `json:"started_at"`
	SchemaVersion string            `json:"schemaVersion,omitempty"`
	StdoutPath    string            `json:"stdout_path,omitempty"`
	StderrPath    string            `json:"stderr_path,omitempty"`
	Meta          map[string]string `json:"meta,omitempty"`
	Artifacts     []ArtifactRef     `json:"artifacts,omitempty"`
}

// ReadGateReport decodes a gate report, migrating the legacy shape
// {result: success|failure, duration, start_time} to the current one
// before typed decode, and accepting a missing schemaVersion. raw is
// never mutated; the migration works on a copy produced by sjson.
func ReadGateReport(raw []byte) (GateReport, error) {
	text := string(raw)

	if result := gjson.Get(text, "result"); result.Exists() {
		status := "fail"
		switch result.String() {
		case "success":
			status = "pass"
		case "failure":
			status = "fail"
		}
		migrated, err := sjson.Set(text, "status", status)
		if err != nil {
			return GateReport{}, fmt.Errorf("deliverables: migrate legacy result field: %w", err)
		}
		migrated, err = sjson.Delete(migrated, "result")
		if err != nil {
			return GateReport{}, fmt.Errorf("deliverables: delete legacy result field: %w", err)
		}
		text = migrated
	}

	if duration := gjson.Get(text, "duration"); duration.Exists() {
		migrated, err := sjson.Set(text, "duration_ms", duration.Num)
		if err != nil {
			return GateReport{}, fmt.Errorf("deliverables: migrate legacy duration field: %w", err)
		}
		migrated, err = sjson.Delete(migrated, "duration")
		if err != nil {
			return GateReport{}, fmt.Errorf("deliverables: delete legacy duration field: %w", err)
		}
		text = migrated
	}

	if startTime := gjson.Get(text, "start_time"); startTime.Exists() {
		migrated, err := sjson.Set(text, "started_at", startTime.String())
		if err != nil {
			return GateReport{}, fmt.Errorf("deliverables: migrate legacy start_time field: %w", err)
		}
		migrated, err = sjson.Delete(migrated, "start_time")
		if err != nil {
			return GateReport{}, fmt.Errorf("deliverables: delete legacy start_time field: %w", err)
		}
		text = migrated
	}

	var report GateReport
	if err := json.Unmarshal([]byte(text), &report); err != nil {
		return GateReport{}, fmt.Errorf("deliverables: decode gate report: %w", err)
	}

	if report.SchemaVersion != "" && !schemaVersionPattern.MatchString(report.SchemaVersion) {
		return GateReport{}, fmt.Errorf("deliverables: gate report schemaVersion %q does not match ^1.N.N$", report.SchemaVersion)
	}
	if report.Item == "" || report.Gate == "" {
		return GateReport{}, fmt.Errorf("deliverables: gate report missing required item/gate field")
	}

	return report, nil
}

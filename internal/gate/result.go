// Package gate runs a single attempt of a verification command: spawning
// a shell-interpreted subprocess, enforcing a timeout with a
// gentle-then-forceful termination escalation, capturing stdout/stderr,
// and collecting declared artifacts. It never retries (that is
// internal/retry's job) and it never consults policy beyond what one
// Gate and one timeout say.
package gate

import "time"

// Status is the outcome of a single gate attempt.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusBlocked Status = "blocked"
	StatusSkipped Status = "skipped"
	StatusRetrying Status = "retrying"
)

// Artifact is one file collected after a gate attempt.
type Artifact struct {
	SourcePath string
	StoredPath string
}

// Result is the outcome of one gate attempt (or, from the retry
// wrapper's perspective, the final outcome of all attempts).
type Result struct {
	Gate        string
	Status      Status
	ExitCode    int
	HasExitCode bool
	DurationMs  int64
	Stdout      string
	Stderr      string
	Artifacts   []string
	Attempts    int
	LastAttempt time.Time
}

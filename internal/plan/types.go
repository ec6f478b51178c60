// Package plan defines the immutable input contract (Plan, Item, Gate,
// and Policy) and a loader that validates raw JSON bytes into typed
// values before anything downstream ever sees them.
package plan

import "strings"

// Plan is the top-level, immutable description of a merge-train run.
type Plan struct {
	SchemaVersion string  `json:"schemaVersion"`
	Target        string  `json:"target"`
	Items         []Item  `json:"items"`
	Policy        *Policy `json:"policy,omitempty"`
}

// Item is a single change-set with its dependencies and verification
// gates.
type Item struct {
	Name  string   `json:"name"`
	Deps  []string `json:"deps,omitempty"`
	Gates []Gate   `json:"gates,omitempty"`
}

// Runtime names the environment a gate is meant to run in. Only
// RuntimeLocal is fully implemented; the others degrade per §4.5 of the
// specification this engine implements (container → local with a
// warning, ci-service → skipped).
type Runtime string

const (
	RuntimeLocal     Runtime = "local"
	RuntimeContainer Runtime = "container"
	RuntimeCIService Runtime = "ci-service"
)

// DefaultTimeoutMs is used when a Gate does not specify its own timeout.
const DefaultTimeoutMs = 30000

// Gate is a single verification command attached to an Item.
type Gate struct {
	Name      string            `json:"name"`
	Run       string            `json:"run"`
	Cwd       string            `json:"cwd,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Runtime   Runtime           `json:"runtime,omitempty"`
	TimeoutMs int               `json:"timeoutMs,omitempty"`
	Artifacts []string          `json:"artifacts,omitempty"`
}

// EffectiveTimeoutMs returns the gate's configured timeout, or
// DefaultTimeoutMs when unset.
func (g Gate) EffectiveTimeoutMs() int {
	if g.TimeoutMs > 0 {
		return g.TimeoutMs
	}
	return DefaultTimeoutMs
}

// EffectiveRuntime returns the gate's configured runtime, defaulting to
// RuntimeLocal.
func (g Gate) EffectiveRuntime() Runtime {
	if g.Runtime == "" {
		return RuntimeLocal
	}
	return g.Runtime
}

// RetryPolicy configures attempt count and backoff for one gate name.
type RetryPolicy struct {
	MaxAttempts    int     `json:"maxAttempts"`
	BackoffSeconds float64 `json:"backoffSeconds"`
}

// AdminGreenOverride configures who may bypass eligibility and whether a
// reason is mandatory.
type AdminGreenOverride struct {
	AllowedUsers  []string `json:"allowedUsers,omitempty"`
	RequireReason bool     `json:"requireReason"`
}

// Overrides groups the override mechanisms a policy may configure. Today
// only adminGreen is defined.
type Overrides struct {
	AdminGreen *AdminGreenOverride `json:"adminGreen,omitempty"`
}

// MergeRuleType names the strategy used to turn node status into a merge
// decision. Only MergeRuleStrictRequired is defined by this engine.
type MergeRuleType string

const (
	MergeRuleStrictRequired MergeRuleType = "strict-required"
)

// MergeRule is a tagged value; its Type selects the evaluation strategy
// the eligibility evaluator applies.
type MergeRule struct {
	Type MergeRuleType `json:"type"`
}

// Policy configures global requirements, concurrency, retry, overrides,
// administrative blocking, and the merge rule for a run.
type Policy struct {
	RequiredGates []string               `json:"requiredGates,omitempty"`
	OptionalGates []string               `json:"optionalGates,omitempty"`
	MaxWorkers    int                    `json:"maxWorkers,omitempty"`
	Retries       map[string]RetryPolicy `json:"retries,omitempty"`
	Overrides     Overrides              `json:"overrides,omitempty"`
	BlockOn       []string               `json:"blockOn,omitempty"`
	MergeRule     MergeRule              `json:"mergeRule,omitempty"`
}

// DefaultPolicy returns the policy applied when a Plan omits one: a
// single worker, no required/optional gates, no retries, no overrides,
// nothing blocked, strict-required merge rule.
func DefaultPolicy() Policy {
	return Policy{
		MaxWorkers: 1,
		MergeRule:  MergeRule{Type: MergeRuleStrictRequired},
	}
}

// EffectivePolicy returns p.Policy if set, otherwise DefaultPolicy(),
// and fills in any zero-valued fields that have documented defaults
// (MaxWorkers, MergeRule.Type).
func (p Plan) EffectivePolicy() Policy {
	if p.Policy == nil {
		return DefaultPolicy()
	}
	pol := *p.Policy
	if pol.MaxWorkers < 1 {
		pol.MaxWorkers = 1
	}
	if pol.MergeRule.Type == "" {
		pol.MergeRule.Type = MergeRuleStrictRequired
	}
	return pol
}

// RetryPolicyFor returns the configured retry policy for a gate name, or
// a single-attempt, zero-backoff default when none is configured.
func (p Policy) RetryPolicyFor(gateName string) RetryPolicy {
	if rp, ok := p.Retries[gateName]; ok {
		return rp
	}
	return RetryPolicy{MaxAttempts: 1, BackoffSeconds: 0}
}

// IsBlocked reports whether gateName contains any of the policy's
// blockOn substrings.
func (p Policy) IsBlocked(gateName string) bool {
	for _, substr := range p.BlockOn {
		if substr != "" && strings.Contains(gateName, substr) {
			return true
		}
	}
	return false
}

// Package classify maps a gate failure's textual description into a
// {transient, permanent, unknown} classification with a severity, driving
// the retry wrapper's decision of whether another attempt is warranted.
package classify

import "strings"

// Type is the broad classification of a failure.
type Type string

const (
	Transient Type = "transient"
	Permanent Type = "permanent"
	Unknown   Type = "unknown"
)

// Severity ranks how serious a classified failure is.
type Severity string

const (
	Critical Severity = "critical"
	High     Severity = "high"
	Medium   Severity = "medium"
	Low      Severity = "low"
)

// Classification is the result of classifying one failure.
type Classification struct {
	Type     Type
	Severity Severity
	Code     string
	Context  string
}

// transient and permanent rule sets are ordered: the first matching
// substring wins. Matching is case-insensitive since subprocess stderr
// text varies in casing across tools.
var transientIndicators = []struct {
	substr string
	code   string
	sev    Severity
}{
	{"connection refused", "network.connection_refused", High},
	{"connection reset", "network.connection_reset", High},
	{"econnreset", "network.connection_reset", High},
	{"timed out", "network.timeout", Medium},
	{"timeout", "network.timeout", Medium},
	{"etimedout", "network.timeout", Medium},
	{"enotfound", "network.dns", High},
	{"eai_again", "network.dns", High},
	{"rate limit", "http.rate_limited", Medium},
	{"429", "http.rate_limited", Medium},
	{"502", "http.server_error", High},
	{"503", "http.server_error", High},
	{"504", "http.server_error", High},
	{"500 internal server error", "http.server_error", High},
	{"temporary failure", "transient.generic", Medium},
	{"signal: terminated", "process.signal", Medium},
	{"signal: killed", "process.signal", Medium},
}

var permanentIndicators = []struct {
	substr string
	code   string
	sev    Severity
}{
	{"permission denied", "fs.permission_denied", High},
	{"eacces", "fs.permission_denied", High},
	{"no such file or directory", "fs.not_found", High},
	{"enoent", "fs.not_found", High},
	{"syntax error", "build.syntax_error", Critical},
	{"compilation error", "build.compile_error", Critical},
	{"assertion failed", "test.assertion_failed", High},
	{"assertionerror", "test.assertion_failed", High},
	{"400 bad request", "http.client_error", High},
	{"401", "http.client_error", High},
	{"403", "http.client_error", High},
	{"404", "http.client_error", High},
	{"422", "http.client_error", High},
}

// Classify inspects err's message and a free-form context string,
// returning {transient, permanent, unknown}. Rule sets are checked in
// order: transient first, then permanent; the first substring match
// wins. HTTP 429 is checked before the generic 4xx-is-permanent rule so
// rate limiting is never misclassified as permanent.
func Classify(err error, context string) Classification {
	if err == nil {
		return Classification{Type: Unknown, Severity: Low, Code: "none", Context: context}
	}

	text := strings.ToLower(err.Error())

	for _, ind := range transientIndicators {
		if strings.Contains(text, ind.substr) {
			return Classification{Type: Transient, Severity: ind.sev, Code: ind.code, Context: context}
		}
	}
	for _, ind := range permanentIndicators {
		if strings.Contains(text, ind.substr) {
			return Classification{Type: Permanent, Severity: ind.sev, Code: ind.code, Context: context}
		}
	}

	return Classification{Type: Unknown, Severity: Low, Code: "unclassified", Context: context}
}

// ClassifyText is Classify for callers that only have a raw message
// (e.g. captured stderr) rather than an error value.
func ClassifyText(message, context string) Classification {
	return Classify(stringError(message), context)
}

type stringError string

func (s stringError) Error() string { return string(s) }

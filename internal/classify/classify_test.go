package classify

import "testing"

func TestClassifyTransient(t *testing.T) {
	tests := []string{
		"connection refused",
		"connection reset by peer",
		"Error: ETIMEDOUT",
		"rate limit exceeded",
		"HTTP 429 Too Many Requests",
		"502 Bad Gateway",
		"temporary failure in name resolution",
	}
	for _, msg := range tests {
		t.Run(msg, func(t *testing.T) {
			c := ClassifyText(msg, "gate")
			if c.Type != Transient {
				t.Errorf("ClassifyText(%q) = %q, want transient", msg, c.Type)
			}
		})
	}
}

func TestClassifyPermanent(t *testing.T) {
	tests := []string{
		"syntax error: unexpected token",
		"permission denied",
		"EACCES: permission denied",
		"no such file or directory",
		"AssertionError: expected true",
		"404 Not Found",
	}
	for _, msg := range tests {
		t.Run(msg, func(t *testing.T) {
			c := ClassifyText(msg, "gate")
			if c.Type != Permanent {
				t.Errorf("ClassifyText(%q) = %q, want permanent", msg, c.Type)
			}
		})
	}
}

func TestClassifyUnknown(t *testing.T) {
	c := ClassifyText("something unexpected happened", "gate")
	if c.Type != Unknown {
		t.Errorf("Type = %q, want unknown", c.Type)
	}
}

func TestClassifyRateLimitNotPermanent(t *testing.T) {
	// 429 must classify as transient even though other 4xx codes are
	// permanent — rate limiting is the one 4xx that should be retried.
	c := ClassifyText("request failed with status 429", "gate")
	if c.Type != Transient {
		t.Errorf("Type = %q, want transient for 429", c.Type)
	}
}

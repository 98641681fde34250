package search

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error kinds recorded into metrics and the rate-limit attempt log. These
// are classifications, not types; only rate limiting changes retry
// behavior.
const (
	KindRateLimited = "rate_limited"
	KindTransport   = "transport"
	KindAuth        = "auth"
	KindParse       = "parse"
	KindTimeout     = "timeout"
	KindLLM         = "llm"
	KindConfig      = "config"
)

// RateLimitError marks an engine response that signaled throttling. The
// retry wrapper retries these; everything else surfaces as empty results.
type RateLimitError struct {
	Engine string
	Status int
}

func (e *RateLimitError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: rate limited (HTTP %d)", e.Engine, e.Status)
	}
	return fmt.Sprintf("%s: rate limited", e.Engine)
}

// AuthError marks missing or rejected credentials; the engine stays
// unavailable for the rest of the run.
type AuthError struct {
	Engine string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: auth failed: %s", e.Engine, e.Reason)
}

// ConfigError marks engine misconfiguration detected at construction or
// first use.
type ConfigError struct {
	Engine string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: misconfigured: %s", e.Engine, e.Reason)
}

// IsRateLimited reports whether err is (or wraps) a rate-limit signal.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// Classify maps an error to its metrics/tracker kind.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		return KindRateLimited
	}
	var auth *AuthError
	if errors.As(err, &auth) {
		return KindAuth
	}
	var cfg *ConfigError
	if errors.As(err, &cfg) {
		return KindConfig
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransport
	}
	return KindParse
}

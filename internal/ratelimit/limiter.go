// Package ratelimit provides sliding-window rate limiting over the ephemeral
// store, keyed per (dimension, identifier)
package ratelimit

import (
	"context"
	"time"
)

// Rule configures one rate-limit dimension
type Rule struct {
	// Limit is the maximum number of requests per window
	Limit int

	// Window is the sliding window length
	Window time.Duration

	// KeyPrefix namespaces the counter (e.g. "challenge:agent")
	KeyPrefix string
}

// Result is the outcome of a rate-limit check. Header values are derived
// from it at the edge.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Limiter checks a single request against a rule for an identifier
type Limiter interface {
	Check(ctx context.Context, identifier string, rule Rule) (*Result, error)
}

// Configured dimensions. All windows are 60 seconds.
var (
	ChallengePerAgent = Rule{Limit: 60, Window: time.Minute, KeyPrefix: "challenge:agent"}
	ChallengePerIP    = Rule{Limit: 120, Window: time.Minute, KeyPrefix: "challenge:ip"}
	TokenPerAgent     = Rule{Limit: 30, Window: time.Minute, KeyPrefix: "token:agent"}
	TokenPerIP        = Rule{Limit: 60, Window: time.Minute, KeyPrefix: "token:ip"}
	VerifyPerIP       = Rule{Limit: 120, Window: time.Minute, KeyPrefix: "verify:ip"}
	VerifyPerApp      = Rule{Limit: 600, Window: time.Minute, KeyPrefix: "verify:app"}
)

// MostRestrictive picks the winning result across parallel dimension checks:
// any denial wins, otherwise the result with the fewest remaining requests.
func MostRestrictive(results ...*Result) *Result {
	var winner *Result
	for _, r := range results {
		if r == nil {
			continue
		}
		if winner == nil {
			winner = r
			continue
		}
		if !r.Allowed && winner.Allowed {
			winner = r
			continue
		}
		if r.Allowed == winner.Allowed && r.Remaining < winner.Remaining {
			winner = r
		}
	}
	return winner
}

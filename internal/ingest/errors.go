package ingest

import (
	"fmt"
	"time"
)

// SignatureError reports a missing or invalid webhook HMAC. It becomes a
// 401 at the HTTP boundary and never crashes the process.
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("signature verification failed: %s", e.Reason)
}

// ParseError reports a malformed JSON body or corrupt persisted state.
// At the HTTP boundary it becomes a 400; for persisted state it is logged
// and recovered as empty state.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UpstreamAuthError reports a 401/403 from a polled platform. Polling
// returns an empty result and holds the checkpoint so the same window is
// retried next cycle.
type UpstreamAuthError struct {
	Status int
}

func (e *UpstreamAuthError) Error() string {
	return fmt.Sprintf("upstream authentication failed (status %d)", e.Status)
}

// UpstreamRateLimitError reports a 429 or equivalent from a polled
// platform. Treated like UpstreamAuthError: empty result, held checkpoint.
type UpstreamRateLimitError struct {
	RetryAfter time.Duration
}

func (e *UpstreamRateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("upstream rate limited (retry after %s)", e.RetryAfter)
	}
	return "upstream rate limited"
}

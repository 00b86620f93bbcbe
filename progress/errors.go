// ABOUTME: Typed errors for sync operations against the remote store.
// ABOUTME: Enables programmatic handling with errors.Is() and errors.As().
package progress

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for programmatic handling.
var (
	ErrNotFound       = errors.New("record not found")
	ErrTokenExpired   = errors.New("token expired")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNetworkFailure = errors.New("network failure")
	ErrServerError    = errors.New("server error")
	ErrNotConfigured  = errors.New("sync not configured")
)

// SyncError wraps errors with operation context.
type SyncError struct {
	Op      string // "pull" or "push"
	Err     error  // underlying typed error
	Retries int    // attempts made
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Retries, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// networkErrorFragments are substrings of transport-level failures as
// surfaced by net/http. Anything else (auth, validation, server bugs)
// must not flip the connectivity status to offline.
var networkErrorFragments = []string{
	"connection refused",
	"no such host",
	"network is unreachable",
	"timeout",
	"i/o timeout",
	"connection reset",
	"EOF",
	"dial tcp",
	"context deadline exceeded",
}

// isNetworkError reports whether err looks like a transport failure.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetworkFailure) {
		return true
	}
	msg := err.Error()
	for _, frag := range networkErrorFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

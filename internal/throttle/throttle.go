// Package throttle enforces a per-submitter cooldown between booking submissions.
package throttle

import (
	"context"
	"time"
)

// Decision is the outcome of a cooldown check.
type Decision struct {
	Allowed   bool
	Remaining time.Duration
}

// Throttle records successful submissions per key. CheckAndRecord must not
// update the record when the cooldown is still active.
type Throttle interface {
	CheckAndRecord(ctx context.Context, key string) (Decision, error)
	Reset(ctx context.Context, key string) error
}

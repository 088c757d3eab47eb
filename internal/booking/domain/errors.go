package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("booking not found")
	ErrClaimConflict = errors.New("booking already taken")
	ErrNotConfigured = errors.New("server not configured")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ValidationError reports bad input. Nothing was persisted or sent.
type ValidationError struct {
	Details []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		fields = append(fields, d.Field)
	}
	return "validation failed: " + strings.Join(fields, ", ")
}

// ThrottledError is returned while a submitter's cooldown is active.
type ThrottledError struct {
	Remaining time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("submission throttled, retry in %ds", e.SecondsRemaining())
}

// SecondsRemaining rounds the wait up so callers never see zero while throttled.
func (e *ThrottledError) SecondsRemaining() int {
	s := int(math.Ceil(e.Remaining.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// PersistenceError wraps a store write failure; the booking does not exist.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

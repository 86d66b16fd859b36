package engine

import (
	"errors"
	"fmt"
	"strings"

	"workplan/internal/engine/auth"
	"workplan/internal/repo"
)

var (
	ErrPermissionDenied       = auth.ErrPermissionDenied
	ErrNotFound               = repo.ErrNotFound
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrValidationFailed       = errors.New("validation failed")
	ErrVersionLimitExceeded   = errors.New("version limit exceeded")
	ErrVersionConflict        = errors.New("version conflict")
	ErrUpstreamUnavailable    = errors.New("upstream unavailable")
)

// Issue is one rejected input, keyed by the field it concerns.
type Issue struct {
	Field   string `json:"field,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Row     string `json:"row,omitempty"`
}

// ValidationError carries every issue found by a guard.
type ValidationError struct {
	Op     string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Field != "" {
			msgs = append(msgs, is.Field+": "+is.Message)
			continue
		}
		msgs = append(msgs, is.Message)
	}
	return fmt.Sprintf("%s: validation failed: %s", e.Op, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

func invalid(op, field, kind, msg string) error {
	return &ValidationError{Op: op, Issues: []Issue{{Field: field, Kind: kind, Message: msg}}}
}

// Issue kinds.
const (
	IssueRequired     = "required"
	IssueTypeMismatch = "type_mismatch"
	IssueUnknownField = "unknown_field"
	IssueUndecodable  = "undecodable"
	IssuePeriodClosed = "period_closed"
	IssueHours        = "hours"
	IssueInvalid      = "invalid"
)

func transitionError(entity, from, to string) error {
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidStateTransition, entity, from, to)
}

// statusChanged translates a lost conditional update.
func statusChanged(err error, entity, from, to string) error {
	if errors.Is(err, repo.ErrStatusChanged) {
		return fmt.Errorf("%w: %s no longer %s (target %s)", ErrInvalidStateTransition, entity, from, to)
	}
	return err
}

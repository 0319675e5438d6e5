// Package errors defines error kinds shared by all aggregates.
//
// Every typed error in this module unwraps to one of the sentinel kinds below,
// so callers (HTTP façade, deploy phases) classify errors with errors.Is or KindOf.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// input is rejected; no state is mutated.
	ErrValidation = errors.New("validation error")

	// requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// duplicated unique key, or concurrent edit is detected.
	ErrConflict = errors.New("conflict")

	// the request is valid, but the current state does not allow it.
	ErrPreconditionFailed = errors.New("precondition failed")

	// a collaborator (kubernetes, add-on broker, pipeline engine, blob store) is unavailable.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// a builder (pod or pipeline) reported failure.
	ErrBuilderFailure = errors.New("builder failure")
)

type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindPreconditionFailed  Kind = "precondition_failed"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindBuilderFailure      Kind = "builder_failure"
	KindInternal            Kind = "internal"
)

func (k Kind) String() string {
	return string(k)
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrPreconditionFailed):
		return KindPreconditionFailed
	case errors.Is(err, ErrUpstreamUnavailable):
		return KindUpstreamUnavailable
	case errors.Is(err, ErrBuilderFailure):
		return KindBuilderFailure
	default:
		return KindInternal
	}
}

// ValidationError tells which field is invalid and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (v ValidationError) Error() string {
	if v.Field == "" {
		return "invalid: " + v.Reason
	}
	return fmt.Sprintf("invalid %s: %s", v.Field, v.Reason)
}

func (ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid creates ValidationError.
func Invalid(field string, format string, args ...any) error {
	return ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ValidationErrors collects multiple ValidationError.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, 0, len(v))
	for _, e := range v {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (ValidationErrors) Unwrap() error {
	return ErrValidation
}

// OrNil returns nil when there are no errors.
func (v ValidationErrors) OrNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// requested data is missing.
type Missing struct {
	Table    string
	Identity string
}

func (m Missing) Error() string {
	return fmt.Sprintf("%s is not found in %s", m.Identity, m.Table)
}

func (Missing) Unwrap() error {
	return ErrNotFound
}

// unique key is duplicated.
type Conflict struct {
	Table    string
	Identity string
}

func (c Conflict) Error() string {
	return fmt.Sprintf("%s conflicts in %s", c.Identity, c.Table)
}

func (Conflict) Unwrap() error {
	return ErrConflict
}

// PreconditionFailed carries a user readable reason.
type PreconditionFailed struct {
	Reason string
}

func (p PreconditionFailed) Error() string {
	return "precondition failed: " + p.Reason
}

func (PreconditionFailed) Unwrap() error {
	return ErrPreconditionFailed
}

func Precondition(format string, args ...any) error {
	return PreconditionFailed{Reason: fmt.Sprintf(format, args...)}
}

// Upstream reports failure of a collaborator.
//
// Retryable is true for transient failures (timeouts, 5xx).
type Upstream struct {
	Service   string
	Retryable bool
	Cause     error
}

func (u *Upstream) Error() string {
	if u.Cause == nil {
		return fmt.Sprintf("%s is unavailable", u.Service)
	}
	return fmt.Sprintf("%s is unavailable: %v", u.Service, u.Cause)
}

func (u *Upstream) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

func (u *Upstream) Unwrap() error {
	return u.Cause
}

// IsRetryable reports whether err is an Upstream error marked as retryable.
func IsRetryable(err error) bool {
	u := new(Upstream)
	if errors.As(err, &u) {
		return u.Retryable
	}
	return false
}

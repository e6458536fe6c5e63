package errkind

import (
	"errors"
	"fmt"
)

type Category string

const (
	CategoryLinking         Category = "linking"
	CategoryIngestion       Category = "ingestion"
	CategoryAggregation     Category = "aggregation"
	CategoryAlarmEvaluation Category = "alarm_evaluation"
	CategoryRequest         Category = "request"
)

// Kind is a stable, user-visible error identifier.
type Kind string

const (
	InvalidAccountId      Kind = "invalid_account_id"
	TrustNotEstablished   Kind = "trust_not_established"
	CapabilityProbeFailed Kind = "capability_probe_failed"
	LinkExpired           Kind = "link_expired"

	ProviderUnavailable Kind = "provider_unavailable"
	RateLimited         Kind = "rate_limited"
	PartialBatchFailure Kind = "partial_batch_failure"

	InvariantViolation Kind = "invariant_violation"

	InsufficientHistory Kind = "insufficient_history"

	InvalidInput      Kind = "invalid_input"
	NotFound          Kind = "not_found"
	InvalidTransition Kind = "invalid_transition"
	Conflict          Kind = "conflict"
	Internal          Kind = "internal"
)

var categories = map[Kind]Category{
	InvalidAccountId:      CategoryLinking,
	TrustNotEstablished:   CategoryLinking,
	CapabilityProbeFailed: CategoryLinking,
	LinkExpired:           CategoryLinking,
	ProviderUnavailable:   CategoryIngestion,
	RateLimited:           CategoryIngestion,
	PartialBatchFailure:   CategoryIngestion,
	InvariantViolation:    CategoryAggregation,
	InsufficientHistory:   CategoryAlarmEvaluation,
}

func (k Kind) Category() Category {
	if c, ok := categories[k]; ok {
		return c
	}
	return CategoryRequest
}

// Internal reports whether errors of this kind must not be shown to API callers verbatim.
func (k Kind) Internal() bool {
	return k == InvariantViolation || k == Internal || k == ""
}

// Transient reports whether the failure may succeed on a later attempt.
func (k Kind) Transient() bool {
	return k == ProviderUnavailable || k == RateLimited
}

// Permanent reports whether the failure requires the account to be re-linked.
func (k Kind) Permanent() bool {
	return k == TrustNotEstablished || k == CapabilityProbeFailed
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost *Error in the chain, or Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Message returns the human-readable part of a typed error.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

var (
	ErrInvalidAccountId      = &Error{Kind: InvalidAccountId}
	ErrTrustNotEstablished   = &Error{Kind: TrustNotEstablished}
	ErrCapabilityProbeFailed = &Error{Kind: CapabilityProbeFailed}
	ErrLinkExpired           = &Error{Kind: LinkExpired}
	ErrProviderUnavailable   = &Error{Kind: ProviderUnavailable}
	ErrRateLimited           = &Error{Kind: RateLimited}
	ErrPartialBatchFailure   = &Error{Kind: PartialBatchFailure}
	ErrInvariantViolation    = &Error{Kind: InvariantViolation}
	ErrInsufficientHistory   = &Error{Kind: InsufficientHistory}
	ErrInvalidInput          = &Error{Kind: InvalidInput}
	ErrNotFound              = &Error{Kind: NotFound}
	ErrInvalidTransition     = &Error{Kind: InvalidTransition}
	ErrConflict              = &Error{Kind: Conflict}
)

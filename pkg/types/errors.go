package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies scanner failures. All kinds abort the current scan;
// none are retried because matching is deterministic.
type ErrorKind int

const (
	// InvalidRuleSet reports malformed or inconsistent compiled input.
	InvalidRuleSet ErrorKind = iota + 1
	// MalformedCondition reports a condition tree that violates the compile contract.
	MalformedCondition
	// ResourceExhausted reports a configured limit being exceeded.
	ResourceExhausted
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case InvalidRuleSet:
		return "invalid rule set"
	case MalformedCondition:
		return "malformed condition"
	case ResourceExhausted:
		return "resource exhausted"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is.
var (
	ErrInvalidRuleSet     = &Error{Kind: InvalidRuleSet}
	ErrMalformedCondition = &Error{Kind: MalformedCondition}
	ErrResourceExhausted  = &Error{Kind: ResourceExhausted}
)

// Error is a classified scanner error.
type Error struct {
	Kind   ErrorKind
	Op     string // component that failed, e.g. "atom.New"
	Detail string
	Err    error
}

// Errorf builds a classified error with a formatted detail message.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so callers can test
// errors.Is(err, types.ErrResourceExhausted).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrNoRelevantItems is returned by enrichment when no kitchen item is left.
	// It is an outcome, not a failure.
	ErrNoRelevantItems = errors.New("no relevant items")
)

// ValidationError rejects an inbound webhook at the boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

type AuthErrorKind string

const (
	AuthUnreachable AuthErrorKind = "unreachable"
	AuthRejected    AuthErrorKind = "rejected"
)

type AuthError struct {
	Kind AuthErrorKind
	Err  error
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth %s: %v", e.Kind, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

type FetchErrorKind string

const (
	FetchUnauthorized FetchErrorKind = "unauthorized"
	FetchNotFound     FetchErrorKind = "not_found"
	FetchUnavailable  FetchErrorKind = "unavailable"
)

type FetchError struct {
	Kind   FetchErrorKind
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
}
func (e *FetchError) Unwrap() error { return e.Err }

type PublishErrorKind string

const (
	PublishRejected    PublishErrorKind = "rejected"
	PublishUnavailable PublishErrorKind = "unavailable"
)

type PublishError struct {
	Kind PublishErrorKind
	Err  error
}

func (e *PublishError) Error() string { return fmt.Sprintf("publish %s: %v", e.Kind, e.Err) }
func (e *PublishError) Unwrap() error { return e.Err }

// IsFetchKind reports whether err is a FetchError of the given kind.
func IsFetchKind(err error, kind FetchErrorKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedDomain means no strategy matches the URL. Never retried.
	ErrUnsupportedDomain = errors.New("unsupported domain")
	// ErrBlockedOrDecoy covers empty results and zero-price pages.
	ErrBlockedOrDecoy = errors.New("blocked or decoy response")
	ErrNetwork        = errors.New("network error")
	ErrTimeout        = errors.New("fetch timed out")
	// ErrParse is raised when a strategy panics while parsing.
	ErrParse = errors.New("parse failure")
	// ErrPersistence means the sink rejected a successful extraction.
	ErrPersistence = errors.New("persistence failed")
	// ErrCoordinationUnavailable means the coordination store could not be read.
	ErrCoordinationUnavailable = errors.New("coordination store unavailable")
)

// ErrorKind is the metric label and log value for a classified failure.
type ErrorKind string

const (
	KindNone                    ErrorKind = ""
	KindUnsupportedDomain       ErrorKind = "unsupported_domain"
	KindBlockedOrDecoy          ErrorKind = "blocked_or_decoy"
	KindNetwork                 ErrorKind = "network_error"
	KindTimeout                 ErrorKind = "timeout"
	KindParse                   ErrorKind = "parse_error"
	KindPersistence             ErrorKind = "persistence_error"
	KindCoordinationUnavailable ErrorKind = "coordination_unavailable"
	KindCircuitOpen             ErrorKind = "circuit_open"
)

// Classify maps an error onto its ErrorKind. Unknown errors count as blocks.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrUnsupportedDomain):
		return KindUnsupportedDomain
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrParse):
		return KindParse
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	case errors.Is(err, ErrCoordinationUnavailable):
		return KindCoordinationUnavailable
	default:
		return KindBlockedOrDecoy
	}
}

// CountsTowardBreaker reports whether failures of this kind say something
// about the target site rather than about our own infrastructure.
func (k ErrorKind) CountsTowardBreaker() bool {
	switch k {
	case KindBlockedOrDecoy, KindNetwork, KindTimeout, KindParse:
		return true
	}
	return false
}

// Retryable reports whether a task failing with this kind may be rescheduled.
func (k ErrorKind) Retryable() bool {
	return k != KindUnsupportedDomain && k != KindNone
}

// UnsupportedDomainError names the URL no strategy could handle.
type UnsupportedDomainError struct {
	URL string
}

func (e *UnsupportedDomainError) Error() string {
	return fmt.Sprintf("no strategy available for: %s", e.URL)
}

func (e *UnsupportedDomainError) Unwrap() error {
	return ErrUnsupportedDomain
}

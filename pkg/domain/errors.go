package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks invalid caller input: bad interval, duplicate or unknown schedule, bad feed
	ErrConfiguration = errors.New("configuration error")
	// ErrInvariantViolation marks results that contradict the seen-set invariants
	ErrInvariantViolation = errors.New("classification invariant violation")
	// ErrWorkerFault marks feeds abandoned by a crashed or timed out worker process
	ErrWorkerFault = errors.New("worker fault")
	// ErrCycleInProgress is returned when a cycle is requested while another one runs
	ErrCycleInProgress = errors.New("cycle in progress")
)

// FetchError is a transport or parse failure for a single feed
type FetchError struct {
	SourceURI string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.SourceURI, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

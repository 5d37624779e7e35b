package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the period has no usable content configured
	// (no captions, or every caption already used).
	ErrNotFound = errors.New("no content available")

	ErrSessionUnavailable  = errors.New("posting session unavailable")
	ErrVerificationTimeout = errors.New("verification code not received in time")

	// ErrAlreadyRunning is returned when a trigger fires while a post is in flight.
	ErrAlreadyRunning = errors.New("posting already in progress")

	ErrInvalidPeriod = errors.New("period must be between 1 and 12")
)

// CheckPeriod rejects periods outside 1..12.
func CheckPeriod(p Period) error {
	if !p.Valid() {
		return fmt.Errorf("%w: got %d", ErrInvalidPeriod, int(p))
	}
	return nil
}

// ResourceInsufficientError reports that fewer unused items exist than requested.
type ResourceInsufficientError struct {
	Kind      string // "images" or "captions"
	Need      int
	Available int
}

func (e *ResourceInsufficientError) Error() string {
	return fmt.Sprintf("not enough unused %s: need %d, available %d", e.Kind, e.Need, e.Available)
}

// Is lets an exhausted caption list also match ErrNotFound: there is no
// caption to select.
func (e *ResourceInsufficientError) Is(target error) bool {
	return target == ErrNotFound && e.Kind == "captions"
}

// StageFailure reports an orchestration step that did not complete.
type StageFailure struct {
	Stage Stage
	Err   error
}

func (e *StageFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stage %s failed", e.Stage)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

// SettingsValidationError rejects a settings update. No mutation happens.
type SettingsValidationError struct {
	Key    string
	Reason string
}

func (e *SettingsValidationError) Error() string {
	return fmt.Sprintf("invalid setting %s: %s", e.Key, e.Reason)
}

// PersistenceError wraps a failed read or write of a persisted document.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a settings validation error.
func IsValidation(err error) bool {
	var ve *SettingsValidationError
	return errors.As(err, &ve)
}

// StageOf returns the stage carried by err, or StageInit.
func StageOf(err error) Stage {
	var sf *StageFailure
	if errors.As(err, &sf) {
		return sf.Stage
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return StageCommit
	}
	return StageInit
}

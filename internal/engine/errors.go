package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/reconcilor/internal/account"
)

// ReconcileError describes a failed boundary operation.
//
// The engine never returns these to the owner; they travel to the Observer
// inside OperationReport and CycleReport. Code classifies the failure so
// telemetry and the journal do not parse messages.
type ReconcileError struct {
	// Code identifies the error category.
	Code ReconcileErrorCode

	// Message is a human-readable description.
	Message string

	// Cycle is the ID of the affected cycle, if any.
	Cycle string

	// Account is the affected account, if any.
	Account account.ID

	// Err is the underlying boundary error.
	Err error
}

// ReconcileErrorCode categorizes reconcile errors.
type ReconcileErrorCode string

const (
	// ErrCodeFetchFailed: ListSessions failed. Aborts the cycle.
	ErrCodeFetchFailed ReconcileErrorCode = "FETCH_FAILED"

	// ErrCodeProbeFailed: one account failed validation.
	ErrCodeProbeFailed ReconcileErrorCode = "PROBE_FAILED"

	// ErrCodeCreateFailed: CreateSession failed for one plan entry.
	ErrCodeCreateFailed ReconcileErrorCode = "CREATE_FAILED"

	// ErrCodeImportFailed: FetchAuthToken or UpdateCredentials failed.
	ErrCodeImportFailed ReconcileErrorCode = "IMPORT_FAILED"

	// ErrCodeDestroyFailed: DestroyAllSessions failed during a rebuild.
	ErrCodeDestroyFailed ReconcileErrorCode = "DESTROY_FAILED"

	// ErrCodeRemoveFailed: the account-removal fast path failed.
	ErrCodeRemoveFailed ReconcileErrorCode = "REMOVE_FAILED"

	// ErrCodeSnapshotFailed: the local registry could not be read.
	ErrCodeSnapshotFailed ReconcileErrorCode = "SNAPSHOT_FAILED"

	// ErrCodeCancelled: sign-out or shutdown abandoned the cycle.
	ErrCodeCancelled ReconcileErrorCode = "CANCELLED"
)

// Error implements the error interface.
func (e *ReconcileError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Account != "" {
		msg += fmt.Sprintf(" (account=%s)", e.Account)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying boundary error.
func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// CodeOf returns the ReconcileErrorCode of err, or "" if err is not a
// ReconcileError.
func CodeOf(err error) ReconcileErrorCode {
	var re *ReconcileError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsFetchError reports whether err aborted a cycle at the fetch step.
func IsFetchError(err error) bool {
	return CodeOf(err) == ErrCodeFetchFailed
}

// IsCancelled reports whether err is a sign-out or shutdown cancellation.
func IsCancelled(err error) bool {
	return CodeOf(err) == ErrCodeCancelled
}

func newOpError(code ReconcileErrorCode, cycle string, id account.ID, msg string, err error) *ReconcileError {
	return &ReconcileError{
		Code:    code,
		Message: msg,
		Cycle:   cycle,
		Account: id,
		Err:     err,
	}
}

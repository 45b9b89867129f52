package moderation

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks network, timeout and sequence-conflict failures worth retrying.
	ErrTransient = errors.New("transient failure")

	// ErrDuplicate marks an event or vote that was already processed.
	ErrDuplicate = errors.New("duplicate")

	// ErrRejected marks a ledger-enforced invariant violation.
	ErrRejected = errors.New("rejected by ledger")

	// ErrUnverifiable marks a signature that fails verification.
	ErrUnverifiable = errors.New("unverifiable signature")

	// ErrPersistentFailure marks an exhausted retry budget.
	ErrPersistentFailure = errors.New("persistent failure")

	// ErrTaskFinalized is returned for work on a task that already has a decision.
	ErrTaskFinalized = errors.New("task already finalized")

	// ErrNotEligible is returned when an operator is not service-registered.
	ErrNotEligible = errors.New("operator not eligible")

	// ErrUnknownTask is returned for task ids the store has never seen.
	ErrUnknownTask = errors.New("unknown task")

	// ErrUnknownOperator is returned for operators without a registration record.
	ErrUnknownOperator = errors.New("unknown operator")
)

// Rejection reasons reported by the ledger.
const (
	ReasonAlreadyVoted  = "already_voted"
	ReasonTaskFinalized = "task_finalized"
	ReasonUnknownTask   = "unknown_task"
	ReasonNotRegistered = "not_registered"
	ReasonBadSignature  = "bad_signature"
)

// RejectedError carries the ledger's reason for refusing a submission.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected by ledger: %s", e.Reason)
}

// Is makes errors.Is(err, ErrRejected) hold for every RejectedError.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Rejection builds a RejectedError for reason.
func Rejection(reason string) error {
	return &RejectedError{Reason: reason}
}

// RejectionReason extracts the reason from a rejected error, or "".
func RejectionReason(err error) string {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Reason
	}

	return ""
}

// Transient wraps err so errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrTransient) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrTransient, err)
}

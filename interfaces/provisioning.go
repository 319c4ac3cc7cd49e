package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingSerial is returned when the record has no serial field or it is empty.
	ErrMissingSerial = errors.New("serial number missing from record")

	// ErrSerialOverflow is returned when the incremented serial no longer fits the
	// integer encoding declared for the serial field.
	ErrSerialOverflow = errors.New("serial number overflows its encoding")

	// ErrAuditAppendFailedAfterCommit is returned when the record store was updated but
	// the audit entry could not be written. The audit trail needs manual reconciliation.
	ErrAuditAppendFailedAfterCommit = errors.New("audit append failed after record commit")

	// ErrInterrupted is returned when the operator stopped a station run between steps.
	ErrInterrupted = errors.New("interrupted by operator")
)

// AuditAppendFailedAfterCommitError carries the entry that is missing from the audit
// trail. The record store already holds the new serial and keys.
type AuditAppendFailedAfterCommitError struct {
	Entry     AuditEntry
	AuditPath string
	Err       error
}

func (e *AuditAppendFailedAfterCommitError) Error() string {
	return fmt.Sprintf("%s: serial %s committed but not written to %s: %v",
		ErrAuditAppendFailedAfterCommit, e.Entry.Serial, e.AuditPath, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is/As.
func (e *AuditAppendFailedAfterCommitError) Unwrap() []error {
	return []error{ErrAuditAppendFailedAfterCommit, e.Err}
}

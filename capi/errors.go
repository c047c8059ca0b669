package capi

import "fmt"

// Code is a native client error code. Zero means success.
type Code int32

const (
	CodeSuccess Code = 0

	// CodeFutureVersion is returned when a read version is ahead of the
	// storage servers. Retryable.
	CodeFutureVersion Code = 1009

	// CodeNotCommitted is returned when a commit lost a conflict.
	// Retryable.
	CodeNotCommitted Code = 1020

	// CodeCommitUnknownResult is returned when the fate of a commit could
	// not be determined. Retryable, but the commit may have applied.
	CodeCommitUnknownResult Code = 1021

	// CodeTransactionCanceled is delivered to operations on a canceled
	// transaction. Not retryable.
	CodeTransactionCanceled Code = 1025

	// CodeTransactionTimedOut is returned when a transaction exceeded its
	// configured lifetime. Retryable.
	CodeTransactionTimedOut Code = 1031

	// CodeOperationCancelled is delivered to a future whose cancellation
	// was requested before it completed naturally.
	CodeOperationCancelled Code = 1101

	// CodeClientInvalidOperation flags misuse of the client, such as
	// committing twice without a reset.
	CodeClientInvalidOperation Code = 2000

	// CodeVersionUnavailable is returned when the committed version is
	// requested before the transaction has committed.
	CodeVersionUnavailable Code = 2021
)

var codeMessages = map[Code]string{
	CodeSuccess:                "success",
	CodeFutureVersion:          "request for future version",
	CodeNotCommitted:           "transaction not committed due to conflict with another transaction",
	CodeCommitUnknownResult:    "transaction may or may not have committed",
	CodeTransactionCanceled:    "operation aborted because the transaction was canceled",
	CodeTransactionTimedOut:    "operation aborted because the transaction timed out",
	CodeOperationCancelled:     "asynchronous operation cancelled",
	CodeClientInvalidOperation: "invalid API call at current transaction state",
	CodeVersionUnavailable:     "committed version unavailable before commit",
}

// Message returns the store-supplied description for a code.
func Message(c Code) string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return fmt.Sprintf("unknown error (%d)", int32(c))
}

// Retryable reports whether the store's retry classification considers the
// code transient. This mirrors the classification applied by the native
// client's on-error call; the binding never consults it to retry on its own.
func Retryable(c Code) bool {
	switch c {
	case CodeFutureVersion, CodeNotCommitted, CodeCommitUnknownResult,
		CodeTransactionTimedOut:

		return true
	default:
		return false
	}
}

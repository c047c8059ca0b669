package tessera

import (
	"errors"
	"fmt"

	"github.com/tesserakv/tessera-go/capi"
)

var (
	// ErrInvalidParam is returned when a key or value argument is not one
	// of the accepted shapes (string, []byte or Key). It is raised at the
	// call site, before any native call is made.
	ErrInvalidParam = errors.New("key/value must be a string, []byte or Key")

	// ErrTransactionCommitted is returned for operations attempted on a
	// transaction that already committed. Reset returns the transaction
	// to a usable state.
	ErrTransactionCommitted = errors.New("transaction already committed")

	// ErrTransactionCanceled is returned for operations attempted on a
	// transaction after Cancel.
	ErrTransactionCanceled = errors.New("transaction is canceled")

	// ErrTransactionDestroyed is returned for operations attempted after
	// the transaction's native resources were released.
	ErrTransactionDestroyed = errors.New("transaction is destroyed")

	// ErrDatabaseClosed is returned when creating transactions on a
	// closed database.
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrNilError is returned when OnError is called without an error to
	// classify.
	ErrNilError = errors.New("on-error requires a non-nil error")
)

// Error is a typed error carrying a native client error code and the
// store-supplied message for it. Errors from asynchronous operations are
// always delivered through the operation's future, never raised at the call
// site; synchronous native calls return them directly.
type Error struct {
	Code capi.Code
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("tessera error %d: %s", int32(e.Code),
		capi.Message(e.Code))
}

// Retryable reports whether the store classifies the error as transient.
// Calling code implements the retry loop explicitly via
// Transaction.OnError; see DB.Transact.
func (e *Error) Retryable() bool {
	return capi.Retryable(e.Code)
}

// codeErr wraps a non-zero native code as an *Error.
func codeErr(code capi.Code) error {
	return &Error{Code: code}
}

// Package capi names the boundary with the TesseraKV native client. The
// native client is a versioned ABI built on opaque handles: every key and
// value crosses the boundary as a raw byte buffer, every asynchronous call
// returns a future handle that is completed exactly once by a callback fired
// from a thread owned by the client's own network runtime, and every error
// is a numeric code with zero meaning success.
//
// This package contains no store logic. Drivers (the production client and
// the in-process reference driver under memdriver) register themselves here
// by name, mirroring how walletdb-style backends register with their
// interface package.
package capi

// TransactionHandle is an opaque reference to a native transaction. A handle
// is only valid for the client that minted it, and only until
// TransactionDestroy is called for it.
type TransactionHandle int64

// FutureHandle is an opaque reference to an in-flight asynchronous native
// operation. A handle is only valid until FutureDestroy is called for it.
type FutureHandle int64

// KeyValue is a single key/value pair returned by a range read, in store
// order.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// MutationType selects the server-side commutative mutation applied by an
// atomic operation.
type MutationType int

const (
	// MutationAdd performs little-endian integer addition of the operand
	// to the existing value. The result width is the operand width; an
	// absent value is treated as zero.
	MutationAdd MutationType = iota + 1

	// MutationBitAnd, MutationBitOr and MutationBitXor perform the
	// corresponding bitwise operation, zero-extending the existing value
	// to the operand width.
	MutationBitAnd
	MutationBitOr
	MutationBitXor

	// MutationMax and MutationMin keep the larger/smaller of the existing
	// value and the operand, compared as little-endian unsigned integers.
	MutationMax
	MutationMin

	// MutationByteMax and MutationByteMin keep the lexicographically
	// larger/smaller byte string.
	MutationByteMax
	MutationByteMin

	// MutationAppendIfFits appends the operand to the existing value if
	// the result stays within the store's value size limit, and leaves
	// the value unchanged otherwise.
	MutationAppendIfFits
)

// ConflictRangeType distinguishes read from write conflict ranges.
type ConflictRangeType int

const (
	ConflictRangeRead ConflictRangeType = iota + 1
	ConflictRangeWrite
)

// StreamingMode hints the expected consumption pattern of a range read so
// the store can tune batch sizing.
type StreamingMode int

const (
	// StreamWantAll fetches the full range subject only to explicit
	// limits.
	StreamWantAll StreamingMode = iota + 1

	// StreamIterator is for repeated calls walking the same logical scan.
	// Callers pass a 1-based iteration counter, incremented per call,
	// and the store grows the batch as the scan progresses.
	StreamIterator

	// StreamExact indicates the caller set an exact row limit.
	StreamExact

	// StreamSmall, StreamMedium and StreamLarge request fixed batch
	// sizes.
	StreamSmall
	StreamMedium
	StreamLarge

	// StreamSerial fetches maximal batches for serial consumption.
	StreamSerial
)

// Client is the native client ABI for one connected database. A Client is
// safe for concurrent use, but a single transaction handle must only be
// driven by one caller at a time; the client serializes a transaction's
// effects internally.
//
// Asynchronous calls return a future handle. The callback registered via
// FutureSetCallback is invoked exactly once, on a goroutine owned by the
// client, once the future is ready; results are then read through the
// FutureGet* accessors and the future must be released with FutureDestroy.
// Byte-buffer arguments are never retained past the call's return.
type Client interface {
	// CreateTransaction mints a new transaction handle.
	CreateTransaction() (TransactionHandle, Code)

	// Disconnect tears down the connection. All outstanding handles
	// become invalid.
	Disconnect() error

	// Synchronous transaction mutations. Effects are buffered in the
	// transaction until commit.
	TransactionSet(tx TransactionHandle, key, value []byte)
	TransactionClear(tx TransactionHandle, key []byte)
	TransactionClearRange(tx TransactionHandle, begin, end []byte)
	TransactionAtomicOp(tx TransactionHandle, key, operand []byte,
		op MutationType)

	// TransactionAddConflictRange registers [begin, end) for conflict
	// detection independent of the reads and writes actually performed.
	TransactionAddConflictRange(tx TransactionHandle, begin, end []byte,
		typ ConflictRangeType) Code

	TransactionSetReadVersion(tx TransactionHandle, version int64)

	// TransactionGetCommittedVersion reports the version the transaction
	// committed at, or a non-zero code if the transaction has not
	// committed.
	TransactionGetCommittedVersion(tx TransactionHandle) (int64, Code)

	// TransactionReset returns the transaction to a fresh state,
	// discarding all buffered effects.
	TransactionReset(tx TransactionHandle)

	// TransactionCancel aborts the transaction. Outstanding futures
	// derived from it complete with CodeTransactionCanceled.
	TransactionCancel(tx TransactionHandle)

	// TransactionDestroy releases the native transaction. The handle must
	// not be used afterwards.
	TransactionDestroy(tx TransactionHandle)

	// Asynchronous reads and lifecycle calls.
	TransactionGet(tx TransactionHandle, key []byte,
		snapshot bool) FutureHandle
	TransactionGetKey(tx TransactionHandle, key []byte, orEqual bool,
		offset int32, snapshot bool) FutureHandle
	TransactionGetRange(tx TransactionHandle,
		beginKey []byte, beginOrEqual bool, beginOffset int32,
		endKey []byte, endOrEqual bool, endOffset int32,
		limit, targetBytes int32, mode StreamingMode, iteration int32,
		snapshot, reverse bool) FutureHandle
	TransactionGetReadVersion(tx TransactionHandle) FutureHandle
	TransactionGetVersionstamp(tx TransactionHandle) FutureHandle
	TransactionGetAddressesForKey(tx TransactionHandle,
		key []byte) FutureHandle
	TransactionWatch(tx TransactionHandle, key []byte) FutureHandle
	TransactionCommit(tx TransactionHandle) FutureHandle
	TransactionOnError(tx TransactionHandle, code Code) FutureHandle

	// FutureSetCallback registers the completion callback for a future.
	// The client invokes it exactly once, on its own goroutine; if the
	// future is already ready the callback is still delivered
	// asynchronously.
	FutureSetCallback(f FutureHandle, cb func())

	// FutureGetError reports the future's error code once it is ready.
	FutureGetError(f FutureHandle) Code

	// Result accessors, valid only after the completion callback fired
	// and only for the matching operation shape. Returned slices are
	// owned by the caller.
	FutureGetValue(f FutureHandle) (present bool, value []byte, code Code)
	FutureGetKey(f FutureHandle) ([]byte, Code)
	FutureGetKeyValueArray(f FutureHandle) (kvs []KeyValue, more bool,
		code Code)
	FutureGetStringArray(f FutureHandle) ([]string, Code)
	FutureGetVersion(f FutureHandle) (int64, Code)

	// FutureCancel requests cancellation of a still-pending future. The
	// completion callback still fires, with CodeOperationCancelled, if it
	// had not fired already.
	FutureCancel(f FutureHandle)

	// FutureDestroy releases the future. Must be called exactly once per
	// future, after the completion callback has run.
	FutureDestroy(f FutureHandle)
}

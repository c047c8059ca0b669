package tessera

import "github.com/tesserakv/tessera-go/capi"

// KeySelector resolves to a key position in the store: the base position is
// the last key less than (or less-or-equal, if OrEqual is set) the reference
// key, moved forward by Offset keys. The four constructors below cover the
// standard inclusive/exclusive boundary cases.
type KeySelector struct {
	// Key is the reference key: string, []byte or Key.
	Key any

	OrEqual bool
	Offset  int32
}

// FirstGreaterOrEqual selects the first key >= key.
func FirstGreaterOrEqual(key any) KeySelector {
	return KeySelector{Key: key, OrEqual: false, Offset: 1}
}

// FirstGreaterThan selects the first key > key.
func FirstGreaterThan(key any) KeySelector {
	return KeySelector{Key: key, OrEqual: true, Offset: 1}
}

// LastLessOrEqual selects the last key <= key.
func LastLessOrEqual(key any) KeySelector {
	return KeySelector{Key: key, OrEqual: true, Offset: 0}
}

// LastLessThan selects the last key < key.
func LastLessThan(key any) KeySelector {
	return KeySelector{Key: key, OrEqual: false, Offset: 0}
}

// RangeOptions bounds and shapes a range read. The zero value reads the
// whole range in store order.
type RangeOptions struct {
	// Limit caps the number of returned pairs. Zero means unbounded.
	Limit int

	// TargetBytes caps the cumulative key+value size of the batch. Zero
	// means unbounded.
	TargetBytes int

	// Mode hints the expected consumption pattern; see capi streaming
	// modes. Zero defaults to StreamWantAll.
	Mode capi.StreamingMode

	// Iteration is the 1-based counter of repeated calls walking the same
	// logical scan. Callers must increment it each time they fetch the
	// next batch so the store can tune batch sizing. Only meaningful with
	// StreamIterator.
	Iteration int

	// Reverse returns pairs in descending key order.
	Reverse bool
}

// RangeResult is one batch of a range read. More is set when results beyond
// this batch may exist, in which case the caller continues the scan with
// adjusted selectors and a bumped Iteration.
type RangeResult struct {
	KVs  []KeyValue
	More bool
}

// KeyValue is a single key/value pair of a range read, in the order the
// store returned it.
type KeyValue struct {
	Key   Key
	Value []byte
}

// Re-exported streaming modes and mutation kinds so common use does not need
// a capi import.
const (
	StreamWantAll  = capi.StreamWantAll
	StreamIterator = capi.StreamIterator
	StreamExact    = capi.StreamExact
	StreamSmall    = capi.StreamSmall
	StreamMedium   = capi.StreamMedium
	StreamLarge    = capi.StreamLarge
	StreamSerial   = capi.StreamSerial

	MutationAdd          = capi.MutationAdd
	MutationBitAnd       = capi.MutationBitAnd
	MutationBitOr        = capi.MutationBitOr
	MutationBitXor       = capi.MutationBitXor
	MutationMax          = capi.MutationMax
	MutationMin          = capi.MutationMin
	MutationByteMax      = capi.MutationByteMax
	MutationByteMin      = capi.MutationByteMin
	MutationAppendIfFits = capi.MutationAppendIfFits
)

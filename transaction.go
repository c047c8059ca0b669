package tessera

import (
	"sync/atomic"

	"github.com/tesserakv/tessera-go/capi"
)

// Transaction states. Reset returns a terminal transaction to active; a
// successful OnError future does the same.
const (
	stateActive int32 = iota
	stateCommitted
	stateCanceled
	stateDestroyed
)

// Transaction is the exclusive owner of one native transaction handle,
// created by DB.CreateTransaction. A transaction must be driven from a
// single goroutine at a time; the completions of its asynchronous
// operations may still arrive in any order relative to issue order.
//
// Destroy releases the native handle once every outstanding future derived
// from the transaction has been reclaimed. The database installs a
// finalizer as a safety net, but callers should Destroy (or use
// DB.Transact) deterministically.
type Transaction struct {
	db     *DB
	handle capi.TransactionHandle

	state atomic.Int32

	// refs counts the holders of the native handle: one base reference
	// owned by the wrapper itself plus one per in-flight future. The
	// native transaction is destroyed when the count hits zero.
	refs      atomic.Int32
	destroyed atomic.Bool
}

func newTransaction(db *DB, h capi.TransactionHandle) *Transaction {
	t := &Transaction{db: db, handle: h}
	t.refs.Store(1)

	return t
}

func (t *Transaction) retain() {
	t.refs.Add(1)
}

func (t *Transaction) release() {
	if t.refs.Add(-1) == 0 {
		log.Tracef("Destroying native transaction %d", t.handle)
		t.db.client.TransactionDestroy(t.handle)
	}
}

// Destroy releases the transaction's native resources. Idempotent. If
// futures are still in flight the native handle is released once the last
// of them completes.
func (t *Transaction) Destroy() {
	if t.destroyed.Swap(true) {
		return
	}
	t.state.Store(stateDestroyed)
	t.release()
}

// usable rejects operations on a transaction in a terminal state.
func (t *Transaction) usable() error {
	switch t.state.Load() {
	case stateCommitted:
		return ErrTransactionCommitted
	case stateCanceled:
		return ErrTransactionCanceled
	case stateDestroyed:
		return ErrTransactionDestroyed
	default:
		return nil
	}
}

// Get reads the value of key. An absent key resolves to None, which is
// distinct from a present empty value.
func (t *Transaction) Get(key any) (*FutureValue, error) {
	return t.get(key, false)
}

func (t *Transaction) get(key any, snapshot bool) (*FutureValue, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	k, err := newParam(key)
	if err != nil {
		return nil, err
	}
	defer k.free()

	h := t.db.client.TransactionGet(t.handle, k.data, snapshot)

	return newFuture(t, h, decodeValue), nil
}

// GetKey resolves a key selector to an actual key.
func (t *Transaction) GetKey(sel KeySelector) (*FutureKey, error) {
	return t.getKey(sel, false)
}

func (t *Transaction) getKey(sel KeySelector, snapshot bool) (*FutureKey,
	error) {

	if err := t.usable(); err != nil {
		return nil, err
	}
	k, err := newParam(sel.Key)
	if err != nil {
		return nil, err
	}
	defer k.free()

	h := t.db.client.TransactionGetKey(
		t.handle, k.data, sel.OrEqual, sel.Offset, snapshot,
	)

	return newFuture(t, h, decodeKey), nil
}

// GetRange reads one batch of the key range [begin, end) as resolved by the
// selectors. Repeated calls walking the same scan must bump
// opts.Iteration; the final batch carries More == false.
func (t *Transaction) GetRange(begin, end KeySelector,
	opts RangeOptions) (*FutureRange, error) {

	return t.getRange(begin, end, opts, false)
}

func (t *Transaction) getRange(begin, end KeySelector, opts RangeOptions,
	snapshot bool) (*FutureRange, error) {

	if err := t.usable(); err != nil {
		return nil, err
	}
	bk, err := newParam(begin.Key)
	if err != nil {
		return nil, err
	}
	defer bk.free()

	ek, err := newParam(end.Key)
	if err != nil {
		return nil, err
	}
	defer ek.free()

	mode := opts.Mode
	if mode == 0 {
		mode = capi.StreamWantAll
	}

	h := t.db.client.TransactionGetRange(
		t.handle,
		bk.data, begin.OrEqual, begin.Offset,
		ek.data, end.OrEqual, end.Offset,
		int32(opts.Limit), int32(opts.TargetBytes),
		mode, int32(opts.Iteration),
		snapshot, opts.Reverse,
	)

	return newFuture(t, h, decodeRange), nil
}

// Set buffers an overwrite of the point value at key.
func (t *Transaction) Set(key, value any) error {
	if err := t.usable(); err != nil {
		return err
	}
	k, err := newParam(key)
	if err != nil {
		return err
	}
	defer k.free()

	v, err := newParam(value)
	if err != nil {
		return err
	}
	defer v.free()

	t.db.client.TransactionSet(t.handle, k.data, v.data)

	return nil
}

// Clear buffers removal of key.
func (t *Transaction) Clear(key any) error {
	if err := t.usable(); err != nil {
		return err
	}
	k, err := newParam(key)
	if err != nil {
		return err
	}
	defer k.free()

	t.db.client.TransactionClear(t.handle, k.data)

	return nil
}

// ClearRange buffers removal of every key in [begin, end). The end key is
// exclusive.
func (t *Transaction) ClearRange(begin, end any) error {
	if err := t.usable(); err != nil {
		return err
	}
	b, err := newParam(begin)
	if err != nil {
		return err
	}
	defer b.free()

	e, err := newParam(end)
	if err != nil {
		return err
	}
	defer e.free()

	t.db.client.TransactionClearRange(t.handle, b.data, e.data)

	return nil
}

// AtomicOp buffers a server-side commutative mutation of key by operand.
func (t *Transaction) AtomicOp(key, operand any,
	op capi.MutationType) error {

	if err := t.usable(); err != nil {
		return err
	}
	k, err := newParam(key)
	if err != nil {
		return err
	}
	defer k.free()

	o, err := newParam(operand)
	if err != nil {
		return err
	}
	defer o.free()

	t.db.client.TransactionAtomicOp(t.handle, k.data, o.data, op)

	return nil
}

// AddReadConflictRange registers [begin, end) for read conflict detection
// independent of the reads actually performed. A native failure surfaces
// immediately.
func (t *Transaction) AddReadConflictRange(begin, end any) error {
	return t.addConflictRange(begin, end, capi.ConflictRangeRead)
}

// AddWriteConflictRange registers [begin, end) for write conflict
// detection independent of the writes actually performed.
func (t *Transaction) AddWriteConflictRange(begin, end any) error {
	return t.addConflictRange(begin, end, capi.ConflictRangeWrite)
}

func (t *Transaction) addConflictRange(begin, end any,
	typ capi.ConflictRangeType) error {

	if err := t.usable(); err != nil {
		return err
	}
	b, err := newParam(begin)
	if err != nil {
		return err
	}
	defer b.free()

	e, err := newParam(end)
	if err != nil {
		return err
	}
	defer e.free()

	code := t.db.client.TransactionAddConflictRange(
		t.handle, b.data, e.data, typ,
	)
	if code != capi.CodeSuccess {
		return codeErr(code)
	}

	return nil
}

// GetReadVersion returns the version the transaction's reads are pinned to.
func (t *Transaction) GetReadVersion() (*FutureVersion, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}

	h := t.db.client.TransactionGetReadVersion(t.handle)

	return newFuture(t, h, decodeVersion), nil
}

// SetReadVersion pins the transaction's reads to version.
func (t *Transaction) SetReadVersion(version int64) error {
	if err := t.usable(); err != nil {
		return err
	}
	t.db.client.TransactionSetReadVersion(t.handle, version)

	return nil
}

// GetCommittedVersion returns the version the transaction committed at. It
// fails with a typed error when called before a successful commit.
func (t *Transaction) GetCommittedVersion() (int64, error) {
	if t.state.Load() == stateDestroyed {
		return 0, ErrTransactionDestroyed
	}

	version, code := t.db.client.TransactionGetCommittedVersion(t.handle)
	if code != capi.CodeSuccess {
		return 0, codeErr(code)
	}

	return version, nil
}

// GetVersionstamp returns a future resolving, after a successful commit, to
// the versionstamp the commit was assigned.
func (t *Transaction) GetVersionstamp() (*FutureKey, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}

	h := t.db.client.TransactionGetVersionstamp(t.handle)

	return newFuture(t, h, decodeKey), nil
}

// GetAddressesForKey reports the network addresses of the storage nodes
// serving key. Informational only.
func (t *Transaction) GetAddressesForKey(key any) (*FutureAddresses, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	k, err := newParam(key)
	if err != nil {
		return nil, err
	}
	defer k.free()

	h := t.db.client.TransactionGetAddressesForKey(t.handle, k.data)

	return newFuture(t, h, decodeStrings), nil
}

// Commit sends the transaction's buffered effects to the store. The result
// arrives through the returned future; on success the transaction is
// committed and further operations fail until Reset.
func (t *Transaction) Commit() (*FutureNil, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}

	h := t.db.client.TransactionCommit(t.handle)

	fut := newFutureDone(t, h, decodeNil, func(err error) {
		if err == nil {
			t.state.Store(stateCommitted)
		}
	})

	return fut, nil
}

// Reset synchronously returns the transaction to a fresh active state,
// discarding all buffered effects.
func (t *Transaction) Reset() error {
	if t.state.Load() == stateDestroyed {
		return ErrTransactionDestroyed
	}

	t.db.client.TransactionReset(t.handle)
	t.state.Store(stateActive)

	return nil
}

// Cancel synchronously requests cancellation of the transaction context.
// Pending futures derived from it may still complete, with either their
// natural result or a canceled error; both must be handled.
func (t *Transaction) Cancel() error {
	if t.state.Load() == stateDestroyed {
		return ErrTransactionDestroyed
	}

	t.db.client.TransactionCancel(t.handle)
	t.state.Store(stateCanceled)

	return nil
}

// OnError forwards an error to the store's retry classification. The
// returned future resolves successfully, with the transaction back in a
// fresh active generation, if the error is retryable; otherwise it delivers
// the error. Nothing in this binding retries implicitly; see DB.Transact
// for the explicit loop.
func (t *Transaction) OnError(terr *Error) (*FutureNil, error) {
	if terr == nil {
		return nil, ErrNilError
	}
	if t.state.Load() == stateDestroyed {
		return nil, ErrTransactionDestroyed
	}

	h := t.db.client.TransactionOnError(t.handle, terr.Code)

	fut := newFutureDone(t, h, decodeNil, func(err error) {
		if err == nil {
			t.state.Store(stateActive)
		}
	})

	return fut, nil
}

// Snapshot returns a view issuing reads at snapshot isolation: the reads
// see the transaction's read version without adding read conflict ranges.
func (t *Transaction) Snapshot() *Snapshot {
	return &Snapshot{t: t}
}

// Snapshot is a read-only view over a transaction with the snapshot flag
// set on every read it issues.
type Snapshot struct {
	t *Transaction
}

// Get reads key's value at snapshot isolation.
func (s *Snapshot) Get(key any) (*FutureValue, error) {
	return s.t.get(key, true)
}

// GetKey resolves a selector at snapshot isolation.
func (s *Snapshot) GetKey(sel KeySelector) (*FutureKey, error) {
	return s.t.getKey(sel, true)
}

// GetRange reads a range batch at snapshot isolation.
func (s *Snapshot) GetRange(begin, end KeySelector,
	opts RangeOptions) (*FutureRange, error) {

	return s.t.getRange(begin, end, opts, true)
}

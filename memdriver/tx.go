package memdriver

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/google/btree"
	"github.com/tesserakv/tessera-go/capi"
)

type entryKind int

const (
	// entrySet overwrites the key with value.
	entrySet entryKind = iota + 1

	// entryDel removes the key.
	entryDel

	// entryMutate applies the buffered atomic mutations to whatever value
	// the key holds at commit time.
	entryMutate
)

type mutation struct {
	op      capi.MutationType
	operand []byte
}

// txEntry is one buffered point effect, keyed for the transaction's write
// overlay.
type txEntry struct {
	key   []byte
	kind  entryKind
	value []byte
	muts  []mutation
}

func (e *txEntry) Less(than btree.Item) bool {
	return bytes.Compare(e.key, than.(*txEntry).key) < 0
}

const (
	txActive = iota
	txCommitted
	txCanceled
)

// transaction buffers effects against a snapshot of the committed state.
// Reads observe the buffered effects (read-your-writes); commit installs
// them atomically. A global commit order stands in for the real store's
// conflict detection, which is out of scope for a reference driver.
type transaction struct {
	c *Client

	mu    sync.Mutex
	state int

	snap        *btree.BTree
	readVersion int64

	committedVersion int64

	writes *btree.BTree
	clears [][2][]byte

	readConflicts  [][2][]byte
	writeConflicts [][2][]byte

	// pending holds this transaction's unresolved futures so cancel,
	// reset and destroy can cancel them. Watches detach from it on a
	// successful commit and live on with the store.
	pending []*future

	// vsFutures resolve to the commit's versionstamp.
	vsFutures []*future
}

func newTxn(c *Client) *transaction {
	return &transaction{
		c:                c,
		readVersion:      -1,
		committedVersion: -1,
		writes:           btree.New(btreeDegree),
	}
}

// ensureSnapshot pins the transaction's read view at first use.
func (tx *transaction) ensureSnapshot() {
	if tx.snap == nil {
		snap, version := tx.c.store.snapshot()
		tx.snap = snap
		if tx.readVersion < 0 {
			tx.readVersion = version
		}
	}
}

func (tx *transaction) inClears(key []byte) bool {
	for _, r := range tx.clears {
		if bytes.Compare(r[0], key) <= 0 && bytes.Compare(key, r[1]) < 0 {
			return true
		}
	}
	return false
}

// snapGet reads the pinned snapshot with the buffered range clears masked.
func (tx *transaction) snapGet(key []byte) (present bool, value []byte) {
	if tx.inClears(key) {
		return false, nil
	}
	if it := tx.snap.Get(&storeItem{key: key}); it != nil {
		return true, it.(*storeItem).value
	}
	return false, nil
}

func (tx *transaction) get(key []byte) (bool, []byte, capi.Code) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state == txCanceled {
		return false, nil, capi.CodeTransactionCanceled
	}
	tx.ensureSnapshot()

	if it := tx.writes.Get(&txEntry{key: key}); it != nil {
		e := it.(*txEntry)
		switch e.kind {
		case entrySet:
			return true, dup(e.value), capi.CodeSuccess
		case entryDel:
			return false, nil, capi.CodeSuccess
		case entryMutate:
			value, _ := tx.mutatedValue(e)
			return true, value, capi.CodeSuccess
		}
	}

	present, value := tx.snapGet(key)

	return present, dup(value), capi.CodeSuccess
}

// mutatedValue resolves an entryMutate against the snapshot base.
func (tx *transaction) mutatedValue(e *txEntry) ([]byte, bool) {
	present, base := tx.snapGet(e.key)
	for _, m := range e.muts {
		base = applyMutation(base, present, m.operand, m.op)
		present = true
	}
	return base, present
}

func (tx *transaction) set(key, value []byte) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != txActive {
		return
	}
	tx.writes.ReplaceOrInsert(&txEntry{
		key:   dup(key),
		kind:  entrySet,
		value: dup(value),
	})
}

func (tx *transaction) clear(key []byte) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != txActive {
		return
	}
	tx.writes.ReplaceOrInsert(&txEntry{key: dup(key), kind: entryDel})
}

func (tx *transaction) clearRange(begin, end []byte) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != txActive || bytes.Compare(begin, end) >= 0 {
		return
	}

	// Buffered point effects inside the range are superseded.
	var doomed []*txEntry
	tx.writes.AscendRange(
		&txEntry{key: begin}, &txEntry{key: end},
		func(item btree.Item) bool {
			doomed = append(doomed, item.(*txEntry))
			return true
		},
	)
	for _, e := range doomed {
		tx.writes.Delete(e)
	}

	tx.clears = append(tx.clears, [2][]byte{dup(begin), dup(end)})
}

func (tx *transaction) atomicOp(key, operand []byte, op capi.MutationType) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != txActive {
		return
	}

	m := mutation{op: op, operand: dup(operand)}

	if it := tx.writes.Get(&txEntry{key: key}); it != nil {
		e := it.(*txEntry)
		switch e.kind {
		case entrySet:
			e.value = applyMutation(e.value, true, m.operand, m.op)
		case entryDel:
			e.kind = entrySet
			e.value = applyMutation(nil, false, m.operand, m.op)
		case entryMutate:
			e.muts = append(e.muts, m)
		}
		return
	}

	if tx.inClears(key) {
		tx.writes.ReplaceOrInsert(&txEntry{
			key:   dup(key),
			kind:  entrySet,
			value: applyMutation(nil, false, m.operand, m.op),
		})
		return
	}

	tx.writes.ReplaceOrInsert(&txEntry{
		key:  dup(key),
		kind: entryMutate,
		muts: []mutation{m},
	})
}

// effectiveKVs materializes the transaction's read view: the snapshot with
// range clears masked and buffered point effects applied, in key order.
func (tx *transaction) effectiveKVs() []capi.KeyValue {
	tx.ensureSnapshot()

	merged := tx.snap.Clone()

	for _, r := range tx.clears {
		var doomed []*storeItem
		merged.AscendRange(
			&storeItem{key: r[0]}, &storeItem{key: r[1]},
			func(item btree.Item) bool {
				doomed = append(doomed, item.(*storeItem))
				return true
			},
		)
		for _, it := range doomed {
			merged.Delete(it)
		}
	}

	tx.writes.Ascend(func(item btree.Item) bool {
		e := item.(*txEntry)
		switch e.kind {
		case entrySet:
			merged.ReplaceOrInsert(&storeItem{
				key:   e.key,
				value: e.value,
			})
		case entryDel:
			merged.Delete(&storeItem{key: e.key})
		case entryMutate:
			value, _ := tx.mutatedValue(e)
			merged.ReplaceOrInsert(&storeItem{
				key:   e.key,
				value: value,
			})
		}
		return true
	})

	kvs := make([]capi.KeyValue, 0, merged.Len())
	merged.Ascend(func(item btree.Item) bool {
		it := item.(*storeItem)
		kvs = append(kvs, capi.KeyValue{
			Key:   dup(it.key),
			Value: dup(it.value),
		})
		return true
	})

	return kvs
}

// resolveSelector turns a key selector into an index into kvs. The result
// may be -1 (before the first key) or len(kvs) (past the last key).
func resolveSelector(kvs []capi.KeyValue, key []byte, orEqual bool,
	offset int32) int {

	// Base position: the last key <= key when orEqual, the last key < key
	// otherwise.
	base := sort.Search(len(kvs), func(i int) bool {
		cmp := bytes.Compare(kvs[i].Key, key)
		if orEqual {
			return cmp > 0
		}
		return cmp >= 0
	}) - 1

	pos := base + int(offset)
	if pos < -1 {
		pos = -1
	}
	if pos > len(kvs) {
		pos = len(kvs)
	}

	return pos
}

func (tx *transaction) getKey(key []byte, orEqual bool,
	offset int32) ([]byte, capi.Code) {

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state == txCanceled {
		return nil, capi.CodeTransactionCanceled
	}

	kvs := tx.effectiveKVs()
	pos := resolveSelector(kvs, key, orEqual, offset)

	switch {
	case pos < 0:
		// Before the start of the key space.
		return []byte{}, capi.CodeSuccess
	case pos >= len(kvs):
		// Past the end of the key space.
		return []byte{0xff}, capi.CodeSuccess
	default:
		return dup(kvs[pos].Key), capi.CodeSuccess
	}
}

// batchRowCap returns the driver's row cap for one range batch, zero
// meaning uncapped. StreamIterator grows the batch as the 1-based iteration
// counter advances.
func batchRowCap(mode capi.StreamingMode, iteration int32) int {
	switch mode {
	case capi.StreamSmall:
		return 16
	case capi.StreamMedium:
		return 64
	case capi.StreamLarge:
		return 256
	case capi.StreamIterator:
		it := iteration
		if it < 1 {
			it = 1
		}
		rows := 16
		for ; it > 1 && rows < 256; it-- {
			rows *= 2
		}
		return rows
	default:
		// StreamWantAll, StreamExact, StreamSerial.
		return 0
	}
}

func (tx *transaction) getRange(beginKey []byte, beginOrEqual bool,
	beginOffset int32, endKey []byte, endOrEqual bool, endOffset int32,
	limit, targetBytes int32, mode capi.StreamingMode, iteration int32,
	reverse bool) ([]capi.KeyValue, bool, capi.Code) {

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state == txCanceled {
		return nil, false, capi.CodeTransactionCanceled
	}

	kvs := tx.effectiveKVs()

	begin := resolveSelector(kvs, beginKey, beginOrEqual, beginOffset)
	end := resolveSelector(kvs, endKey, endOrEqual, endOffset)
	if begin < 0 {
		begin = 0
	}
	if end > len(kvs) {
		end = len(kvs)
	}
	if end <= begin {
		return nil, false, capi.CodeSuccess
	}

	span := kvs[begin:end]

	rowCap := batchRowCap(mode, iteration)
	if limit > 0 && (rowCap == 0 || int(limit) < rowCap) {
		rowCap = int(limit)
	}

	var (
		out       []capi.KeyValue
		sizeSoFar int
	)
	for i := 0; i < len(span); i++ {
		kv := span[i]
		if reverse {
			kv = span[len(span)-1-i]
		}

		out = append(out, kv)
		sizeSoFar += len(kv.Key) + len(kv.Value)

		if rowCap > 0 && len(out) >= rowCap {
			break
		}
		if targetBytes > 0 && sizeSoFar >= int(targetBytes) {
			break
		}
	}

	return out, len(out) < len(span), capi.CodeSuccess
}

func (tx *transaction) addConflictRange(begin, end []byte,
	typ capi.ConflictRangeType) capi.Code {

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state == txCanceled {
		return capi.CodeTransactionCanceled
	}
	if bytes.Compare(begin, end) > 0 {
		return capi.CodeClientInvalidOperation
	}

	r := [2][]byte{dup(begin), dup(end)}
	if typ == capi.ConflictRangeWrite {
		tx.writeConflicts = append(tx.writeConflicts, r)
	} else {
		tx.readConflicts = append(tx.readConflicts, r)
	}

	return capi.CodeSuccess
}

func (tx *transaction) getReadVersion() (int64, capi.Code) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state == txCanceled {
		return 0, capi.CodeTransactionCanceled
	}
	tx.ensureSnapshot()

	return tx.readVersion, capi.CodeSuccess
}

// setReadVersion pins the reported read version. The reference driver keeps
// no historical versions, so reads still observe the current state.
func (tx *transaction) setReadVersion(version int64) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != txActive {
		return
	}
	tx.ensureSnapshot()
	tx.readVersion = version
}

func (tx *transaction) getCommittedVersion() (int64, capi.Code) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.committedVersion < 0 {
		return 0, capi.CodeVersionUnavailable
	}

	return tx.committedVersion, capi.CodeSuccess
}

// commit installs the buffered effects. On success it resolves the
// versionstamp futures and detaches the transaction's watches, which from
// then on belong to the store.
func (tx *transaction) commit() capi.Code {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	switch tx.state {
	case txCanceled:
		return capi.CodeTransactionCanceled
	case txCommitted:
		return capi.CodeClientInvalidOperation
	}

	version := tx.c.store.apply(tx.clears, tx.writes)
	tx.committedVersion = version
	tx.state = txCommitted

	stamp := make([]byte, 10)
	binary.BigEndian.PutUint64(stamp, uint64(version))
	for _, f := range tx.vsFutures {
		f.complete(func(f *future) {
			f.key = dup(stamp)
		})
	}
	tx.vsFutures = nil
	tx.pending = nil

	return capi.CodeSuccess
}

// resetLocked rolls the transaction back to a fresh generation. Pending
// futures of the old generation are canceled.
func (tx *transaction) resetLocked(code capi.Code) {
	for _, f := range tx.pending {
		f.fail(code)
	}
	for _, f := range tx.vsFutures {
		f.fail(code)
	}
	tx.pending = nil
	tx.vsFutures = nil

	tx.state = txActive
	tx.snap = nil
	tx.readVersion = -1
	tx.committedVersion = -1
	tx.writes = btree.New(btreeDegree)
	tx.clears = nil
	tx.readConflicts = nil
	tx.writeConflicts = nil
}

func (tx *transaction) reset() {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	tx.resetLocked(capi.CodeTransactionCanceled)
}

func (tx *transaction) cancel() {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	for _, f := range tx.pending {
		f.fail(capi.CodeTransactionCanceled)
	}
	for _, f := range tx.vsFutures {
		f.fail(capi.CodeTransactionCanceled)
	}
	tx.pending = nil
	tx.vsFutures = nil
	tx.state = txCanceled
}

func (tx *transaction) destroy() {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	for _, f := range tx.pending {
		f.fail(capi.CodeOperationCancelled)
	}
	for _, f := range tx.vsFutures {
		f.fail(capi.CodeOperationCancelled)
	}
	tx.pending = nil
	tx.vsFutures = nil
}

// onError applies the store's retry classification: retryable codes roll
// the transaction back to a fresh generation and succeed, everything else
// propagates.
func (tx *transaction) onError(code capi.Code) capi.Code {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if !capi.Retryable(code) {
		return code
	}

	tx.resetLocked(capi.CodeTransactionCanceled)

	return capi.CodeSuccess
}

func (tx *transaction) watch(key []byte) *future {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	f := &future{}
	if tx.state == txCanceled {
		f.fail(capi.CodeTransactionCanceled)
		return f
	}

	tx.c.store.addWatch(key, f)
	tx.pending = append(tx.pending, f)

	return f
}

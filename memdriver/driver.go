// Package memdriver is an in-process implementation of the TesseraKV native
// client ABI. It backs the binding's test suite and serves as the reference
// implementation of the capi contract: completion callbacks fire exactly
// once from driver-owned goroutines, transactions buffer their effects and
// read them back, range reads honor selectors and batching hints, and
// watches resolve on committed changes.
//
// It deliberately implements no conflict detection or replication; a single
// global commit order stands in for the real store's machinery.
package memdriver

import (
	"fmt"
	"sync"

	"github.com/tesserakv/tessera-go/capi"
)

// DriverName selects this driver in the database config.
const DriverName = "mem"

func init() {
	driver := capi.Driver{
		Name: DriverName,
		Connect: func(addresses []string) (capi.Client, error) {
			return Connect(addresses)
		},
	}
	if err := capi.RegisterDriver(driver); err != nil {
		panic(fmt.Sprintf("failed to register driver %q: %v",
			DriverName, err))
	}
}

// Client is one in-process database. It implements capi.Client.
type Client struct {
	mu sync.Mutex

	store *store
	addrs []string

	txs        map[capi.TransactionHandle]*transaction
	futs       map[capi.FutureHandle]*future
	nextHandle int64
}

// Connect creates a fresh empty database. The addresses are only echoed
// back by TransactionGetAddressesForKey.
func Connect(addresses []string) (*Client, error) {
	if len(addresses) == 0 {
		addresses = []string{"127.0.0.1:4690"}
	}

	return &Client{
		store: newStore(),
		addrs: append([]string(nil), addresses...),
		txs:   make(map[capi.TransactionHandle]*transaction),
		futs:  make(map[capi.FutureHandle]*future),
	}, nil
}

// Disconnect implements capi.Client.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.txs = make(map[capi.TransactionHandle]*transaction)
	c.futs = make(map[capi.FutureHandle]*future)

	return nil
}

// CreateTransaction implements capi.Client.
func (c *Client) CreateTransaction() (capi.TransactionHandle, capi.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextHandle++
	h := capi.TransactionHandle(c.nextHandle)
	c.txs[h] = newTxn(c)

	return h, capi.CodeSuccess
}

func (c *Client) tx(h capi.TransactionHandle) *transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.txs[h]
}

func (c *Client) fut(h capi.FutureHandle) *future {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.futs[h]
}

// registerFuture mints a handle for a future.
func (c *Client) registerFuture(f *future) capi.FutureHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextHandle++
	h := capi.FutureHandle(c.nextHandle)
	c.futs[h] = f

	return h
}

// asyncOp registers a future and resolves it with run's outcome. The
// completion callback is still delivered asynchronously, so callers observe
// the same timing contract as against the networked client.
func (c *Client) asyncOp(h capi.TransactionHandle,
	run func(tx *transaction, f *future)) capi.FutureHandle {

	f := &future{}
	fh := c.registerFuture(f)

	tx := c.tx(h)
	if tx == nil {
		f.fail(capi.CodeClientInvalidOperation)
		return fh
	}
	run(tx, f)

	return fh
}

// TransactionSet implements capi.Client.
func (c *Client) TransactionSet(h capi.TransactionHandle, key, value []byte) {
	if tx := c.tx(h); tx != nil {
		tx.set(key, value)
	}
}

// TransactionClear implements capi.Client.
func (c *Client) TransactionClear(h capi.TransactionHandle, key []byte) {
	if tx := c.tx(h); tx != nil {
		tx.clear(key)
	}
}

// TransactionClearRange implements capi.Client.
func (c *Client) TransactionClearRange(h capi.TransactionHandle,
	begin, end []byte) {

	if tx := c.tx(h); tx != nil {
		tx.clearRange(begin, end)
	}
}

// TransactionAtomicOp implements capi.Client.
func (c *Client) TransactionAtomicOp(h capi.TransactionHandle, key,
	operand []byte, op capi.MutationType) {

	if tx := c.tx(h); tx != nil {
		tx.atomicOp(key, operand, op)
	}
}

// TransactionAddConflictRange implements capi.Client.
func (c *Client) TransactionAddConflictRange(h capi.TransactionHandle,
	begin, end []byte, typ capi.ConflictRangeType) capi.Code {

	tx := c.tx(h)
	if tx == nil {
		return capi.CodeClientInvalidOperation
	}

	return tx.addConflictRange(begin, end, typ)
}

// TransactionSetReadVersion implements capi.Client.
func (c *Client) TransactionSetReadVersion(h capi.TransactionHandle,
	version int64) {

	if tx := c.tx(h); tx != nil {
		tx.setReadVersion(version)
	}
}

// TransactionGetCommittedVersion implements capi.Client.
func (c *Client) TransactionGetCommittedVersion(
	h capi.TransactionHandle) (int64, capi.Code) {

	tx := c.tx(h)
	if tx == nil {
		return 0, capi.CodeClientInvalidOperation
	}

	return tx.getCommittedVersion()
}

// TransactionReset implements capi.Client.
func (c *Client) TransactionReset(h capi.TransactionHandle) {
	if tx := c.tx(h); tx != nil {
		tx.reset()
	}
}

// TransactionCancel implements capi.Client.
func (c *Client) TransactionCancel(h capi.TransactionHandle) {
	if tx := c.tx(h); tx != nil {
		tx.cancel()
	}
}

// TransactionDestroy implements capi.Client.
func (c *Client) TransactionDestroy(h capi.TransactionHandle) {
	tx := c.tx(h)
	if tx == nil {
		return
	}
	tx.destroy()

	c.mu.Lock()
	delete(c.txs, h)
	c.mu.Unlock()
}

// TransactionGet implements capi.Client.
func (c *Client) TransactionGet(h capi.TransactionHandle, key []byte,
	snapshot bool) capi.FutureHandle {

	return c.asyncOp(h, func(tx *transaction, f *future) {
		present, value, code := tx.get(key)
		f.complete(func(f *future) {
			f.code = code
			f.present = present
			f.value = value
		})
	})
}

// TransactionGetKey implements capi.Client.
func (c *Client) TransactionGetKey(h capi.TransactionHandle, key []byte,
	orEqual bool, offset int32, snapshot bool) capi.FutureHandle {

	return c.asyncOp(h, func(tx *transaction, f *future) {
		resolved, code := tx.getKey(key, orEqual, offset)
		f.complete(func(f *future) {
			f.code = code
			f.key = resolved
		})
	})
}

// TransactionGetRange implements capi.Client.
func (c *Client) TransactionGetRange(h capi.TransactionHandle,
	beginKey []byte, beginOrEqual bool, beginOffset int32,
	endKey []byte, endOrEqual bool, endOffset int32,
	limit, targetBytes int32, mode capi.StreamingMode, iteration int32,
	snapshot, reverse bool) capi.FutureHandle {

	return c.asyncOp(h, func(tx *transaction, f *future) {
		kvs, more, code := tx.getRange(
			beginKey, beginOrEqual, beginOffset,
			endKey, endOrEqual, endOffset,
			limit, targetBytes, mode, iteration, reverse,
		)
		f.complete(func(f *future) {
			f.code = code
			f.kvs = kvs
			f.more = more
		})
	})
}

// TransactionGetReadVersion implements capi.Client.
func (c *Client) TransactionGetReadVersion(
	h capi.TransactionHandle) capi.FutureHandle {

	return c.asyncOp(h, func(tx *transaction, f *future) {
		version, code := tx.getReadVersion()
		f.complete(func(f *future) {
			f.code = code
			f.version = version
		})
	})
}

// TransactionGetVersionstamp implements capi.Client. The future resolves
// once the transaction commits.
func (c *Client) TransactionGetVersionstamp(
	h capi.TransactionHandle) capi.FutureHandle {

	return c.asyncOp(h, func(tx *transaction, f *future) {
		tx.mu.Lock()
		defer tx.mu.Unlock()

		switch tx.state {
		case txCanceled:
			f.fail(capi.CodeTransactionCanceled)
		case txCommitted:
			f.fail(capi.CodeClientInvalidOperation)
		default:
			tx.vsFutures = append(tx.vsFutures, f)
		}
	})
}

// TransactionGetAddressesForKey implements capi.Client.
func (c *Client) TransactionGetAddressesForKey(h capi.TransactionHandle,
	key []byte) capi.FutureHandle {

	return c.asyncOp(h, func(tx *transaction, f *future) {
		addrs := append([]string(nil), c.addrs...)
		f.complete(func(f *future) {
			f.strs = addrs
		})
	})
}

// TransactionWatch implements capi.Client.
func (c *Client) TransactionWatch(h capi.TransactionHandle,
	key []byte) capi.FutureHandle {

	tx := c.tx(h)
	if tx == nil {
		f := &future{}
		fh := c.registerFuture(f)
		f.fail(capi.CodeClientInvalidOperation)
		return fh
	}

	f := tx.watch(dup(key))

	return c.registerFuture(f)
}

// TransactionCommit implements capi.Client.
func (c *Client) TransactionCommit(
	h capi.TransactionHandle) capi.FutureHandle {

	return c.asyncOp(h, func(tx *transaction, f *future) {
		f.fail(tx.commit())
	})
}

// TransactionOnError implements capi.Client.
func (c *Client) TransactionOnError(h capi.TransactionHandle,
	code capi.Code) capi.FutureHandle {

	return c.asyncOp(h, func(tx *transaction, f *future) {
		f.fail(tx.onError(code))
	})
}

// FutureSetCallback implements capi.Client.
func (c *Client) FutureSetCallback(h capi.FutureHandle, cb func()) {
	if f := c.fut(h); f != nil {
		f.setCallback(cb)
	}
}

// FutureGetError implements capi.Client.
func (c *Client) FutureGetError(h capi.FutureHandle) capi.Code {
	f := c.fut(h)
	if f == nil {
		return capi.CodeClientInvalidOperation
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.done {
		return capi.CodeClientInvalidOperation
	}

	return f.code
}

// FutureGetValue implements capi.Client.
func (c *Client) FutureGetValue(h capi.FutureHandle) (bool, []byte,
	capi.Code) {

	f := c.fut(h)
	if f == nil {
		return false, nil, capi.CodeClientInvalidOperation
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.present, dup(f.value), f.code
}

// FutureGetKey implements capi.Client.
func (c *Client) FutureGetKey(h capi.FutureHandle) ([]byte, capi.Code) {
	f := c.fut(h)
	if f == nil {
		return nil, capi.CodeClientInvalidOperation
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return dup(f.key), f.code
}

// FutureGetKeyValueArray implements capi.Client.
func (c *Client) FutureGetKeyValueArray(
	h capi.FutureHandle) ([]capi.KeyValue, bool, capi.Code) {

	f := c.fut(h)
	if f == nil {
		return nil, false, capi.CodeClientInvalidOperation
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.kvs, f.more, f.code
}

// FutureGetStringArray implements capi.Client.
func (c *Client) FutureGetStringArray(h capi.FutureHandle) ([]string,
	capi.Code) {

	f := c.fut(h)
	if f == nil {
		return nil, capi.CodeClientInvalidOperation
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.strs, f.code
}

// FutureGetVersion implements capi.Client.
func (c *Client) FutureGetVersion(h capi.FutureHandle) (int64, capi.Code) {
	f := c.fut(h)
	if f == nil {
		return 0, capi.CodeClientInvalidOperation
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.version, f.code
}

// FutureCancel implements capi.Client.
func (c *Client) FutureCancel(h capi.FutureHandle) {
	if f := c.fut(h); f != nil {
		f.cancel()
	}
}

// FutureDestroy implements capi.Client.
func (c *Client) FutureDestroy(h capi.FutureHandle) {
	c.mu.Lock()
	delete(c.futs, h)
	c.mu.Unlock()
}

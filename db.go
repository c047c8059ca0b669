// Package tessera is the Go client binding for TesseraKV, a network-attached
// transactional key-value store. The store's native client completes
// asynchronous operations from its own background threads; this package
// bridges those completions onto futures awaited with host contexts, and
// exposes the transactional operation surface (reads, writes, range scans,
// conflict ranges, watches) over host-native byte and string values.
//
// Consistency, retry classification and distribution are the store's own
// concern: the binding forwards requests and decodes responses, nothing
// more. The explicit retry loop the store documents is available as
// DB.Transact.
package tessera

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"

	"github.com/tesserakv/tessera-go/capi"
)

const (
	// DefaultQueueSize is the initial capacity of the completion
	// dispatch queue. The queue grows without bound, so this only tunes
	// the steady-state allocation.
	DefaultQueueSize = 128
)

// Config describes how to reach a database.
type Config struct {
	// Driver selects the registered native client implementation, e.g.
	// "mem" for the in-process reference driver.
	Driver string

	// Addresses lists the cluster coordination endpoints.
	Addresses []string

	// QueueSize overrides DefaultQueueSize when positive.
	QueueSize int
}

// DB is one open database. It owns the native client connection and the
// completion dispatcher every future of every transaction is resolved
// through.
type DB struct {
	client capi.Client
	loop   *completionLoop

	closed atomic.Bool
}

// Open connects to a database through the configured driver and starts the
// completion dispatcher.
func Open(cfg Config) (*DB, error) {
	client, err := capi.Connect(cfg.Driver, cfg.Addresses)
	if err != nil {
		return nil, err
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	db := &DB{
		client: client,
		loop:   newCompletionLoop(queueSize),
	}
	db.loop.start()

	log.Debugf("Opened database via driver=%v addrs=%v", cfg.Driver,
		cfg.Addresses)

	return db, nil
}

// NewDB wraps an already connected native client. Mostly useful for tests
// and custom drivers.
func NewDB(client capi.Client) *DB {
	db := &DB{
		client: client,
		loop:   newCompletionLoop(DefaultQueueSize),
	}
	db.loop.start()

	return db
}

// CreateTransaction mints a new transaction. The caller owns it and should
// Destroy it when done; a finalizer covers forgotten handles.
func (db *DB) CreateTransaction() (*Transaction, error) {
	if db.closed.Load() {
		return nil, ErrDatabaseClosed
	}

	h, code := db.client.CreateTransaction()
	if code != capi.CodeSuccess {
		return nil, codeErr(code)
	}

	t := newTransaction(db, h)
	runtime.SetFinalizer(t, (*Transaction).Destroy)

	return t, nil
}

// Transact runs f inside a transaction and commits it, driving the store's
// documented retry loop through OnError: when f or the commit fails with a
// retryable native error the transaction is rolled back to a fresh active
// generation and f runs again. Any other error aborts and is returned.
//
// f may be invoked multiple times and must be idempotent apart from its
// transaction effects.
func (db *DB) Transact(ctx context.Context,
	f func(*Transaction) error) error {

	t, err := db.CreateTransaction()
	if err != nil {
		return err
	}
	defer t.Destroy()

	for {
		err := f(t)
		if err == nil {
			fut, cerr := t.Commit()
			if cerr != nil {
				return cerr
			}
			_, err = fut.Get(ctx)
			if err == nil {
				return nil
			}
		}

		var terr *Error
		if !errors.As(err, &terr) {
			return err
		}

		onErrFut, oerr := t.OnError(terr)
		if oerr != nil {
			return err
		}
		if _, rerr := onErrFut.Get(ctx); rerr != nil {
			return rerr
		}

		log.Debugf("Retrying transaction after error: %v", terr)
	}
}

// Close stops the completion dispatcher and tears down the native
// connection. Outstanding futures are abandoned; close only after in-flight
// work has drained.
func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return nil
	}

	db.loop.stop()

	return db.client.Disconnect()
}

package tessera

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/tesserakv/tessera-go/capi"
)

// completionLoop moves native future completions from the client's own
// goroutines onto a single dispatcher goroutine owned by the database. The
// native callback does nothing but enqueue; decoding and promise completion
// happen on the dispatcher side of the queue. The queue is unbounded, so a
// callback never blocks the client's network runtime.
type completionLoop struct {
	events *queue.ConcurrentQueue

	quit chan struct{}
	wg   sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

func newCompletionLoop(queueSize int) *completionLoop {
	return &completionLoop{
		events: queue.NewConcurrentQueue(queueSize),
		quit:   make(chan struct{}),
	}
}

func (l *completionLoop) start() {
	l.startOnce.Do(func() {
		l.events.Start()

		l.wg.Add(1)
		go l.run()
	})
}

func (l *completionLoop) run() {
	defer l.wg.Done()

	for {
		select {
		case ev := <-l.events.ChanOut():
			ev.(func())()

		case <-l.quit:
			return
		}
	}
}

// enqueue hands a completion event to the dispatcher. Safe to call from any
// goroutine, including client-owned ones.
func (l *completionLoop) enqueue(ev func()) {
	select {
	case l.events.ChanIn() <- ev:
	case <-l.quit:
		log.Debugf("Dropping completion event, dispatcher stopped")
	}
}

func (l *completionLoop) stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
		l.wg.Wait()
		l.events.Stop()
	})
}

// pending is one in-flight asynchronous native operation: the native future
// handle, the decode specific to the operation's result shape, and the
// completion state awaited by the caller. The enqueued completion event
// holds a strong reference to the pending op, so it cannot be reclaimed
// between the client-thread signal and dispatcher-side resumption.
type pending[T any] struct {
	client capi.Client
	handle capi.FutureHandle

	// tx is retained from issue until the dispatcher finished with the
	// op, so the native transaction outlives every future derived from
	// it. Nil for futures that failed before reaching the client.
	tx *Transaction

	// decode extracts the host-level result from the native future. Only
	// called after the client signaled completion with a zero error code.
	decode func(capi.Client, capi.FutureHandle) (T, capi.Code)

	// onDone, if set, runs on the dispatcher before waiters resume. Used
	// for transaction state transitions on commit/on-error results.
	onDone func(err error)

	completed atomic.Bool

	// handleMu serializes FutureCancel against FutureDestroy: the native
	// handle must never be touched after it was destroyed.
	handleMu  sync.Mutex
	destroyed bool
	released  sync.Once

	result fn.Result[T]
	done   chan struct{}
}

// Future is the host-side view of one pending native operation. The result
// is produced at most once; Await can be called from multiple goroutines
// and each observes the same result.
type Future[T any] struct {
	p *pending[T]
}

// Concrete future shapes returned by the transaction verbs.
type (
	// FutureNil carries no value, only an error slot.
	FutureNil = Future[struct{}]

	// FutureValue resolves to Some(value) or None when the key is not
	// present. Absence is distinct from an empty value.
	FutureValue = Future[fn.Option[[]byte]]

	// FutureKey resolves to a key.
	FutureKey = Future[Key]

	// FutureRange resolves to one batch of a range read.
	FutureRange = Future[RangeResult]

	// FutureAddresses resolves to the network addresses serving a key.
	FutureAddresses = Future[[]string]

	// FutureVersion resolves to a 64-bit database version. int64
	// represents every version exactly.
	FutureVersion = Future[int64]
)

// newFuture wraps a freshly issued native future. It registers the
// completion callback, which hands the op to the database's dispatcher; the
// dispatcher reads the error code, decodes on success, completes the
// promise and destroys the native future, each exactly once.
func newFuture[T any](t *Transaction, h capi.FutureHandle,
	decode func(capi.Client, capi.FutureHandle) (T, capi.Code)) *Future[T] {

	return newFutureDone[T](t, h, decode, nil)
}

// newFutureDone additionally installs the onDone hook before the native
// callback is armed, since the completion may fire immediately.
func newFutureDone[T any](t *Transaction, h capi.FutureHandle,
	decode func(capi.Client, capi.FutureHandle) (T, capi.Code),
	onDone func(err error)) *Future[T] {

	t.retain()

	p := &pending[T]{
		client: t.db.client,
		handle: h,
		tx:     t,
		decode: decode,
		onDone: onDone,
		done:   make(chan struct{}),
	}

	loop := t.db.loop
	t.db.client.FutureSetCallback(h, func() {
		// Client-owned goroutine: hand off only. The closure keeps p
		// alive through the queue.
		loop.enqueue(p.complete)
	})

	return &Future[T]{p: p}
}

// complete runs on the dispatcher goroutine.
func (p *pending[T]) complete() {
	if p.completed.Swap(true) {
		return
	}
	defer p.release()

	if code := p.client.FutureGetError(p.handle); code != capi.CodeSuccess {
		p.resolve(fn.Err[T](codeErr(code)))
		return
	}

	val, code := p.decode(p.client, p.handle)
	if code != capi.CodeSuccess {
		p.resolve(fn.Err[T](codeErr(code)))
		return
	}

	p.resolve(fn.Ok(val))
}

func (p *pending[T]) resolve(res fn.Result[T]) {
	p.result = res
	if p.onDone != nil {
		_, err := res.Unpack()
		p.onDone(err)
	}
	close(p.done)
}

// release destroys the native future and drops the transaction reference,
// exactly once, regardless of which branch completed the op.
func (p *pending[T]) release() {
	p.released.Do(func() {
		p.handleMu.Lock()
		p.destroyed = true
		p.client.FutureDestroy(p.handle)
		p.handleMu.Unlock()

		p.tx.release()
	})
}

// Await blocks until the operation completes or the context is done. A
// context error only abandons the wait; the native operation keeps running
// and its resources are still reclaimed by the dispatcher.
func (f *Future[T]) Await(ctx context.Context) fn.Result[T] {
	select {
	case <-f.p.done:
		return f.p.result
	case <-ctx.Done():
		return fn.Err[T](ctx.Err())
	}
}

// Get is Await unpacked into Go's conventional pair.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	return f.Await(ctx).Unpack()
}

// Cancel requests native cancellation if the operation is still pending.
// The completion continuation still fires, with either the natural result
// or an operation-cancelled error; racing a natural completion is benign.
// The handle lock keeps the cancel from landing on a handle the dispatcher
// already destroyed.
func (f *Future[T]) Cancel() {
	p := f.p
	if p.client == nil {
		return
	}

	p.handleMu.Lock()
	defer p.handleMu.Unlock()

	if p.destroyed {
		return
	}
	p.client.FutureCancel(p.handle)
}

// Per-operation decode functions. Each runs on the dispatcher, only after
// the client reported a zero error code for the future.

func decodeNil(capi.Client, capi.FutureHandle) (struct{}, capi.Code) {
	return struct{}{}, capi.CodeSuccess
}

func decodeValue(c capi.Client,
	h capi.FutureHandle) (fn.Option[[]byte], capi.Code) {

	present, value, code := c.FutureGetValue(h)
	if code != capi.CodeSuccess || !present {
		return fn.None[[]byte](), code
	}

	return fn.Some(value), capi.CodeSuccess
}

func decodeKey(c capi.Client, h capi.FutureHandle) (Key, capi.Code) {
	key, code := c.FutureGetKey(h)
	return Key(key), code
}

func decodeRange(c capi.Client, h capi.FutureHandle) (RangeResult, capi.Code) {
	kvs, more, code := c.FutureGetKeyValueArray(h)
	if code != capi.CodeSuccess {
		return RangeResult{}, code
	}

	res := RangeResult{
		KVs:  make([]KeyValue, len(kvs)),
		More: more,
	}
	for i, kv := range kvs {
		res.KVs[i] = KeyValue{Key: Key(kv.Key), Value: kv.Value}
	}

	return res, capi.CodeSuccess
}

func decodeStrings(c capi.Client, h capi.FutureHandle) ([]string, capi.Code) {
	return c.FutureGetStringArray(h)
}

func decodeVersion(c capi.Client, h capi.FutureHandle) (int64, capi.Code) {
	return c.FutureGetVersion(h)
}

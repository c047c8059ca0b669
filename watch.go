package tessera

import (
	"context"
	"runtime"
)

// Watch is a long-lived subscription resolving when the watched key's value
// changes. It survives the transaction that created it once that
// transaction commits.
type Watch struct {
	fut *FutureNil
}

// Watch issues a watch on key. The returned subscription's Await resolves
// when the key's value changes after the transaction commits.
func (t *Transaction) Watch(key any) (*Watch, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	k, err := newParam(key)
	if err != nil {
		return nil, err
	}
	defer k.free()

	h := t.db.client.TransactionWatch(t.handle, k.data)
	w := &Watch{fut: newFuture(t, h, decodeNil)}

	// A dropped subscription must not leak its native future: cancel it
	// if the holder never did.
	runtime.SetFinalizer(w, (*Watch).Cancel)

	return w, nil
}

// Await blocks until the watched key changes, the watch is canceled, or the
// context is done. After Cancel, it returns either nil (the notification
// raced ahead of the cancellation) or an operation-cancelled Error; callers
// must accept both outcomes.
func (w *Watch) Await(ctx context.Context) error {
	_, err := w.fut.Get(ctx)
	return err
}

// Cancel requests native cancellation of the watch if it is still pending.
// Idempotent; calling it after natural completion is a no-op. It does not
// guarantee the notification is suppressed: the client may already have
// scheduled the completion, and Await may still observe a normal result.
func (w *Watch) Cancel() {
	w.fut.Cancel()
}

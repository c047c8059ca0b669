package memdriver

import (
	"sync"

	"github.com/tesserakv/tessera-go/capi"
)

// future is one asynchronous operation's completion state. It completes at
// most once; the registered callback fires exactly once, on a goroutine
// owned by the driver, matching the native client contract.
type future struct {
	mu   sync.Mutex
	done bool
	cb   func()

	code capi.Code

	// Result payload, one shape per operation kind.
	present bool
	value   []byte
	key     []byte
	kvs     []capi.KeyValue
	more    bool
	strs    []string
	version int64
}

// complete resolves the future with fill's payload if it is still pending.
// Reports whether this call performed the resolution.
func (f *future) complete(fill func(*future)) bool {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return false
	}

	if fill != nil {
		fill(f)
	}
	f.done = true
	cb := f.cb
	f.cb = nil
	f.mu.Unlock()

	if cb != nil {
		go cb()
	}

	return true
}

// fail resolves the future with only an error code.
func (f *future) fail(code capi.Code) bool {
	return f.complete(func(f *future) {
		f.code = code
	})
}

// setCallback registers the completion callback. If the future is already
// resolved the callback is still delivered asynchronously.
func (f *future) setCallback(cb func()) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		go cb()
		return
	}
	f.cb = cb
	f.mu.Unlock()
}

// cancel resolves a still-pending future with the cancellation code.
func (f *future) cancel() {
	f.fail(capi.CodeOperationCancelled)
}

package tessera

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tesserakv/tessera-go/capi"
)

func TestWatchFiresOnCommittedChange(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)

	watcher, err := db.CreateTransaction()
	require.NoError(t, err)
	defer watcher.Destroy()

	w, err := watcher.Watch("watched")
	require.NoError(t, err)

	fired := make(chan error, 1)
	go func() {
		fired <- w.Await(ctx)
	}()

	// Buffered but uncommitted writes must not fire the watch.
	staged, err := db.CreateTransaction()
	require.NoError(t, err)
	defer staged.Destroy()
	require.NoError(t, staged.Set("watched", "staged"))

	select {
	case err := <-fired:
		t.Fatalf("watch fired before commit: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	// The commit does fire it.
	fut, err := staged.Commit()
	require.NoError(t, err)
	_, err = fut.Get(ctx)
	require.NoError(t, err)

	require.NoError(t, <-fired)
}

// TestWatchCancelBeforeMutation checks the documented cancel contract: the
// continuation observes either a cancellation error or a normal completion,
// never an unhandled fault.
func TestWatchCancelBeforeMutation(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)

	tx, err := db.CreateTransaction()
	require.NoError(t, err)
	defer tx.Destroy()

	w, err := tx.Watch("quiet")
	require.NoError(t, err)

	w.Cancel()
	// Cancel is idempotent.
	w.Cancel()

	err = w.Await(ctx)
	if err != nil {
		var terr *Error
		require.ErrorAs(t, err, &terr)
		require.Contains(t, []capi.Code{
			capi.CodeOperationCancelled,
			capi.CodeTransactionCanceled,
		}, terr.Code)
	}
}

// TestWatchCanceledWithTransaction checks that canceling the owning
// transaction cancels a watch that has not detached via commit.
func TestWatchCanceledWithTransaction(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)

	tx, err := db.CreateTransaction()
	require.NoError(t, err)
	defer tx.Destroy()

	w, err := tx.Watch("doomed")
	require.NoError(t, err)

	require.NoError(t, tx.Cancel())

	err = w.Await(ctx)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, capi.CodeTransactionCanceled, terr.Code)
}

// TestWatchSurvivesCommit checks that a watch created in a transaction
// stays armed after that transaction commits and is destroyed.
func TestWatchSurvivesCommit(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)

	tx, err := db.CreateTransaction()
	require.NoError(t, err)

	w, err := tx.Watch("survivor")
	require.NoError(t, err)

	fut, err := tx.Commit()
	require.NoError(t, err)
	_, err = fut.Get(ctx)
	require.NoError(t, err)
	tx.Destroy()

	fired := make(chan error, 1)
	go func() {
		fired <- w.Await(ctx)
	}()

	require.NoError(t, db.Transact(ctx, func(tx *Transaction) error {
		return tx.Set("survivor", "changed")
	}))

	require.NoError(t, <-fired)
}

func TestWatchOnTerminalTransaction(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	tx, err := db.CreateTransaction()
	require.NoError(t, err)
	defer tx.Destroy()

	require.NoError(t, tx.Cancel())

	_, err = tx.Watch("late")
	require.ErrorIs(t, err, ErrTransactionCanceled)
}

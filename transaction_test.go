package tessera

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tesserakv/tessera-go/capi"
	"pgregory.net/rapid"
)

func TestReadYourWrites(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)

	tx, err := db.CreateTransaction()
	require.NoError(t, err)
	defer tx.Destroy()

	require.NoError(t, tx.Set("k", "v1"))

	fut, err := tx.Get("k")
	require.NoError(t, err)

	val, err := fut.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val.UnwrapOr(nil))
}

// TestClearYieldsNoValue checks that a cleared key reads back as an
// explicit no-value, never as an empty byte sequence.
func TestClearYieldsNoValue(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)

	commitKV(t, db, "k", "v")

	require.NoError(t, db.Transact(ctx, func(tx *Transaction) error {
		require.NoError(t, tx.Clear("k"))

		fut, err := tx.Get("k")
		require.NoError(t, err)

		val, err := fut.Get(ctx)
		require.NoError(t, err)
		require.True(t, val.IsNone())

		return nil
	}))

	// A present empty value is distinct from absence.
	require.NoError(t, db.Transact(ctx, func(tx *Transaction) error {
		return tx.Set("empty", []byte{})
	}))
	require.NoError(t, db.Transact(ctx, func(tx *Transaction) error {
		fut, err := tx.Get("empty")
		require.NoError(t, err)

		val, err := fut.Get(ctx)
		require.NoError(t, err)
		require.True(t, val.IsSome())
		require.Len(t, val.UnwrapOr([]byte("x")), 0)

		return nil
	}))
}

// TestValueRoundTrip writes values with embedded zero bytes and reads them
// back byte-identical.
func TestValueRoundTrip(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)

	value := []byte{0x00, 0xff, 0x00, 0x01, 0x00}
	require.NoError(t, db.Transact(ctx, func(tx *Transaction) error {
		return tx.Set([]byte{0x00, 0x61}, value)
	}))

	require.NoError(t, db.Transact(ctx, func(tx *Transaction) error {
		fut, err := tx.Get([]byte{0x00, 0x61})
		require.NoError(t, err)

		val, err := fut.Get(ctx)
		require.NoError(t, err)
		require.Equal(t, value, val.UnwrapOr(nil))

		return nil
	}))
}

func TestClearRangeEndExclusive(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)

	for _, k := range []string{"r/a", "r/b", "r/c"} {
		commitKV(t, db, k, "v")
	}

	require.NoError(t, db.Transact(ctx, func(tx *Transaction) error {
		return tx.ClearRange("r/a", "r/c")
	}))

	require.NoError(t, db.Transact(ctx, func(tx *Transaction) error {
		for k, want := range map[string]bool{
			"r/a": false, "r/b": false, "r/c": true,
		} {
			fut, err := tx.Get(k)
			require.NoError(t, err)

			val, err := fut.Get(ctx)
			require.NoError(t, err)
			require.Equal(t, want, val.IsSome(), "key %s", k)
		}

		return nil
	}))
}

// seedRange commits keys scan/00 .. scan/<n-1>.
func seedRange(t *testing.T, db *DB, n int) []string {
	t.Helper()

	keys := make([]string, n)
	require.NoError(t, db.Transact(testCtx(t), func(tx *Transaction) error {
		for i := 0; i < n; i++ {
			keys[i] = fmt.Sprintf("scan/%02d", i)
			if err := tx.Set(keys[i], fmt.Sprintf("val%02d", i)); err != nil {
				return err
			}
		}

		return nil
	}))

	return keys
}

func TestGetRangeAll(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)
	keys := seedRange(t, db, 10)

	require.NoError(t, db.Transact(ctx, func(tx *Transaction) error {
		fut, err := tx.GetRange(
			FirstGreaterOrEqual("scan/"), FirstGreaterOrEqual("scan0"),
			RangeOptions{},
		)
		require.NoError(t, err)

		res, err := fut.Get(ctx)
		require.NoError(t, err)
		require.False(t, res.More)
		require.Len(t, res.KVs, len(keys))
		for i, kv := range res.KVs {
			require.Equal(t, keys[i], string(kv.Key))
		}

		return nil
	}))
}

// TestGetRangePagination walks a scan batch by batch: every non-final batch
// carries More == true, and the union is the full key set in order.
func TestGetRangePagination(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)
	keys := seedRange(t, db, 10)

	require.NoError(t, db.Transact(ctx, func(tx *Transaction) error {
		var (
			got   []string
			begin = FirstGreaterOrEqual("scan/")
		)
		for iteration := 1; ; iteration++ {
			fut, err := tx.GetRange(
				begin, FirstGreaterOrEqual("scan0"),
				RangeOptions{
					Limit:     4,
					Mode:      StreamIterator,
					Iteration: iteration,
				},
			)
			require.NoError(t, err)

			res, err := fut.Get(ctx)
			require.NoError(t, err)
			require.NotEmpty(t, res.KVs)

			for _, kv := range res.KVs {
				got = append(got, string(kv.Key))
			}

			if !res.More {
				break
			}
			require.Less(t, len(got), len(keys))
			begin = FirstGreaterThan(res.KVs[len(res.KVs)-1].Key)
		}

		require.Equal(t, keys, got)

		return nil
	}))
}

func TestGetRangeReverse(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)
	keys := seedRange(t, db, 5)

	require.NoError(t, db.Transact(ctx, func(tx *Transaction) error {
		fut, err := tx.GetRange(
			FirstGreaterOrEqual("scan/"), FirstGreaterOrEqual("scan0"),
			RangeOptions{Reverse: true},
		)
		require.NoError(t, err)

		res, err := fut.Get(ctx)
		require.NoError(t, err)
		require.Len(t, res.KVs, len(keys))
		for i, kv := range res.KVs {
			require.Equal(t, keys[len(keys)-1-i], string(kv.Key))
		}

		return nil
	}))
}

func TestGetKeySelectors(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)

	for _, k := range []string{"sel/a", "sel/b", "sel/d"} {
		commitKV(t, db, k, "v")
	}

	require.NoError(t, db.Transact(ctx, func(tx *Transaction) error {
		cases := []struct {
			name string
			sel  KeySelector
			want string
		}{
			{"firstGreaterOrEqual hit", FirstGreaterOrEqual("sel/b"), "sel/b"},
			{"firstGreaterOrEqual gap", FirstGreaterOrEqual("sel/c"), "sel/d"},
			{"firstGreaterThan", FirstGreaterThan("sel/b"), "sel/d"},
			{"lastLessThan", LastLessThan("sel/b"), "sel/a"},
			{"lastLessOrEqual", LastLessOrEqual("sel/b"), "sel/b"},
		}
		for _, tc := range cases {
			fut, err := tx.GetKey(tc.sel)
			require.NoError(t, err)

			key, err := fut.Get(ctx)
			require.NoError(t, err)
			require.Equal(t, tc.want, string(key), tc.name)
		}

		return nil
	}))
}

func TestAtomicAddCarry(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)

	require.NoError(t, db.Transact(ctx, func(tx *Transaction) error {
		return tx.Set("counter", []byte{0xff, 0x00})
	}))
	require.NoError(t, db.Transact(ctx, func(tx *Transaction) error {
		return tx.AtomicOp("counter", []byte{0x01, 0x00}, MutationAdd)
	}))

	require.NoError(t, db.Transact(ctx, func(tx *Transaction) error {
		fut, err := tx.Get("counter")
		require.NoError(t, err)

		val, err := fut.Get(ctx)
		require.NoError(t, err)
		require.Equal(t, []byte{0x00, 0x01}, val.UnwrapOr(nil))

		return nil
	}))
}

// TestAtomicReadYourWrites checks that a buffered atomic mutation is
// visible to a read in the same transaction before commit.
func TestAtomicReadYourWrites(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)

	commitKV(t, db, "ryw", string([]byte{0x05, 0x00}))

	tx, err := db.CreateTransaction()
	require.NoError(t, err)
	defer tx.Destroy()

	require.NoError(t, tx.AtomicOp("ryw", []byte{0x03, 0x00}, MutationAdd))

	fut, err := tx.Get("ryw")
	require.NoError(t, err)

	val, err := fut.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte{0x08, 0x00}, val.UnwrapOr(nil))

	// A mutation of an absent key reads back too.
	require.NoError(t, tx.AtomicOp("ryw/new", []byte{0x01}, MutationAdd))

	fut, err = tx.Get("ryw/new")
	require.NoError(t, err)

	val, err = fut.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, val.UnwrapOr(nil))
}

// TestAtomicAddCommutative checks that two add operations yield the same
// stored value regardless of application order.
func TestAtomicAddCommutative(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		opA := rapid.SliceOfN(rapid.Byte(), 1, 8).Draw(rt, "opA")
		opB := rapid.SliceOfN(rapid.Byte(), len(opA), len(opA)).
			Draw(rt, "opB")

		final := func(first, second []byte) []byte {
			db, err := Open(Config{Driver: "mem"})
			require.NoError(rt, err)
			defer db.Close()

			ctx := testCtx(t)
			for _, op := range [][]byte{first, second} {
				op := op
				require.NoError(rt, db.Transact(ctx,
					func(tx *Transaction) error {
						return tx.AtomicOp(
							"n", op, MutationAdd,
						)
					}))
			}

			var out []byte
			require.NoError(rt, db.Transact(ctx,
				func(tx *Transaction) error {
					fut, err := tx.Get("n")
					require.NoError(rt, err)

					val, err := fut.Get(ctx)
					require.NoError(rt, err)
					out = val.UnwrapOr(nil)

					return nil
				}))

			return out
		}

		require.Equal(rt, final(opA, opB), final(opB, opA))
	})
}

func TestConflictRangeErrorsSurfaceImmediately(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	tx, err := db.CreateTransaction()
	require.NoError(t, err)
	defer tx.Destroy()

	// Inverted range: the native call fails synchronously.
	err = tx.AddReadConflictRange("z", "a")
	var terr *Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, capi.CodeClientInvalidOperation, terr.Code)

	require.NoError(t, tx.AddReadConflictRange("a", "z"))
	require.NoError(t, tx.AddWriteConflictRange("a", "z"))
}

func TestCommittedVersion(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)

	tx, err := db.CreateTransaction()
	require.NoError(t, err)
	defer tx.Destroy()

	// Before commit the committed version is unavailable.
	_, err = tx.GetCommittedVersion()
	var terr *Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, capi.CodeVersionUnavailable, terr.Code)

	require.NoError(t, tx.Set("vk", "vv"))

	fut, err := tx.Commit()
	require.NoError(t, err)
	_, err = fut.Get(ctx)
	require.NoError(t, err)

	version, err := tx.GetCommittedVersion()
	require.NoError(t, err)
	require.Greater(t, version, int64(0))
}

// TestVersionstamp checks that the versionstamp future resolves after a
// successful commit and embeds the committed version.
func TestVersionstamp(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)

	tx, err := db.CreateTransaction()
	require.NoError(t, err)
	defer tx.Destroy()

	vsFut, err := tx.GetVersionstamp()
	require.NoError(t, err)

	require.NoError(t, tx.Set("vsk", "vsv"))

	commitFut, err := tx.Commit()
	require.NoError(t, err)
	_, err = commitFut.Get(ctx)
	require.NoError(t, err)

	stamp, err := vsFut.Get(ctx)
	require.NoError(t, err)
	require.Len(t, []byte(stamp), 10)

	version, err := tx.GetCommittedVersion()
	require.NoError(t, err)
	require.Equal(t, uint64(version), binary.BigEndian.Uint64(stamp[:8]))
}

func TestReadVersionRoundTrip(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)

	commitKV(t, db, "rv", "x")

	tx, err := db.CreateTransaction()
	require.NoError(t, err)
	defer tx.Destroy()

	fut, err := tx.GetReadVersion()
	require.NoError(t, err)

	version, err := fut.Get(ctx)
	require.NoError(t, err)
	require.Greater(t, version, int64(0))

	require.NoError(t, tx.SetReadVersion(version))
}

func TestGetAddressesForKey(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)

	tx, err := db.CreateTransaction()
	require.NoError(t, err)
	defer tx.Destroy()

	fut, err := tx.GetAddressesForKey("anywhere")
	require.NoError(t, err)

	addrs, err := fut.Get(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, addrs)
}

func TestSnapshotReads(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)

	commitKV(t, db, "snap", "committed")

	tx, err := db.CreateTransaction()
	require.NoError(t, err)
	defer tx.Destroy()

	fut, err := tx.Snapshot().Get("snap")
	require.NoError(t, err)

	val, err := fut.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("committed"), val.UnwrapOr(nil))
}

func TestLifecycleAfterCommit(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)

	tx, err := db.CreateTransaction()
	require.NoError(t, err)
	defer tx.Destroy()

	require.NoError(t, tx.Set("lk", "lv"))

	fut, err := tx.Commit()
	require.NoError(t, err)
	_, err = fut.Get(ctx)
	require.NoError(t, err)

	// The handle is terminal until reset.
	require.ErrorIs(t, tx.Set("lk", "again"), ErrTransactionCommitted)
	_, err = tx.Get("lk")
	require.ErrorIs(t, err, ErrTransactionCommitted)

	// Reset returns it to a fresh active generation.
	require.NoError(t, tx.Reset())
	require.NoError(t, tx.Set("lk", "again"))
}

func TestLifecycleAfterCancel(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	tx, err := db.CreateTransaction()
	require.NoError(t, err)
	defer tx.Destroy()

	require.NoError(t, tx.Cancel())
	require.ErrorIs(t, tx.Set("k", "v"), ErrTransactionCanceled)

	// Cancel is sticky until reset.
	_, err = tx.Commit()
	require.ErrorIs(t, err, ErrTransactionCanceled)
}

func TestOnErrorClassification(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := testCtx(t)

	tx, err := db.CreateTransaction()
	require.NoError(t, err)
	defer tx.Destroy()

	// Retryable: the future resolves and the handle is active again.
	fut, err := tx.OnError(&Error{Code: capi.CodeNotCommitted})
	require.NoError(t, err)
	_, err = fut.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Set("after", "retry"))

	// Non-retryable: the error is propagated through the future.
	fut, err = tx.OnError(&Error{Code: capi.CodeTransactionCanceled})
	require.NoError(t, err)
	_, err = fut.Get(ctx)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, capi.CodeTransactionCanceled, terr.Code)

	// OnError needs an error to classify.
	_, err = tx.OnError(nil)
	require.ErrorIs(t, err, ErrNilError)
}

func TestInvalidParamRejectedSynchronously(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	tx, err := db.CreateTransaction()
	require.NoError(t, err)
	defer tx.Destroy()

	_, err = tx.Get(42)
	require.ErrorIs(t, err, ErrInvalidParam)

	require.ErrorIs(t, tx.Set("k", 3.14), ErrInvalidParam)
	require.ErrorIs(t, tx.Clear(struct{}{}), ErrInvalidParam)
}

package tessera

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParamShapes(t *testing.T) {
	t.Parallel()

	// Strings convert through UTF-8, byte-preserving, into an owned copy.
	p, err := newParam("héllo")
	require.NoError(t, err)
	require.True(t, p.owned)
	require.Equal(t, []byte("héllo"), p.data)

	// Byte slices are borrowed, not copied.
	buf := []byte{1, 2, 3}
	p, err = newParam(buf)
	require.NoError(t, err)
	require.False(t, p.owned)

	buf[0] = 9
	require.Equal(t, []byte{9, 2, 3}, p.data)

	// Key is a borrowed view too.
	p, err = newParam(Key("k"))
	require.NoError(t, err)
	require.False(t, p.owned)
	require.Equal(t, []byte("k"), p.data)
}

func TestParamRejectsOtherShapes(t *testing.T) {
	t.Parallel()

	for _, v := range []any{42, 3.14, nil, struct{}{}, []string{"x"}} {
		_, err := newParam(v)
		require.ErrorIs(t, err, ErrInvalidParam)
	}
}

func TestParamFree(t *testing.T) {
	t.Parallel()

	p, err := newParam("owned")
	require.NoError(t, err)
	p.free()
	require.Nil(t, p.data)

	// Borrowed views are left alone.
	buf := []byte("borrowed")
	p, err = newParam(buf)
	require.NoError(t, err)
	p.free()
	require.Equal(t, buf, p.data)
}

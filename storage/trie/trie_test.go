package trie

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveRootMatchesIndexedTrie(t *testing.T) {
	items := [][]byte{[]byte("first"), []byte("second"), []byte("third")}

	root, err := DeriveRoot(items)
	require.NoError(t, err)
	require.NotEqual(t, EmptyRoot, root)

	indexed, err := NewIndexed(items)
	require.NoError(t, err)
	require.Equal(t, root, indexed.Root())

	got, err := indexed.Get(1)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got)

	missing, err := indexed.Get(7)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestDeriveRootOrderSensitive(t *testing.T) {
	a, err := DeriveRoot([][]byte{[]byte("x"), []byte("y")})
	require.NoError(t, err)
	b, err := DeriveRoot([][]byte{[]byte("y"), []byte("x")})
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	empty, err := DeriveRoot(nil)
	require.NoError(t, err)
	require.Equal(t, EmptyRoot, empty)

	_, err = DeriveRoot([][]byte{{}})
	require.Error(t, err)
}

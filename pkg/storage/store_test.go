package storage

import (
	"testing"

	"github.com/loomgraph/loom/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.GetProperty(OwnerNode, "n0", "value")
	require.NoError(t, err)
	assert.False(t, ok, "unset property should report ok=false")

	require.NoError(t, store.SetProperty(OwnerNode, "n0", "value", float64(99)))

	v, ok, err := store.GetProperty(OwnerNode, "n0", "value")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(99), v)

	require.NoError(t, store.SetProperty(OwnerNode, "n0", "value", Unset))
	_, ok, err = store.GetProperty(OwnerNode, "n0", "value")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetPropertiesMerge(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SetProperties(OwnerNode, "n0", map[string]any{"a": float64(1), "b": "x"}))
	require.NoError(t, store.SetProperties(OwnerNode, "n0", map[string]any{"b": Unset, "c": true}))

	doc, err := store.GetProperties(OwnerNode, "n0")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1), "c": true}, doc)
}

func TestDataBlobSuffixSwitch(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SetData(OwnerNode, "n0", "blob", []byte("hi"), PayloadBinary))
	payload, kind, ok, err := store.GetData(OwnerNode, "n0", "blob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, PayloadBinary, kind)
	assert.Equal(t, []byte("hi"), payload)

	// switching to text removes the binary file
	require.NoError(t, store.SetData(OwnerNode, "n0", "blob", "hello", PayloadText))
	payload, kind, ok, err = store.GetData(OwnerNode, "n0", "blob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, PayloadText, kind)
	assert.Equal(t, "hello", payload)

	require.NoError(t, store.SetData(OwnerNode, "n0", "blob", nil, PayloadUnset))
	_, _, ok, err = store.GetData(OwnerNode, "n0", "blob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidKeyRejected(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	err = store.SetData(OwnerNode, "n0", "bad key!", []byte("x"), PayloadBinary)
	require.Error(t, err)
	var invalidKey interface{ Error() string }
	assert.ErrorAs(t, err, &invalidKey)
}

func TestDeleteOwnerRemovesEverything(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SetProperty(OwnerNode, "n0", "a", float64(1)))
	require.NoError(t, store.SetData(OwnerNode, "n0", "blob", []byte("x"), PayloadBinary))
	require.NoError(t, store.DeleteOwner(OwnerNode, "n0"))

	doc, err := store.GetProperties(OwnerNode, "n0")
	require.NoError(t, err)
	assert.Empty(t, doc)
}

package semantic

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "vectors.bin")
}

func TestRoundToPage(t *testing.T) {
	assert.Equal(t, pageSize, roundToPage(0))
	assert.Equal(t, pageSize, roundToPage(1))
	assert.Equal(t, pageSize, roundToPage(pageSize))
	assert.Equal(t, 2*pageSize, roundToPage(pageSize+1))
}

func TestCreateStore_Validation(t *testing.T) {
	_, err := CreateStore(storePath(t), 0, 10)
	require.ErrorIs(t, err, ErrInvalidDimension)

	_, err = CreateStore(storePath(t), 8, 0)
	require.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestStore_AppendAndVector(t *testing.T) {
	store, err := CreateStore(storePath(t), 4, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	slot, err := store.Append("fn:auth/login.py:login", []float32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), slot)

	slot, err = store.Append("fn:auth/validate.py:validateEmail", []float32{5, 6, 7, 8})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), slot)

	assert.Equal(t, 2, store.Count())
	assert.Equal(t, 4, store.Dimension())

	vec := store.Vector(0)
	require.NotNil(t, vec)
	assert.Equal(t, []float32{1, 2, 3, 4}, []float32{vec[0], vec[1], vec[2], vec[3]})

	assert.Nil(t, store.Vector(7), "unwritten slot should read as missing")

	got, ok := store.Slot("fn:auth/validate.py:validateEmail")
	require.True(t, ok)
	assert.Equal(t, uint32(1), got)

	_, ok = store.Slot("fn:missing")
	assert.False(t, ok)

	assert.Equal(t, "fn:auth/login.py:login", store.EntityID(0))
	assert.Equal(t, "", store.EntityID(9))
}

func TestStore_AppendRejections(t *testing.T) {
	store, err := CreateStore(storePath(t), 4, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Append("", []float32{1, 2, 3, 4})
	require.ErrorIs(t, err, ErrInvalidEntityID)

	_, err = store.Append("fn:a", []float32{1, 2})
	require.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = store.Append("fn:a", []float32{1, 2, 3, 4})
	require.NoError(t, err)

	_, err = store.Append("fn:a", []float32{4, 3, 2, 1})
	require.ErrorIs(t, err, ErrDuplicateEntity)

	_, err = store.Append("fn:b", []float32{4, 3, 2, 1})
	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := storePath(t)

	store, err := CreateStore(path, 4, 8)
	require.NoError(t, err)

	_, err = store.Append("fn:a", []float32{1, 0, 0, 0})
	require.NoError(t, err)
	_, err = store.Append("fn:b", []float32{0, 1, 0, 0})
	require.NoError(t, err)

	require.NoError(t, store.Sync())
	require.NoError(t, store.Close())

	reopened, err := OpenStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	assert.Equal(t, 2, reopened.Count())
	assert.Equal(t, 4, reopened.Dimension())

	vec := reopened.Vector(1)
	require.NotNil(t, vec)
	assert.Equal(t, float32(1), vec[1])

	slot, ok := reopened.Slot("fn:a")
	require.True(t, ok)
	assert.Equal(t, uint32(0), slot)

	_, err = reopened.Append("fn:c", []float32{0, 0, 1, 0})
	require.ErrorIs(t, err, ErrStoreReadonly)
}

func TestOpenStore_MissingSidecarIsCorrupt(t *testing.T) {
	path := storePath(t)

	store, err := CreateStore(path, 4, 4)
	require.NoError(t, err)
	_, err = store.Append("fn:a", []float32{1, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	require.NoError(t, os.Remove(path+idsSuffix))

	_, err = OpenStore(path)
	require.ErrorIs(t, err, ErrStoreCorrupt)
}

func TestStore_CloseIdempotent(t *testing.T) {
	store, err := CreateStore(storePath(t), 4, 4)
	require.NoError(t, err)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	assert.Nil(t, store.Vector(0))
	_, err = store.Append("fn:a", []float32{1, 0, 0, 0})
	require.ErrorIs(t, err, ErrStoreClosed)
}

func TestStore_NormComputedAndCached(t *testing.T) {
	store, err := CreateStore(storePath(t), 4, 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Append("fn:a", []float32{3, 4, 0, 0})
	require.NoError(t, err)

	assert.InDelta(t, 5.0, store.Norm(0), 1e-6)
	assert.InDelta(t, 5.0, store.Norm(0), 1e-6)
	assert.Equal(t, 0.0, store.Norm(3), "missing slot has zero norm")
}

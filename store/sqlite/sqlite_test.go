package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/record"
	"github.com/warp/points-engine/record/recordtest"
	"github.com/warp/points-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite_Conformance(t *testing.T) {
	recordtest.Run(t, func(t *testing.T) record.Store { return newTestStore(t) })
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	// GIVEN: a file-backed store with one user written
	path := filepath.Join(t.TempDir(), "points.db")
	ctx := context.Background()

	store, err := sqlite.New(path)
	require.NoError(t, err)
	_, err = store.Put(ctx, "users/u1", map[string]any{"points": 70})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// WHEN: the file is reopened
	store, err = sqlite.New(path)
	require.NoError(t, err)
	defer store.Close()

	// THEN: the data is still there
	raw, err := store.Get(ctx, "users/u1/points")
	require.NoError(t, err)
	assert.JSONEq(t, `70`, string(raw))
}

func TestSQLite_RootReadAssemblesCollections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "users/u1/points", 1)
	require.NoError(t, err)
	_, err = store.Put(ctx, "meta/schema", map[string]any{"version": 1})
	require.NoError(t, err)

	raw, err := store.Get(ctx, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"users":{"u1":{"points":1}},"meta":{"schema":{"version":1}}}`, string(raw))
}

func TestSQLite_CollectionMustBeObject(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Put(context.Background(), "users", 5)
	assert.ErrorIs(t, err, record.ErrStoreWrite)
}

func TestSQLite_InvalidPath(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Patch(context.Background(), "users/a.b", map[string]any{"x": 1})
	assert.ErrorIs(t, err, record.ErrStoreWrite)
}

func TestSQLite_Reset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "users/u1/points", 1)
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx))

	raw, err := store.Get(ctx, "users")
	require.NoError(t, err)
	assert.True(t, record.IsNull(raw))
}

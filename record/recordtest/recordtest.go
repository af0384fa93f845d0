// Package recordtest holds a behavioural suite every record.Store backend
// must pass, so the in-memory fake and the real backends cannot drift.
package recordtest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/record"
)

// Run exercises get/put/patch semantics against stores built by newStore.
func Run(t *testing.T, newStore func(t *testing.T) record.Store) {
	t.Run("GetMissingIsNull", func(t *testing.T) {
		s := newStore(t)
		raw, err := s.Get(context.Background(), "users/nobody/profile")
		require.NoError(t, err)
		assert.True(t, record.IsNull(raw))
	})

	t.Run("PutThenGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Put(ctx, "users/a@b,com", map[string]any{
			"profile":  map[string]any{"email": "a@b.com", "name": "a"},
			"password": "pass1234",
			"points":   50,
		})
		require.NoError(t, err)

		raw, err := s.Get(ctx, "users/a@b,com/points")
		require.NoError(t, err)
		assert.JSONEq(t, `50`, string(raw))

		raw, err = s.Get(ctx, "users/a@b,com/profile")
		require.NoError(t, err)
		assert.JSONEq(t, `{"email":"a@b.com","name":"a"}`, string(raw))
	})

	t.Run("PutDeepPathInsideDocument", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Put(ctx, "users/u1/pointsHistory/1_ab", map[string]any{"delta": 10, "after": 60})
		require.NoError(t, err)
		_, err = s.Put(ctx, "users/u1/points", 60)
		require.NoError(t, err)

		raw, err := s.Get(ctx, "users/u1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"points":60,"pointsHistory":{"1_ab":{"delta":10,"after":60}}}`, string(raw))
	})

	t.Run("PutReplacesSubtree", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Put(ctx, "users/u1/profile", map[string]any{"email": "x", "role": "admin"})
		require.NoError(t, err)
		_, err = s.Put(ctx, "users/u1/profile", map[string]any{"email": "x"})
		require.NoError(t, err)

		raw, err := s.Get(ctx, "users/u1/profile/role")
		require.NoError(t, err)
		assert.True(t, record.IsNull(raw))
	})

	t.Run("PutNilDeletes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Put(ctx, "users/u1/points", 5)
		require.NoError(t, err)
		_, err = s.Put(ctx, "users/u1/points", nil)
		require.NoError(t, err)

		raw, err := s.Get(ctx, "users/u1")
		require.NoError(t, err)
		assert.True(t, record.IsNull(raw))
	})

	t.Run("PatchMergesTopLevelFields", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Put(ctx, "users/u1", map[string]any{
			"password": "secret",
			"profile":  map[string]any{"email": "u@x", "name": "u"},
		})
		require.NoError(t, err)

		_, err = s.Patch(ctx, "users/u1/profile", map[string]any{"role": "user"})
		require.NoError(t, err)

		raw, err := s.Get(ctx, "users/u1")
		require.NoError(t, err)
		assert.JSONEq(t,
			`{"password":"secret","profile":{"email":"u@x","name":"u","role":"user"}}`,
			string(raw))
	})

	t.Run("PatchCollectionLevel", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Patch(ctx, "users", map[string]any{
			"u1": map[string]any{"points": 1},
			"u2": map[string]any{"points": 2},
		})
		require.NoError(t, err)

		raw, err := s.Get(ctx, "users")
		require.NoError(t, err)
		var users map[string]map[string]json.Number
		_, err = record.Decode(raw, &users)
		require.NoError(t, err)
		assert.Len(t, users, 2)
		assert.Equal(t, json.Number("2"), users["u2"]["points"])
	})

	t.Run("EmptyObjectsVanish", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Put(ctx, "users/u1", map[string]any{"points": 50, "events": map[string]any{}})
		require.NoError(t, err)

		raw, err := s.Get(ctx, "users/u1/events")
		require.NoError(t, err)
		assert.True(t, record.IsNull(raw))
	})
}

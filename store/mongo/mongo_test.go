package mongo

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/warp/points-engine/record"
	"github.com/warp/points-engine/record/recordtest"
)

func TestDocumentConversion_RoundTrip(t *testing.T) {
	body, err := record.Normalize(map[string]any{
		"points":  60,
		"profile": map[string]any{"email": "a@b.com", "role": "user"},
		"unlocks": map[string]any{"certificate": true},
	})
	require.NoError(t, err)

	doc, err := toDocument("a@b,com", body)
	require.NoError(t, err)

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)

	id, back, err := fromDocument(raw)
	require.NoError(t, err)
	assert.Equal(t, "a@b,com", id)

	got, _ := json.Marshal(back)
	assert.JSONEq(t,
		`{"points":60,"profile":{"email":"a@b.com","role":"user"},"unlocks":{"certificate":true}}`,
		string(got))
}

func TestDocumentConversion_ScalarBody(t *testing.T) {
	doc, err := toDocument("counter", json.Number("7"))
	require.NoError(t, err)

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)

	_, back, err := fromDocument(raw)
	require.NoError(t, err)
	assert.Equal(t, json.Number("7"), back)
}

// Runs only against a live server: POINTS_TEST_MONGO_URI=mongodb://localhost:27017
func TestMongo_Conformance(t *testing.T) {
	uri := os.Getenv("POINTS_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("POINTS_TEST_MONGO_URI not set")
	}
	recordtest.Run(t, func(t *testing.T) record.Store {
		ctx := context.Background()
		s, err := Connect(ctx, uri, "points_test_"+uuid.NewString()[:8], nil)
		require.NoError(t, err)
		t.Cleanup(func() {
			s.db.Drop(ctx)
			s.Close(ctx)
		})
		return s
	})
}

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentcore/pkg/types"
)

func TestService_Remember(t *testing.T) {
	t.Run("low importance stays working-only", func(t *testing.T) {
		svc := NewService(NewHashEmbedder(32), newFakeStore(), 6.0, 0.9)
		item, err := svc.Remember(context.Background(), "sess1", "owner1", types.MemoryItem{
			Type: types.MemoryFact, Content: "the sky is blue", Importance: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, types.TierWorking, item.Tier)
		assert.Len(t, svc.WorkingItems("sess1"), 1)
	})

	t.Run("high importance promotes to long term", func(t *testing.T) {
		store := newFakeStore()
		svc := NewService(NewHashEmbedder(32), store, 6.0, 0.9)
		item, err := svc.Remember(context.Background(), "sess1", "owner1", types.MemoryItem{
			Type: types.MemoryPreference, Content: "always respond in formal tone", Importance: 9,
		})
		require.NoError(t, err)
		assert.Equal(t, types.TierLong, item.Tier)
		assert.Len(t, store.items, 1)
	})

	t.Run("near-duplicate is deduplicated, not re-stored", func(t *testing.T) {
		store := newFakeStore()
		svc := NewService(NewHashEmbedder(32), store, 6.0, 0.9)
		ctx := context.Background()

		_, err := svc.Remember(ctx, "sess1", "owner1", types.MemoryItem{
			Type: types.MemoryFact, Content: "user prefers dark mode", Importance: 9,
		})
		require.NoError(t, err)

		_, err = svc.Remember(ctx, "sess1", "owner1", types.MemoryItem{
			Type: types.MemoryFact, Content: "user prefers dark mode", Importance: 9,
		})
		require.NoError(t, err)

		assert.Len(t, store.items, 1, "identical content must dedup to a single long-term entry")
	})
}

func TestService_Recall(t *testing.T) {
	svc := NewService(NewHashEmbedder(32), newFakeStore(), 6.0, 0.9)
	ctx := context.Background()

	_, err := svc.Remember(ctx, "sess1", "owner1", types.MemoryItem{
		Type: types.MemoryFact, Content: "favorite language is Go", Importance: 8,
	})
	require.NoError(t, err)
	_, err = svc.Remember(ctx, "sess1", "owner1", types.MemoryItem{
		Type: types.MemoryFact, Content: "lives in Berlin", Importance: 1,
	})
	require.NoError(t, err)

	results, err := svc.Recall(ctx, "sess1", "owner1", "favorite language is Go", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score, "results must be sorted by descending score")
	}
}

func TestService_ClearWorking(t *testing.T) {
	svc := NewService(NewHashEmbedder(32), newFakeStore(), 6.0, 0.9)
	_, err := svc.Remember(context.Background(), "sess1", "owner1", types.MemoryItem{Content: "x", Importance: 1})
	require.NoError(t, err)
	require.Len(t, svc.WorkingItems("sess1"), 1)

	svc.ClearWorking("sess1")
	assert.Empty(t, svc.WorkingItems("sess1"))
}

func TestService_Consolidate(t *testing.T) {
	t.Run("no items yields no summary", func(t *testing.T) {
		svc := NewService(NewHashEmbedder(32), newFakeStore(), 6.0, 0.9)
		item, err := svc.Consolidate(context.Background(), "empty-session", "owner1", func(items []types.MemoryItem) (string, float64, error) {
			t.Fatal("summarize should not be called with no working items")
			return "", 0, nil
		})
		require.NoError(t, err)
		assert.Empty(t, item.ID)
	})

	t.Run("summarizes and promotes high-importance summary", func(t *testing.T) {
		store := newFakeStore()
		svc := NewService(NewHashEmbedder(32), store, 6.0, 0.9)
		ctx := context.Background()
		_, err := svc.Remember(ctx, "sess1", "owner1", types.MemoryItem{Content: "discussed deployment plan", Importance: 3})
		require.NoError(t, err)

		item, err := svc.Consolidate(ctx, "sess1", "owner1", func(items []types.MemoryItem) (string, float64, error) {
			assert.Len(t, items, 1)
			return "session covered the deployment plan", 7, nil
		})
		require.NoError(t, err)
		assert.Equal(t, types.MemorySessionSummary, item.Type)
		assert.Equal(t, types.TierLong, item.Tier)
	})
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	assert.InDelta(t, 1.0, CosineSimilarity(a, b), 0.0001)

	c := []float32{0, 1, 0}
	assert.InDelta(t, 0.0, CosineSimilarity(a, c), 0.0001)
}

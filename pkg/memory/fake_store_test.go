package memory

import (
	"context"
	"time"

	"github.com/kadirpekel/agentcore/pkg/types"
)

// fakeStore is an in-process LongTermStore used by tests that don't need
// chromem-go's on-disk persistence.
type fakeStore struct {
	items map[string]types.MemoryItem
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string]types.MemoryItem)}
}

func (f *fakeStore) Upsert(_ context.Context, item types.MemoryItem) error {
	f.items[item.ID] = item
	return nil
}

func (f *fakeStore) Search(_ context.Context, owner string, queryEmbedding []float32, topK int) ([]types.MemoryItem, error) {
	var matches []types.MemoryItem
	for _, item := range f.items {
		if item.Owner != owner {
			continue
		}
		matches = append(matches, item)
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (f *fakeStore) Touch(_ context.Context, id string, accessedAt time.Time) error {
	item, ok := f.items[id]
	if !ok {
		return nil
	}
	item.LastAccessedAt = accessedAt
	item.AccessCount++
	f.items[id] = item
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	delete(f.items, id)
	return nil
}

var _ LongTermStore = (*fakeStore)(nil)

// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/kadirpekel/agentcore/pkg/types"
)

const longTermCollection = "agentcore_long_term_memory"

// LongTermStore is the persistent, semantically searchable tier. One store
// instance is shared across owners; every item carries its owner in
// metadata so Search can scope results per user.
type LongTermStore interface {
	Upsert(ctx context.Context, item types.MemoryItem) error
	Search(ctx context.Context, owner string, queryEmbedding []float32, topK int) ([]types.MemoryItem, error)
	Touch(ctx context.Context, id string, accessedAt time.Time) error
	Delete(ctx context.Context, id string) error
}

// ChromemStore embeds a chromem-go collection directly in the process, so
// long-term memory survives restarts without standing up an external
// vector database.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
}

func NewChromemStore(persistPath string) (*ChromemStore, error) {
	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, false)
	} else {
		db = chromem.NewDB()
	}
	if err != nil {
		return nil, fmt.Errorf("memory: failed to open chromem db: %w", err)
	}

	// Precomputed embeddings are always supplied explicitly, so the
	// collection's own embedding func is never invoked.
	coll, err := db.GetOrCreateCollection(longTermCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("memory: failed to open collection: %w", err)
	}
	return &ChromemStore{db: db, collection: coll}, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, item types.MemoryItem) error {
	meta, err := encodeMetadata(item)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        item.ID,
		Content:   item.Content,
		Metadata:  meta,
		Embedding: item.Embedding,
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("memory: failed to upsert item %s: %w", item.ID, err)
	}
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, owner string, queryEmbedding []float32, topK int) ([]types.MemoryItem, error) {
	if topK <= 0 {
		topK = 5
	}
	n := topK
	if count := s.collection.Count(); n > count {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	results, err := s.collection.QueryEmbedding(ctx, queryEmbedding, n, map[string]string{"owner": owner}, nil)
	if err != nil {
		return nil, fmt.Errorf("memory: search failed: %w", err)
	}

	items := make([]types.MemoryItem, 0, len(results))
	for _, r := range results {
		item, err := decodeMetadata(r.ID, r.Content, r.Metadata)
		if err != nil {
			continue
		}
		item.Embedding = r.Embedding
		items = append(items, item)
	}
	return items, nil
}

func (s *ChromemStore) Touch(ctx context.Context, id string, accessedAt time.Time) error {
	doc, err := s.collection.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("memory: touch failed to load %s: %w", id, err)
	}
	item, err := decodeMetadata(doc.ID, doc.Content, doc.Metadata)
	if err != nil {
		return err
	}
	item.LastAccessedAt = accessedAt
	item.AccessCount++
	item.Embedding = doc.Embedding
	return s.Upsert(ctx, item)
}

func (s *ChromemStore) Delete(ctx context.Context, id string) error {
	if err := s.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("memory: delete failed for %s: %w", id, err)
	}
	return nil
}

// encodeMetadata flattens a MemoryItem into chromem's string-valued
// metadata map, serializing the arbitrary Metadata field as JSON since
// chromem does not support nested values.
func encodeMetadata(item types.MemoryItem) (map[string]string, error) {
	extra := "{}"
	if item.Metadata != nil {
		raw, err := json.Marshal(item.Metadata)
		if err != nil {
			return nil, fmt.Errorf("memory: failed to encode metadata: %w", err)
		}
		extra = string(raw)
	}
	return map[string]string{
		"owner":            item.Owner,
		"type":             string(item.Type),
		"importance":       fmt.Sprintf("%g", item.Importance),
		"created_at":       item.CreatedAt.Format(time.RFC3339Nano),
		"last_accessed_at": item.LastAccessedAt.Format(time.RFC3339Nano),
		"access_count":     fmt.Sprintf("%d", item.AccessCount),
		"extra":            extra,
	}
}

func decodeMetadata(id, content string, meta map[string]string) (types.MemoryItem, error) {
	item := types.MemoryItem{
		ID:      id,
		Content: content,
		Tier:    types.TierLong,
		Owner:   meta["owner"],
		Type:    types.MemoryType(meta["type"]),
	}
	fmt.Sscanf(meta["importance"], "%g", &item.Importance)
	fmt.Sscanf(meta["access_count"], "%d", &item.AccessCount)
	if t, err := time.Parse(time.RFC3339Nano, meta["created_at"]); err == nil {
		item.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, meta["last_accessed_at"]); err == nil {
		item.LastAccessedAt = t
	}
	if extra, ok := meta["extra"]; ok && extra != "" && extra != "{}" {
		var m map[string]any
		if err := json.Unmarshal([]byte(extra), &m); err == nil {
			item.Metadata = m
		}
	}
	return item, nil
}

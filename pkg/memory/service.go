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
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/agentcore/pkg/types"
)

// Tier weights and decay/similarity/importance blend coefficients, fixed by
// the recall scoring rule: working items rank highest, then short, then
// long, modulated by recency decay, semantic similarity, and importance.
const (
	weightWorking = 1.0
	weightShort   = 0.8
	weightLong    = 0.6

	decayWindow    = 30 * 24 * time.Hour
	decayWeight    = 0.3
	similarityCoef = 0.5
	importanceCoef = 0.2
)

// Service is the three-tier memory service. Working items live only in
// process memory keyed by session; the short tier is the caller's own
// session history and is never stored here; the long tier is persisted and
// embedded for semantic recall.
type Service struct {
	embedder  Embedder
	store     LongTermStore
	threshold float64 // importance required for long-term promotion
	dedupSim  float64 // cosine similarity at or above this is a duplicate

	mu      sync.RWMutex
	working map[string][]types.MemoryItem // keyed by session id
}

func NewService(embedder Embedder, store LongTermStore, longTermThreshold, dedupThreshold float64) *Service {
	return &Service{
		embedder:  embedder,
		store:     store,
		threshold: longTermThreshold,
		dedupSim:  dedupThreshold,
		working:   make(map[string][]types.MemoryItem),
	}
}

// Remember adds a working-tier item for the session and, if its importance
// meets the long-term threshold, embeds and promotes a copy after
// deduplicating against existing long-term memories for the same owner.
func (s *Service) Remember(ctx context.Context, sessionID, owner string, item types.MemoryItem) (types.MemoryItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Tier = types.TierWorking
	item.Owner = owner
	now := item.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	item.CreatedAt = now
	item.LastAccessedAt = now

	s.mu.Lock()
	s.working[sessionID] = append(s.working[sessionID], item)
	s.mu.Unlock()

	if item.Importance < s.threshold {
		return item, nil
	}
	return s.promote(ctx, owner, item)
}

func (s *Service) promote(ctx context.Context, owner string, item types.MemoryItem) (types.MemoryItem, error) {
	embedding, err := s.embedder.Embed(ctx, item.Content)
	if err != nil {
		return item, fmt.Errorf("memory: failed to embed item for promotion: %w", err)
	}

	existing, err := s.store.Search(ctx, owner, embedding, 5)
	if err != nil {
		return item, fmt.Errorf("memory: dedup search failed: %w", err)
	}
	for _, candidate := range existing {
		if CosineSimilarity(embedding, candidate.Embedding) >= s.dedupSim {
			// A near-duplicate already exists; bump its access stats
			// instead of writing a redundant long-term entry.
			_ = s.store.Touch(ctx, candidate.ID, time.Now())
			return candidate, nil
		}
	}

	promoted := item
	promoted.Tier = types.TierLong
	promoted.Embedding = embedding
	if err := s.store.Upsert(ctx, promoted); err != nil {
		return item, fmt.Errorf("memory: failed to promote item: %w", err)
	}
	return promoted, nil
}

// WorkingItems returns the session's working-tier snapshot.
func (s *Service) WorkingItems(sessionID string) []types.MemoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.MemoryItem, len(s.working[sessionID]))
	copy(out, s.working[sessionID])
	return out
}

// ClearWorking drops a session's working-tier items, called once a run
// reaches DONE or TERMINATED.
func (s *Service) ClearWorking(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.working, sessionID)
}

// Recall ranks candidate memories for a query across the working and long
// tiers (the short tier is the caller's own session history and is
// injected by the context assembler directly, not through Recall) and
// returns the top K by weighted score.
//
// score = tierWeight(item) * (similarity*0.5 + decay(item)*0.3 + (importance/10)*0.2)
func (s *Service) Recall(ctx context.Context, sessionID, owner, query string, topK int) ([]types.RecalledMemory, error) {
	if topK <= 0 {
		topK = 5
	}

	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: failed to embed query: %w", err)
	}

	var candidates []types.RecalledMemory
	now := time.Now()

	for _, item := range s.WorkingItems(sessionID) {
		sim := CosineSimilarity(queryEmbedding, item.Embedding)
		if item.Embedding == nil {
			// Working items aren't embedded at write time; score on
			// recency and importance alone rather than skipping them.
			sim = 0
		}
		candidates = append(candidates, types.RecalledMemory{
			Item:  item,
			Score: score(weightWorking, sim, item, now),
		})
	}

	longItems, err := s.store.Search(ctx, owner, queryEmbedding, topK*2)
	if err != nil {
		return nil, fmt.Errorf("memory: recall search failed: %w", err)
	}
	for _, item := range longItems {
		sim := CosineSimilarity(queryEmbedding, item.Embedding)
		candidates = append(candidates, types.RecalledMemory{
			Item:  item,
			Score: score(weightLong, sim, item, now),
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	for _, c := range candidates {
		if c.Item.Tier == types.TierLong {
			_ = s.store.Touch(ctx, c.Item.ID, now)
		}
	}
	return candidates, nil
}

func score(tierWeight, similarity float64, item types.MemoryItem, now time.Time) float64 {
	decay := 1.0
	if !item.LastAccessedAt.IsZero() {
		elapsed := now.Sub(item.LastAccessedAt)
		decay = 1.0 - elapsed.Seconds()/decayWindow.Seconds()
		if decay < 0 {
			decay = 0
		}
	}
	importanceNorm := item.Importance / 10.0
	if importanceNorm > 1 {
		importanceNorm = 1
	}
	return tierWeight * (similarity*similarityCoef + decay*decayWeight + importanceNorm*importanceCoef)
}

// Consolidate summarizes a session's working-tier items into a single
// session_summary MemoryItem and promotes it, called from the engine's
// CONSOLIDATE phase. summarize is supplied by the caller (typically backed
// by an LLM gateway call) since the memory service has no model access of
// its own.
func (s *Service) Consolidate(ctx context.Context, sessionID, owner string, summarize func([]types.MemoryItem) (string, float64, error)) (types.MemoryItem, error) {
	items := s.WorkingItems(sessionID)
	if len(items) == 0 {
		return types.MemoryItem{}, nil
	}

	content, importance, err := summarize(items)
	if err != nil {
		return types.MemoryItem{}, fmt.Errorf("memory: consolidation summarize failed: %w", err)
	}
	if content == "" {
		return types.MemoryItem{}, nil
	}

	summary := types.MemoryItem{
		ID:         uuid.NewString(),
		Owner:      owner,
		Type:       types.MemorySessionSummary,
		Content:    content,
		Importance: importance,
		CreatedAt:  time.Now(),
	}
	summary.LastAccessedAt = summary.CreatedAt

	if importance < s.threshold {
		return summary, nil
	}
	return s.promote(ctx, owner, summary)
}

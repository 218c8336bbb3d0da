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

package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/agentcore/pkg/types"
)

// MapCheckpointer is the default, ephemeral Checkpointer: an in-process map
// guarded by one mutex per session, serializing checkpoint writes within a
// session without a single global lock.
type MapCheckpointer struct {
	mu       sync.Mutex // guards the sessions map itself
	sessions map[string]*sync.Mutex

	storeMu sync.RWMutex
	byID    map[string]*types.Checkpoint
	bySess  map[string][]string // session -> checkpoint ids, oldest first
}

func NewMapCheckpointer() *MapCheckpointer {
	return &MapCheckpointer{
		sessions: make(map[string]*sync.Mutex),
		byID:     make(map[string]*types.Checkpoint),
		bySess:   make(map[string][]string),
	}
}

func (c *MapCheckpointer) lockFor(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.sessions[sessionID]
	if !ok {
		l = &sync.Mutex{}
		c.sessions[sessionID] = l
	}
	return l
}

func (c *MapCheckpointer) Save(ctx context.Context, sessionID string, step int, state types.AgentState, parentID string) (string, error) {
	lock := c.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	cp := &types.Checkpoint{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Step:      step,
		State:     *state.Clone(),
		ParentID:  parentID,
		CreatedAt: time.Now(),
	}

	c.storeMu.Lock()
	c.byID[cp.ID] = cp
	c.bySess[sessionID] = append(c.bySess[sessionID], cp.ID)
	c.storeMu.Unlock()

	return cp.ID, nil
}

func (c *MapCheckpointer) Load(ctx context.Context, id string) (*types.AgentState, error) {
	c.storeMu.RLock()
	defer c.storeMu.RUnlock()

	cp, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("checkpoint: %q not found", id)
	}
	state := cp.State.Clone()
	return state, nil
}

func (c *MapCheckpointer) Latest(ctx context.Context, sessionID string) (*types.CheckpointMeta, error) {
	c.storeMu.RLock()
	defer c.storeMu.RUnlock()

	ids := c.bySess[sessionID]
	if len(ids) == 0 {
		return nil, nil
	}
	cp := c.byID[ids[len(ids)-1]]
	meta := toMeta(cp)
	return &meta, nil
}

func (c *MapCheckpointer) List(ctx context.Context, sessionID string, limit int) ([]types.CheckpointMeta, error) {
	c.storeMu.RLock()
	defer c.storeMu.RUnlock()

	ids := c.bySess[sessionID]
	out := make([]types.CheckpointMeta, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, toMeta(c.byID[ids[i]]))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Step > out[j].Step })
	return out, nil
}

func (c *MapCheckpointer) Diff(ctx context.Context, idA, idB string) (*Diff, error) {
	c.storeMu.RLock()
	a, okA := c.byID[idA]
	b, okB := c.byID[idB]
	c.storeMu.RUnlock()

	if !okA {
		return nil, fmt.Errorf("checkpoint: %q not found", idA)
	}
	if !okB {
		return nil, fmt.Errorf("checkpoint: %q not found", idB)
	}
	return diffStates(&a.State, &b.State), nil
}

func toMeta(cp *types.Checkpoint) types.CheckpointMeta {
	return types.CheckpointMeta{
		ID:        cp.ID,
		SessionID: cp.SessionID,
		Step:      cp.Step,
		ParentID:  cp.ParentID,
		CreatedAt: cp.CreatedAt,
	}
}

var _ Checkpointer = (*MapCheckpointer)(nil)

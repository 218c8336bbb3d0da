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

// Package checkpoint persists AgentState snapshots keyed by session and
// step, forming a per-session DAG via parent ids.
package checkpoint

import (
	"context"

	"github.com/kadirpekel/agentcore/pkg/types"
)

// Diff summarizes what changed between two checkpoints of the same session.
type Diff struct {
	MessagesAdded int             `json:"messages_added"`
	TokensDelta   int             `json:"tokens_delta"`
	NewMessages   []types.Message `json:"new_messages"`
}

// Checkpointer is the capability the engine treats as a store: append-mostly,
// keyed by checkpoint id, secondarily indexed by (session id, step).
//
// Implementations are interchangeable; the engine never assumes durability.
type Checkpointer interface {
	// Save persists state as the next checkpoint for session, optionally
	// branching from parentID, and returns the new checkpoint's id.
	Save(ctx context.Context, sessionID string, step int, state types.AgentState, parentID string) (string, error)

	// Load returns the full AgentState for a checkpoint id.
	Load(ctx context.Context, id string) (*types.AgentState, error)

	// Latest returns the most recently saved checkpoint for a session, or
	// nil if the session has none.
	Latest(ctx context.Context, sessionID string) (*types.CheckpointMeta, error)

	// List returns up to limit checkpoint metadata entries for a session,
	// most recent first.
	List(ctx context.Context, sessionID string, limit int) ([]types.CheckpointMeta, error)

	// Diff compares two checkpoints, both assumed to belong to the same
	// session.
	Diff(ctx context.Context, idA, idB string) (*Diff, error)
}

// diffStates computes messages added and token delta between two states, used by
// both the in-memory and SQLite checkpointers.
func diffStates(a, b *types.AgentState) *Diff {
	d := &Diff{}
	if len(b.Messages) > len(a.Messages) {
		d.NewMessages = append([]types.Message(nil), b.Messages[len(a.Messages):]...)
		d.MessagesAdded = len(d.NewMessages)
	}
	d.TokensDelta = b.CumulativeToken - a.CumulativeToken
	return d
}

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
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/agentcore/pkg/types"
)

// SQLiteCheckpointer is a durable Checkpointer, one row per checkpoint
// keyed by (session_id, step), with a parent_id column forming the DAG.
type SQLiteCheckpointer struct {
	db *sql.DB

	mu       sync.Mutex
	sessions map[string]*sync.Mutex
}

// NewSQLiteCheckpointer opens (creating if needed) a SQLite database at
// path and ensures the checkpoints table exists.
func NewSQLiteCheckpointer(path string) (*SQLiteCheckpointer, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to open sqlite db %s: %w", path, err)
	}
	// Checkpoint writes for a session are serialized at the application
	// level (per-session mutex below); a single connection avoids SQLite's
	// SQLITE_BUSY under concurrent sessions without WAL tuning.
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	step        INTEGER NOT NULL,
	parent_id   TEXT,
	state_json  BLOB NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, step);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: failed to init schema: %w", err)
	}

	return &SQLiteCheckpointer{db: db, sessions: make(map[string]*sync.Mutex)}, nil
}

func (c *SQLiteCheckpointer) Close() error {
	return c.db.Close()
}

func (c *SQLiteCheckpointer) lockFor(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.sessions[sessionID]
	if !ok {
		l = &sync.Mutex{}
		c.sessions[sessionID] = l
	}
	return l
}

func (c *SQLiteCheckpointer) Save(ctx context.Context, sessionID string, step int, state types.AgentState, parentID string) (string, error) {
	lock := c.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("checkpoint: failed to marshal state: %w", err)
	}

	id := uuid.NewString()
	now := time.Now()
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, session_id, step, parent_id, state_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, sessionID, step, nullIfEmpty(parentID), raw, now.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("checkpoint: failed to save: %w", err)
	}
	return id, nil
}

func (c *SQLiteCheckpointer) Load(ctx context.Context, id string) (*types.AgentState, error) {
	var raw []byte
	err := c.db.QueryRowContext(ctx, `SELECT state_json FROM checkpoints WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("checkpoint: %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to load %q: %w", id, err)
	}
	var state types.AgentState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("checkpoint: failed to unmarshal %q: %w", id, err)
	}
	return &state, nil
}

func (c *SQLiteCheckpointer) Latest(ctx context.Context, sessionID string) (*types.CheckpointMeta, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, session_id, step, parent_id, created_at FROM checkpoints WHERE session_id = ? ORDER BY step DESC LIMIT 1`,
		sessionID)
	meta, err := scanMeta(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to load latest for %q: %w", sessionID, err)
	}
	return meta, nil
}

func (c *SQLiteCheckpointer) List(ctx context.Context, sessionID string, limit int) ([]types.CheckpointMeta, error) {
	if limit <= 0 {
		limit = 1_000_000
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, session_id, step, parent_id, created_at FROM checkpoints WHERE session_id = ? ORDER BY step DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to list %q: %w", sessionID, err)
	}
	defer rows.Close()

	var out []types.CheckpointMeta
	for rows.Next() {
		meta, err := scanMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: failed to scan row: %w", err)
		}
		out = append(out, *meta)
	}
	return out, rows.Err()
}

func (c *SQLiteCheckpointer) Diff(ctx context.Context, idA, idB string) (*Diff, error) {
	a, err := c.Load(ctx, idA)
	if err != nil {
		return nil, err
	}
	b, err := c.Load(ctx, idB)
	if err != nil {
		return nil, err
	}
	return diffStates(a, b), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMeta(s scanner) (*types.CheckpointMeta, error) {
	var meta types.CheckpointMeta
	var parentID sql.NullString
	var createdAt string
	if err := s.Scan(&meta.ID, &meta.SessionID, &meta.Step, &parentID, &createdAt); err != nil {
		return nil, err
	}
	meta.ParentID = parentID.String
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: bad created_at %q: %w", createdAt, err)
	}
	meta.CreatedAt = t
	return &meta, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Checkpointer = (*SQLiteCheckpointer)(nil)

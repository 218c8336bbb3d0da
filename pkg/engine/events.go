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

// Package engine drives the bounded per-run state machine: INIT, RECALL,
// BUILD_CONTEXT, LLM_CALL, TOOL_DISPATCH/FINALIZE, CONSOLIDATE, DONE, with
// INTERRUPT and TERMINATED side paths. It wires together the checkpoint,
// memory, context, tool, and LLM gateway packages without owning any of
// their storage itself.
package engine

import (
	"time"

	"github.com/kadirpekel/agentcore/pkg/types"
)

// EventType names one point in the run's observable event sequence.
// Exactly one of RunCompleted, Terminated, Cancelled, Error, or Interrupt
// is terminal per run.
type EventType string

const (
	EventRunStarted       EventType = "run_started"
	EventMemoriesRecalled EventType = "memories_recalled"
	EventContextBuilt     EventType = "context_built"
	EventLLMCalled        EventType = "llm_called"
	EventTextDelta        EventType = "text_delta"
	EventToolCalled       EventType = "tool_called"
	EventToolReturned     EventType = "tool_returned"
	EventInterrupt        EventType = "interrupt"
	EventFinalMessage     EventType = "final_message"
	EventTerminated       EventType = "terminated"
	EventError            EventType = "error"
	EventCancelled        EventType = "cancelled"
	EventRunCompleted     EventType = "run_completed"
)

// Event is one entry in a run's emitted stream. Fields are populated
// according to Type; unused fields are left at their zero value rather
// than split into per-type structs, matching the flat optional-field shape
// already used for types.Message and types.ToolResult.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	CheckpointID string `json:"checkpoint_id,omitempty"`

	Count int      `json:"count,omitempty"`
	IDs   []string `json:"ids,omitempty"`

	Tokens    int  `json:"tokens,omitempty"`
	Truncated bool `json:"truncated,omitempty"`

	Model string `json:"model,omitempty"`
	Chunk string `json:"chunk,omitempty"`

	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolArgs   map[string]any `json:"tool_args,omitempty"`
	Success    bool           `json:"success,omitempty"`
	Output     any            `json:"output,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`

	Pending *types.ToolCall `json:"pending,omitempty"`
	Reason  string          `json:"reason,omitempty"`

	Content string `json:"content,omitempty"`

	Iterations int        `json:"iterations,omitempty"`
	Kind       types.Kind `json:"kind,omitempty"`
	Message    string     `json:"message,omitempty"`
}

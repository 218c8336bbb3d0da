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

package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/agentcore/pkg/checkpoint"
	agentctx "github.com/kadirpekel/agentcore/pkg/context"
	"github.com/kadirpekel/agentcore/pkg/llmgateway"
	"github.com/kadirpekel/agentcore/pkg/memory"
	"github.com/kadirpekel/agentcore/pkg/tool"
	"github.com/kadirpekel/agentcore/pkg/types"
)

// Deps are the capabilities the engine depends on. Every field is an
// interface or a concrete service already safe for concurrent use; the
// engine holds no storage of its own, per the design note that providers,
// checkpoint backends, memory backends, and sandbox backends are each
// reached only through a small operation set.
type Deps struct {
	Checkpointer checkpoint.Checkpointer
	Memory       *memory.Service
	Gateway      *llmgateway.Gateway
	Context      *agentctx.Manager
	Tools        *tool.Registry
	Executor     *tool.Executor

	PromptCacheEnabled bool
	MemoryRecallTopK   int
}

// Engine runs agent definitions against Deps, one run per call to Run or
// Resume, each on its own goroutine emitting to its own Event channel.
type Engine struct {
	deps Deps
}

func New(deps Deps) *Engine {
	if deps.MemoryRecallTopK <= 0 {
		deps.MemoryRecallTopK = 5
	}
	return &Engine{deps: deps}
}

// Run starts a new run, or continues one from resumeFrom if non-empty, and
// returns the channel of Events it will emit until a terminal event closes
// the channel.
func (e *Engine) Run(ctx context.Context, agent *types.AgentDefinition, sessionID, userID, anonymousUserID, userMessage, resumeFrom string) (<-chan Event, error) {
	state, parent, err := e.loadOrInit(ctx, sessionID, userID, anonymousUserID, userMessage, resumeFrom)
	if err != nil {
		return nil, err
	}

	r := &runner{
		e:            e,
		agent:        agent,
		state:        state,
		events:       make(chan Event, 64),
		providerName: providerForModel(agent.Model),
	}
	go r.loop(ctx, parent)
	return r.events, nil
}

// Resume continues a suspended run from an INTERRUPT checkpoint, applying
// the caller's HITL decision to the pending tool call before rejoining the
// normal loop.
func (e *Engine) Resume(ctx context.Context, checkpointID string, decision types.ResumeDecision, agent *types.AgentDefinition) (<-chan Event, error) {
	state, err := e.deps.Checkpointer.Load(ctx, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to load checkpoint %q: %w", checkpointID, err)
	}
	if state.PendingToolCall == nil {
		return nil, fmt.Errorf("engine: checkpoint %q has no pending tool call to resume", checkpointID)
	}

	switch decision.Kind {
	case types.ResumeApprove:
		// Dispatch exactly the pending call's args; the loop's pending-call
		// branch handles the rest.
	case types.ResumeModify:
		call := *state.PendingToolCall
		call.Arguments = decision.NewArgs
		state.PendingToolCall = &call
	case types.ResumeReject:
		call := *state.PendingToolCall
		state.PendingToolCall = nil
		state.Messages = append(state.Messages, types.Message{
			Role:       types.RoleTool,
			Content:    `{"error":"rejected by user"}`,
			ToolCallID: call.ID,
			Name:       call.Name,
			Timestamp:  time.Now(),
		})
	default:
		return nil, fmt.Errorf("engine: unknown resume decision %q", decision.Kind)
	}

	r := &runner{
		e:            e,
		agent:        agent,
		state:        state,
		events:       make(chan Event, 64),
		providerName: providerForModel(agent.Model),
	}
	go r.loop(ctx, checkpointID)
	return r.events, nil
}

// ListCheckpoints, GetCheckpointState, and DiffCheckpoints forward directly
// to the Checkpointer, per the external interface's read-only operations.
func (e *Engine) ListCheckpoints(ctx context.Context, sessionID string, limit int) ([]types.CheckpointMeta, error) {
	return e.deps.Checkpointer.List(ctx, sessionID, limit)
}

func (e *Engine) GetCheckpointState(ctx context.Context, checkpointID string) (*types.AgentState, error) {
	return e.deps.Checkpointer.Load(ctx, checkpointID)
}

func (e *Engine) DiffCheckpoints(ctx context.Context, idA, idB string) (*checkpoint.Diff, error) {
	return e.deps.Checkpointer.Diff(ctx, idA, idB)
}

func (e *Engine) loadOrInit(ctx context.Context, sessionID, userID, anonymousUserID, userMessage, resumeFrom string) (*types.AgentState, string, error) {
	if resumeFrom != "" {
		state, err := e.deps.Checkpointer.Load(ctx, resumeFrom)
		if err != nil {
			return nil, "", fmt.Errorf("engine: failed to load checkpoint %q: %w", resumeFrom, err)
		}
		if userMessage != "" {
			state.Messages = append(state.Messages, types.Message{Role: types.RoleUser, Content: userMessage, Timestamp: time.Now()})
		}
		return state, resumeFrom, nil
	}

	state := &types.AgentState{
		SessionID:       sessionID,
		UserID:          userID,
		AnonymousUserID: anonymousUserID,
		Messages:        []types.Message{{Role: types.RoleUser, Content: userMessage, Timestamp: time.Now()}},
		Phase:           types.PhaseInit,
		StartedAt:       time.Now(),
	}
	return state, "", nil
}

// providerForModel maps a model id to the gateway provider registered to
// serve it, by prefix/alias, per the LLM Gateway's normalization step.
func providerForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini"):
		return "gemini"
	default:
		return "openai"
	}
}

// splitSystemMessages pulls every system-role message out of an assembled
// prompt and joins them into one string, leaving only user/assistant/tool
// turns behind. The Anthropic and Gemini adapters only honor
// CompletionRequest.System for system content; a RoleSystem entry left in
// Messages would be silently reinterpreted as a user turn by either.
func splitSystemMessages(messages []types.Message) (string, []types.Message) {
	var system strings.Builder
	rest := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == types.RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return system.String(), rest
}

// cacheBreakpoints marks the end of the stable history prefix for
// providers with explicit prompt-cache control, leaving the newest turn
// (which changes every call) out of the cached span.
func cacheBreakpoints(enabled bool, messages []types.Message) []int {
	if !enabled || len(messages) < 2 {
		return nil
	}
	return []int{len(messages) - 2}
}

// compressSummary backs the context manager's Summarizer with a dedicated,
// low-temperature gateway call instructed to retain decisions, user
// preferences, key facts, and open todos, per the Smart Compressor's
// trigger behavior.
func (e *Engine) compressSummary(ctx context.Context, providerName, model string, messages []types.Message) (string, error) {
	var transcript strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	req := llmgateway.CompletionRequest{
		Model:  model,
		System: "Summarize the conversation excerpt below. Retain decisions, user preferences, key facts, and open todos. Be concise.",
		Messages: []types.Message{
			{Role: types.RoleUser, Content: transcript.String()},
		},
		Temperature: 0.1,
		MaxTokens:   500,
	}
	result, err := e.deps.Gateway.Complete(ctx, providerName, req)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

var importancePattern = regexp.MustCompile(`(?i)importance\s*[:=]\s*([0-9]+(?:\.[0-9]+)?)`)

// consolidationSummary backs memory.Service.Consolidate with a gateway call
// that extracts the single most durable fact, preference, or decision from
// a session's working-tier items, rating its own importance so the service
// can apply the long-term promotion threshold.
func (e *Engine) consolidationSummary(ctx context.Context, providerName, model string, items []types.MemoryItem) (string, float64, error) {
	var transcript strings.Builder
	for _, item := range items {
		fmt.Fprintf(&transcript, "- %s\n", item.Content)
	}

	req := llmgateway.CompletionRequest{
		Model: model,
		System: "Extract the single most durable fact, preference, or decision from this session that is " +
			"worth remembering across sessions. Reply in exactly two lines:\nIMPORTANCE: <0-10>\nCONTENT: <one sentence>\n" +
			"If nothing is worth remembering, reply IMPORTANCE: 0.",
		Messages: []types.Message{
			{Role: types.RoleUser, Content: transcript.String()},
		},
		Temperature: 0.1,
		MaxTokens:   200,
	}
	result, err := e.deps.Gateway.Complete(ctx, providerName, req)
	if err != nil {
		return "", 0, err
	}

	importance := 0.0
	if m := importancePattern.FindStringSubmatch(result.Text); m != nil {
		importance, _ = strconv.ParseFloat(m[1], 64)
	}
	if importance <= 0 {
		return "", 0, nil
	}

	content := result.Text
	if idx := strings.Index(strings.ToUpper(result.Text), "CONTENT:"); idx >= 0 {
		content = strings.TrimSpace(result.Text[idx+len("CONTENT:"):])
	}
	return content, importance, nil
}

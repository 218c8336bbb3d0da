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
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	agentctx "github.com/kadirpekel/agentcore/pkg/context"
	"github.com/kadirpekel/agentcore/pkg/llmgateway"
	"github.com/kadirpekel/agentcore/pkg/tool"
	"github.com/kadirpekel/agentcore/pkg/types"
)

// workingItemImportance is the importance recorded for raw per-turn
// memories written by the engine itself (user turns, tool outputs,
// assistant replies). It sits well below any reasonable long-term
// threshold so these items never bypass consolidationSummary's own
// LLM-scored promotion decision; only the single summary item Consolidate
// produces can be promoted on its own merits.
const workingItemImportance = 1.0

// runner drives one Run or Resume call's state machine to a terminal
// event, then closes its events channel. It is never reused across calls.
type runner struct {
	e            *Engine
	agent        *types.AgentDefinition
	state        *types.AgentState
	events       chan Event
	providerName string
}

func (r *runner) emit(ev Event) {
	ev.SessionID = r.state.SessionID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	r.events <- ev
}

// loop runs the INIT->RECALL->BUILD_CONTEXT->LLM_CALL transition cycle: a
// fresh run emits run_started and enters the cycle directly; a resumed run
// with a pending tool call dispatches it first, then rejoins the same
// cycle.
func (r *runner) loop(ctx context.Context, parentCheckpoint string) {
	defer close(r.events)

	lastCheckpoint := parentCheckpoint
	r.emit(Event{Type: EventRunStarted})

	if r.state.PendingToolCall != nil {
		call := *r.state.PendingToolCall
		r.state.PendingToolCall = nil
		r.state.Phase = types.PhaseToolDispatch
		var dispatchErr error
		r.traced(ctx, func(ctx context.Context) {
			dispatchErr = r.dispatchOne(ctx, call)
		})
		if dispatchErr != nil {
			r.cancel(ctx)
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			r.cancel(ctx)
			return
		default:
		}

		if reason, hit := r.limitHit(); hit {
			r.terminate(ctx, reason, lastCheckpoint)
			return
		}

		iterStart := time.Now()
		r.state.Iteration++

		r.state.Phase = types.PhaseRecall
		r.traced(ctx, func(ctx context.Context) {
			if id, err := r.e.deps.Checkpointer.Save(ctx, r.state.SessionID, r.state.Iteration, *r.state, lastCheckpoint); err != nil {
				slog.Warn("engine: failed to save iteration-start checkpoint", "session", r.state.SessionID, "error", err)
			} else {
				lastCheckpoint = id
			}
			r.recall(ctx)
		})

		r.state.Phase = types.PhaseBuildContext
		var assembled agentctx.Assembled
		var buildErr error
		r.traced(ctx, func(ctx context.Context) {
			assembled, buildErr = r.buildContext(ctx)
		})
		if buildErr != nil {
			r.emit(Event{Type: EventError, Kind: types.KindLLMFailed, Message: "context assembly failed: " + buildErr.Error()})
			observeIteration("error", iterStart)
			return
		}
		r.emit(Event{Type: EventContextBuilt, Tokens: assembled.TotalTokens, Truncated: assembled.Compressed})

		r.state.Phase = types.PhaseLLMCall
		var result llmgateway.CompletionResult
		var llmErr error
		r.traced(ctx, func(ctx context.Context) {
			result, llmErr = r.callLLM(ctx, assembled)
		})
		if llmErr != nil {
			if ctx.Err() != nil {
				r.cancel(ctx)
				observeIteration("cancelled", iterStart)
				return
			}
			r.emit(Event{Type: EventError, Kind: types.KindLLMFailed, Message: llmErr.Error()})
			observeIteration("error", iterStart)
			return
		}
		r.state.CumulativeToken += result.Usage.InputTokens + result.Usage.OutputTokens

		if len(result.ToolCalls) > 0 {
			r.state.Messages = append(r.state.Messages, types.Message{
				Role:      types.RoleAssistant,
				Content:   result.Text,
				ToolCalls: result.ToolCalls,
				Timestamp: time.Now(),
			})

			r.state.Phase = types.PhaseToolDispatch
			var suspended bool
			var dispatchErr error
			r.traced(ctx, func(ctx context.Context) {
				suspended, dispatchErr = r.dispatchAll(ctx, result.ToolCalls, &lastCheckpoint)
			})
			if dispatchErr != nil {
				r.cancel(ctx)
				observeIteration("cancelled", iterStart)
				return
			}
			if suspended {
				observeIteration("interrupt", iterStart)
				return
			}
			observeIteration("tool_dispatch", iterStart)
			continue
		}

		r.state.Phase = types.PhaseFinalize
		r.traced(ctx, func(ctx context.Context) {
			r.state.Messages = append(r.state.Messages, types.Message{
				Role:      types.RoleAssistant,
				Content:   result.Text,
				Timestamp: time.Now(),
			})
			r.emit(Event{Type: EventFinalMessage, Content: result.Text, Tokens: result.Usage.OutputTokens})

			r.remember(ctx, types.MemoryEpisode, result.Text)
			r.consolidate(ctx)
			r.state.Phase = types.PhaseDone
			if _, err := r.e.deps.Checkpointer.Save(ctx, r.state.SessionID, r.state.Iteration, *r.state, lastCheckpoint); err != nil {
				slog.Warn("engine: failed to save completion checkpoint", "session", r.state.SessionID, "error", err)
			}
		})
		r.emit(Event{Type: EventRunCompleted})
		observeIteration("finalize", iterStart)
		return
	}
}

// recall skips after the first turn within an invocation: memory is only
// queried when no assistant turn has yet answered the latest user message,
// avoiding reinjecting memories already reflected in history.
func (r *runner) recall(ctx context.Context) {
	if r.state.HasAssistantTurn() {
		return
	}

	query := lastUserContent(r.state)
	recalled, err := r.e.deps.Memory.Recall(ctx, r.state.SessionID, r.state.OwnerID(), query, r.e.deps.MemoryRecallTopK)
	if err != nil {
		slog.Warn("engine: memory recall failed, continuing without it", "session", r.state.SessionID, "error", err)
		recalled = nil
	}

	r.remember(ctx, types.MemoryFact, query)
	r.state.RecalledMemories = recalled
	ids := make([]string, len(recalled))
	for i, m := range recalled {
		ids[i] = m.Item.ID
	}
	r.emit(Event{Type: EventMemoriesRecalled, Count: len(recalled), IDs: ids})
}

// buildContext assembles the next prompt, treating the most recently
// appended Message (the new user turn on the first iteration, or the
// latest tool result on a post-dispatch iteration) as the "current turn"
// that the budget allocator guarantees fits, truncating it if oversized.
func (r *runner) buildContext(ctx context.Context) (agentctx.Assembled, error) {
	history := append([]types.Message(nil), r.state.Messages...)
	var current types.Message
	if len(history) > 0 {
		current = history[len(history)-1]
		history = history[:len(history)-1]
	}

	summarize := func(messages []types.Message) (string, error) {
		return r.e.compressSummary(ctx, r.providerName, r.agent.Model, messages)
	}

	return r.e.deps.Context.Assemble(r.agent.SystemPrompt, r.state.RecalledMemories, history, current, summarize)
}

func (r *runner) callLLM(ctx context.Context, assembled agentctx.Assembled) (llmgateway.CompletionResult, error) {
	system, messages := splitSystemMessages(assembled.Messages)

	req := llmgateway.CompletionRequest{
		Model:            r.agent.Model,
		System:           system,
		Messages:         messages,
		Tools:            r.toolDefinitions(),
		Temperature:      r.agent.Temperature,
		MaxTokens:        r.agent.MaxTokens,
		CacheBreakpoints: cacheBreakpoints(r.e.deps.PromptCacheEnabled, messages),
	}

	r.state.Phase = types.PhaseLLMCall
	r.emit(Event{Type: EventLLMCalled, Model: r.agent.Model})
	return r.e.deps.Gateway.Complete(ctx, r.providerName, req)
}

func (r *runner) toolDefinitions() []tool.Definition {
	all := r.e.deps.Tools.Definitions()
	if len(r.agent.ToolNames) == 0 {
		return all
	}

	allowed := make(map[string]bool, len(r.agent.ToolNames))
	for _, n := range r.agent.ToolNames {
		allowed[n] = true
	}

	out := make([]tool.Definition, 0, len(r.agent.ToolNames))
	for _, d := range all {
		if allowed[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

// dispatchAll executes result.ToolCalls in the order the model returned
// them, suspending at the first one that requires HITL approval. Calls
// already dispatched before a suspension have already had their
// tool-role Messages appended; the ones after it never run this turn.
func (r *runner) dispatchAll(ctx context.Context, calls []types.ToolCall, lastCheckpoint *string) (bool, error) {
	for _, call := range calls {
		if requiresApproval(r.agent.HITL, call.Name) {
			pending := call
			r.state.Phase = types.PhaseInterrupt
			r.state.PendingToolCall = &pending

			id, err := r.e.deps.Checkpointer.Save(ctx, r.state.SessionID, r.state.Iteration, *r.state, *lastCheckpoint)
			if err != nil {
				slog.Warn("engine: failed to save interrupt checkpoint", "session", r.state.SessionID, "error", err)
			} else {
				*lastCheckpoint = id
			}

			r.emit(Event{
				Type:         EventInterrupt,
				CheckpointID: id,
				Pending:      &pending,
				Reason:       "hitl_approval_required",
			})
			return true, nil
		}

		if err := r.dispatchOne(ctx, call); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (r *runner) dispatchOne(ctx context.Context, call types.ToolCall) error {
	r.emit(Event{Type: EventToolCalled, ToolCallID: call.ID, ToolName: call.Name, ToolArgs: call.Arguments})

	result := r.e.deps.Executor.Execute(ctx, call)

	content := result.Error
	if result.Success {
		content = stringifyOutput(result.Output)
	}
	r.state.Messages = append(r.state.Messages, types.Message{
		Role:       types.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		Name:       call.Name,
		Timestamp:  time.Now(),
	})

	if result.Success {
		r.remember(ctx, types.MemoryEpisode, fmt.Sprintf("tool %s returned: %s", call.Name, content))
	}

	r.emit(Event{
		Type:       EventToolReturned,
		ToolCallID: call.ID,
		Success:    result.Success,
		Output:     result.Output,
		DurationMS: result.Duration.Milliseconds(),
	})

	return ctx.Err()
}

func (r *runner) limitHit() (string, bool) {
	if r.agent.MaxIterations > 0 && r.state.Iteration+1 > r.agent.MaxIterations {
		return "max_iterations_exceeded", true
	}
	if r.agent.MaxTokensPerRun > 0 && r.state.CumulativeToken > r.agent.MaxTokensPerRun {
		return "max_tokens_exceeded", true
	}
	if r.agent.Timeout > 0 && time.Since(r.state.StartedAt) > r.agent.Timeout {
		return "timeout_exceeded", true
	}
	return "", false
}

func (r *runner) terminate(ctx context.Context, reason, parent string) {
	r.state.Phase = types.PhaseTerminated
	ctx, span := r.startSpan(ctx)
	defer span.End()

	r.consolidate(ctx)

	id, err := r.e.deps.Checkpointer.Save(ctx, r.state.SessionID, r.state.Iteration, *r.state, parent)
	if err != nil {
		slog.Warn("engine: failed to save terminated checkpoint", "session", r.state.SessionID, "error", err)
	}
	r.emit(Event{Type: EventTerminated, Reason: reason, Iterations: r.state.Iteration, CheckpointID: id})
}

func (r *runner) cancel(ctx context.Context) {
	ctx, span := r.startSpan(ctx)
	defer span.End()

	// Consolidation is best-effort on cancellation, so it must run on a
	// context no longer tied to the cancelled run.
	detached := context.WithoutCancel(ctx)
	r.consolidate(detached)
	r.emit(Event{Type: EventCancelled})
}

// remember writes a working-tier memory item for the current session so
// Consolidate has material to summarize at CONSOLIDATE; empty content is
// ignored rather than stored.
func (r *runner) remember(ctx context.Context, kind types.MemoryType, content string) {
	if content == "" {
		return
	}
	item := types.MemoryItem{
		Type:       kind,
		Content:    content,
		Importance: workingItemImportance,
	}
	if _, err := r.e.deps.Memory.Remember(ctx, r.state.SessionID, r.state.OwnerID(), item); err != nil {
		slog.Warn("engine: failed to remember item", "session", r.state.SessionID, "error", err)
	}
}

func (r *runner) consolidate(ctx context.Context) {
	r.state.Phase = types.PhaseConsolidate
	ctx, span := r.startSpan(ctx)
	defer span.End()

	summarize := func(items []types.MemoryItem) (string, float64, error) {
		return r.e.consolidationSummary(ctx, r.providerName, r.agent.Model, items)
	}
	if _, err := r.e.deps.Memory.Consolidate(ctx, r.state.SessionID, r.state.OwnerID(), summarize); err != nil {
		slog.Warn("engine: consolidation failed", "session", r.state.SessionID, "error", err)
	}
	r.e.deps.Memory.ClearWorking(r.state.SessionID)
}

func lastUserContent(state *types.AgentState) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == types.RoleUser {
			return state.Messages[i].Content
		}
	}
	return ""
}

func stringifyOutput(output any) string {
	if s, ok := output.(string); ok {
		return s
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return ""
	}
	return string(raw)
}

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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentcore/pkg/checkpoint"
	agentctx "github.com/kadirpekel/agentcore/pkg/context"
	"github.com/kadirpekel/agentcore/pkg/llmgateway"
	"github.com/kadirpekel/agentcore/pkg/memory"
	"github.com/kadirpekel/agentcore/pkg/tool"
	"github.com/kadirpekel/agentcore/pkg/types"
)

// testHarness wires a full Engine against fakes/stand-ins, mirroring S1-S6
// of the testable-properties scenario table.
type testHarness struct {
	engine *Engine
	stub   *llmgateway.StubProvider
	tools  *tool.Registry
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	store, err := memory.NewChromemStore("")
	require.NoError(t, err)
	memSvc := memory.NewService(memory.NewHashEmbedder(16), store, 6.0, 0.9)

	counter, err := agentctx.NewTokenCounter("gpt-4")
	require.NoError(t, err)
	ctxMgr := agentctx.NewManager(counter, 4000, 0.7, 2, 6)

	reg := tool.NewRegistry()
	require.NoError(t, reg.Register("add", tool.Tool{
		Name:     "add",
		Category: tool.CategoryPure,
		Schema:   map[string]any{"type": "object"},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			a, _ := args["a"].(float64)
			b, _ := args["b"].(float64)
			return a + b, nil
		},
	}))
	require.NoError(t, reg.Register("delete_file", tool.Tool{
		Name:             "delete_file",
		Category:         tool.CategoryPure,
		RequiresApproval: true,
		Schema:           map[string]any{"type": "object"},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return "deleted:" + args["path"].(string), nil
		},
	}))
	executor := tool.NewExecutor(reg, nil, tool.SandboxSpec{})

	stub := llmgateway.NewStubProvider("openai")
	gw := llmgateway.NewGateway(llmgateway.DefaultRetryPolicy())
	require.NoError(t, gw.Register("openai", stub))

	eng := New(Deps{
		Checkpointer:     checkpoint.NewMapCheckpointer(),
		Memory:           memSvc,
		Gateway:          gw,
		Context:          ctxMgr,
		Tools:            reg,
		Executor:         executor,
		MemoryRecallTopK: 5,
	})

	return &testHarness{engine: eng, stub: stub, tools: reg}
}

func drain(ch <-chan Event) []Event {
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// S1: plain answer, no tools.
func TestRun_PlainAnswer(t *testing.T) {
	h := newHarness(t)
	h.stub.Enqueue(llmgateway.CompletionResult{Text: "hello", Usage: llmgateway.Usage{InputTokens: 10, OutputTokens: 2}})

	agent := &types.AgentDefinition{Name: "plain", Model: "gpt-test", MaxIterations: 5, MaxTokensPerRun: 10_000}
	ch, err := h.engine.Run(context.Background(), agent, "s1", "", "anon-1", "Say 'hello' and nothing else.", "")
	require.NoError(t, err)

	events := drain(ch)
	types_ := eventTypes(events)

	assert.Equal(t, EventRunStarted, types_[0])
	assert.Contains(t, types_, EventMemoriesRecalled)
	assert.Contains(t, types_, EventContextBuilt)
	assert.Contains(t, types_, EventLLMCalled)
	assert.Equal(t, EventRunCompleted, types_[len(types_)-1])

	var final *Event
	for i := range events {
		if events[i].Type == EventFinalMessage {
			final = &events[i]
		}
	}
	require.NotNil(t, final)
	assert.Equal(t, "hello", final.Content)
}

// S2: single tool round-trip.
func TestRun_ToolRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.stub.Enqueue(llmgateway.CompletionResult{
		ToolCalls: []types.ToolCall{{ID: "call-1", Name: "add", Arguments: map[string]any{"a": 2.0, "b": 3.0}}},
	})
	h.stub.Enqueue(llmgateway.CompletionResult{Text: "The answer is 5"})

	agent := &types.AgentDefinition{Name: "adder", Model: "gpt-test", MaxIterations: 5, MaxTokensPerRun: 10_000, ToolNames: []string{"add"}}
	ch, err := h.engine.Run(context.Background(), agent, "s2", "", "anon-2", "What is 2+3?", "")
	require.NoError(t, err)

	events := drain(ch)
	types_ := eventTypes(events)
	assert.Contains(t, types_, EventToolCalled)
	assert.Contains(t, types_, EventToolReturned)
	assert.Equal(t, EventRunCompleted, types_[len(types_)-1])

	var toolCalledIdx, secondLLMIdx, finalIdx int = -1, -1, -1
	llmCalls := 0
	for i, ev := range events {
		switch ev.Type {
		case EventToolCalled:
			toolCalledIdx = i
		case EventLLMCalled:
			llmCalls++
			if llmCalls == 2 {
				secondLLMIdx = i
			}
		case EventFinalMessage:
			finalIdx = i
			assert.Contains(t, ev.Content, "5")
		}
	}
	require.NotEqual(t, -1, toolCalledIdx)
	require.NotEqual(t, -1, secondLLMIdx)
	require.NotEqual(t, -1, finalIdx)
	assert.Less(t, toolCalledIdx, secondLLMIdx)
	assert.Less(t, secondLLMIdx, finalIdx)
}

// S3: iteration cap.
func TestRun_IterationCap(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		h.stub.Enqueue(llmgateway.CompletionResult{
			ToolCalls: []types.ToolCall{{ID: "call", Name: "add", Arguments: map[string]any{"a": 1.0, "b": 1.0}}},
		})
	}

	agent := &types.AgentDefinition{Name: "looper", Model: "gpt-test", MaxIterations: 2, MaxTokensPerRun: 1_000_000, ToolNames: []string{"add"}}
	ch, err := h.engine.Run(context.Background(), agent, "s3", "", "anon-3", "loop forever", "")
	require.NoError(t, err)

	events := drain(ch)
	types_ := eventTypes(events)
	assert.Equal(t, EventTerminated, types_[len(types_)-1])

	llmCalls := 0
	var terminated *Event
	for i := range events {
		if events[i].Type == EventLLMCalled {
			llmCalls++
		}
		if events[i].Type == EventTerminated {
			terminated = &events[i]
		}
	}
	assert.Equal(t, 2, llmCalls)
	require.NotNil(t, terminated)
	assert.Equal(t, "max_iterations_exceeded", terminated.Reason)
	assert.Equal(t, 2, terminated.Iterations)
}

// S4: HITL suspend then resume with modified args.
func TestRun_HITLSuspendAndResumeModify(t *testing.T) {
	h := newHarness(t)
	h.stub.Enqueue(llmgateway.CompletionResult{
		ToolCalls: []types.ToolCall{{ID: "call-1", Name: "delete_file", Arguments: map[string]any{"path": "/a"}}},
	})

	agent := &types.AgentDefinition{
		Name: "deleter", Model: "gpt-test", MaxIterations: 5, MaxTokensPerRun: 10_000,
		ToolNames: []string{"delete_file"},
		HITL:      types.HITLPolicy{RequirePatterns: []string{"delete_*"}},
	}
	ch, err := h.engine.Run(context.Background(), agent, "s4", "", "anon-4", "delete /a", "")
	require.NoError(t, err)

	events := drain(ch)
	types_ := eventTypes(events)
	assert.Equal(t, EventInterrupt, types_[len(types_)-1])

	var interrupt *Event
	for i := range events {
		if events[i].Type == EventInterrupt {
			interrupt = &events[i]
		}
	}
	require.NotNil(t, interrupt)
	require.NotNil(t, interrupt.Pending)
	assert.Equal(t, "delete_file", interrupt.Pending.Name)
	assert.Equal(t, "/a", interrupt.Pending.Arguments["path"])

	h.stub.Enqueue(llmgateway.CompletionResult{Text: "deleted /b"})
	resumeCh, err := h.engine.Resume(context.Background(), interrupt.CheckpointID, types.ResumeDecision{
		Kind:    types.ResumeModify,
		NewArgs: map[string]any{"path": "/b"},
	}, agent)
	require.NoError(t, err)

	resumeEvents := drain(resumeCh)
	resumeTypes := eventTypes(resumeEvents)
	assert.Contains(t, resumeTypes, EventToolCalled)
	assert.Equal(t, EventRunCompleted, resumeTypes[len(resumeTypes)-1])

	for _, ev := range resumeEvents {
		if ev.Type == EventToolCalled {
			assert.Equal(t, "/b", ev.ToolArgs["path"])
		}
	}
}

// S6: a fact written during one session is consolidated into long-term
// memory and surfaces in RECALL for the same owner in a later session.
func TestRun_CrossSessionMemoryRecall(t *testing.T) {
	h := newHarness(t)
	agent := &types.AgentDefinition{Name: "assistant", Model: "gpt-test", MaxIterations: 5, MaxTokensPerRun: 10_000}

	h.stub.Enqueue(llmgateway.CompletionResult{Text: "Nice to meet you, Zhang San."})
	h.stub.Enqueue(llmgateway.CompletionResult{Text: "IMPORTANCE: 8\nCONTENT: The user's name is Zhang San."})
	ch1, err := h.engine.Run(context.Background(), agent, "session-1", "user-zhang", "", "My name is Zhang San.", "")
	require.NoError(t, err)
	events1 := drain(ch1)
	require.Equal(t, EventRunCompleted, events1[len(events1)-1].Type)

	h.stub.Enqueue(llmgateway.CompletionResult{Text: "Your name is Zhang San."})
	h.stub.Enqueue(llmgateway.CompletionResult{Text: "IMPORTANCE: 0"})
	ch2, err := h.engine.Run(context.Background(), agent, "session-2", "user-zhang", "", "What is my name?", "")
	require.NoError(t, err)
	events2 := drain(ch2)
	require.Equal(t, EventRunCompleted, events2[len(events2)-1].Type)

	var recalledCount int
	for _, ev := range events2 {
		if ev.Type == EventMemoriesRecalled {
			recalledCount = ev.Count
		}
	}
	require.Greater(t, recalledCount, 0, "a long-term fact from session-1 should surface in session-2's recall")

	metas, err := h.engine.ListCheckpoints(context.Background(), "session-2", 1)
	require.NoError(t, err)
	require.NotEmpty(t, metas)
	state, err := h.engine.GetCheckpointState(context.Background(), metas[0].ID)
	require.NoError(t, err)

	found := false
	for _, m := range state.RecalledMemories {
		if strings.Contains(m.Item.Content, "Zhang San") {
			found = true
		}
	}
	assert.True(t, found, "recalled memories should include the promoted fact about the user's name")
}

// Cancellation propagates as a cancelled terminal event, not an error.
func TestRun_Cancellation(t *testing.T) {
	h := newHarness(t)
	h.stub.Enqueue(llmgateway.CompletionResult{Text: "too slow"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agent := &types.AgentDefinition{Name: "cancelled", Model: "gpt-test", MaxIterations: 5, MaxTokensPerRun: 10_000}
	ch, err := h.engine.Run(ctx, agent, "s-cancel", "", "anon-5", "hi", "")
	require.NoError(t, err)

	events := drain(ch)
	require.NotEmpty(t, events)
	assert.Equal(t, EventCancelled, events[len(events)-1].Type)
}

func TestResume_RejectInjectsErrorToolResult(t *testing.T) {
	h := newHarness(t)
	h.stub.Enqueue(llmgateway.CompletionResult{
		ToolCalls: []types.ToolCall{{ID: "call-1", Name: "delete_file", Arguments: map[string]any{"path": "/a"}}},
	})

	agent := &types.AgentDefinition{
		Name: "deleter", Model: "gpt-test", MaxIterations: 5, MaxTokensPerRun: 10_000,
		ToolNames: []string{"delete_file"},
		HITL:      types.HITLPolicy{RequirePatterns: []string{"delete_*"}},
	}
	ch, err := h.engine.Run(context.Background(), agent, "s-reject", "", "anon-6", "delete /a", "")
	require.NoError(t, err)
	events := drain(ch)

	var checkpointID string
	for _, ev := range events {
		if ev.Type == EventInterrupt {
			checkpointID = ev.CheckpointID
		}
	}
	require.NotEmpty(t, checkpointID)

	h.stub.Enqueue(llmgateway.CompletionResult{Text: "ok, cancelled that"})
	resumeCh, err := h.engine.Resume(context.Background(), checkpointID, types.ResumeDecision{Kind: types.ResumeReject}, agent)
	require.NoError(t, err)

	resumeEvents := drain(resumeCh)
	assert.Equal(t, EventRunCompleted, resumeEvents[len(resumeEvents)-1].Type)

	state, err := h.engine.GetCheckpointState(context.Background(), checkpointID)
	require.NoError(t, err)
	assert.NotNil(t, state.PendingToolCall)

	metas, err := h.engine.ListCheckpoints(context.Background(), "s-reject", 1)
	require.NoError(t, err)
	require.NotEmpty(t, metas)
	final, err := h.engine.GetCheckpointState(context.Background(), metas[0].ID)
	require.NoError(t, err)
	var rejected bool
	for _, m := range final.Messages {
		if m.Role == types.RoleTool && m.ToolCallID == "call-1" && strings.Contains(m.Content, "rejected by user") {
			rejected = true
		}
	}
	assert.True(t, rejected, "rejected call must be answered by an error tool result")
}

func TestRequiresApproval(t *testing.T) {
	policy := types.HITLPolicy{
		RequirePatterns:    []string{"delete_*", "shell_exec"},
		AutoApprovePattern: []string{"delete_tmp_*"},
	}
	assert.True(t, requiresApproval(policy, "delete_file"))
	assert.False(t, requiresApproval(policy, "delete_tmp_file"))
	assert.False(t, requiresApproval(policy, "read_file"))
	assert.True(t, requiresApproval(policy, "shell_exec"))
}

func TestProviderForModel(t *testing.T) {
	assert.Equal(t, "anthropic", providerForModel("claude-3-5-sonnet"))
	assert.Equal(t, "gemini", providerForModel("gemini-2.0-flash"))
	assert.Equal(t, "openai", providerForModel("gpt-4o"))
	assert.Equal(t, "openai", providerForModel("unknown-model"))
}

func TestSplitSystemMessages(t *testing.T) {
	messages := []types.Message{
		{Role: types.RoleSystem, Content: "you are helpful"},
		{Role: types.RoleSystem, Content: "memories: none"},
		{Role: types.RoleUser, Content: "hi"},
	}
	system, rest := splitSystemMessages(messages)
	assert.Contains(t, system, "you are helpful")
	assert.Contains(t, system, "memories: none")
	require.Len(t, rest, 1)
	assert.Equal(t, types.RoleUser, rest[0].Role)
}

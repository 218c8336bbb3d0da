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

// Package llmgateway normalizes the Anthropic, OpenAI, and Gemini chat
// completion APIs behind one provider interface, with streaming, prompt
// cache accounting, and a shared transport-failure retry. The Anthropic and
// OpenAI adapters classify their errors for that retry; the Gemini adapter
// passes its errors through unclassified, so Gemini calls are not retried.
package llmgateway

import (
	"context"
	"time"

	"github.com/kadirpekel/agentcore/pkg/tool"
	"github.com/kadirpekel/agentcore/pkg/types"
)

// ChunkType identifies the kind of data carried by one StreamChunk.
type ChunkType string

const (
	ChunkText      ChunkType = "text"
	ChunkToolDelta ChunkType = "tool_call_delta"
	ChunkUsage     ChunkType = "usage"
	ChunkDone      ChunkType = "done"
)

// StreamChunk is one unit of a streamed completion.
type StreamChunk struct {
	Type      ChunkType
	Text      string
	ToolCall  *types.ToolCall // populated once the delta completes, on ChunkToolDelta
	Usage     Usage
	Err       error
}

// Usage reports token accounting for one completion, including how many
// input tokens were served from a provider's prompt cache.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CachedTokens int
}

// CompletionRequest is the provider-agnostic shape of one LLM_CALL turn.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []types.Message
	Tools       []tool.Definition
	Temperature float64
	MaxTokens   int
	// CacheBreakpoints marks message indices after which a prompt-cache
	// boundary should be inserted, for providers with explicit cache
	// control (Anthropic). Ignored by providers with automatic caching.
	CacheBreakpoints []int
}

// CompletionResult is the non-streaming counterpart of StreamChunk.
type CompletionResult struct {
	Text      string
	ToolCalls []types.ToolCall
	Usage     Usage
}

// Provider is one normalized LLM backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}

// RetryPolicy controls how the gateway recovers from a failed Complete or
// Stream call before giving up: transport errors retry once with
// exponential backoff, auth and validation errors are never retried, and
// rate limits wait the provider's hinted delay capped at MaxRateLimitWait.
type RetryPolicy struct {
	TransportRetries int
	BaseDelay        time.Duration
	MaxRateLimitWait time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		TransportRetries: 1,
		BaseDelay:        500 * time.Millisecond,
		MaxRateLimitWait: 60 * time.Second,
	}
}

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

package llmgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/apierror"
	"github.com/openai/openai-go/v2/option"

	"github.com/kadirpekel/agentcore/internal/ratelimit"
	"github.com/kadirpekel/agentcore/pkg/types"
)

// OpenAIProvider adapts the Chat Completions API. Unlike Anthropic, OpenAI
// caches long, repeated prompt prefixes automatically; CacheBreakpoints is
// ignored here, and CachedTokens is read back from usage.prompt_tokens_details.
type OpenAIProvider struct {
	client openai.Client
	model  openai.ChatModel
}

func NewOpenAIProvider(apiKey string, model string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  openai.ChatModel(model),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	params := p.buildParams(req)

	comp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return CompletionResult{}, wrapOpenAIError(err)
	}
	if len(comp.Choices) == 0 {
		return CompletionResult{}, fmt.Errorf("openai: no choices returned")
	}

	msg := comp.Choices[0].Message
	result := CompletionResult{
		Text: msg.Content,
		Usage: Usage{
			InputTokens:  int(comp.Usage.PromptTokens),
			OutputTokens: int(comp.Usage.CompletionTokens),
			CachedTokens: int(comp.Usage.PromptTokensDetails.CachedTokens),
		},
	}
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		result.ToolCalls = append(result.ToolCalls, types.ToolCall{
			ID: tc.ID, Name: tc.Function.Name, Arguments: args,
		})
	}
	return result, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	params := p.buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	out := make(chan StreamChunk, 32)
	go func() {
		defer close(out)

		toolArgs := map[int64]*types.ToolCall{}
		toolBuf := map[int64]string{}

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) > 0 {
				delta := chunk.Choices[0].Delta
				if delta.Content != "" {
					out <- StreamChunk{Type: ChunkText, Text: delta.Content}
				}
				for _, tc := range delta.ToolCalls {
					if tc.ID != "" {
						toolArgs[tc.Index] = &types.ToolCall{ID: tc.ID, Name: tc.Function.Name}
					}
					toolBuf[tc.Index] += tc.Function.Arguments
				}
			}
			if chunk.Usage.TotalTokens > 0 {
				for idx, call := range toolArgs {
					var args map[string]any
					_ = json.Unmarshal([]byte(toolBuf[idx]), &args)
					call.Arguments = args
					out <- StreamChunk{Type: ChunkToolDelta, ToolCall: call}
				}
				out <- StreamChunk{Type: ChunkUsage, Usage: Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
					CachedTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
				}}
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamChunk{Type: ChunkDone, Err: wrapOpenAIError(err)}
			return
		}
		out <- StreamChunk{Type: ChunkDone}
	}()
	return out, nil
}

func (p *OpenAIProvider) buildParams(req CompletionRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case types.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case types.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case types.RoleTool:
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))
		case types.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		}
	}

	tools := make([]openai.ChatCompletionToolUnionParam, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(t.Parameters),
		}))
	}

	params := openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	return params
}

func wrapOpenAIError(err error) error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 {
			return &RateLimitError{Info: ratelimit.ParseOpenAIRateLimitHeaders(apiErr.Response.Header), Err: err}
		}
		if apiErr.StatusCode >= 500 {
			return &ratelimit.RetryableError{StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
		}
		// Other 4xx responses are auth or validation failures: not retried.
		return fmt.Errorf("openai: %w", err)
	}
	// No HTTP response at all: a transport failure, retried per policy.
	return &ratelimit.RetryableError{Message: "openai: " + err.Error(), Err: err}
}

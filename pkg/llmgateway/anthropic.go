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
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kadirpekel/agentcore/internal/ratelimit"
	"github.com/kadirpekel/agentcore/pkg/types"
)

// AnthropicProvider adapts the Claude Messages API. Cache control is
// explicit here: CompletionRequest.CacheBreakpoints marks which messages
// get an ephemeral cache_control block, matching Claude's manual
// prompt-caching model.
type AnthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropicProvider(apiKey string, model string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	params := p.buildParams(req)

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return CompletionResult{}, wrapAnthropicError(err)
	}

	result := CompletionResult{
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			CachedTokens: int(msg.Usage.CacheReadInputTokens),
		},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			result.Text += variant.Text
		case anthropic.ToolUseBlock:
			var args map[string]any
			_ = json.Unmarshal(variant.Input, &args)
			result.ToolCalls = append(result.ToolCalls, types.ToolCall{
				ID: variant.ID, Name: variant.Name, Arguments: args,
			})
		}
	}
	return result, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	params := p.buildParams(req)
	stream := p.client.Messages.NewStreaming(ctx, params)

	out := make(chan StreamChunk, 32)
	go func() {
		defer close(out)

		var accum anthropic.Message
		pendingCalls := map[int]*types.ToolCall{}
		pendingArgs := map[int]string{}

		for stream.Next() {
			event := stream.Current()
			if err := accum.Accumulate(event); err != nil {
				out <- StreamChunk{Type: ChunkDone, Err: err}
				return
			}

			switch delta := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if tu, ok := delta.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					pendingCalls[int(delta.Index)] = &types.ToolCall{ID: tu.ID, Name: tu.Name}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch d := delta.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					out <- StreamChunk{Type: ChunkText, Text: d.Text}
				case anthropic.InputJSONDelta:
					pendingArgs[int(delta.Index)] += d.PartialJSON
				}
			case anthropic.ContentBlockStopEvent:
				if call, ok := pendingCalls[int(delta.Index)]; ok {
					var args map[string]any
					_ = json.Unmarshal([]byte(pendingArgs[int(delta.Index)]), &args)
					call.Arguments = args
					out <- StreamChunk{Type: ChunkToolDelta, ToolCall: call}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamChunk{Type: ChunkDone, Err: wrapAnthropicError(err)}
			return
		}

		out <- StreamChunk{Type: ChunkUsage, Usage: Usage{
			InputTokens:  int(accum.Usage.InputTokens),
			OutputTokens: int(accum.Usage.OutputTokens),
			CachedTokens: int(accum.Usage.CacheReadInputTokens),
		}}
		out <- StreamChunk{Type: ChunkDone}
	}()
	return out, nil
}

func (p *AnthropicProvider) buildParams(req CompletionRequest) anthropic.MessageNewParams {
	breakpoints := make(map[int]bool, len(req.CacheBreakpoints))
	for _, i := range req.CacheBreakpoints {
		breakpoints[i] = true
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for i, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if breakpoints[i] {
			block.OfText.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		switch m.Role {
		case types.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(block))
		default:
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: toAnthropicSchema(t.Parameters),
			},
		})
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}

func toAnthropicSchema(params map[string]any) anthropic.ToolInputSchemaParam {
	schema := anthropic.ToolInputSchemaParam{}
	if props, ok := params["properties"].(map[string]any); ok {
		schema.Properties = props
	}
	if req, ok := params["required"].([]any); ok {
		reqd := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				reqd = append(reqd, s)
			}
		}
		schema.ExtraFields = map[string]any{"required": reqd}
	}
	return schema
}

func wrapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if ok := asAnthropicAPIError(err, &apiErr); ok {
		if apiErr.StatusCode == 429 {
			info := ratelimit.RateLimitInfo{}
			if apiErr.Response != nil {
				info = ratelimit.ParseAnthropicRateLimitHeaders(apiErr.Response.Header)
			}
			return &RateLimitError{Info: info, Err: err}
		}
		if apiErr.StatusCode >= 500 {
			return &ratelimit.RetryableError{StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
		}
		// Other 4xx responses are auth or validation failures: not retried.
		return fmt.Errorf("anthropic: %w", err)
	}
	// No HTTP response at all: a transport failure, retried per policy.
	return &ratelimit.RetryableError{Message: "anthropic: " + err.Error(), Err: err}
}

func asAnthropicAPIError(err error, target **anthropic.Error) bool {
	apiErr, ok := err.(*anthropic.Error)
	if !ok {
		return false
	}
	*target = apiErr
	return true
}

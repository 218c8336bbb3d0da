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
	"fmt"
)

// StubProvider is a scripted, network-free Provider for tests and offline
// development: each call to Complete returns the next queued result (or
// error) in order.
type StubProvider struct {
	name    string
	results []CompletionResult
	errs    []error
	calls   int
}

func NewStubProvider(name string) *StubProvider {
	return &StubProvider{name: name}
}

// Enqueue schedules the next Complete call to return result, nil.
func (s *StubProvider) Enqueue(result CompletionResult) *StubProvider {
	s.results = append(s.results, result)
	s.errs = append(s.errs, nil)
	return s
}

// EnqueueError schedules the next Complete call to return err.
func (s *StubProvider) EnqueueError(err error) *StubProvider {
	s.results = append(s.results, CompletionResult{})
	s.errs = append(s.errs, err)
	return s
}

func (s *StubProvider) Name() string { return s.name }

func (s *StubProvider) Complete(_ context.Context, _ CompletionRequest) (CompletionResult, error) {
	if s.calls >= len(s.results) {
		return CompletionResult{}, fmt.Errorf("llmgateway: stub %q has no queued response for call %d", s.name, s.calls)
	}
	result, err := s.results[s.calls], s.errs[s.calls]
	s.calls++
	return result, err
}

func (s *StubProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	result, err := s.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(chan StreamChunk, len(result.ToolCalls)+2)
	if result.Text != "" {
		out <- StreamChunk{Type: ChunkText, Text: result.Text}
	}
	for _, tc := range result.ToolCalls {
		call := tc
		out <- StreamChunk{Type: ChunkToolDelta, ToolCall: &call}
	}
	out <- StreamChunk{Type: ChunkUsage, Usage: result.Usage}
	out <- StreamChunk{Type: ChunkDone}
	close(out)
	return out, nil
}

var _ Provider = (*StubProvider)(nil)

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
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/agentcore/internal/ratelimit"
	"github.com/kadirpekel/agentcore/pkg/registry"
)

// Gateway dispatches completions to a named Provider, retrying transport
// failures and honoring rate-limit backoff hints before surfacing a
// semantic EngineError to the caller.
type Gateway struct {
	*registry.BaseRegistry[Provider]
	policy RetryPolicy
}

func NewGateway(policy RetryPolicy) *Gateway {
	return &Gateway{BaseRegistry: registry.NewBaseRegistry[Provider](), policy: policy}
}

// Complete runs one non-streaming completion against the named provider,
// applying the retry policy around transport and rate-limit failures.
func (g *Gateway) Complete(ctx context.Context, providerName string, req CompletionRequest) (CompletionResult, error) {
	p, ok := g.Get(providerName)
	if !ok {
		return CompletionResult{}, fmt.Errorf("llmgateway: unknown provider %q", providerName)
	}

	var lastErr error
	attempts := g.policy.TransportRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := p.Complete(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		delay, retry := g.retryDelay(err, attempt, attempts)
		if !retry {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return CompletionResult{}, err
		}
	}
	return CompletionResult{}, lastErr
}

// Stream runs one streaming completion. Only the initial connection is
// retried per policy; once a stream starts emitting chunks, a mid-stream
// failure surfaces as a ChunkDone chunk with Err set rather than a silent retry,
// since partial output has already been observed by the caller.
func (g *Gateway) Stream(ctx context.Context, providerName string, req CompletionRequest) (<-chan StreamChunk, error) {
	p, ok := g.Get(providerName)
	if !ok {
		return nil, fmt.Errorf("llmgateway: unknown provider %q", providerName)
	}

	var lastErr error
	attempts := g.policy.TransportRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		ch, err := p.Stream(ctx, req)
		if err == nil {
			return ch, nil
		}
		lastErr = err

		delay, retry := g.retryDelay(err, attempt, attempts)
		if !retry {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// retryDelay decides whether attempt should be retried and how long to
// wait first. Auth and validation failures (caller-fixable, non-transport)
// are surfaced immediately; retryable transport errors back off
// exponentially; rate limits wait the provider's hint, capped.
func (g *Gateway) retryDelay(err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts-1 {
		return 0, false
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		wait := rl.Info.NextDelay(time.Now())
		if wait > g.policy.MaxRateLimitWait {
			wait = g.policy.MaxRateLimitWait
		}
		return wait, true
	}

	var re *ratelimit.RetryableError
	if errors.As(err, &re) {
		if re.RetryAfter > 0 {
			return re.RetryAfter, true
		}
		return g.policy.BaseDelay << attempt, true
	}

	return 0, false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RateLimitError wraps a provider's 429 response with its parsed rate
// limit headers so Gateway can compute a wait without re-parsing.
type RateLimitError struct {
	Info ratelimit.RateLimitInfo
	Err  error
}

func (e *RateLimitError) Error() string { return fmt.Sprintf("rate limited: %v", e.Err) }
func (e *RateLimitError) Unwrap() error { return e.Err }

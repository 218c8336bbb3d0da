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

// Package context assembles the per-turn prompt: fixed section ordering,
// importance-scored compression of the conversation middle, and token
// budget allocation across system, recalled memory, history, and the
// current user turn.
package context

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kadirpekel/agentcore/pkg/types"
)

// TokenCounter counts tokens against a specific model's encoding, falling
// back to cl100k_base for unrecognized models.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	mu       sync.RWMutex
}

var (
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
	encodingCacheMu sync.RWMutex
)

func NewTokenCounter(model string) (*TokenCounter, error) {
	encodingCacheMu.RLock()
	cached, ok := encodingCache[model]
	encodingCacheMu.RUnlock()
	if ok {
		return &TokenCounter{encoding: cached}, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("context: failed to load token encoding: %w", err)
		}
	}

	encodingCacheMu.Lock()
	encodingCache[model] = enc
	encodingCacheMu.Unlock()

	return &TokenCounter{encoding: enc}, nil
}

// Count returns the token length of text.
func (c *TokenCounter) Count(text string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.encoding.Encode(text, nil, nil))
}

// CountMessage includes the per-message role/framing overhead OpenAI's
// chat format adds on top of raw content tokens.
func (c *TokenCounter) CountMessage(m types.Message) int {
	return 3 + c.Count(string(m.Role)) + c.Count(m.Content)
}

// CountMessages sums CountMessage plus the fixed reply-priming overhead.
func (c *TokenCounter) CountMessages(messages []types.Message) int {
	total := 3
	for _, m := range messages {
		total += c.CountMessage(m)
	}
	return total
}

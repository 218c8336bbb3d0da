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

package context

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/agentcore/pkg/types"
)

// fixedOverheadTokens approximates the system+summary section budget the
// allocator reserves before splitting the remainder across recalled
// memory and history, per the configuration table's ~2000-token baseline.
const fixedOverheadTokens = 2000

// Summarizer condenses a contiguous run of pruned messages into one
// system-role Message. The manager has no model access of its own; a
// caller backed by an LLM gateway call supplies this.
type Summarizer func(messages []types.Message) (string, error)

// Assembled is the ordered, budget-fit prompt ready to hand to the LLM
// gateway: [system] -> [recalled memory] -> [compressed summary] ->
// [head] -> [middle, pruned] -> [tail] -> [user turn].
type Assembled struct {
	Messages   []types.Message
	TotalTokens int
	Compressed  bool
}

// Manager assembles and, when needed, compresses a turn's context within
// a fixed token budget.
type Manager struct {
	counter                 *TokenCounter
	windowTokens            int
	compressionTriggerRatio float64
	headPreserveTurns       int
	tailPreserveMessages    int
}

func NewManager(counter *TokenCounter, windowTokens int, compressionTriggerRatio float64, headPreserveTurns, tailPreserveMessages int) *Manager {
	return &Manager{
		counter:                 counter,
		windowTokens:            windowTokens,
		compressionTriggerRatio: compressionTriggerRatio,
		headPreserveTurns:       headPreserveTurns,
		tailPreserveMessages:    tailPreserveMessages,
	}
}

// Assemble builds one turn's prompt: system prompt, recalled memories
// rendered as a system-role block capped at 20% of the remaining budget,
// the (possibly already-compressed) history, and the current user turn
// truncated if it alone would overflow its share.
func (m *Manager) Assemble(systemPrompt string, recalled []types.RecalledMemory, history []types.Message, userTurn types.Message, summarize Summarizer) (Assembled, error) {
	budget := m.windowTokens
	remaining := budget - fixedOverheadTokens
	if remaining < 0 {
		remaining = 0
	}

	recalledBudget := remaining / 5 // <=20% of remaining
	recalledMsg, recalledTokens := m.renderRecalled(recalled, recalledBudget)
	remaining -= recalledTokens

	userTokens := m.counter.CountMessage(userTurn)
	if userTokens > remaining {
		maxChars := (remaining - 3 - m.counter.Count(string(userTurn.Role))) * 4 // heuristic chars-per-token inverse
		userTurn.Content = truncateEllipsis(userTurn.Content, maxChars)
		userTokens = m.counter.CountMessage(userTurn)
	}
	remaining -= userTokens
	if remaining < 0 {
		remaining = 0
	}

	out := []types.Message{{Role: types.RoleSystem, Content: systemPrompt}}
	if recalledMsg != nil {
		out = append(out, *recalledMsg)
	}

	historyTokens := m.counter.CountMessages(history)
	compressed := false
	if float64(historyTokens) > float64(budget)*m.compressionTriggerRatio && len(history) > 0 {
		compactedHistory, summary, err := m.compress(history, summarize)
		if err != nil {
			return Assembled{}, fmt.Errorf("context: compression failed: %w", err)
		}
		if summary != nil {
			out = append(out, *summary)
		}
		out = append(out, compactedHistory...)
		compressed = true
	} else {
		out = append(out, history...)
	}

	out = append(out, userTurn)

	total := m.counter.CountMessages(out)
	return Assembled{Messages: out, TotalTokens: total, Compressed: compressed}, nil
}

func (m *Manager) renderRecalled(recalled []types.RecalledMemory, budget int) (*types.Message, int) {
	if len(recalled) == 0 || budget <= 0 {
		return nil, 0
	}

	var b strings.Builder
	b.WriteString("Relevant memories:\n")
	for _, r := range recalled {
		line := fmt.Sprintf("- %s\n", r.Item.Content)
		if m.counter.Count(b.String()+line) > budget {
			break
		}
		b.WriteString(line)
	}
	msg := types.Message{Role: types.RoleSystem, Content: b.String()}
	return &msg, m.counter.CountMessage(msg)
}

// compress splits history into head (oldest headPreserveTurns user/assistant
// turns), tail (most recent tailPreserveMessages messages), and a middle.
// Middle messages scoring CRITICAL or HIGH are kept verbatim between head
// and tail; the rest are summarized into a single system message rather
// than dropped outright.
func (m *Manager) compress(history []types.Message, summarize Summarizer) ([]types.Message, *types.Message, error) {
	headCount := m.turnBoundary(history, m.headPreserveTurns, true)
	tailStart := len(history) - m.tailPreserveMessages
	if tailStart < headCount {
		tailStart = headCount
	}

	head := history[:headCount]
	middle := history[headCount:tailStart]
	tail := history[tailStart:]

	var kept, pruned []types.Message
	for i, msg := range middle {
		switch Bucket(ScoreMessage(msg, headCount+i, len(history))) {
		case BucketCritical, BucketHigh:
			kept = append(kept, msg)
		default:
			pruned = append(pruned, msg)
		}
	}

	out := append([]types.Message{}, head...)
	out = append(out, kept...)
	out = append(out, tail...)
	if len(pruned) == 0 {
		return out, nil, nil
	}

	text, err := summarize(pruned)
	if err != nil {
		return nil, nil, err
	}
	summary := types.Message{Role: types.RoleSystem, Content: "Summary of earlier conversation: " + text}
	return out, &summary, nil
}

// turnBoundary finds the message index that ends the nth user/assistant
// exchange from the start of history, so head preservation doesn't split
// a user message from its assistant reply.
func (m *Manager) turnBoundary(history []types.Message, turns int, fromStart bool) int {
	if turns <= 0 {
		return 0
	}
	count := 0
	for i, msg := range history {
		if msg.Role == types.RoleUser {
			count++
			if count > turns {
				return i
			}
		}
	}
	return len(history)
}

package context

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentcore/pkg/types"
)

func newTestCounter(t *testing.T) *TokenCounter {
	t.Helper()
	c, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)
	return c
}

func TestManager_Assemble_NoCompressionNeeded(t *testing.T) {
	mgr := NewManager(newTestCounter(t), 128_000, 0.7, 2, 6)

	history := []types.Message{
		{Role: types.RoleUser, Content: "hi"},
		{Role: types.RoleAssistant, Content: "hello"},
	}
	userTurn := types.Message{Role: types.RoleUser, Content: "what's next?"}

	assembled, err := mgr.Assemble("system prompt", nil, history, userTurn, failSummarize(t))
	require.NoError(t, err)
	assert.False(t, assembled.Compressed)
	assert.Equal(t, types.RoleSystem, assembled.Messages[0].Role)
	assert.Equal(t, userTurn.Content, assembled.Messages[len(assembled.Messages)-1].Content)
}

func TestManager_Assemble_CompressesLargeHistory(t *testing.T) {
	mgr := NewManager(newTestCounter(t), 500, 0.5, 1, 2)

	var history []types.Message
	for i := 0; i < 40; i++ {
		history = append(history,
			types.Message{Role: types.RoleUser, Content: strings.Repeat("word ", 30)},
			types.Message{Role: types.RoleAssistant, Content: strings.Repeat("reply ", 30)},
		)
	}
	userTurn := types.Message{Role: types.RoleUser, Content: "final question"}

	called := false
	summarize := func(messages []types.Message) (string, error) {
		called = true
		assert.NotEmpty(t, messages)
		return "condensed summary", nil
	}

	assembled, err := mgr.Assemble("system", nil, history, userTurn, summarize)
	require.NoError(t, err)
	assert.True(t, assembled.Compressed)
	assert.True(t, called)

	var foundSummary bool
	for _, m := range assembled.Messages {
		if strings.Contains(m.Content, "condensed summary") {
			foundSummary = true
		}
	}
	assert.True(t, foundSummary)
}

func TestManager_Assemble_RendersRecalledMemory(t *testing.T) {
	mgr := NewManager(newTestCounter(t), 128_000, 0.7, 2, 6)
	recalled := []types.RecalledMemory{
		{Item: types.MemoryItem{Content: "user prefers concise answers"}, Score: 0.9},
	}

	assembled, err := mgr.Assemble("system", recalled, nil, types.Message{Role: types.RoleUser, Content: "hi"}, failSummarize(t))
	require.NoError(t, err)

	var found bool
	for _, m := range assembled.Messages {
		if strings.Contains(m.Content, "user prefers concise answers") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestManager_Assemble_TruncatesOversizedUserTurn(t *testing.T) {
	mgr := NewManager(newTestCounter(t), 300, 0.7, 1, 2)
	huge := strings.Repeat("x", 10_000)

	assembled, err := mgr.Assemble("system", nil, nil, types.Message{Role: types.RoleUser, Content: huge}, failSummarize(t))
	require.NoError(t, err)
	last := assembled.Messages[len(assembled.Messages)-1]
	assert.Less(t, len(last.Content), len(huge))
}

func TestScoreMessage_HeadTailBoosted(t *testing.T) {
	total := 100
	headScore := ScoreMessage(types.Message{Role: types.RoleAssistant}, 0, total)
	midScore := ScoreMessage(types.Message{Role: types.RoleAssistant}, 50, total)
	assert.Greater(t, headScore, midScore)
}

func TestScoreMessage_KeywordsAndCode(t *testing.T) {
	plain := ScoreMessage(types.Message{Role: types.RoleAssistant, Content: "ok"}, 50, 100)
	withKeyword := ScoreMessage(types.Message{Role: types.RoleAssistant, Content: "remember this"}, 50, 100)
	withCode := ScoreMessage(types.Message{Role: types.RoleAssistant, Content: "```go\nfunc f(){}\n```"}, 50, 100)

	assert.Greater(t, withKeyword, plain)
	assert.Greater(t, withCode, plain)
}

func TestBucket(t *testing.T) {
	assert.Equal(t, BucketCritical, Bucket(55))
	assert.Equal(t, BucketHigh, Bucket(35))
	assert.Equal(t, BucketMedium, Bucket(20))
	assert.Equal(t, BucketLow, Bucket(10))
	assert.Equal(t, BucketTrivial, Bucket(0))
}

func failSummarize(t *testing.T) Summarizer {
	return func(messages []types.Message) (string, error) {
		t.Fatal("summarize should not be called when compression isn't triggered")
		return "", nil
	}
}

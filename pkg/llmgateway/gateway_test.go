package llmgateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentcore/internal/ratelimit"
)

func TestGateway_Complete_Success(t *testing.T) {
	gw := NewGateway(DefaultRetryPolicy())
	stub := NewStubProvider("stub").Enqueue(CompletionResult{Text: "hello"})
	require.NoError(t, gw.Register("stub", stub))

	result, err := gw.Complete(context.Background(), "stub", CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Text)
}

func TestGateway_Complete_UnknownProvider(t *testing.T) {
	gw := NewGateway(DefaultRetryPolicy())
	_, err := gw.Complete(context.Background(), "missing", CompletionRequest{})
	assert.Error(t, err)
}

func TestGateway_Complete_RetriesTransportError(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.BaseDelay = time.Millisecond
	gw := NewGateway(policy)

	stub := NewStubProvider("stub").
		EnqueueError(&ratelimit.RetryableError{StatusCode: 503, Message: "unavailable"}).
		Enqueue(CompletionResult{Text: "recovered"})
	require.NoError(t, gw.Register("stub", stub))

	result, err := gw.Complete(context.Background(), "stub", CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Text)
}

func TestGateway_Complete_AuthErrorNotRetried(t *testing.T) {
	gw := NewGateway(DefaultRetryPolicy())
	stub := NewStubProvider("stub").EnqueueError(assertAuthError{})
	require.NoError(t, gw.Register("stub", stub))

	_, err := gw.Complete(context.Background(), "stub", CompletionRequest{})
	assert.Error(t, err)
	assert.Equal(t, 1, stub.calls, "non-retryable errors must not be retried")
}

type assertAuthError struct{}

func (assertAuthError) Error() string { return "unauthorized" }

func TestGateway_Stream(t *testing.T) {
	gw := NewGateway(DefaultRetryPolicy())
	stub := NewStubProvider("stub").Enqueue(CompletionResult{Text: "streamed"})
	require.NoError(t, gw.Register("stub", stub))

	ch, err := gw.Stream(context.Background(), "stub", CompletionRequest{})
	require.NoError(t, err)

	var text string
	for chunk := range ch {
		if chunk.Type == ChunkText {
			text += chunk.Text
		}
	}
	assert.Equal(t, "streamed", text)
}

package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neverdownhq/neverdown/internal/fault"
)

// flakyProvider fails a fixed number of times, then succeeds.
type flakyProvider struct {
	failures int
	calls    int
}

func (f *flakyProvider) Name() string { return "flaky" }

func (f *flakyProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, wrapCallError("flaky", errors.New("connection refused"))
	}
	return &Response{Content: "ok"}, nil
}

func TestBreakerPassesThrough(t *testing.T) {
	t.Parallel()

	b := newBreaker(&flakyProvider{}, time.Second)
	resp, err := b.Chat(context.Background(), Request{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	provider := &flakyProvider{failures: 100}
	b := newBreaker(provider, time.Second)

	for i := 0; i < 5; i++ {
		_, err := b.Chat(context.Background(), Request{})
		require.Error(t, err)
		assert.Equal(t, fault.CodeLLMError, fault.CodeOf(err, ""))
	}

	// Sixth call hits the open breaker, not the provider.
	callsBefore := provider.calls
	_, err := b.Chat(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, fault.CodeCircuitBreakerOpen, fault.CodeOf(err, ""))
	assert.Equal(t, callsBefore, provider.calls)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := New(testLLMConfig("bard"))
	assert.Error(t, err)
}

func TestNewBuildsKnownProviders(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"anthropic", "openai"} {
		p, err := New(testLLMConfig(name))
		require.NoError(t, err)
		assert.Equal(t, name, p.Name())
	}
}

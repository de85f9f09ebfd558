// Package llm abstracts the chat-completion endpoint behind a provider
// interface with anthropic-style and openai-style implementations. The
// reasoner is the only pipeline component allowed to import this package.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/neverdownhq/neverdown/internal/config"
	"github.com/neverdownhq/neverdown/internal/fault"
	"github.com/neverdownhq/neverdown/internal/model"
)

// Request is one chat call: a system instruction plus a user message.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Response is the provider-normalised reply.
type Response struct {
	Content string
	Usage   model.TokenUsage
}

// Provider is the capability abstraction over chat-completion dialects.
type Provider interface {
	// Chat submits one exchange and returns the assistant's reply.
	// HTTP-level failures come back as llm_error faults.
	Chat(ctx context.Context, req Request) (*Response, error)

	// Name identifies the provider dialect.
	Name() string
}

// New builds the configured provider, wrapped in the circuit breaker.
func New(cfg config.LLMConfig) (Provider, error) {
	var inner Provider
	switch cfg.Provider {
	case "anthropic":
		inner = newAnthropic(cfg)
	case "openai":
		inner = newOpenAI(cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	return newBreaker(inner, time.Duration(cfg.Timeout)*time.Second), nil
}

// wrapCallError classifies a transport failure.
func wrapCallError(provider string, err error) error {
	return fault.Wrap(fault.CodeLLMError, err, "%s call failed", provider)
}

package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/neverdownhq/neverdown/internal/config"
	"github.com/neverdownhq/neverdown/internal/fault"
	"github.com/neverdownhq/neverdown/internal/model"
)

// openAIProvider speaks the OpenAI chat-completions API.
type openAIProvider struct {
	client *openai.Client
	model  string
}

func newOpenAI(cfg config.LLMConfig) *openAIProvider {
	return &openAIProvider{
		client: openai.NewClient(cfg.APIKey.Reveal()),
		model:  cfg.Model,
	}
}

func (p *openAIProvider) Name() string { return "openai" }

func (p *openAIProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
	})
	if err != nil {
		return nil, wrapCallError("openai", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fault.New(fault.CodeLLMError, "openai reply contained no choices")
	}
	return &Response{
		Content: resp.Choices[0].Message.Content,
		Usage: model.TokenUsage{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
		},
	}, nil
}

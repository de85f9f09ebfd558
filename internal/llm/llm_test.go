package llm

import "github.com/neverdownhq/neverdown/internal/config"

// testLLMConfig returns a minimal config for the given provider dialect.
func testLLMConfig(provider string) config.LLMConfig {
	return config.LLMConfig{
		Provider:    provider,
		APIKey:      config.Secret("test-key"),
		Model:       "test-model",
		MaxTokens:   1024,
		Temperature: 0.1,
		Timeout:     5,
	}
}

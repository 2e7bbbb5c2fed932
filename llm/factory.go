package llm

import (
	"context"

	"github.com/leeoohoo/deepseek-cli/config"
	"github.com/leeoohoo/deepseek-cli/errors"
)

type constructor func(ctx context.Context, settings config.ModelSettings) (Client, error)

// providers maps a configured provider name to its adapter constructor.
var providers = map[string]constructor{
	"deepseek":  func(ctx context.Context, s config.ModelSettings) (Client, error) { return NewOpenAIClient(ctx, s) },
	"openai":    func(ctx context.Context, s config.ModelSettings) (Client, error) { return NewOpenAIClient(ctx, s) },
	"anthropic": func(ctx context.Context, s config.ModelSettings) (Client, error) { return NewAnthropicClient(ctx, s) },
	"gemini":    func(ctx context.Context, s config.ModelSettings) (Client, error) { return NewGeminiClient(ctx, s) },
	"bedrock":   func(ctx context.Context, s config.ModelSettings) (Client, error) { return NewBedrockClient(ctx, s) },
}

// New builds the client for the provider named in the model settings.
func New(ctx context.Context, settings config.ModelSettings) (Client, error) {
	build, ok := providers[settings.Provider]
	if !ok {
		return nil, errors.Configf("unknown provider %q", settings.Provider)
	}
	return build(ctx, settings)
}

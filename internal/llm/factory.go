// Package llm builds chat models from configuration and provides structured
// generation helpers on top of them.
package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/atlathelper/internal/logging"
)

var log = logging.Component("llm")

// Settings selects a provider and model for one conversation turn.
type Settings struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// Default models per provider, used when Model is empty.
const (
	defaultGeminiModel = "gemini-2.5-flash"
	defaultClaudeModel = "claude-3-5-sonnet-20241022"
	defaultOllamaModel = "llama3.1"
)

// Factory builds llms.Model instances. Base settings come from server
// configuration; a per-request config map can override them.
type Factory struct {
	base Settings
}

// NewFactory returns a factory with the given base settings.
func NewFactory(base Settings) *Factory {
	return &Factory{base: base}
}

// Model builds a chat model from the base settings merged with the
// per-request overrides, if any.
func (f *Factory) Model(ctx context.Context, overrides map[string]string) (llms.Model, error) {
	s := f.base
	if v := overrides["model_provider"]; v != "" {
		s.Provider = v
	}
	if v := overrides["model_name"]; v != "" {
		s.Model = v
	}
	if v := overrides["api_key"]; v != "" {
		s.APIKey = v
	}
	if v := overrides["base_url"]; v != "" {
		s.BaseURL = v
	}
	return New(ctx, s)
}

// New builds a chat model for the given settings.
func New(ctx context.Context, s Settings) (llms.Model, error) {
	switch s.Provider {
	case "gemini", "google":
		model := s.Model
		if model == "" {
			model = defaultGeminiModel
		}
		log.Debug().Str("provider", "gemini").Str("model", model).Msg("creating LLM client")
		return googleai.New(ctx,
			googleai.WithAPIKey(s.APIKey),
			googleai.WithDefaultModel(model),
			googleai.WithDefaultMaxTokens(8192),
		)
	case "claude", "anthropic":
		model := s.Model
		if model == "" {
			model = defaultClaudeModel
		}
		log.Debug().Str("provider", "claude").Str("model", model).Msg("creating LLM client")
		return anthropic.New(
			anthropic.WithToken(s.APIKey),
			anthropic.WithModel(model),
		)
	case "ollama":
		model := s.Model
		if model == "" {
			model = defaultOllamaModel
		}
		opts := []ollama.Option{ollama.WithModel(model)}
		if s.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(s.BaseURL))
		}
		log.Debug().Str("provider", "ollama").Str("model", model).Msg("creating LLM client")
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", s.Provider)
	}
}

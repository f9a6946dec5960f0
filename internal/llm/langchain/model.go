// Package langchain adapts langchaingo chat models (OpenAI, Ollama, Anthropic) to llm.ChatCompleter.
package langchain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/llm"
)

const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string // ollama server url or an OpenAI-compatible base url
	Temperature float64
	JSONMode    bool
}

// Model wraps a langchaingo llms.Model bound to one model name.
type Model struct {
	llm       llms.Model
	modelName string
	opts      []llms.CallOption
	logger    *slog.Logger
}

var _ llm.ChatCompleter = (*Model)(nil)

// NewModel creates a chat model for the configured provider.
func NewModel(cfg Config, logger *slog.Logger) (*Model, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		if cfg.JSONMode {
			opts = append(opts, ollama.WithFormat("json"))
		}
		model, err = ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey), openai.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	callOpts := []llms.CallOption{llms.WithTemperature(cfg.Temperature)}
	if cfg.JSONMode && cfg.Provider == ProviderOpenAI {
		callOpts = append(callOpts, llms.WithJSONMode())
	}
	return &Model{
		llm:       model,
		modelName: cfg.Model,
		opts:      callOpts,
		logger:    logger.With("llm_provider", cfg.Provider, "llm_model", cfg.Model),
	}, nil
}

// Wrap adapts an existing llms.Model, mainly for tests.
func Wrap(model llms.Model, name string, logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{llm: model, modelName: name, logger: logger}
}

func (m *Model) Model() string { return m.modelName }

// Complete sends a system and a human message and returns the first choice.
func (m *Model) Complete(ctx context.Context, system, user string) (string, error) {
	start := time.Now()
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	response, err := m.llm.GenerateContent(ctx, messages, m.opts...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("generate with system: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	common.LoggerFrom(ctx, m.logger).Info("llm.complete.ok",
		"stop_reason", response.Choices[0].StopReason,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return response.Choices[0].Content, nil
}

package classify

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"inboxtriage/pkg/config"
)

// Completer sends one system+user prompt and returns the raw reply text.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type CompletionRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int64
}

var errEmptyCompletion = errors.New("oracle returned no completion choices")

// OpenAICompleter talks to an OpenAI-compatible chat completions endpoint.
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

func NewOpenAICompleter(cfg config.OpenAIConfig) *OpenAICompleter {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	} else {
		opts = append(opts, option.WithRequestTimeout(30*time.Second))
	}

	client := openai.NewClient(opts...)
	return &OpenAICompleter{client: &client, model: cfg.Model}
}

func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Model:       c.model,
		Temperature: openai.Float(req.Temperature),
		MaxTokens:   openai.Int(req.MaxTokens),
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", errEmptyCompletion
	}
	return completion.Choices[0].Message.Content, nil
}

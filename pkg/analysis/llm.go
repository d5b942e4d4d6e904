package analysis

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"scribe-server/pkg/config"
	"scribe-server/pkg/errors"
)

// LanguageModel is the synchronous completion collaborator: one prompt in,
// one text blob out. The engine never retries internally; retry is the
// caller's decision.
type LanguageModel interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OpenAIModel implements LanguageModel over the OpenAI chat completion API.
type OpenAIModel struct {
	logger *logrus.Logger
	client *openai.Client
	config config.AIConfig
}

// NewOpenAIModel creates a language model client from the AI configuration.
func NewOpenAIModel(logger *logrus.Logger, cfg config.AIConfig) *OpenAIModel {
	return &OpenAIModel{
		logger: logger,
		client: openai.NewClient(cfg.APIKey),
		config: cfg,
	}
}

// Complete sends a single chat completion request and returns the response
// text.
func (m *OpenAIModel) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       m.config.Model,
		MaxTokens:   m.config.MaxTokens,
		Temperature: m.config.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", errors.NewModelAPI("chat completion request failed",
			map[string]interface{}{"model": m.config.Model}).WithField("cause", err.Error())
	}

	if len(resp.Choices) == 0 {
		return "", errors.NewModelAPI("chat completion returned no choices",
			map[string]interface{}{"model": m.config.Model})
	}

	m.logger.WithFields(logrus.Fields{
		"model":             m.config.Model,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	}).Debug("Chat completion received")

	return resp.Choices[0].Message.Content, nil
}

package summary

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAISummarizer struct {
	client  *openai.Client
	prompt  string
	model   string
	timeout time.Duration
}

// NewOpenAISummarizer creates a summarizer backed by any OpenAI-compatible API.
// An empty baseURL means api.openai.com.
func NewOpenAISummarizer(baseURL, apiKey, prompt, model string, timeout time.Duration) *OpenAISummarizer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAISummarizer{
		client:  openai.NewClientWithConfig(cfg),
		prompt:  prompt,
		model:   model,
		timeout: timeout,
	}
}

// Summarize condenses an announcement body to at most maxRunes runes.
func (o *OpenAISummarizer) Summarize(ctx context.Context, title, text string, maxRunes int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: tokenBudget(maxRunes),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.prompt},
			{Role: openai.ChatMessageRoleUser, Content: announcementPrompt(title, text, maxRunes)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarize %q: %w", title, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summarize %q: model %q: %w", title, o.model, ErrEmpty)
	}

	return checkLength(resp.Choices[0].Message.Content, maxRunes)
}

package summary

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaSummarizer runs one generation at a time; a local model serves
// requests sequentially anyway.
type OllamaSummarizer struct {
	client  *api.Client
	prompt  string
	model   string
	timeout time.Duration
	mu      sync.Mutex
}

// NewOllamaSummarizer talks to an Ollama server. baseURL is either a bare
// host:port or a full http(s) URL.
func NewOllamaSummarizer(baseURL, prompt, model string, timeout time.Duration) *OllamaSummarizer {
	return &OllamaSummarizer{
		client:  api.NewClient(ollamaURL(baseURL), &http.Client{}),
		prompt:  prompt,
		model:   model,
		timeout: timeout,
	}
}

func ollamaURL(baseURL string) *url.URL {
	if u, err := url.Parse(baseURL); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return u
	}
	return &url.URL{
		Scheme: "http",
		Host:   baseURL,
		Path:   "/",
	}
}

func (o *OllamaSummarizer) Summarize(ctx context.Context, title, text string, maxRunes int) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	stream := false
	req := &api.GenerateRequest{
		Model:   o.model,
		System:  o.prompt,
		Prompt:  announcementPrompt(title, text, maxRunes),
		Stream:  &stream,
		Options: map[string]any{"num_predict": tokenBudget(maxRunes)},
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var out strings.Builder
	err := o.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("summarize %q: %w", title, err)
	}

	return checkLength(out.String(), maxRunes)
}

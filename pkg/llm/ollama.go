package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type ollamaCaller struct {
	cfg    Config
	client *http.Client
}

func newOllama(cfg Config, client *http.Client) *ollamaCaller {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	return &ollamaCaller{cfg: cfg, client: client}
}

func (c *ollamaCaller) Provider() string { return ProviderOllama }
func (c *ollamaCaller) Model() string    { return c.cfg.Model }

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Message         openAIMessage `json:"message"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func (c *ollamaCaller) Call(ctx context.Context, r Request) (*Response, error) {
	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/api/chat"

	req, _, err := jsonRequest(ctx, http.MethodPost, url, ollamaRequest{
		Model: c.cfg.Model,
		Messages: []openAIMessage{
			{Role: "system", Content: r.System},
			{Role: "user", Content: r.Input},
		},
		Stream: false,
		Options: ollamaOptions{
			Temperature: r.Temperature,
			NumPredict:  r.MaxTokens,
		},
	})
	if err != nil {
		return nil, err
	}

	body, err := send(c.client, req)
	if err != nil {
		return nil, err
	}

	var envelope ollamaResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadEnvelope, err)
	}
	if envelope.Message.Content == "" {
		return nil, fmt.Errorf("%w: empty message", ErrBadEnvelope)
	}

	return &Response{
		Content:      envelope.Message.Content,
		InputTokens:  envelope.PromptEvalCount,
		OutputTokens: envelope.EvalCount,
	}, nil
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type openAICaller struct {
	cfg    Config
	client *http.Client
}

func newOpenAI(cfg Config, client *http.Client) *openAICaller {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &openAICaller{cfg: cfg, client: client}
}

func (c *openAICaller) Provider() string { return ProviderOpenAI }
func (c *openAICaller) Model() string    { return c.cfg.Model }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *openAICaller) Call(ctx context.Context, r Request) (*Response, error) {
	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"

	req, _, err := jsonRequest(ctx, http.MethodPost, url, openAIRequest{
		Model: c.cfg.Model,
		Messages: []openAIMessage{
			{Role: "system", Content: r.System},
			{Role: "user", Content: r.Input},
		},
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	body, err := send(c.client, req)
	if err != nil {
		return nil, err
	}

	var envelope openAIResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadEnvelope, err)
	}
	if len(envelope.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrBadEnvelope)
	}

	return &Response{
		Content:      envelope.Choices[0].Message.Content,
		InputTokens:  envelope.Usage.PromptTokens,
		OutputTokens: envelope.Usage.CompletionTokens,
	}, nil
}

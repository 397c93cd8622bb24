package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const defaultAnthropicVersion = "2023-06-01"

type anthropicCaller struct {
	cfg    Config
	client *http.Client
}

func newAnthropic(cfg Config, client *http.Client) *anthropicCaller {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAnthropicVersion
	}
	return &anthropicCaller{cfg: cfg, client: client}
}

func (c *anthropicCaller) Provider() string { return ProviderAnthropic }
func (c *anthropicCaller) Model() string    { return c.cfg.Model }

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *anthropicCaller) Call(ctx context.Context, r Request) (*Response, error) {
	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/v1/messages"

	req, _, err := jsonRequest(ctx, http.MethodPost, url, anthropicRequest{
		Model:       c.cfg.Model,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		System:      r.System,
		Messages: []anthropicMessage{
			{Role: "user", Content: r.Input},
		},
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", c.cfg.APIVersion)

	body, err := send(c.client, req)
	if err != nil {
		return nil, err
	}

	var envelope anthropicResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadEnvelope, err)
	}

	text := collectText(envelope)
	if text == "" {
		return nil, fmt.Errorf("%w: no text content", ErrBadEnvelope)
	}

	return &Response{
		Content:      text,
		InputTokens:  envelope.Usage.InputTokens,
		OutputTokens: envelope.Usage.OutputTokens,
	}, nil
}

func collectText(envelope anthropicResponse) string {
	var sb strings.Builder
	for _, block := range envelope.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

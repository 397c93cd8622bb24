// Package llm provides a uniform adapter over text-completion providers.
// Each backend owns its request shape, auth headers, and response envelope;
// callers see a single Call contract with a system prompt, an input blob,
// a temperature, and an output token ceiling.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Supported provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderOllama    = "ollama"
)

// Request is one completion call.
type Request struct {
	System      string
	Input       string
	Temperature float64
	MaxTokens   int
}

// Response is the provider's reply with token accounting when reported.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Caller invokes a specific provider/model completion endpoint.
type Caller interface {
	Call(ctx context.Context, req Request) (*Response, error)
	Provider() string
	Model() string
}

// Config selects and parameterizes a provider backend.
type Config struct {
	Provider   string `toml:"provider" json:"provider"`
	Model      string `toml:"model" json:"model"`
	BaseURL    string `toml:"base_url" json:"base_url"`
	APIKey     string `toml:"api_key" json:"-"`
	APIVersion string `toml:"api_version" json:"api_version"`

	// Bedrock signing parameters.
	Region          string `toml:"region" json:"region"`
	AccessKeyID     string `toml:"access_key_id" json:"-"`
	SecretAccessKey string `toml:"secret_access_key" json:"-"`
	SessionToken    string `toml:"session_token" json:"-"`
}

// New constructs the backend for cfg.Provider.
func New(cfg Config, client *http.Client) (Caller, error) {
	if client == nil {
		client = &http.Client{}
	}

	switch cfg.Provider {
	case ProviderOpenAI:
		return newOpenAI(cfg, client), nil
	case ProviderAnthropic:
		return newAnthropic(cfg, client), nil
	case ProviderBedrock:
		return newBedrock(cfg, client)
	case ProviderOllama:
		return newOllama(cfg, client), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// send issues the HTTP request and returns the raw response body,
// translating failures into the adapter's error taxonomy.
func send(client *http.Client, req *http.Request) ([]byte, error) {
	res, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, deadlineHint(req.Context()))
		}
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &HTTPError{Status: res.StatusCode, Body: snippet(body)}
	}

	return body, nil
}

func jsonRequest(ctx context.Context, method, url string, payload any) (*http.Request, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	return req, body, nil
}

func deadlineHint(ctx context.Context) string {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline).Round(time.Millisecond).String()
	}
	return "deadline"
}

func snippet(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

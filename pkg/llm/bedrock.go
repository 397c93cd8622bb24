package llm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

type bedrockCaller struct {
	cfg    Config
	client *http.Client
	signer *v4.Signer
}

func newBedrock(cfg Config, client *http.Client) (*bedrockCaller, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("bedrock requires a region")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("bedrock requires access credentials")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", cfg.Region)
	}
	return &bedrockCaller{cfg: cfg, client: client, signer: v4.NewSigner()}, nil
}

func (c *bedrockCaller) Provider() string { return ProviderBedrock }
func (c *bedrockCaller) Model() string    { return c.cfg.Model }

type bedrockRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float64            `json:"temperature"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

func (c *bedrockCaller) Call(ctx context.Context, r Request) (*Response, error) {
	payload, err := json.Marshal(bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        r.MaxTokens,
		Temperature:      r.Temperature,
		System:           r.System,
		Messages: []anthropicMessage{
			{Role: "user", Content: r.Input},
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost,
		c.invokeURL(), bytes.NewReader(payload),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	hash := sha256.Sum256(payload)
	creds := aws.Credentials{
		AccessKeyID:     c.cfg.AccessKeyID,
		SecretAccessKey: c.cfg.SecretAccessKey,
		SessionToken:    c.cfg.SessionToken,
	}

	err = c.signer.SignHTTP(
		ctx, creds, req,
		hex.EncodeToString(hash[:]),
		"bedrock", c.cfg.Region, time.Now(),
	)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

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

// invokeURL builds the model-invoke path. Bedrock expects the colon in
// versioned model ids (e.g. anthropic.claude-3-5-sonnet-20241022-v2:0) to
// arrive double-encoded; single-encoding the path yields a signature
// mismatch, so the %3A -> %253A substitution is a wire compatibility
// requirement, not an escaping bug.
func (c *bedrockCaller) invokeURL() string {
	escaped := url.PathEscape(c.cfg.Model)
	escaped = strings.ReplaceAll(escaped, "%3A", "%253A")
	return fmt.Sprintf("%s/model/%s/invoke", strings.TrimSuffix(c.cfg.BaseURL, "/"), escaped)
}

// Package openai implements the text-completion oracle against any
// OpenAI-compatible chat completions endpoint (OpenAI, Ollama, vLLM).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/common"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 512

// Config configures the client.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	// HTTPTimeout is a transport-level backstop. Per-call deadlines come from
	// the caller's context.
	HTTPTimeout time.Duration
}

// Client calls POST {BaseURL}/chat/completions.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config, logger logging.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.NewValidationError("oracle.llm.base_url", "must not be empty")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.NewValidationError("oracle.llm.model", "must not be empty")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     logger.Named("openai"),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete implements common.TextCompleter. It never retries.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, opts common.CompletionOptions) (string, error) {
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if reqBody.MaxTokens == 0 {
		reqBody.MaxTokens = c.cfg.MaxTokens
	}
	if opts.JSONMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode completion request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeOracleUnavailable, "failed to build completion request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if common.IsDeadline(err) {
			return "", err
		}
		return "", errors.Wrap(err, errors.ErrCodeOracleUnavailable, "completion request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", errors.Newf(errors.ErrCodeOracleUnavailable, "completion endpoint returned %s", resp.Status).
			WithDetail(strings.TrimSpace(string(body)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if common.IsDeadline(err) {
			return "", err
		}
		return "", errors.Wrap(err, errors.ErrCodeOracleOutput, "invalid completion response")
	}
	if len(out.Choices) == 0 {
		return "", errors.New(errors.ErrCodeOracleOutput, "completion response has no choices")
	}

	c.logger.Debug("completion received",
		logging.String("model", c.cfg.Model),
		logging.Duration("latency", time.Since(start)),
		logging.Int("prompt_tokens", out.Usage.PromptTokens),
		logging.Int("completion_tokens", out.Usage.CompletionTokens),
		logging.String("finish_reason", out.Choices[0].FinishReason),
	)
	return out.Choices[0].Message.Content, nil
}

// String identifies the endpoint in logs.
func (c *Client) String() string {
	return fmt.Sprintf("openai(%s, %s)", c.cfg.BaseURL, c.cfg.Model)
}

var _ common.TextCompleter = (*Client)(nil)

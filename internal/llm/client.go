// Package llm implements the provider call contract the pipeline consumes:
// Complete(messages, options) → completion response, with failures classified
// as RATE_LIMIT, PROVIDER_ERROR, or PARSE_ERROR. The HTTP client speaks the
// Anthropic messages API and the OpenAI chat-completions wire format.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/asklens/asklens/internal/config"
	"github.com/asklens/asklens/pkg/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Client is the completion contract consumed by the SQL and narrative
// generators (through the resilience gate).
type Client interface {
	Complete(ctx context.Context, messages []models.ChatMessage, opts models.CompletionOptions) (*models.CompletionResponse, error)
}

// minAttemptTimeout is the floor for a single network attempt even when the
// remaining deadline budget is smaller.
const minAttemptTimeout = 2 * time.Second

// HTTPClient calls an LLM provider over HTTP with bounded retries.
type HTTPClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewHTTPClient builds a provider client from configuration.
func NewHTTPClient(cfg config.LLMConfig) *HTTPClient {
	return &HTTPClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Complete sends the conversation and retries retryable transport failures
// with exponential backoff. The overall deadline budget is opts.Timeout
// (falling back to the configured default); a retry is only attempted while
// at least 20% of that budget remains, and each attempt's network deadline
// is the remaining budget with a minimum floor.
func (c *HTTPClient) Complete(ctx context.Context, messages []models.ChatMessage, opts models.CompletionOptions) (*models.CompletionResponse, error) {
	budget := opts.Timeout
	if budget <= 0 {
		budget = c.cfg.Timeout
	}
	start := time.Now()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 8 * time.Second

	var lastErr error
	for attempt := 0; ; attempt++ {
		remaining := budget - time.Since(start)
		attemptTimeout := remaining
		if attemptTimeout < minAttemptTimeout {
			attemptTimeout = minAttemptTimeout
		}

		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		resp, err := c.call(attemptCtx, messages, opts)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var te *TransportError
		if !errors.As(err, &te) || !te.Retryable {
			return nil, err
		}
		if attempt >= c.cfg.MaxTransportRetries {
			log.Warn().Err(err).Int("attempts", attempt+1).Msg("llm transport retries exhausted")
			return nil, lastErr
		}
		if budget-time.Since(start) < budget/5 {
			log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("llm deadline budget too low to retry")
			return nil, lastErr
		}

		delay := bo.NextBackOff()
		if te.RetryAfter > 0 {
			delay = te.RetryAfter
		}
		log.Debug().
			Str("kind", string(te.Kind)).
			Dur("delay", delay).
			Int("attempt", attempt+1).
			Msg("retrying llm call")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// call performs one provider round trip.
func (c *HTTPClient) call(ctx context.Context, messages []models.ChatMessage, opts models.CompletionOptions) (*models.CompletionResponse, error) {
	start := time.Now()

	var resp *models.CompletionResponse
	var err error
	switch c.cfg.Kind {
	case "anthropic":
		resp, err = c.callAnthropic(ctx, messages, opts)
	default:
		// Generic OpenAI-compatible endpoint
		resp, err = c.callOpenAI(ctx, messages, opts)
	}
	if err != nil {
		return nil, err
	}
	resp.LatencyMs = time.Since(start).Milliseconds()
	resp.Model = c.cfg.Model
	return resp, nil
}

// ── Anthropic Provider ──────────────────────────────────────

type anthropicRequest struct {
	Model     string               `json:"model"`
	System    string               `json:"system,omitempty"`
	Messages  []models.ChatMessage `json:"messages"`
	MaxTokens int                  `json:"max_tokens"`
	Temp      float64              `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (c *HTTPClient) callAnthropic(ctx context.Context, messages []models.ChatMessage, opts models.CompletionOptions) (*models.CompletionResponse, error) {
	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.anthropic.com"
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	body, _ := json.Marshal(anthropicRequest{
		Model:     c.cfg.Model,
		System:    opts.SystemPrompt,
		Messages:  messages,
		MaxTokens: maxTokens,
		Temp:      opts.Temperature,
	})

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Kind: ErrProviderError, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Kind: ErrProviderError, Message: fmt.Sprintf("request failed: %v", err), Retryable: true}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyStatus(httpResp)
	}

	var ar anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&ar); err != nil {
		return nil, &TransportError{Kind: ErrProviderError, Message: fmt.Sprintf("decode response: %v", err)}
	}

	content := ""
	for _, block := range ar.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	return &models.CompletionResponse{
		Content:      content,
		TokensInput:  ar.Usage.InputTokens,
		TokensOutput: ar.Usage.OutputTokens,
		StopReason:   ar.StopReason,
	}, nil
}

// ── OpenAI-compatible Provider ──────────────────────────────

type openAIRequest struct {
	Model       string               `json:"model"`
	Messages    []models.ChatMessage `json:"messages"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Temperature float64              `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *HTTPClient) callOpenAI(ctx context.Context, messages []models.ChatMessage, opts models.CompletionOptions) (*models.CompletionResponse, error) {
	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}

	all := messages
	if opts.SystemPrompt != "" {
		all = append([]models.ChatMessage{{Role: "system", Content: opts.SystemPrompt}}, messages...)
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	body, _ := json.Marshal(openAIRequest{
		Model:       c.cfg.Model,
		Messages:    all,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
	})

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Kind: ErrProviderError, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Kind: ErrProviderError, Message: fmt.Sprintf("request failed: %v", err), Retryable: true}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyStatus(httpResp)
	}

	var or openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&or); err != nil {
		return nil, &TransportError{Kind: ErrProviderError, Message: fmt.Sprintf("decode response: %v", err)}
	}

	content := ""
	stopReason := ""
	if len(or.Choices) > 0 {
		content = or.Choices[0].Message.Content
		stopReason = or.Choices[0].FinishReason
	}
	return &models.CompletionResponse{
		Content:      content,
		TokensInput:  or.Usage.PromptTokens,
		TokensOutput: or.Usage.CompletionTokens,
		StopReason:   stopReason,
	}, nil
}

// classifyStatus maps a non-200 provider status to the error taxonomy:
// 429 → RATE_LIMIT (retryable, honoring Retry-After), 5xx → PROVIDER_ERROR
// retryable, other 4xx → PROVIDER_ERROR non-retryable.
func classifyStatus(resp *http.Response) *TransportError {
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := string(respBody)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &TransportError{
			Kind:       ErrRateLimit,
			StatusCode: resp.StatusCode,
			Message:    msg,
			Retryable:  true,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 500:
		return &TransportError{Kind: ErrProviderError, StatusCode: resp.StatusCode, Message: msg, Retryable: true}
	default:
		return &TransportError{Kind: ErrProviderError, StatusCode: resp.StatusCode, Message: msg, Retryable: false}
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

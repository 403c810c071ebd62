// Package gemini is a minimal client for the generateContent API with
// pooled HTTP/2 transport, retries, and smooth rate limiting.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	maxAttempts         = 5
	initialBackoff      = 500 * time.Millisecond
	maxBackoff          = 30 * time.Second
	defaultTimeout      = 120 * time.Second
	maxIdleConns        = 100
	maxConnsPerHost     = 100
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
)

// DefaultModel is used when callers pass an empty model name.
const DefaultModel = "gemini-2.0-flash"

// Client is a Gemini API client with HTTP/2 support and retries
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	limiter     *rate.Limiter
	useADC      bool
	accessToken string
	tokenExpiry time.Time
	tokenMu     sync.Mutex

	// Usage tracking
	usageMu           sync.Mutex
	totalPromptTokens int64
	totalOutputTokens int64
	generateCalls     int64
}

// NewClient creates a new Gemini client with HTTP/2 pooling and retries.
// If apiKey is empty, uses Application Default Credentials (gcloud auth).
func NewClient(apiKey string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxConnsPerHost,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   defaultTimeout,
		},
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		useADC:  apiKey == "",
	}
}

// SetBaseURL overrides the API endpoint. Used by tests against a mock server.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = strings.TrimSuffix(url, "/")
}

// SetRPM sets a smooth rate limit for GenerateContent requests.
// rpm<=0 disables rate limiting.
func (c *Client) SetRPM(rpm int) {
	if c == nil {
		return
	}
	if rpm <= 0 {
		c.limiter = nil
		return
	}
	c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

func (c *Client) getAccessToken() (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Now().Add(60*time.Second).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	cmd := exec.Command("gcloud", "auth", "application-default", "print-access-token")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("gcloud auth failed: %w (run 'gcloud auth application-default login')", err)
	}

	c.accessToken = strings.TrimSpace(string(output))
	c.tokenExpiry = time.Now().Add(55 * time.Minute)
	return c.accessToken, nil
}

func (c *Client) buildRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	var url string
	if c.useADC {
		url = fmt.Sprintf("%s/%s", c.baseURL, endpoint)
	} else {
		url = fmt.Sprintf("%s/%s?key=%s", c.baseURL, endpoint, c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	if c.useADC {
		token, err := c.getAccessToken()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req, nil
}

// GenerateContentRequest for the generateContent API
type GenerateContentRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

type GenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Text string `json:"text,omitempty"`
}

type GenerateContentResponse struct {
	Candidates     []Candidate     `json:"candidates,omitempty"`
	PromptFeedback *PromptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  *UsageMetadata  `json:"usageMetadata,omitempty"`
	Error          *APIError       `json:"error,omitempty"`
}

// UsageMetadata contains token usage information from the API
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type PromptFeedback struct {
	BlockReason        string `json:"blockReason,omitempty"`
	BlockReasonMessage string `json:"blockReasonMessage,omitempty"`
}

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini API error %d (%s): %s", e.Code, e.Status, e.Message)
}

// GenerateContent calls the Gemini generateContent API. Transport errors and
// 429/5xx responses are retried with exponential backoff; everything else
// surfaces immediately.
func (c *Client) GenerateContent(ctx context.Context, model string, req *GenerateContentRequest) (*GenerateContentResponse, error) {
	if model == "" {
		model = DefaultModel
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("models/%s:generateContent", model)

	attempt := func() (*GenerateContentResponse, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}

		httpReq, err := c.buildRequest(ctx, "POST", endpoint, body)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if isRetryableStatus(resp.StatusCode) {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}

		var result GenerateContentResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("unmarshal response: %w", err))
		}

		if result.Error != nil {
			if isRetryableStatus(result.Error.Code) {
				return nil, result.Error
			}
			return nil, backoff.Permanent(result.Error)
		}

		return &result, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialBackoff
	policy.MaxInterval = maxBackoff

	result, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(maxAttempts))
	if err != nil {
		return nil, err
	}

	// Record usage for cost tracking
	c.recordGenerateUsage(result.UsageMetadata)

	return result, nil
}

// GenerateText is the single-prompt convenience wrapper: one user turn in,
// the first candidate's concatenated text out.
func (c *Client) GenerateText(ctx context.Context, model, prompt string, cfg *GenerationConfig) (string, error) {
	req := &GenerateContentRequest{
		Contents: []Content{{
			Role:  "user",
			Parts: []Part{{Text: prompt}},
		}},
		GenerationConfig: cfg,
	}
	resp, err := c.GenerateContent(ctx, model, req)
	if err != nil {
		return "", err
	}
	text := ExtractText(resp)
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// ExtractText concatenates the text parts of the first candidate.
func ExtractText(resp *GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func isRetryableStatus(code int) bool {
	return code == 429 || code >= 500
}

// UsageStats contains accumulated usage statistics
type UsageStats struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	GenerateCalls    int64   `json:"generate_calls"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// GetUsageStats returns accumulated usage statistics and estimated cost
// Pricing (Gemini 2.0 Flash):
//   - Input: $0.075 per 1M tokens
//   - Output: $0.30 per 1M tokens
func (c *Client) GetUsageStats() UsageStats {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()

	stats := UsageStats{
		PromptTokens:  c.totalPromptTokens,
		OutputTokens:  c.totalOutputTokens,
		GenerateCalls: c.generateCalls,
	}

	inputCost := float64(c.totalPromptTokens) * 0.075 / 1_000_000
	outputCost := float64(c.totalOutputTokens) * 0.30 / 1_000_000
	stats.EstimatedCostUSD = inputCost + outputCost

	return stats
}

func (c *Client) recordGenerateUsage(usage *UsageMetadata) {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	c.generateCalls++
	if usage == nil {
		return
	}
	c.totalPromptTokens += int64(usage.PromptTokenCount)
	c.totalOutputTokens += int64(usage.CandidatesTokenCount)
}

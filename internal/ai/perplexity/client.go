// Package perplexity implements the scoring service client. The API
// answers a text query with free-form prose (expected to contain a
// JSON payload) plus citation URLs.
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"designscore-backend/internal/ai"
)

const defaultAPIURL = "https://api.perplexity.ai/chat/completions"

// Client implements ai.ScoringClient.
type Client struct {
	apiKey     string
	model      string
	apiURL     string
	httpClient *http.Client
}

// NewClient constructs a new Perplexity client.
func NewClient(apiKey, model string) (*Client, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("SCORING_MODEL is required for Perplexity")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("PERPLEXITY_API_KEY is required")
	}
	timeout := 120 * time.Second
	if raw := strings.TrimSpace(os.Getenv("PERPLEXITY_TIMEOUT_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		apiURL: defaultAPIURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// NewClientForTest builds a client aimed at a test server.
func NewClientForTest(apiURL string, httpClient *http.Client) *Client {
	return &Client{apiKey: "test", model: "test", apiURL: apiURL, httpClient: httpClient}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations,omitempty"`
	Error     *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// Score sends the query and returns the answer text with citations.
// Provider-signaled failures are classified into stable ai.ProviderError
// codes; transport failures map to a connection error.
func (c *Client) Score(ctx context.Context, input ai.ScoreInput) (ai.ScoreResult, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "Answer with a single JSON object when the query asks for one."},
			{Role: "user", Content: input.Query},
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return ai.ScoreResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return ai.ScoreResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ai.ScoreResult{}, &ai.ProviderError{Provider: "perplexity", Code: ai.ErrCodeConnection, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ai.ScoreResult{}, &ai.ProviderError{Provider: "perplexity", Code: ai.ErrCodeConnection, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return ai.ScoreResult{}, classifyStatus(resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ai.ScoreResult{}, fmt.Errorf("perplexity response parse: %w", err)
	}
	if parsed.Error != nil {
		return ai.ScoreResult{}, classifyStatus(parsed.Error.Code)
	}
	if len(parsed.Choices) == 0 {
		return ai.ScoreResult{}, fmt.Errorf("perplexity response missing choices")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return ai.ScoreResult{}, fmt.Errorf("perplexity response empty content")
	}
	return ai.ScoreResult{Text: content, Citations: parsed.Citations}, nil
}

func classifyStatus(status int) error {
	code := ai.ErrCodeConnection
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = ai.ErrCodeInvalidCredential
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		code = ai.ErrCodeQuotaExceeded
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		code = ai.ErrCodeMalformedQuery
	}
	return &ai.ProviderError{
		Provider: "perplexity",
		Code:     code,
		Err:      fmt.Errorf("http status %d", status),
	}
}

var _ ai.ScoringClient = (*Client)(nil)

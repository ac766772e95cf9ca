package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// ErrAIUnavailable wraps the last transport error once all retries are
// exhausted.
var ErrAIUnavailable = errors.New("AI endpoint unavailable")

// Provider identifies the AI backend type.
type Provider string

const (
	ProviderDeepSeek Provider = "deepseek"
	ProviderQwen     Provider = "qwen"
	ProviderGroq     Provider = "groq"
	ProviderCustom   Provider = "custom"
)

const (
	maxRetries     = 3
	requestTimeout = 120 * time.Second
	temperature    = 0.5
	maxTokens      = 4000
)

// Client talks to an OpenAI-compatible chat completions endpoint. One client
// per agent; configuration is instance state, not process globals.
type Client struct {
	provider Provider
	apiKey   string
	baseURL  string
	model    string
	http     *http.Client
}

// NewClient creates an unconfigured client. Call one of the Set* methods
// before CallWithMessages.
func NewClient() *Client {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		http: &http.Client{
			Timeout:   requestTimeout,
			Transport: transport,
		},
	}
}

// SetDeepSeekAPIKey selects the DeepSeek backend.
func (c *Client) SetDeepSeekAPIKey(apiKey string) {
	c.provider = ProviderDeepSeek
	c.apiKey = apiKey
	c.baseURL = "https://api.deepseek.com/v1"
	c.model = "deepseek-chat"
}

// SetQwenAPIKey selects the Qwen backend via the DashScope compatible API.
func (c *Client) SetQwenAPIKey(apiKey string) {
	c.provider = ProviderQwen
	c.apiKey = apiKey
	c.baseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	c.model = "qwen-plus"
}

// SetGroqAPIKey selects the Groq backend. model may be empty for the default.
func (c *Client) SetGroqAPIKey(apiKey, model string) {
	c.provider = ProviderGroq
	c.apiKey = apiKey
	c.baseURL = "https://api.groq.com/openai/v1"
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	c.model = model
}

// SetCustomAPI selects any OpenAI-format endpoint. A trailing "#" on the URL
// marks it as a full URL to POST to; otherwise "/chat/completions" is
// appended.
func (c *Client) SetCustomAPI(apiURL, apiKey, model string) {
	c.provider = ProviderCustom
	c.apiKey = apiKey
	c.baseURL = apiURL
	c.model = model
}

// CallWithMessages sends a system + user prompt and returns the raw text of
// the first choice. Transient transport failures are retried up to 3 times
// with a linear backoff of attempt*2 seconds; anything else propagates
// immediately.
func (c *Client) CallWithMessages(systemPrompt, userPrompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("AI API key not configured")
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			log.Printf("⚠️  AI call failed, retrying (%d/%d)...", attempt, maxRetries)
		}

		result, err := c.callOnce(systemPrompt, userPrompt)
		if err == nil {
			if attempt > 1 {
				log.Printf("✓ AI retry succeeded")
			}
			return result, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
		if attempt < maxRetries {
			wait := time.Duration(attempt) * 2 * time.Second
			log.Printf("⏳ Waiting %v before retry...", wait)
			time.Sleep(wait)
		}
	}

	return "", fmt.Errorf("%w: %d attempts failed: %v", ErrAIUnavailable, maxRetries, lastErr)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) callOnce(systemPrompt, userPrompt string) (string, error) {
	var messages []chatMessage
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	// No structured-output mode: some providers silently ignore it, so JSON
	// discipline is enforced by the prompt and the parser instead.
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := c.endpointURL()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("AI API HTTP %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("AI API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("AI API returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *Client) endpointURL() string {
	// "#" suffix means the configured URL is already the full endpoint.
	if strings.HasSuffix(c.baseURL, "#") {
		return strings.TrimSuffix(c.baseURL, "#")
	}
	return strings.TrimRight(c.baseURL, "/") + "/chat/completions"
}

// isRetryableError matches the transient transport failure signatures worth
// retrying. Anything else (auth errors, 4xx, provider errors) fails fast.
func isRetryableError(err error) bool {
	msg := strings.ToLower(err.Error())
	retryable := []string{
		"eof",
		"timeout",
		"connection reset",
		"connection refused",
		"forcibly closed",
		"broken pipe",
		"temporary failure",
		"no such host",
		"network is unreachable",
	}
	for _, sig := range retryable {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package mcp

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEndpointURL(t *testing.T) {
	cases := []struct {
		baseURL string
		want    string
	}{
		{"https://api.deepseek.com/v1", "https://api.deepseek.com/v1/chat/completions"},
		{"https://api.deepseek.com/v1/", "https://api.deepseek.com/v1/chat/completions"},
		{"https://proxy.internal/llm#", "https://proxy.internal/llm"},
	}
	for _, tc := range cases {
		c := &Client{baseURL: tc.baseURL}
		if got := c.endpointURL(); got != tc.want {
			t.Errorf("endpointURL(%q) = %q, want %q", tc.baseURL, got, tc.want)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	retryable := []error{
		errors.New("unexpected EOF"),
		errors.New("dial tcp: connection refused"),
		errors.New("read tcp: connection reset by peer"),
		errors.New("context deadline exceeded (Client.Timeout exceeded)"),
	}
	for _, err := range retryable {
		if !isRetryableError(err) {
			t.Errorf("expected retryable: %v", err)
		}
	}

	permanent := []error{
		errors.New("AI API HTTP 401: invalid key"),
		errors.New("AI API returned no choices"),
	}
	for _, err := range permanent {
		if isRetryableError(err) {
			t.Errorf("expected permanent: %v", err)
		}
	}
}

func TestCallWithMessagesRequiresAPIKey(t *testing.T) {
	c := NewClient()
	if _, err := c.CallWithMessages("sys", "user"); err == nil {
		t.Error("expected error without API key")
	}
}

func TestCallWithMessagesHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hello there"}}]}`)
	}))
	defer srv.Close()

	c := NewClient()
	c.SetCustomAPI(srv.URL+"#", "test-key", "test-model")

	got, err := c.CallWithMessages("system prompt", "user prompt")
	if err != nil {
		t.Fatalf("CallWithMessages failed: %v", err)
	}
	if got != "hello there" {
		t.Errorf("content = %q", got)
	}
}

func TestCallWithMessagesProviderErrorFailsFast(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"error":{"message":"model overloaded"}}`)
	}))
	defer srv.Close()

	c := NewClient()
	c.SetCustomAPI(srv.URL+"#", "test-key", "test-model")

	_, err := c.CallWithMessages("", "user prompt")
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("expected provider error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("provider errors must not retry, got %d calls", calls)
	}
}

func TestCallWithMessagesHTTPErrorFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient()
	c.SetCustomAPI(srv.URL+"#", "test-key", "test-model")

	_, err := c.CallWithMessages("", "user prompt")
	if err == nil || !strings.Contains(err.Error(), "HTTP 400") {
		t.Errorf("expected HTTP 400 error, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("0123456789abc", 10); got != "0123456789..." {
		t.Errorf("truncate = %q", got)
	}
}

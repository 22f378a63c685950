package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func candidateResponse(text string) string {
	resp := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestClient_Generate(t *testing.T) {
	var gotPath string
	var gotBody generateRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(candidateResponse("a research theme")))
	}))
	defer server.Close()

	c := NewClient("test-key", "gemini-2.0-flash-lite", WithBaseURL(server.URL), WithBackoff(0))

	text, err := c.Generate(context.Background(), "you are a scientist", "pick a theme", 0.8)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "a research theme" {
		t.Errorf("text = %q, want %q", text, "a research theme")
	}
	if want := "/v1beta/models/gemini-2.0-flash-lite:generateContent"; gotPath != want {
		t.Errorf("path = %q, want %q", gotPath, want)
	}
	if gotBody.GenerationConfig == nil || gotBody.GenerationConfig.Temperature != 0.8 {
		t.Errorf("temperature not forwarded: %+v", gotBody.GenerationConfig)
	}
	if len(gotBody.Contents) != 1 || !strings.Contains(gotBody.Contents[0].Parts[0].Text, "you are a scientist") {
		t.Error("system prompt not prepended to request text")
	}
}

func TestClient_RetriesRateLimit(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
			return
		}
		_, _ = w.Write([]byte(candidateResponse("eventually fine")))
	}))
	defer server.Close()

	c := NewClient("test-key", "", WithBaseURL(server.URL), WithBackoff(0))

	text, err := c.Generate(context.Background(), "sys", "prompt", 0.7)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "eventually fine" {
		t.Errorf("text = %q, want %q", text, "eventually fine")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestClient_RetriesSafetyBlock(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
			return
		}
		_, _ = w.Write([]byte(candidateResponse("allowed now")))
	}))
	defer server.Close()

	c := NewClient("test-key", "", WithBaseURL(server.URL), WithBackoff(0))

	text, err := c.Generate(context.Background(), "sys", "prompt", 0.7)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "allowed now" {
		t.Errorf("text = %q, want %q", text, "allowed now")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestClient_ExhaustsRetries(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":500,"message":"internal error"}}`))
	}))
	defer server.Close()

	c := NewClient("test-key", "", WithBaseURL(server.URL), WithBackoff(0), WithMaxAttempts(3))

	_, err := c.Generate(context.Background(), "sys", "prompt", 0.7)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("error = %v, want attempt count in message", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestClient_TracksUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(candidateResponse(strings.Repeat("x", 400))))
	}))
	defer server.Close()

	c := NewClient("test-key", "gemini-1.5-flash", WithBaseURL(server.URL), WithBackoff(0))

	if _, err := c.Generate(context.Background(), "sys", "prompt", 0.7); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	input, output := c.Usage().Snapshot()
	if input["gemini-1.5-flash"] == 0 {
		t.Error("input tokens not tracked")
	}
	if output["gemini-1.5-flash"] != 100 {
		t.Errorf("output tokens = %d, want 100", output["gemini-1.5-flash"])
	}
	if c.Usage().CostEstimate() <= 0 {
		t.Error("expected a positive cost estimate")
	}

	c.Usage().Reset()
	input, output = c.Usage().Snapshot()
	if len(input) != 0 || len(output) != 0 {
		t.Error("Reset should clear all counters")
	}
}

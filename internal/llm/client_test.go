package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/careerassist-ai/careerassist/internal/common"
)

func answerSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"answer": map[string]any{"type": "string"},
		},
		"required": []string{"answer"},
	}
}

func TestCompleteReturnsValidatedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"answer": "yes"}`}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL}, slog.New(slog.DiscardHandler))
	out, err := c.Complete(context.Background(), "system", "user", answerSchema())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if string(out) != `{"answer": "yes"}` {
		t.Errorf("content = %s", out)
	}
}

func TestCompleteDecodesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limit reached", "type": "rate_limit_error"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL}, slog.New(slog.DiscardHandler))
	_, err := c.Complete(context.Background(), "system", "user", answerSchema())
	if err == nil {
		t.Fatal("provider rejection must surface as an error")
	}
	var ae *common.AppError
	if !errors.As(err, &ae) {
		t.Fatalf("error is not an AppError: %v", err)
	}
	if ae.Code != "llm_unavailable" {
		t.Errorf("code = %q, want llm_unavailable", ae.Code)
	}
	if !strings.Contains(ae.Message, "rate limit reached") {
		t.Errorf("provider message lost: %q", ae.Message)
	}
}

func TestCompleteRejectsSchemaViolation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"unexpected": 1}`}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL}, slog.New(slog.DiscardHandler))
	_, err := c.Complete(context.Background(), "system", "user", answerSchema())
	if err == nil || !strings.Contains(err.Error(), "schema validation failed") {
		t.Errorf("err = %v, want schema validation failure", err)
	}
}

func TestCompleteLogsContextRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"answer": "yes"}`}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL},
		slog.New(slog.NewTextHandler(&buf, nil)))

	ctx := common.WithRequestID(context.Background(), "job-abc123")
	if _, err := c.Complete(ctx, "system", "user", answerSchema()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !strings.Contains(buf.String(), "req_id=job-abc123") {
		t.Errorf("model call not correlated with the caller's request id:\n%s", buf.String())
	}
}

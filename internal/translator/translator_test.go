package translator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/chaptermill/chaptermill/internal/novel"
)

const completionTemplate = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "gpt-4o-mini",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": %s}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 57, "completion_tokens": 17, "total_tokens": 74}
}`

func completionJSON(t *testing.T, content string) []byte {
	t.Helper()

	quoted, err := json.Marshal(content)
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	return []byte(strings.Replace(completionTemplate, "%s", string(quoted), 1))
}

func TestTranslateSuccess(t *testing.T) {
	var payload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(completionJSON(t, "  Hello.\n\nWorld.\n"))
	}))
	defer server.Close()

	tr := New(Config{APIKey: "test-key", BaseURL: server.URL}, zap.NewNop())

	got, err := tr.Translate(context.Background(), "你好。\n\n世界。")
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if got != "Hello.\n\nWorld." {
		t.Fatalf("expected trimmed translation, got %q", got)
	}

	if model, _ := payload["model"].(string); model != "gpt-4o-mini" {
		t.Fatalf("expected default model, got %q", model)
	}
	messages, _ := payload["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(messages))
	}
	system, _ := messages[0].(map[string]any)
	if role, _ := system["role"].(string); role != "system" {
		t.Fatalf("expected first message to be system, got %q", role)
	}
	if content, _ := system["content"].(string); !strings.Contains(content, "Preserve paragraph structure") {
		t.Fatalf("expected default system prompt, got %q", content)
	}
	user, _ := messages[1].(map[string]any)
	if content, _ := user["content"].(string); content != "你好。\n\n世界。" {
		t.Fatalf("expected chapter text as user message, got %q", content)
	}
}

func TestTranslateServerErrorIsSingleAttempt(t *testing.T) {
	requests := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error","param":null,"code":null}}`))
	}))
	defer server.Close()

	tr := New(Config{APIKey: "test-key", BaseURL: server.URL}, zap.NewNop())

	_, err := tr.Translate(context.Background(), "你好。")
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	var translationErr *novel.TranslationError
	if !errors.As(err, &translationErr) {
		t.Fatalf("expected TranslationError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Fatalf("expected status in message, got %q", err.Error())
	}
	if requests != 1 {
		t.Fatalf("expected exactly one attempt, got %d", requests)
	}
}

func TestTranslateEmptyCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(completionJSON(t, "   "))
	}))
	defer server.Close()

	tr := New(Config{APIKey: "test-key", BaseURL: server.URL}, zap.NewNop())

	_, err := tr.Translate(context.Background(), "你好。")
	var translationErr *novel.TranslationError
	if !errors.As(err, &translationErr) {
		t.Fatalf("expected TranslationError for empty content, got %v", err)
	}
}

func TestTranslateEmptyInput(t *testing.T) {
	tr := New(Config{APIKey: "test-key", BaseURL: "http://127.0.0.1:1"}, zap.NewNop())

	_, err := tr.Translate(context.Background(), "  \n ")
	var translationErr *novel.TranslationError
	if !errors.As(err, &translationErr) {
		t.Fatalf("expected TranslationError for empty input, got %v", err)
	}
}

func TestTranslateWarnsOnParagraphMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(completionJSON(t, "A. B."))
	}))
	defer server.Close()

	core, logs := observer.New(zap.WarnLevel)
	tr := New(Config{APIKey: "test-key", BaseURL: server.URL}, zap.New(core))

	got, err := tr.Translate(context.Background(), "甲。\n\n乙。")
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if got != "A. B." {
		t.Fatalf("mismatched paragraphs must still be returned, got %q", got)
	}

	entries := logs.FilterMessage("paragraph count changed in translation").All()
	if len(entries) != 1 {
		t.Fatalf("expected one warning, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["sent"] != int64(2) || fields["received"] != int64(1) {
		t.Fatalf("unexpected warn fields: %v", fields)
	}
}

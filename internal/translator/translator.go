// Package translator sends whole-chapter text to a language model and returns
// the translation. One request per chapter, no chunking, no retries: a failed
// or empty completion is a TranslationError for the caller to surface.
package translator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/chaptermill/chaptermill/internal/novel"
)

const defaultSystemPrompt = "Translate Chinese web novel text into fluent English. " +
	"Preserve paragraph structure and storytelling tone. " +
	"Do not summarize or add content."

// Config holds configuration for the translation client.
type Config struct {
	APIKey          string
	Model           string // "gpt-4o-mini" (default)
	SystemPrompt    string
	MaxOutputTokens int
	BaseURL         string       // Optional (tests)
	HTTPClient      *http.Client // Optional (tests)
}

// Translator implements novel.Translator using the official OpenAI SDK.
type Translator struct {
	model        string
	systemPrompt string
	maxTokens    int
	client       openai.Client
	logger       *zap.Logger
}

// New creates a translation client. Transport-level retries are disabled so a
// failed chapter aborts the run instead of silently re-billing.
func New(cfg Config, logger *zap.Logger) *Translator {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Translator{
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxOutputTokens,
		client:       openai.NewClient(opts...),
		logger:       logger,
	}
}

// Translate sends the chapter text as a single chat completion.
func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", &novel.TranslationError{Err: fmt.Errorf("text is required")}
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(t.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(t.systemPrompt),
			openai.UserMessage(trimmed),
		},
	}
	if t.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(t.maxTokens))
	}

	start := time.Now()
	resp, err := t.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &novel.TranslationError{Err: describeAPIError(err)}
	}
	if len(resp.Choices) == 0 {
		return "", &novel.TranslationError{Err: fmt.Errorf("no choices in completion")}
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", &novel.TranslationError{Err: fmt.Errorf("empty completion content")}
	}

	// Paragraph structure is an instruction to the model, not a guarantee.
	// A mismatch is tolerated but should be visible.
	sent := len(novel.SplitParagraphs(trimmed))
	received := len(novel.SplitParagraphs(out))
	if sent != received {
		t.logger.Warn("paragraph count changed in translation",
			zap.Int("sent", sent),
			zap.Int("received", received),
		)
	}

	t.logger.Debug("chapter translated",
		zap.String("model", t.model),
		zap.Int("chars_in", len(trimmed)),
		zap.Int("chars_out", len(out)),
		zap.Int64("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func describeAPIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return fmt.Errorf("openai error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("openai error (status %d)", apiErr.StatusCode)
	}
	return err
}

// Package editor rewrites dictated text with an OpenAI-compatible chat model.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/rbright/dictum/internal/config"
)

// ErrMissingAPIKey is returned by New when the configured key variable is unset.
var ErrMissingAPIKey = errors.New("ai editor api key is not set")

const basePrompt = "You clean up dictated text. Fix punctuation, capitalization, and obvious speech-recognition errors. " +
	"Remove filler words and false starts. Keep the speaker's wording and meaning. " +
	"Reply with the edited text only, without quotes or commentary."

var presetPrompts = map[string]string{
	"default": "",
	"email":   "Format the text as the body of an email. Use short paragraphs. Do not add a subject line or a signature.",
	"commit":  "Format the text as a git commit message: an imperative summary line under 72 characters, then a blank line and wrapped body text if more detail was dictated.",
	"notes":   "Format the text as concise notes. Use bullet points when the speaker lists several items.",
	"code":    "The text is being typed into a code editor or terminal. Preserve identifiers, file names, and symbols exactly. Do not add markdown fences.",
}

// SystemPrompt returns the system prompt used for preset, falling back to default.
func SystemPrompt(preset string) string {
	extra, ok := presetPrompts[preset]
	if !ok || extra == "" {
		return basePrompt
	}
	return basePrompt + "\n\n" + extra
}

// Editor calls the chat completions API once per dictation.
type Editor struct {
	client oai.Client
	model  string
	logger *slog.Logger
}

// New builds an editor from config. The API key is read from cfg.APIKeyEnv.
func New(cfg config.AIEditorConfig, logger *slog.Logger) (*Editor, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("ai editor model must not be empty")
	}
	apiKey := strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
	if apiKey == "" && strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: $%s", ErrMissingAPIKey, cfg.APIKeyEnv)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	if cfg.TimeoutMS > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		}))
	}

	return &Editor{client: oai.NewClient(reqOpts...), model: model, logger: logger}, nil
}

// Edit returns the rewritten text for preset.
//
// An empty completion is reported as the original text so dictation is never lost.
func (e *Editor) Edit(ctx context.Context, text string, preset string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	started := time.Now()
	resp, err := e.client.Chat.Completions.New(ctx, e.buildParams(text, preset))
	if err != nil {
		return "", fmt.Errorf("ai editor: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("ai editor: empty choices in response")
	}

	edited := strings.TrimSpace(resp.Choices[0].Message.Content)
	if e.logger != nil {
		e.logger.Debug("ai edit complete",
			"preset", preset,
			"model", e.model,
			"latency_ms", time.Since(started).Milliseconds(),
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
		)
	}
	if edited == "" {
		return text, nil
	}
	return edited, nil
}

func (e *Editor) buildParams(text string, preset string) oai.ChatCompletionNewParams {
	return oai.ChatCompletionNewParams{
		Model: shared.ChatModel(e.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(SystemPrompt(preset)),
			oai.UserMessage(text),
		},
		Temperature: param.NewOpt(0.2),
	}
}

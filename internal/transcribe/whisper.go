// Package transcribe talks to a whisper.cpp compatible inference server.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rbright/dictum/internal/config"
	"github.com/rbright/dictum/internal/transcript"
)

const maxErrorBody = 512

// Client submits WAV recordings to POST {endpoint}/inference.
type Client struct {
	endpoint   string
	language   string
	model      string
	prompt     string
	healthAddr string
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a client from transcriber config.
func New(cfg config.TranscriberConfig, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		language:   strings.TrimSpace(cfg.Language),
		model:      strings.TrimSpace(cfg.Model),
		prompt:     strings.TrimSpace(cfg.Prompt),
		healthAddr: strings.TrimSpace(cfg.GRPCHealth),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Endpoint returns the inference base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Transcribe uploads wav and returns the cleaned transcript text.
//
// An empty string with a nil error means the server heard no speech.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", errors.New("transcribe: empty audio")
	}

	body, contentType, err := c.encodeForm(wav)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/inference", body)
	if err != nil {
		return "", fmt.Errorf("transcribe: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("transcribe: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return "", fmt.Errorf("transcribe: server returned HTTP %d: %s", resp.StatusCode, snippet)
	}

	var result struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("transcribe: parse JSON response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("transcribe: server error: %s", result.Error)
	}

	text := transcript.Clean(result.Text, transcript.Options{CapitalizePronounI: true})
	if c.logger != nil {
		c.logger.Debug("transcription complete",
			"latency_ms", time.Since(started).Milliseconds(),
			"audio_bytes", len(wav),
			"text_length", len(text),
		)
	}
	return text, nil
}

func (c *Client) encodeForm(wav []byte) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("transcribe: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", fmt.Errorf("transcribe: write wav data: %w", err)
	}

	fields := [][2]string{
		{"response_format", "json"},
		{"language", c.language},
		{"model", c.model},
		{"prompt", c.prompt},
	}
	for _, field := range fields {
		if field[1] == "" {
			continue
		}
		if err := mw.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("transcribe: write %s field: %w", field[0], err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("transcribe: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

// Ping checks that the inference server answers HTTP at its base URL.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/", nil)
	if err != nil {
		return fmt.Errorf("ping transcriber: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping transcriber: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("ping transcriber: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Package transcriber provides a Transcriber for OpenAI-compatible
// /audio/transcriptions endpoints (whisper.cpp server, faster-whisper,
// hosted APIs).
package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/connectors/fetch"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Ensure Client implements the interface.
var _ driven.Transcriber = (*Client)(nil)

// Defaults.
const (
	DefaultBaseURL = "http://localhost:8000/v1"
	DefaultModel   = "whisper-1"
	DefaultTimeout = 10 * time.Minute
)

// Config holds the transcription endpoint settings.
type Config struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
}

// Client posts audio as multipart form data.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe returns the transcript of one recording.
func (c *Client) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("model", c.cfg.Model); err != nil {
		return "", err
	}
	if c.cfg.Language != "" {
		if err := w.WriteField("language", c.cfg.Language); err != nil {
			return "", err
		}
	}
	if err := w.WriteField("response_format", "json"); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	url := c.cfg.BaseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if fetch.TransientNetError(err) {
			return "", &domain.TransientConnectorError{Op: "transcribe " + filename, Err: err}
		}
		return "", fmt.Errorf("transcribe %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		se := &fetch.StatusError{StatusCode: resp.StatusCode, URL: url, Body: string(msg)}
		if fetch.TransientStatus(resp.StatusCode) {
			return "", &domain.TransientConnectorError{Op: "transcribe " + filename, Err: se}
		}
		return "", &domain.TerminalItemError{ItemKey: filename, Err: se}
	}

	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

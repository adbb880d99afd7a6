// Package transcribe provides the HTTP client for the remote transcription
// endpoint used by the chunked-audio capture fallback.
//
// The endpoint accepts an audio blob plus a language tag as multipart/form-data
// and returns {"text": "..."}. A 501 or 404 response means the endpoint is not
// deployed; that is reported as [voice.ErrServiceUnavailable] and callers must
// treat it as a permanent disable for the session, not a retryable failure.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/parleo-app/parleo/pkg/voice"
)

const defaultTimeout = 30 * time.Second

// Transcriber is the consumer-facing abstraction so tests can substitute a
// scripted implementation for the HTTP client.
type Transcriber interface {
	// Transcribe submits one audio segment and returns its transcript text.
	// An empty string with a nil error means the segment contained no speech.
	Transcribe(ctx context.Context, audio voice.AudioPayload, language string) (string, error)
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Client) { t.httpClient = c }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(t *Client) { t.httpClient.Timeout = d }
}

// Client submits audio segments to the remote transcription endpoint.
// It is safe for concurrent use.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// Compile-time interface assertion.
var _ Transcriber = (*Client)(nil)

// New creates a Client for the transcription endpoint at url
// (e.g., "https://api.parleo.app/v1/transcribe"). url must be non-empty.
func New(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("transcribe: endpoint url must not be empty")
	}
	c := &Client{
		endpoint:   url,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// response is the JSON body returned by the transcription endpoint.
type response struct {
	Text string `json:"text"`
}

// Transcribe POSTs audio as multipart/form-data with an optional language
// field and returns the transcribed text.
//
// HTTP 501 and 404 are reported as [voice.ErrServiceUnavailable]; other
// non-200 statuses are plain (retryable) errors.
func (c *Client) Transcribe(ctx context.Context, audio voice.AudioPayload, language string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("audio", "segment"+extensionFor(audio.MIME))
	if err != nil {
		return "", fmt.Errorf("transcribe: create form file: %w", err)
	}
	if _, err := fw.Write(audio.Data); err != nil {
		return "", fmt.Errorf("transcribe: write audio data: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", fmt.Errorf("transcribe: write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("transcribe: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("transcribe: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: http request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotImplemented, http.StatusNotFound:
		return "", fmt.Errorf("transcribe: endpoint returned HTTP %d: %w",
			resp.StatusCode, voice.ErrServiceUnavailable)
	default:
		return "", fmt.Errorf("transcribe: endpoint returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("transcribe: read response body: %w", err)
	}

	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		return "", fmt.Errorf("transcribe: decode response: %w", err)
	}
	return r.Text, nil
}

// extensionFor maps a MIME type to a filename extension for the form part.
// The endpoint keys off the Content-Type header, so this is cosmetic.
func extensionFor(mime string) string {
	switch mime {
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ".bin"
	}
}

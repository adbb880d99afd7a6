package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/parleo-app/parleo/pkg/voice"
)

// Request is the payload sent to the remote generation service. The same
// endpoint serves streaming and non-streaming requests, switched by the
// Streaming flag.
type Request struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	Level     string `json:"level,omitempty"`
	FocusArea string `json:"focusArea,omitempty"`
	Language  string `json:"language,omitempty"`
	Streaming bool   `json:"streaming"`
}

// Frame is one server-sent event of a streaming reply. AudioData, when
// present, is a base64-encoded synthesized-audio payload.
type Frame struct {
	Content      string `json:"content"`
	FullResponse string `json:"fullResponse"`
	Done         bool   `json:"done"`
	AudioData    string `json:"audioData,omitempty"`
	MIME         string `json:"mime,omitempty"`
}

// Audio decodes the frame's audio payload, or returns nil when the frame
// carries none.
func (f Frame) Audio() (*voice.AudioPayload, error) {
	if f.AudioData == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(f.AudioData)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	mime := f.MIME
	if mime == "" {
		mime = "audio/mpeg"
	}
	return &voice.AudioPayload{Data: data, MIME: mime}, nil
}

// Client talks to the remote generation service over HTTP.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout for non-streaming calls.
// Streaming requests rely on the caller's context instead.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithAPIKey sends the key as a Bearer token on every request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// NewClient creates a generation service client for the given endpoint URL.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("transport: generation service URL must not be empty")
	}
	c := &Client{
		url:        url,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Stream performs a streaming generation request and invokes fn for every
// frame in order. It returns once a frame with Done is seen, the stream ends,
// fn returns an error, or the connection drops. A mid-stream drop surfaces as
// an error even if frames were already delivered.
func (c *Client) Stream(ctx context.Context, req Request, fn func(Frame) error) error {
	req.Streaming = true
	resp, err := c.post(ctx, req, "text/event-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	// Frames carrying base64 audio can be large.
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			continue
		}

		var frame Frame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return fmt.Errorf("transport: decode stream frame: %w", err)
		}
		if err := fn(frame); err != nil {
			return err
		}
		if frame.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("transport: stream interrupted: %w", err)
	}
	// Stream ended cleanly without a done frame; treat as complete.
	return nil
}

// Generate performs a non-streaming generation request and returns the whole
// reply text.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	req.Streaming = false
	resp, err := c.post(ctx, req, "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var result struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("transport: decode generation response: %w", err)
	}
	return result.Response, nil
}

func (c *Client) post(ctx context.Context, req Request, accept string) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transport: generation request: %w", err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if resp.StatusCode == http.StatusNotImplemented || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("transport: generation service returned %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(snippet)), voice.ErrServiceUnavailable)
	}
	return fmt.Errorf("transport: generation service returned %d: %s",
		resp.StatusCode, strings.TrimSpace(string(snippet)))
}

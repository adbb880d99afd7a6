package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/parleo-app/parleo/internal/config"
	"github.com/parleo-app/parleo/internal/transport"
)

// fakeService is a scripted generation service.
type fakeService struct {
	text string
}

func (f *fakeService) Stream(ctx context.Context, req transport.Request, fn func(transport.Frame) error) error {
	return fn(transport.Frame{Content: f.text, Done: true})
}

func (f *fakeService) Generate(ctx context.Context, req transport.Request) (string, error) {
	return f.text, nil
}

// startApp builds an App on an ephemeral port with the fake service injected
// and runs it until the test ends. It returns the base HTTP URL.
func startApp(t *testing.T, cfg *config.Config) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	a, err := New(context.Background(), cfg,
		WithService(&fakeService{text: "¡Hola!"}),
		WithListener(ln),
	)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil && err != context.Canceled {
				t.Errorf("Run() = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after cancel")
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			t.Errorf("Shutdown() = %v", err)
		}
	})

	return "http://" + a.Addr()
}

func testConfig(generationURL string) *config.Config {
	return &config.Config{
		Server:     config.ServerConfig{LogLevel: config.LogInfo},
		Generation: config.GenerationConfig{URL: generationURL},
		Pipeline: config.PipelineConfig{
			SilenceWindowMS: 50,
			SettleDelayMS:   10,
		},
	}
}

func TestNewRequiresGenerationURL(t *testing.T) {
	cfg := testConfig("")
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("New() with empty generation URL should fail")
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	// A reachable generation endpoint keeps the readiness probe green.
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backend.Close)

	base := startApp(t, testConfig(backend.URL))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200: %s", path, resp.StatusCode, body)
		}
		// Probe payloads report the gateway's live-session count.
		if path != "/metrics" && !strings.Contains(string(body), `"activeSessions":0`) {
			t.Errorf("GET %s payload = %s, want activeSessions", path, body)
		}
	}
}

func TestFeedbackEndpoint(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backend.Close)

	cfg := testConfig(backend.URL)
	cfg.Feedback.Path = filepath.Join(t.TempDir(), "feedback.jsonl")
	base := startApp(t, cfg)

	resp, err := http.Post(base+"/feedback", "application/json",
		strings.NewReader(`{"sessionId":"s-1","rating":4}`))
	if err != nil {
		t.Fatalf("POST /feedback: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("POST /feedback = %d, want 204", resp.StatusCode)
	}

	data, err := os.ReadFile(cfg.Feedback.Path)
	if err != nil {
		t.Fatalf("read feedback file: %v", err)
	}
	if !strings.Contains(string(data), `"session_id":"s-1"`) {
		t.Fatalf("feedback file = %q, want stored record", data)
	}
}

func TestReadyzFailsWhenGenerationUnreachable(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := backend.URL
	backend.Close()

	base := startApp(t, testConfig(url))

	resp, err := http.Get(base + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("GET /readyz = %d, want 503", resp.StatusCode)
	}

	var res struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode readyz body: %v", err)
	}
	if res.Status != "fail" {
		t.Errorf("status = %q, want %q", res.Status, "fail")
	}
	if !strings.HasPrefix(res.Checks["generation"], "fail") {
		t.Errorf("generation check = %q, want failure", res.Checks["generation"])
	}
}

func TestWebsocketConversationThroughFullStack(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backend.Close)

	base := startApp(t, testConfig(backend.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(base, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	start, _ := json.Marshal(map[string]any{
		"type":     "start-session",
		"language": "es-ES",
		"textOnly": true,
	})
	if err := conn.Write(ctx, websocket.MessageText, start); err != nil {
		t.Fatalf("write start-session: %v", err)
	}

	// Status events may interleave before the session ack; scan for it.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read reply: %v", err)
		}
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode reply %q: %v", data, err)
		}
		if msg.Type == "session-started" {
			return
		}
		if msg.Type == "error" {
			t.Fatalf("got error message: %s", data)
		}
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	cfg := testConfig("https://generation.parleo.test/converse")

	a, err := New(context.Background(), cfg, WithService(&fakeService{text: "ok"}))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		if err := a.Shutdown(ctx); err != nil {
			t.Fatalf("Shutdown() call %d = %v", i+1, err)
		}
	}
}

func TestAddrReportsListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	cfg := testConfig("https://generation.parleo.test/converse")
	a, err := New(context.Background(), cfg, WithService(&fakeService{text: "ok"}), WithListener(ln))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		a.Shutdown(shutdownCtx)
	})

	want := ln.Addr().String()
	if got := a.Addr(); got != want {
		t.Fatalf("Addr() = %q, want %q", got, want)
	}
}

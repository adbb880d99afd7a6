package transcribe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parleo-app/parleo/pkg/voice"
)

func TestTranscribe_Success(t *testing.T) {
	var gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart form: %v", err)
		}
		gotLanguage = r.FormValue("language")
		if _, _, err := r.FormFile("audio"); err != nil {
			t.Errorf("missing audio form file: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hola amigo"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text, err := c.Transcribe(context.Background(),
		voice.AudioPayload{Data: []byte{1, 2, 3}, MIME: "audio/webm"}, "es-ES")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hola amigo" {
		t.Fatalf("text = %q, want %q", text, "hola amigo")
	}
	if gotLanguage != "es-ES" {
		t.Fatalf("language = %q, want es-ES", gotLanguage)
	}
}

func TestTranscribe_UnavailableStatusesArePermanent(t *testing.T) {
	for _, status := range []int{http.StatusNotImplemented, http.StatusNotFound} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))

		c, err := New(srv.URL)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		_, err = c.Transcribe(context.Background(), voice.AudioPayload{Data: []byte{1}}, "en")
		if !errors.Is(err, voice.ErrServiceUnavailable) {
			t.Fatalf("status %d: err = %v, want ErrServiceUnavailable", status, err)
		}
		srv.Close()
	}
}

func TestTranscribe_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Transcribe(context.Background(), voice.AudioPayload{Data: []byte{1}}, "en")
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
	if errors.Is(err, voice.ErrServiceUnavailable) {
		t.Fatalf("HTTP 500 must not be classified permanent: %v", err)
	}
}

func TestNew_EmptyURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty endpoint url")
	}
}

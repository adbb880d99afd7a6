package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parleo-app/parleo/internal/netmon"
	"github.com/parleo-app/parleo/pkg/voice"
)

type stubStatus struct {
	online  bool
	quality voice.Quality
}

func (s stubStatus) IsOnline() bool                      { return s.online }
func (s stubStatus) Quality() voice.Quality              { return s.quality }
func (s stubStatus) Subscribe(func(netmon.Event)) func() { return func() {} }

func TestGenerationServiceChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed) // a response still proves reachability
	}))
	defer srv.Close()

	c := GenerationService(srv.URL, srv.Client())
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check() = %v, want nil", err)
	}
	if c.Name != "generation" {
		t.Errorf("Name = %q, want generation", c.Name)
	}
}

func TestGenerationServiceCheckerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close() // immediately, so the probe fails

	c := GenerationService(srv.URL, nil)
	if err := c.Check(context.Background()); err == nil {
		t.Error("Check() = nil, want error for closed server")
	}
}

func TestConnectivityChecker(t *testing.T) {
	tests := []struct {
		name    string
		status  stubStatus
		wantErr error
	}{
		{"online and good", stubStatus{online: true, quality: voice.QualityGood}, nil},
		{"offline", stubStatus{online: false, quality: voice.QualityOffline}, voice.ErrNetworkOffline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Connectivity(tt.status)
			err := c.Check(context.Background())
			if tt.wantErr == nil && err != nil {
				t.Errorf("Check() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Check() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConnectivityCheckerPoorQuality(t *testing.T) {
	c := Connectivity(stubStatus{online: true, quality: voice.QualityPoor})
	if err := c.Check(context.Background()); err == nil {
		t.Error("Check() = nil, want error for poor quality")
	}
}

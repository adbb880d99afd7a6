package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/parleo-app/parleo/internal/netmon"
	"github.com/parleo-app/parleo/pkg/voice"
)

// GenerationService returns a checker that probes the generation endpoint
// with a HEAD request. Any HTTP response counts as reachable; the generation
// service may reject HEAD but a response proves the host is up.
func GenerationService(url string, client *http.Client) Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return Checker{
		Name: "generation",
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
			if err != nil {
				return fmt.Errorf("build probe request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("generation service unreachable: %w", err)
			}
			resp.Body.Close()
			return nil
		},
	}
}

// Connectivity returns a checker that consults the network monitor. The
// server is not ready to run conversations while the monitor reports offline.
func Connectivity(status netmon.Status) Checker {
	return Checker{
		Name: "connectivity",
		Check: func(ctx context.Context) error {
			if !status.IsOnline() {
				return voice.ErrNetworkOffline
			}
			if status.Quality() == voice.QualityPoor {
				return errors.New("connection quality is poor")
			}
			return nil
		},
	}
}

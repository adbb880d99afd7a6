package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Generation service
	if cfg.Generation.URL == "" {
		errs = append(errs, errors.New("generation.url is required"))
	} else {
		validateURL(&errs, "generation.url", cfg.Generation.URL)
	}
	if cfg.Generation.RequestTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("generation.request_timeout_ms %d must not be negative", cfg.Generation.RequestTimeoutMS))
	}

	// Transcription fallback
	if cfg.Transcription.URL == "" {
		slog.Warn("transcription.url is empty; the chunked capture fallback is disabled")
	} else {
		validateURL(&errs, "transcription.url", cfg.Transcription.URL)
	}

	// Direct fallback
	if cfg.Fallback.OpenAIAPIKey == "" {
		slog.Warn("fallback.openai_api_key is empty; the direct generation fallback is disabled")
	} else if cfg.Fallback.Model == "" {
		errs = append(errs, errors.New("fallback.model is required when fallback.openai_api_key is set"))
	}

	// Pipeline tuning
	p := cfg.Pipeline
	if p.SilenceWindowMS < 0 || (p.SilenceWindowMS > 0 && p.SilenceWindowMS < 100) || p.SilenceWindowMS > 10_000 {
		errs = append(errs, fmt.Errorf("pipeline.silence_window_ms %d is out of range [100, 10000]", p.SilenceWindowMS))
	}
	if p.MinEmitDelta < 0 {
		errs = append(errs, fmt.Errorf("pipeline.min_emit_delta %d must not be negative", p.MinEmitDelta))
	}
	if p.SegmentMS < 0 || p.SegmentMS > 30_000 {
		errs = append(errs, fmt.Errorf("pipeline.segment_ms %d is out of range [0, 30000]", p.SegmentMS))
	}
	if p.MaxRestartAttempts < 0 || p.MaxRestartAttempts > 20 {
		errs = append(errs, fmt.Errorf("pipeline.max_restart_attempts %d is out of range [0, 20]", p.MaxRestartAttempts))
	}
	if p.RestartBackoffMS < 0 {
		errs = append(errs, fmt.Errorf("pipeline.restart_backoff_ms %d must not be negative", p.RestartBackoffMS))
	}
	if p.SettleDelayMS < 0 {
		errs = append(errs, fmt.Errorf("pipeline.settle_delay_ms %d must not be negative", p.SettleDelayMS))
	}
	if p.WarnThrottleMS < 0 {
		errs = append(errs, fmt.Errorf("pipeline.warn_throttle_ms %d must not be negative", p.WarnThrottleMS))
	}

	// Network monitor
	if cfg.Network.ProbeURL != "" {
		validateURL(&errs, "network.probe_url", cfg.Network.ProbeURL)
	}
	if cfg.Network.ProbeIntervalMS < 0 {
		errs = append(errs, fmt.Errorf("network.probe_interval_ms %d must not be negative", cfg.Network.ProbeIntervalMS))
	}
	if cfg.Network.ProbeTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("network.probe_timeout_ms %d must not be negative", cfg.Network.ProbeTimeoutMS))
	}

	return errors.Join(errs...)
}

// validateURL appends an error when raw is not an absolute http(s) URL.
func validateURL(errs *[]error, field, raw string) {
	u, err := url.Parse(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s %q is not a valid URL: %w", field, raw, err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		*errs = append(*errs, fmt.Errorf("%s %q must use http or https", field, raw))
	}
}

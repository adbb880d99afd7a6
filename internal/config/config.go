// Package config provides the configuration schema, loader, and file watcher
// for the Parleo conversation server.
package config

import "time"

// LogLevel controls log verbosity for the Parleo server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Parleo.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Generation    GenerationConfig    `yaml:"generation"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Fallback      FallbackConfig      `yaml:"fallback"`
	Feedback      FeedbackConfig      `yaml:"feedback"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Network       NetworkConfig       `yaml:"network"`
}

// ServerConfig holds network and logging settings for the Parleo server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// GenerationConfig points at the remote generation service that produces
// assistant replies.
type GenerationConfig struct {
	// URL is the generation endpoint. Required.
	URL string `yaml:"url"`

	// APIKey is sent as a Bearer token if set.
	APIKey string `yaml:"api_key"`

	// RequestTimeoutMS bounds non-streaming requests. Streaming requests are
	// bounded by the session context instead. 0 means no client timeout.
	RequestTimeoutMS int `yaml:"request_timeout_ms"`
}

// TranscriptionConfig points at the chunked-fallback transcription endpoint.
type TranscriptionConfig struct {
	// URL is the transcription endpoint. Empty disables the chunked capture
	// fallback.
	URL string `yaml:"url"`

	// RequestTimeoutMS bounds each transcription request. 0 uses the client
	// default.
	RequestTimeoutMS int `yaml:"request_timeout_ms"`
}

// FallbackConfig configures the direct generation provider used when the
// generation service itself cannot produce a reply.
type FallbackConfig struct {
	// OpenAIAPIKey enables the direct fallback. Empty disables it.
	OpenAIAPIKey string `yaml:"openai_api_key"`

	// Model is the chat model for direct fallback replies (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`
}

// FeedbackConfig configures learner feedback storage.
type FeedbackConfig struct {
	// Path is the JSON-lines file feedback submissions are appended to.
	// Empty disables the feedback endpoint.
	Path string `yaml:"path"`
}

// PipelineConfig tunes the voice pipeline. Zero values use the per-package
// defaults.
type PipelineConfig struct {
	// SilenceWindowMS is how long after the last final fragment the
	// accumulated text becomes one utterance.
	SilenceWindowMS int `yaml:"silence_window_ms"`

	// MinEmitDelta is the minimum growth, in bytes, of accumulated reply text
	// between two streamed chunk emissions.
	MinEmitDelta int `yaml:"min_emit_delta"`

	// SegmentMS is the chunked-fallback recording segment length.
	SegmentMS int `yaml:"segment_ms"`

	// SettleDelayMS is the wait after connectivity returns before capture
	// resumes.
	SettleDelayMS int `yaml:"settle_delay_ms"`

	// MaxRestartAttempts caps capture resume attempts on a degraded
	// connection before the session falls back to chunked capture.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`

	// RestartBackoffMS is the base delay of the capture resume backoff,
	// doubling per attempt.
	RestartBackoffMS int `yaml:"restart_backoff_ms"`

	// WarnThrottleMS suppresses repeat capture warnings of the same kind.
	WarnThrottleMS int `yaml:"warn_throttle_ms"`
}

// NetworkConfig tunes the connectivity monitor.
type NetworkConfig struct {
	// ProbeURL is probed with HEAD requests to measure round-trip time.
	// Empty disables active probing; the monitor then relies on client
	// reported online/offline events only.
	ProbeURL string `yaml:"probe_url"`

	// ProbeIntervalMS is the time between probes.
	ProbeIntervalMS int `yaml:"probe_interval_ms"`

	// ProbeTimeoutMS bounds each probe.
	ProbeTimeoutMS int `yaml:"probe_timeout_ms"`
}

// SilenceWindow returns the configured silence window as a duration.
func (p PipelineConfig) SilenceWindow() time.Duration {
	return time.Duration(p.SilenceWindowMS) * time.Millisecond
}

// Segment returns the chunked-fallback segment length as a duration.
func (p PipelineConfig) Segment() time.Duration {
	return time.Duration(p.SegmentMS) * time.Millisecond
}

// SettleDelay returns the post-reconnect settle delay as a duration.
func (p PipelineConfig) SettleDelay() time.Duration {
	return time.Duration(p.SettleDelayMS) * time.Millisecond
}

// RestartBackoff returns the capture resume base delay as a duration.
func (p PipelineConfig) RestartBackoff() time.Duration {
	return time.Duration(p.RestartBackoffMS) * time.Millisecond
}

// WarnThrottle returns the warning throttle window as a duration.
func (p PipelineConfig) WarnThrottle() time.Duration {
	return time.Duration(p.WarnThrottleMS) * time.Millisecond
}

// ProbeInterval returns the probe interval as a duration.
func (n NetworkConfig) ProbeInterval() time.Duration {
	return time.Duration(n.ProbeIntervalMS) * time.Millisecond
}

// ProbeTimeout returns the probe timeout as a duration.
func (n NetworkConfig) ProbeTimeout() time.Duration {
	return time.Duration(n.ProbeTimeoutMS) * time.Millisecond
}

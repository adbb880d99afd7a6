// Package netmon tracks device connectivity and measures connection quality.
//
// A Monitor combines two signals: host online/offline notifications pushed via
// [Monitor.NotifyOnline] (the gateway forwards the browser's online/offline
// events) and lightweight HTTP round-trip probes that grade the connection
// into quality tiers. Capture and transport consult the monitor to decide
// between waiting for reconnect and retrying with backoff.
//
// Monitors are explicitly constructed and injected; there is no package-level
// instance. All methods are safe for concurrent use.
package netmon

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/parleo-app/parleo/internal/events"
	"github.com/parleo-app/parleo/pkg/voice"
)

// Quality tier thresholds on probe round-trip time.
const (
	excellentRTT = 100 * time.Millisecond
	goodRTT      = 300 * time.Millisecond
	fairRTT      = 700 * time.Millisecond
)

// Default probe parameters.
const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// EventKind discriminates monitor events.
type EventKind string

const (
	// EventOnline fires when connectivity returns.
	EventOnline EventKind = "online"

	// EventOffline fires when connectivity is lost.
	EventOffline EventKind = "offline"

	// EventConnectionChange fires when the quality tier changes while online.
	EventConnectionChange EventKind = "connection-change"
)

// Event is a connectivity change notification.
type Event struct {
	Kind   EventKind
	Status voice.NetworkStatus
}

// Status is the read-side interface consumed by capture and transport.
// *Monitor implements it; tests substitute a scripted fake.
type Status interface {
	IsOnline() bool
	Quality() voice.Quality
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Config configures a [Monitor].
type Config struct {
	// ProbeURL is the endpoint probed to measure round-trip time. A HEAD
	// request is issued; any response counts as reachable. Empty disables
	// active probing (the monitor then relies solely on NotifyOnline).
	ProbeURL string

	// ProbeInterval is the period of the background probe loop started by
	// [Monitor.Start]. Defaults to 30s if zero.
	ProbeInterval time.Duration

	// ProbeTimeout bounds a single probe. Defaults to 5s if zero.
	ProbeTimeout time.Duration

	// HTTPClient overrides the probe HTTP client. Defaults to a client with
	// ProbeTimeout.
	HTTPClient *http.Client
}

// Monitor tracks connectivity state. Create with [New], optionally run the
// background probe loop with [Monitor.Start], and release with
// [Monitor.Close].
type Monitor struct {
	probeURL      string
	probeInterval time.Duration
	httpClient    *http.Client

	hub events.Hub[Event]

	mu     sync.Mutex
	status voice.NetworkStatus

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Compile-time interface assertion.
var _ Status = (*Monitor)(nil)

// New creates a Monitor. The monitor starts optimistic: online with unknown
// (good) quality until the first probe or notification says otherwise.
func New(cfg Config) *Monitor {
	interval := cfg.ProbeInterval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Monitor{
		probeURL:      cfg.ProbeURL,
		probeInterval: interval,
		httpClient:    client,
		status: voice.NetworkStatus{
			Online:  true,
			Quality: voice.QualityGood,
		},
		done: make(chan struct{}),
	}
}

// Start launches the background probe loop. It returns immediately; the loop
// runs until [Monitor.Close] or ctx cancellation. Calling Start with active
// probing disabled (empty ProbeURL) is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	if m.probeURL == "" {
		return
	}
	m.wg.Add(1)
	go m.probeLoop(ctx)
}

// Close stops the probe loop and waits for it to exit. Safe to call multiple
// times.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
}

// IsOnline reports the current online flag.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.Online
}

// Quality returns the current quality tier.
func (m *Monitor) Quality() voice.Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.Quality
}

// Current returns a snapshot of the full network status.
func (m *Monitor) Current() voice.NetworkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers fn for connectivity events and returns a disposer.
func (m *Monitor) Subscribe(fn func(Event)) (unsubscribe func()) {
	return m.hub.Subscribe(fn)
}

// NotifyOnline records a host online/offline notification. An offline
// notification takes effect immediately; an online notification restores the
// last known quality tier and triggers an asynchronous probe to refresh it.
func (m *Monitor) NotifyOnline(online bool) {
	m.mu.Lock()
	was := m.status.Online
	m.status.Online = online
	if !online {
		m.status.Quality = voice.QualityOffline
		m.status.RTT = 0
	} else if m.status.Quality == voice.QualityOffline {
		m.status.Quality = voice.QualityGood
	}
	status := m.status
	m.mu.Unlock()

	if was == online {
		return
	}
	if online {
		slog.Info("network online")
		m.hub.Publish(Event{Kind: EventOnline, Status: status})
	} else {
		slog.Warn("network offline")
		m.hub.Publish(Event{Kind: EventOffline, Status: status})
	}
}

// Measure performs one probe immediately and returns the refreshed status.
// With probing disabled it returns the current status unchanged.
func (m *Monitor) Measure(ctx context.Context) voice.NetworkStatus {
	if m.probeURL == "" {
		return m.Current()
	}
	rtt, err := m.probe(ctx)
	return m.record(rtt, err)
}

// probeLoop periodically measures the connection until Close or ctx done.
func (m *Monitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			rtt, err := m.probe(ctx)
			m.record(rtt, err)
		}
	}
}

// probe issues a single HEAD request and returns its round-trip time.
func (m *Monitor) probe(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return time.Since(start), nil
}

// record folds one probe result into the status and publishes change events.
func (m *Monitor) record(rtt time.Duration, probeErr error) voice.NetworkStatus {
	m.mu.Lock()
	prev := m.status

	if probeErr != nil {
		m.status.Online = false
		m.status.Quality = voice.QualityOffline
		m.status.RTT = 0
	} else {
		m.status.Online = true
		m.status.RTT = rtt
		m.status.Quality = tierFor(rtt)
	}
	status := m.status
	m.mu.Unlock()

	switch {
	case prev.Online && !status.Online:
		slog.Warn("probe failed, marking offline", "err", probeErr)
		m.hub.Publish(Event{Kind: EventOffline, Status: status})
	case !prev.Online && status.Online:
		m.hub.Publish(Event{Kind: EventOnline, Status: status})
	case prev.Quality != status.Quality:
		m.hub.Publish(Event{Kind: EventConnectionChange, Status: status})
	}
	return status
}

// tierFor maps a round-trip time to a quality tier.
func tierFor(rtt time.Duration) voice.Quality {
	switch {
	case rtt < excellentRTT:
		return voice.QualityExcellent
	case rtt < goodRTT:
		return voice.QualityGood
	case rtt < fairRTT:
		return voice.QualityFair
	default:
		return voice.QualityPoor
	}
}

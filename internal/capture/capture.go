// Package capture turns a continuous recognition backend into a self-healing
// stream of transcript fragments.
//
// A Session owns one recognition pass at a time and restarts it after
// transient failures without surfacing anything to the caller. Failures
// classified as connectivity problems are recovered by waiting for reconnect
// (offline) or exponential backoff (degraded); if backoff is exhausted the
// session permanently switches to the chunked-audio fallback, recording short
// segments and submitting them to the remote transcription endpoint.
//
// Warnings surfaced to listeners are throttled per error kind so a flapping
// backend cannot flood the UI.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parleo-app/parleo/internal/netmon"
	"github.com/parleo-app/parleo/internal/observe"
	"github.com/parleo-app/parleo/internal/resilience"
	"github.com/parleo-app/parleo/pkg/recog"
	"github.com/parleo-app/parleo/pkg/transcribe"
	"github.com/parleo-app/parleo/pkg/voice"
)

// State is the capture session's lifecycle state.
type State int32

const (
	// StateIdle means no capture is active.
	StateIdle State = iota

	// StateStarting means the first recognition pass is being established.
	StateStarting

	// StateListening means fragments are flowing.
	StateListening

	// StateStopping means a manual stop is in progress.
	StateStopping

	// StateRestarting means the session is between passes, recovering from a
	// transient or connectivity failure.
	StateRestarting

	// StateFallingBack means live recognition has been abandoned and the
	// chunked-audio strategy is being engaged.
	StateFallingBack
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	case StateRestarting:
		return "restarting"
	case StateFallingBack:
		return "falling-back"
	default:
		return "unknown"
	}
}

// Default tuning values.
const (
	// DefaultSettleDelay is the wait after connectivity returns before
	// resuming capture, giving the connection a moment to stabilise.
	DefaultSettleDelay = 2 * time.Second

	// DefaultWarnThrottle suppresses repeat warnings of the same kind.
	DefaultWarnThrottle = 3 * time.Second

	// DefaultSegmentLength is the chunked-fallback recording segment size.
	DefaultSegmentLength = 2 * time.Second
)

// Warning is a throttled, user-visible notice. At most one warning per Kind
// is surfaced per throttle window.
type Warning struct {
	// Kind is the backend error classification that triggered the warning.
	Kind recog.ErrorKind

	// Err is the pipeline-level classification ([voice.ErrNetworkOffline],
	// [voice.ErrPoorConnection], ...). Nil for purely informational kinds
	// such as no-speech.
	Err error
}

// Config configures a [Session].
type Config struct {
	// Backend is the live recognition backend. Nil means live recognition is
	// unsupported on this host and the chunked fallback is used from the
	// start.
	Backend recog.Backend

	// Recorder supplies raw audio segments for the chunked fallback. Nil
	// disables the fallback.
	Recorder recog.Recorder

	// Transcriber submits fallback segments for transcription. Nil disables
	// the fallback.
	Transcriber transcribe.Transcriber

	// Network is consulted on connectivity-classified errors. Required.
	Network netmon.Status

	// Backoff is the retry schedule for resuming capture on a degraded
	// connection. Zero values use the resilience defaults.
	Backoff resilience.Backoff

	// SettleDelay, WarnThrottle, and SegmentLength default to the package
	// constants if zero.
	SettleDelay   time.Duration
	WarnThrottle  time.Duration
	SegmentLength time.Duration

	// Metrics records restart and fallback instruments. Defaults to the
	// package-level instance.
	Metrics *observe.Metrics
}

// Session continuously converts audio into transcript fragments while active.
// Create with [New]; one Session serves one conversation session.
//
// All methods are safe for concurrent use.
type Session struct {
	cfg Config

	state atomic.Int32

	mu         sync.Mutex
	language   string
	manualStop bool
	restarting bool // single in-flight restart guard
	fallback   bool // chunked strategy permanently engaged
	started    bool
	seq        int
	current    recog.Session
	lastWarn   map[recog.ErrorKind]time.Time
	cancel     context.CancelFunc

	fragments chan voice.TranscriptFragment
	warnings  chan Warning
	fatals    chan error

	wg sync.WaitGroup
}

// New creates a capture [Session].
func New(cfg Config) *Session {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.WarnThrottle <= 0 {
		cfg.WarnThrottle = DefaultWarnThrottle
	}
	if cfg.SegmentLength <= 0 {
		cfg.SegmentLength = DefaultSegmentLength
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Session{
		cfg:       cfg,
		lastWarn:  make(map[recog.ErrorKind]time.Time),
		fragments: make(chan voice.TranscriptFragment, 32),
		warnings:  make(chan Warning, 8),
		fatals:    make(chan error, 2),
	}
}

// Fragments returns the transcript fragment stream. The channel is never
// closed; it simply stops producing once the session is stopped.
func (s *Session) Fragments() <-chan voice.TranscriptFragment { return s.fragments }

// Warnings returns the throttled connectivity warning stream.
func (s *Session) Warnings() <-chan Warning { return s.warnings }

// Fatals returns the stream of unrecoverable capture errors (permission
// denied, no device, fallback unavailable). A fatal error ends capture.
func (s *Session) Fatals() <-chan error { return s.fatals }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Start begins capture in the given language.
//
// It returns [voice.ErrPermissionDenied] or [voice.ErrDeviceNotFound] when
// the microphone cannot be acquired. A backend that is missing or reports
// [voice.ErrUnsupported] is not an error: the session transparently engages
// the chunked-audio fallback, and only if that is also unavailable does Start
// fail with ErrUnsupported.
func (s *Session) Start(ctx context.Context, language string) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("capture: session already started")
	}
	s.started = true
	s.manualStop = false
	s.language = language
	s.seq = 0
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.state.Store(int32(StateStarting))

	if s.cfg.Backend == nil {
		return s.startFallbackOrReset(runCtx, cancel)
	}

	rs, err := s.cfg.Backend.Start(runCtx, language)
	switch {
	case err == nil:
	case errors.Is(err, voice.ErrUnsupported):
		slog.Info("live recognition unsupported, using chunked fallback")
		return s.startFallbackOrReset(runCtx, cancel)
	default:
		s.resetAfterFailedStart(cancel)
		return fmt.Errorf("capture: start recognition: %w", err)
	}

	s.setCurrent(rs)
	s.state.Store(int32(StateListening))
	s.wg.Add(1)
	go s.consume(runCtx, rs)
	return nil
}

// Stop halts capture and releases the microphone. It suppresses the
// auto-restart behaviour, cancels pending backoff and reconnect waits, and is
// idempotent. Any backend error triggered by the teardown is discarded.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started || s.manualStop {
		s.mu.Unlock()
		return
	}
	s.manualStop = true
	cancel := s.cancel
	current := s.current
	s.mu.Unlock()

	s.state.Store(int32(StateStopping))
	if cancel != nil {
		cancel()
	}
	if current != nil {
		current.Stop()
	}
	s.wg.Wait()
	s.state.Store(int32(StateIdle))

	s.mu.Lock()
	s.started = false
	s.current = nil
	s.mu.Unlock()
}

// startFallbackOrReset engages the chunked fallback during Start, unwinding
// the half-initialised session on failure.
func (s *Session) startFallbackOrReset(ctx context.Context, cancel context.CancelFunc) error {
	if err := s.engageFallback(ctx); err != nil {
		s.resetAfterFailedStart(cancel)
		return err
	}
	return nil
}

// resetAfterFailedStart returns the session to idle after a failed Start.
func (s *Session) resetAfterFailedStart(cancel context.CancelFunc) {
	s.state.Store(int32(StateIdle))
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	cancel()
}

// setCurrent records the active recognition pass.
func (s *Session) setCurrent(rs recog.Session) {
	s.mu.Lock()
	s.current = rs
	s.mu.Unlock()
}

// consume drains one recognition pass and decides what happens after it ends.
func (s *Session) consume(ctx context.Context, rs recog.Session) {
	defer s.wg.Done()

	var netFailure bool

	for ev := range rs.Events() {
		switch ev.Kind {
		case recog.EventStarted:
			s.state.Store(int32(StateListening))

		case recog.EventResult:
			s.emitResult(ctx, ev)

		case recog.EventError:
			if s.handleError(ev.Err, &netFailure) {
				s.state.Store(int32(StateIdle))
				return
			}

		case recog.EventEnded:
			// The pass is over; the channel close below decides the restart.
		}
	}

	// Pass ended. Restart unless a manual stop is in effect.
	s.mu.Lock()
	stop := s.manualStop || ctx.Err() != nil
	inFlight := s.restarting
	if !stop && !inFlight {
		s.restarting = true
	}
	s.mu.Unlock()

	if stop {
		s.state.Store(int32(StateIdle))
		return
	}
	if inFlight {
		// Another trigger already owns the restart sequence.
		return
	}

	s.state.Store(int32(StateRestarting))
	reason := "transient"
	if netFailure {
		reason = "network"
	}
	s.cfg.Metrics.RecordCaptureRestart(ctx, reason)
	s.wg.Add(1)
	go s.restart(ctx, netFailure)
}

// emitResult forwards a recognition result as a transcript fragment.
func (s *Session) emitResult(ctx context.Context, ev recog.Event) {
	s.mu.Lock()
	var frag voice.TranscriptFragment
	if ev.Final != "" {
		frag = voice.TranscriptFragment{Text: ev.Final, IsFinal: true, Seq: s.seq}
		s.seq++
	} else {
		frag = voice.TranscriptFragment{Text: ev.Interim, IsFinal: false, Seq: s.seq}
	}
	s.mu.Unlock()

	select {
	case s.fragments <- frag:
	case <-ctx.Done():
	}
}

// handleError classifies a backend error. It reports true for fatal errors
// that must end the session.
func (s *Session) handleError(kind recog.ErrorKind, netFailure *bool) bool {
	s.mu.Lock()
	deliberate := s.manualStop
	s.mu.Unlock()
	if deliberate {
		// Errors racing a programmatic stop are never surfaced.
		return false
	}

	switch kind {
	case recog.ErrAborted:
		// Self-triggered abort from a restart or teardown; never surfaced.
		return false

	case recog.ErrNoSpeech, recog.ErrAudioCapture:
		// Recoverable: the pass will end and be restarted; listeners get at
		// most one notice per kind per throttle window.
		slog.Debug("transient capture error", "kind", kind)
		s.warn(kind, nil)
		return false

	case recog.ErrNetwork:
		*netFailure = true
		if s.cfg.Network != nil && !s.cfg.Network.IsOnline() {
			s.warn(kind, voice.ErrNetworkOffline)
		} else {
			s.warn(kind, voice.ErrPoorConnection)
		}
		return false

	case recog.ErrNotAllowed:
		s.fatal(fmt.Errorf("capture: %w", voice.ErrPermissionDenied))
		return true

	case recog.ErrNoDevice:
		s.fatal(fmt.Errorf("capture: %w", voice.ErrDeviceNotFound))
		return true

	default:
		slog.Warn("unclassified capture error, treating as transient", "kind", kind)
		return false
	}
}

// restart recovers from the end of a pass: immediately for transient causes,
// via reconnect-wait or backoff for network causes. It owns the single
// restart slot and must release it on every path.
func (s *Session) restart(ctx context.Context, netFailure bool) {
	defer s.wg.Done()
	defer s.releaseRestart()

	if netFailure {
		if !s.recoverNetwork(ctx) {
			return
		}
	}

	if s.stopRequested(ctx) {
		s.state.Store(int32(StateIdle))
		return
	}

	s.mu.Lock()
	language := s.language
	s.mu.Unlock()

	rs, err := s.cfg.Backend.Start(ctx, language)
	if err != nil {
		if s.stopRequested(ctx) {
			s.state.Store(int32(StateIdle))
			return
		}
		slog.Warn("capture restart failed, engaging fallback", "err", err)
		if err := s.engageFallback(ctx); err != nil {
			s.fatal(err)
			s.state.Store(int32(StateIdle))
		}
		return
	}

	s.setCurrent(rs)
	s.state.Store(int32(StateListening))
	s.releaseRestart()
	s.wg.Add(1)
	go s.consume(ctx, rs)
}

// releaseRestart frees the restart slot. It must run before the next pass's
// consume goroutine starts, so a pass that ends immediately can claim its own
// restart instead of seeing the previous one still in flight.
func (s *Session) releaseRestart() {
	s.mu.Lock()
	s.restarting = false
	s.mu.Unlock()
}

// recoverNetwork waits out a connectivity failure. Offline: block until the
// monitor reports online, then settle briefly. Degraded: retry with
// exponential backoff by probing Backend.Start indirectly through the caller.
// It reports false when the session should not resume live capture (stop
// requested, or backoff exhausted and the fallback engaged).
func (s *Session) recoverNetwork(ctx context.Context) bool {
	if s.cfg.Network == nil {
		return true
	}

	if !s.cfg.Network.IsOnline() {
		online := make(chan struct{}, 1)
		unsubscribe := s.cfg.Network.Subscribe(func(ev netmon.Event) {
			if ev.Kind == netmon.EventOnline {
				select {
				case online <- struct{}{}:
				default:
				}
			}
		})
		defer unsubscribe()

		// Re-check after subscribing to close the race with a fast reconnect.
		if !s.cfg.Network.IsOnline() {
			slog.Info("offline: waiting for connectivity before resuming capture")
			select {
			case <-online:
			case <-ctx.Done():
				return false
			}
		}

		settle := time.NewTimer(s.cfg.SettleDelay)
		defer settle.Stop()
		select {
		case <-settle.C:
		case <-ctx.Done():
			return false
		}
		return true
	}

	// Online but degraded: retry the pass with exponential backoff before
	// abandoning live recognition for this session.
	backoff := s.cfg.Backoff
	for attempt := 0; attempt < attemptsOf(backoff); attempt++ {
		if err := backoff.Wait(ctx, attempt); err != nil {
			return false
		}
		if s.stopRequested(ctx) {
			return false
		}
		s.mu.Lock()
		language := s.language
		s.mu.Unlock()

		rs, err := s.cfg.Backend.Start(ctx, language)
		if err == nil {
			s.setCurrent(rs)
			s.state.Store(int32(StateListening))
			s.releaseRestart()
			s.wg.Add(1)
			go s.consume(ctx, rs)
			return false // resumed here; the caller must not start again
		}
		slog.Warn("capture resume attempt failed",
			"attempt", attempt+1, "err", err)
	}

	slog.Warn("capture resume attempts exhausted, engaging chunked fallback")
	if err := s.engageFallback(ctx); err != nil {
		s.fatal(err)
		s.state.Store(int32(StateIdle))
	}
	return false
}

// attemptsOf returns the effective attempt budget of a backoff schedule.
func attemptsOf(b resilience.Backoff) int {
	if b.Attempts > 0 {
		return b.Attempts
	}
	return 5
}

// engageFallback permanently switches the session to the chunked-audio
// strategy. It returns ErrUnsupported when the fallback dependencies are not
// configured.
func (s *Session) engageFallback(ctx context.Context) error {
	if s.cfg.Recorder == nil || s.cfg.Transcriber == nil {
		return fmt.Errorf("capture: no fallback transcription available: %w", voice.ErrUnsupported)
	}

	s.mu.Lock()
	s.fallback = true
	s.mu.Unlock()
	s.state.Store(int32(StateFallingBack))
	s.cfg.Metrics.CaptureFallbacks.Add(ctx, 1)

	s.wg.Add(1)
	go s.fallbackLoop(ctx)
	return nil
}

// UsingFallback reports whether the chunked-audio strategy is engaged.
func (s *Session) UsingFallback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

// fallbackLoop records fixed-length segments and submits each to the remote
// transcription endpoint, emitting returned text as final fragments.
func (s *Session) fallbackLoop(ctx context.Context) {
	defer s.wg.Done()

	s.mu.Lock()
	language := s.language
	s.mu.Unlock()

	s.state.Store(int32(StateListening))

	for {
		if s.stopRequested(ctx) {
			s.state.Store(int32(StateIdle))
			return
		}

		segment, err := s.cfg.Recorder.Record(ctx, s.cfg.SegmentLength)
		if err != nil {
			if ctx.Err() != nil {
				s.state.Store(int32(StateIdle))
				return
			}
			s.warn(recog.ErrAudioCapture, fmt.Errorf("capture: record segment: %w", err))
			continue
		}
		if len(segment.Data) == 0 {
			continue
		}

		transcribeStart := time.Now()
		text, err := s.cfg.Transcriber.Transcribe(ctx, segment, language)
		s.cfg.Metrics.TranscriptionDuration.Record(ctx, time.Since(transcribeStart).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				s.state.Store(int32(StateIdle))
				return
			}
			if errors.Is(err, voice.ErrServiceUnavailable) {
				// The endpoint is not deployed: permanent for the session.
				s.fatal(err)
				s.state.Store(int32(StateIdle))
				return
			}
			s.warn(recog.ErrNetwork, voice.ErrPoorConnection)
			continue
		}
		if text == "" {
			continue
		}
		s.emitResult(ctx, recog.Event{Kind: recog.EventResult, Final: text})
	}
}

// stopRequested reports whether a manual stop or context cancellation is in
// effect.
func (s *Session) stopRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manualStop
}

// warn surfaces a throttled warning: at most one per kind per throttle
// window.
func (s *Session) warn(kind recog.ErrorKind, err error) {
	now := time.Now()
	s.mu.Lock()
	if last, ok := s.lastWarn[kind]; ok && now.Sub(last) < s.cfg.WarnThrottle {
		s.mu.Unlock()
		return
	}
	s.lastWarn[kind] = now
	s.mu.Unlock()

	select {
	case s.warnings <- Warning{Kind: kind, Err: err}:
	default:
		// A full warning buffer means the UI is not listening; drop.
	}
}

// fatal surfaces an unrecoverable capture error and ends capture: the run
// context is cancelled and the restart machinery suppressed.
func (s *Session) fatal(err error) {
	slog.Error("fatal capture error", "err", err)

	s.mu.Lock()
	s.manualStop = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	select {
	case s.fatals <- err:
	default:
	}
}

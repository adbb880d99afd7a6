// Package controller orchestrates a live conversation session: it wires
// capture to utterance accumulation, delivers each utterance through the
// transport, hands terminal replies to playback, and exposes one uniform
// event stream to the UI.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/parleo-app/parleo/internal/accumulate"
	"github.com/parleo-app/parleo/internal/capture"
	"github.com/parleo-app/parleo/internal/events"
	"github.com/parleo-app/parleo/internal/playback"
	"github.com/parleo-app/parleo/internal/transport"
	"github.com/parleo-app/parleo/pkg/voice"
)

// State is the controller's lifecycle state.
type State int32

const (
	// StateInactive means no session exists.
	StateInactive State = iota

	// StateActive means a session is running.
	StateActive

	// StateEnding means teardown is in progress.
	StateEnding
)

// Status is the coarse pipeline status shown to the user instead of raw
// component events.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusListening Status = "listening"
	StatusThinking  Status = "thinking"
	StatusSpeaking  Status = "speaking"
)

// EventKind identifies a controller event.
type EventKind string

const (
	// EventStatus reports a Status change.
	EventStatus EventKind = "status"

	// EventPreview carries interim transcript text for display.
	EventPreview EventKind = "interim-preview"

	// EventReply carries one reply chunk of streamed assistant text.
	EventReply EventKind = "reply-chunk"

	// EventWarning carries a throttled recoverable-condition notice.
	EventWarning EventKind = "warning"

	// EventError carries a user-actionable failure. The session survives it
	// unless the error is a fatal capture failure.
	EventError EventKind = "error"

	// EventSessionClosed fires once per session, after teardown.
	EventSessionClosed EventKind = "session-closed"
)

// Event is one notification on the controller's uniform event stream. Fields
// beyond Kind are populated per kind.
type Event struct {
	Kind    EventKind
	Status  Status
	Session voice.Session
	Preview accumulate.Preview
	Chunk   voice.ReplyChunk
	Warning capture.Warning
	Err     error
}

// CaptureSession is the capture dependency; *capture.Session implements it.
type CaptureSession interface {
	Start(ctx context.Context, language string) error
	Stop()
	Fragments() <-chan voice.TranscriptFragment
	Warnings() <-chan capture.Warning
	Fatals() <-chan error
}

// Sender is the transport dependency; *transport.Transport implements it.
type Sender interface {
	Send(ctx context.Context, utt voice.Utterance, opts transport.SendOptions) (voice.ReplyChunk, error)
	Chunks() <-chan voice.ReplyChunk
}

// Player is the playback dependency; *playback.Session implements it.
type Player interface {
	Play(ctx context.Context, item voice.PlaybackItem) error
	UnlockAudio(ctx context.Context) error
	Stop(clearQueue bool)
	Subscribe(fn func(playback.Event)) func()
}

// Config wires a [Controller]'s collaborators.
type Config struct {
	Capture   CaptureSession
	Transport Sender
	Playback  Player

	// Accumulate configures the per-session utterance accumulator.
	Accumulate accumulate.Config
}

// StartOptions parameterize one session.
type StartOptions struct {
	// Language is the conversation language tag (e.g. "es-ES").
	Language string

	// Level and FocusArea tune the generation service's replies.
	Level     string
	FocusArea string

	// Speech configures local synthesis for text-only replies.
	Speech voice.SpeechParams

	// DisableCapture starts the session without the microphone; the caller
	// drives the accumulator directly (e.g. typed input).
	DisableCapture bool
}

// Controller owns session lifecycle and the turn loop. Create with [New].
//
// All methods are safe for concurrent use.
type Controller struct {
	cfg Config
	hub events.Hub[Event]

	mu      sync.Mutex
	state   State
	session voice.Session
	opts    StartOptions
	acc     *accumulate.Accumulator
	cancel  context.CancelFunc
	group   *errgroup.Group
	unsub   func()
}

// New creates a [Controller].
func New(cfg Config) (*Controller, error) {
	if cfg.Capture == nil || cfg.Transport == nil || cfg.Playback == nil {
		return nil, fmt.Errorf("controller: all collaborators must be set")
	}
	return &Controller{cfg: cfg}, nil
}

// Subscribe registers a listener on the uniform event stream and returns its
// disposer.
func (c *Controller) Subscribe(fn func(Event)) func() {
	return c.hub.Subscribe(fn)
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the current session, zero when inactive.
func (c *Controller) Session() voice.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// StartSession creates a session and, unless opted out, starts capture.
func (c *Controller) StartSession(ctx context.Context, opts StartOptions) (voice.Session, error) {
	c.mu.Lock()
	if c.state != StateInactive {
		c.mu.Unlock()
		return voice.Session{}, errors.New("controller: session already active")
	}

	session := voice.Session{
		ID:        uuid.NewString(),
		Active:    true,
		CreatedAt: time.Now(),
	}
	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	acc := accumulate.New(c.cfg.Accumulate)

	c.state = StateActive
	c.session = session
	c.opts = opts
	c.acc = acc
	c.cancel = cancel
	c.group = group
	c.mu.Unlock()

	if !opts.DisableCapture {
		if err := c.cfg.Capture.Start(runCtx, opts.Language); err != nil {
			c.mu.Lock()
			c.state = StateInactive
			c.session = voice.Session{}
			c.acc = nil
			c.mu.Unlock()
			acc.Close()
			cancel()
			return voice.Session{}, fmt.Errorf("controller: start capture: %w", err)
		}
	}

	unsub := c.cfg.Playback.Subscribe(c.onPlaybackEvent)
	c.mu.Lock()
	c.unsub = unsub
	c.mu.Unlock()

	group.Go(func() error { return c.pumpFragments(groupCtx, acc) })
	group.Go(func() error { return c.pumpPreviews(groupCtx, acc) })
	group.Go(func() error { return c.pumpChunks(groupCtx) })
	group.Go(func() error { return c.pumpWarnings(groupCtx) })
	group.Go(func() error { return c.pumpFatals(groupCtx) })
	group.Go(func() error { return c.runTurns(groupCtx, acc) })

	slog.Info("session started", "session", session.ID, "language", opts.Language)
	c.publishStatus(StatusListening)
	return session, nil
}

// EndSession stops capture and playback, tears down the turn loop, and emits
// session-closed. Idempotent; a no-op when inactive.
func (c *Controller) EndSession() {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.state = StateEnding
	session := c.session
	acc := c.acc
	cancel := c.cancel
	group := c.group
	unsub := c.unsub
	c.mu.Unlock()

	c.cfg.Capture.Stop()
	c.cfg.Playback.Stop(true)
	acc.Close()
	cancel()
	if group != nil {
		_ = group.Wait()
	}
	if unsub != nil {
		unsub()
	}

	c.mu.Lock()
	c.state = StateInactive
	c.session = voice.Session{}
	c.acc = nil
	c.cancel = nil
	c.group = nil
	c.unsub = nil
	c.mu.Unlock()

	slog.Info("session closed", "session", session.ID)
	c.publishStatus(StatusIdle)
	session.Active = false
	c.hub.Publish(Event{Kind: EventSessionClosed, Session: session})
}

// StopCapture releases the microphone and immediately flushes any pending
// fragments as a final utterance, so a manually ended turn is still answered.
func (c *Controller) StopCapture() {
	c.mu.Lock()
	acc := c.acc
	c.mu.Unlock()

	c.cfg.Capture.Stop()
	if acc != nil {
		acc.Flush()
	}
}

// UnlockAudio forwards a user gesture to the playback gate.
func (c *Controller) UnlockAudio(ctx context.Context) error {
	return c.cfg.Playback.UnlockAudio(ctx)
}

// Submit feeds a transcript fragment directly into accumulation, for sessions
// running without capture.
func (c *Controller) Submit(fragment voice.TranscriptFragment) {
	c.mu.Lock()
	acc := c.acc
	c.mu.Unlock()
	if acc != nil {
		acc.OnFragment(fragment)
	}
}

// pumpFragments moves capture output into the accumulator.
func (c *Controller) pumpFragments(ctx context.Context, acc *accumulate.Accumulator) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frag, ok := <-c.cfg.Capture.Fragments():
			if !ok {
				return nil
			}
			acc.OnFragment(frag)
		}
	}
}

// pumpPreviews forwards interim previews to the UI.
func (c *Controller) pumpPreviews(ctx context.Context, acc *accumulate.Accumulator) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case preview, ok := <-acc.Previews():
			if !ok {
				return nil
			}
			c.hub.Publish(Event{Kind: EventPreview, Preview: preview})
		}
	}
}

// pumpChunks forwards streamed reply text to the UI.
func (c *Controller) pumpChunks(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-c.cfg.Transport.Chunks():
			if !ok {
				return nil
			}
			c.hub.Publish(Event{Kind: EventReply, Chunk: chunk})
		}
	}
}

// pumpWarnings forwards throttled capture warnings.
func (c *Controller) pumpWarnings(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case warning, ok := <-c.cfg.Capture.Warnings():
			if !ok {
				return nil
			}
			c.hub.Publish(Event{Kind: EventWarning, Warning: warning, Err: warning.Err})
		}
	}
}

// pumpFatals surfaces unrecoverable capture errors and ends the session.
func (c *Controller) pumpFatals(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-c.cfg.Capture.Fatals():
		if !ok {
			return nil
		}
		c.hub.Publish(Event{Kind: EventError, Err: err})
		// EndSession waits for this pump; run it from outside the group.
		go c.EndSession()
		return nil
	}
}

// runTurns is the turn loop. Consuming utterances one at a time serializes
// transport delivery: a new utterance never begins transport before the
// previous one's terminal chunk is out.
func (c *Controller) runTurns(ctx context.Context, acc *accumulate.Accumulator) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case utt, ok := <-acc.Utterances():
			if !ok {
				return nil
			}
			c.runTurn(ctx, utt)
		}
	}
}

// runTurn delivers one utterance and hands the terminal reply to playback. A
// transport failure is reported upward and leaves the session ready for the
// next utterance.
func (c *Controller) runTurn(ctx context.Context, utt voice.Utterance) {
	c.mu.Lock()
	opts := transport.SendOptions{
		SessionID: c.session.ID,
		Level:     c.opts.Level,
		FocusArea: c.opts.FocusArea,
		Language:  c.opts.Language,
	}
	speech := c.opts.Speech
	c.mu.Unlock()

	c.publishStatus(StatusThinking)

	terminal, err := c.cfg.Transport.Send(ctx, utt, opts)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("turn failed", "error", err)
		c.hub.Publish(Event{Kind: EventError, Err: err})
		c.publishStatus(StatusListening)
		return
	}

	item := voice.PlaybackItem{
		Audio:  terminal.Audio,
		Text:   terminal.FullText,
		Params: speech,
	}
	if err := c.cfg.Playback.Play(ctx, item); err != nil {
		// Blocked playback is user-actionable: a gesture must unlock it.
		c.hub.Publish(Event{Kind: EventError, Err: err})
		c.publishStatus(StatusListening)
	}
}

// onPlaybackEvent maps playback lifecycle events to status changes and
// surfaced errors.
func (c *Controller) onPlaybackEvent(ev playback.Event) {
	switch ev.Kind {
	case playback.EventStart:
		c.publishStatus(StatusSpeaking)
	case playback.EventEnd:
		if c.State() == StateActive {
			c.publishStatus(StatusListening)
		}
	case playback.EventError:
		c.hub.Publish(Event{Kind: EventError, Err: ev.Err})
	}
}

func (c *Controller) publishStatus(status Status) {
	c.hub.Publish(Event{Kind: EventStatus, Status: status})
}

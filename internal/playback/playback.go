// Package playback renders assistant replies as audio.
//
// A Session plays one item at a time: a synthesized-audio payload through the
// audio sink, or the reply text through local speech synthesis when no
// payload was delivered. Starting a new item pre-empts whatever is playing.
//
// Playback is guarded by an autoplay gate. While the gate is locked, Play
// fails with PlaybackBlocked and the item is retained as the single queued
// item, the latest replacing any previous one. UnlockAudio, called from a
// user-gesture handler, opens the gate and immediately plays the queued item.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parleo-app/parleo/internal/events"
	"github.com/parleo-app/parleo/internal/observe"
	"github.com/parleo-app/parleo/pkg/audioout"
	"github.com/parleo-app/parleo/pkg/synth"
	"github.com/parleo-app/parleo/pkg/voice"
)

// EventKind identifies a playback lifecycle event.
type EventKind string

const (
	// EventStart fires when an item actually begins playing.
	EventStart EventKind = "playback-start"

	// EventEnd fires exactly once for every started playback, whether it
	// completed, failed, or was cancelled.
	EventEnd EventKind = "playback-end"

	// EventError fires when a started playback fails; EventEnd follows.
	EventError EventKind = "playback-error"
)

// Event is one playback lifecycle notification.
type Event struct {
	Kind EventKind
	Item voice.PlaybackItem
	Err  error
}

// Config configures a [Session].
type Config struct {
	// Player renders synthesized-audio payloads. Required.
	Player audioout.Player

	// Synth speaks text when an item carries no payload. Required.
	Synth synth.Synthesizer

	// Unlocked opens the autoplay gate from the start, for hosts that have
	// already seen a user gesture.
	Unlocked bool

	// Metrics records playback duration. Defaults to the package-level
	// instance.
	Metrics *observe.Metrics
}

// active is one in-flight playback.
type active struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Session plays assistant replies, one at a time. Create with [New].
//
// All methods are safe for concurrent use.
type Session struct {
	cfg Config
	hub events.Hub[Event]

	mu       sync.Mutex
	unlocked bool
	queued   *voice.PlaybackItem
	current  *active
}

// New creates a playback [Session].
func New(cfg Config) (*Session, error) {
	if cfg.Player == nil {
		return nil, fmt.Errorf("playback: Player must not be nil")
	}
	if cfg.Synth == nil {
		return nil, fmt.Errorf("playback: Synth must not be nil")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Session{
		cfg:      cfg,
		unlocked: cfg.Unlocked,
	}, nil
}

// Subscribe registers a listener for playback events and returns its
// disposer.
func (s *Session) Subscribe(fn func(Event)) func() {
	return s.hub.Subscribe(fn)
}

// Play starts playing an item, pre-empting any current playback first.
//
// While the autoplay gate is locked, Play queues the item (replacing any
// previously queued one) and returns [voice.ErrPlaybackBlocked]; no playback
// events are emitted for a blocked item until [Session.UnlockAudio] replays
// it. Otherwise playback proceeds asynchronously, reported through events.
func (s *Session) Play(ctx context.Context, item voice.PlaybackItem) error {
	s.mu.Lock()
	if !s.unlocked {
		s.queued = &item
		s.mu.Unlock()
		slog.Debug("playback gated, item queued")
		return voice.ErrPlaybackBlocked
	}
	// Claim the slot and take the predecessor in the same critical section,
	// so concurrent callers never tear down the same predecessor and leave
	// two items running.
	playCtx, cancel := context.WithCancel(ctx)
	a := &active{cancel: cancel, done: make(chan struct{})}
	prev := s.current
	s.current = a
	s.mu.Unlock()

	// Pre-empt: the previous item must be fully torn down, and its end event
	// published, before the new one starts.
	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	go s.run(playCtx, a, item)
	return nil
}

// UnlockAudio satisfies the platform's user-gesture requirement, opening the
// autoplay gate, and immediately plays the queued item if one exists.
func (s *Session) UnlockAudio(ctx context.Context) error {
	s.mu.Lock()
	s.unlocked = true
	queued := s.queued
	s.queued = nil
	s.mu.Unlock()

	if queued == nil {
		return nil
	}
	slog.Debug("autoplay unlocked, replaying queued item")
	return s.Play(ctx, *queued)
}

// Stop cancels any current playback. With clearQueue it also discards the
// queued item. Idempotent.
func (s *Session) Stop(clearQueue bool) {
	s.mu.Lock()
	cur := s.current
	if clearQueue {
		s.queued = nil
	}
	s.mu.Unlock()

	if cur != nil {
		cur.cancel()
		<-cur.done
	}
}

// Playing reports whether an item is currently playing.
func (s *Session) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// run performs one playback from start event to end event.
func (s *Session) run(ctx context.Context, a *active, item voice.PlaybackItem) {
	defer func() {
		s.mu.Lock()
		if s.current == a {
			s.current = nil
		}
		s.mu.Unlock()
		a.cancel()
		close(a.done)
	}()

	s.hub.Publish(Event{Kind: EventStart, Item: item})
	started := time.Now()
	defer func() {
		s.cfg.Metrics.PlaybackDuration.Record(context.WithoutCancel(ctx), time.Since(started).Seconds())
	}()

	var err error
	if item.Audio != nil {
		err = s.cfg.Player.Play(ctx, *item.Audio)
	} else {
		err = s.cfg.Synth.Speak(ctx, item.Text, item.Params)
	}

	switch {
	case err == nil:

	case ctx.Err() != nil:
		// Pre-empted or stopped; cancellation is a normal end.

	case errors.Is(err, audioout.ErrAutoplayBlocked):
		// The host revoked the gesture grant mid-session. Re-gate and keep
		// the item so the next unlock replays it.
		s.mu.Lock()
		s.unlocked = false
		s.queued = &item
		s.mu.Unlock()
		s.hub.Publish(Event{
			Kind: EventError,
			Item: item,
			Err:  fmt.Errorf("playback: %w", voice.ErrPlaybackBlocked),
		})

	default:
		slog.Warn("playback failed", "error", err)
		s.hub.Publish(Event{
			Kind: EventError,
			Item: item,
			Err:  fmt.Errorf("playback: %w: %w", voice.ErrPlaybackError, err),
		})
	}

	s.hub.Publish(Event{Kind: EventEnd, Item: item})
}

// Package mock provides test doubles for the recog package interfaces.
//
// Use Backend to script one or more recognition passes. Each Start call pops
// the next Session from the Sessions queue (or returns StartErr); tests feed
// controlled events through Session.Emit and close the pass with Session.End.
//
// Example:
//
//	sess := mock.NewSession()
//	b := &mock.Backend{Sessions: []*mock.Session{sess}}
//	// ... start capture ...
//	sess.Emit(recog.Event{Kind: recog.EventResult, Final: "hola"})
//	sess.End()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/parleo-app/parleo/pkg/recog"
	"github.com/parleo-app/parleo/pkg/voice"
)

// StartCall records a single invocation of Backend.Start.
type StartCall struct {
	// Language is the language tag passed to Start.
	Language string
}

// Backend is a mock implementation of recog.Backend.
type Backend struct {
	mu sync.Mutex

	// Sessions is the queue of sessions returned by successive Start calls.
	// When the queue is exhausted, Start returns a fresh default Session.
	Sessions []*Session

	// StartErr, if non-nil, is returned by every Start call.
	StartErr error

	// StartErrs, if non-empty, supplies per-call errors consumed in order
	// before StartErr is considered. A nil entry means success for that call.
	StartErrs []error

	// StartCalls records every invocation of Start.
	StartCalls []StartCall
}

// Compile-time interface assertion.
var _ recog.Backend = (*Backend)(nil)

// Start records the call and returns the next scripted session or error.
func (b *Backend) Start(_ context.Context, language string) (recog.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.StartCalls = append(b.StartCalls, StartCall{Language: language})

	if len(b.StartErrs) > 0 {
		err := b.StartErrs[0]
		b.StartErrs = b.StartErrs[1:]
		if err != nil {
			return nil, err
		}
	} else if b.StartErr != nil {
		return nil, b.StartErr
	}

	if len(b.Sessions) > 0 {
		s := b.Sessions[0]
		b.Sessions = b.Sessions[1:]
		return s, nil
	}
	return NewSession(), nil
}

// Starts returns the number of Start calls so far.
func (b *Backend) Starts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.StartCalls)
}

// Session is a mock implementation of recog.Session. Tests drive it via Emit
// and End; the consumer under test reads from Events.
type Session struct {
	mu      sync.Mutex
	events  chan recog.Event
	ended   bool
	stopped bool
}

// Compile-time interface assertion.
var _ recog.Session = (*Session)(nil)

// NewSession creates a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan recog.Event, 16)}
}

// Events implements recog.Session.
func (s *Session) Events() <-chan recog.Event {
	return s.events
}

// Stop implements recog.Session. It emits an aborted error followed by an end
// event, matching how real backends report a deliberate teardown.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if !s.ended {
		s.events <- recog.Event{Kind: recog.EventError, Err: recog.ErrAborted}
		s.endLocked()
	}
}

// Emit delivers ev to the consumer. Calling Emit after End panics, matching
// the contract that a pass emits nothing after its end event.
func (s *Session) Emit(ev recog.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events <- ev
}

// End closes the pass: it emits EventEnded and closes the event channel.
// Safe to call once; subsequent calls are no-ops.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked()
}

func (s *Session) endLocked() {
	if s.ended {
		return
	}
	s.ended = true
	s.events <- recog.Event{Kind: recog.EventEnded}
	close(s.events)
}

// Stopped reports whether Stop was called.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Recorder is a mock implementation of recog.Recorder. Each Record call pops
// the next payload from Segments; when exhausted, Record blocks until ctx is
// cancelled.
type Recorder struct {
	mu sync.Mutex

	// Segments is the queue of payloads returned by successive Record calls.
	Segments []voice.AudioPayload

	// Err, if non-nil, is returned by every Record call.
	Err error

	// Calls counts Record invocations.
	Calls int
}

// Compile-time interface assertion.
var _ recog.Recorder = (*Recorder)(nil)

// Record implements recog.Recorder.
func (r *Recorder) Record(ctx context.Context, _ time.Duration) (voice.AudioPayload, error) {
	r.mu.Lock()
	r.Calls++
	if r.Err != nil {
		err := r.Err
		r.mu.Unlock()
		return voice.AudioPayload{}, err
	}
	if len(r.Segments) > 0 {
		seg := r.Segments[0]
		r.Segments = r.Segments[1:]
		r.mu.Unlock()
		return seg, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return voice.AudioPayload{}, ctx.Err()
}

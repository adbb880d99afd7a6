// Package mock provides a test double for the synth package.
package mock

import (
	"context"
	"sync"

	"github.com/parleo-app/parleo/pkg/synth"
	"github.com/parleo-app/parleo/pkg/voice"
)

// SpeakCall records a single invocation of Synthesizer.Speak.
type SpeakCall struct {
	Text   string
	Params voice.SpeechParams
}

// Synthesizer is a mock implementation of synth.Synthesizer. By default Speak
// returns immediately; set Block to make it wait for context cancellation so
// tests can exercise pre-emption.
type Synthesizer struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every Speak call.
	Err error

	// Block makes Speak wait until ctx is cancelled before returning.
	Block bool

	// Calls records every Speak invocation.
	Calls []SpeakCall
}

// Compile-time interface assertion.
var _ synth.Synthesizer = (*Synthesizer)(nil)

// Speak implements synth.Synthesizer.
func (s *Synthesizer) Speak(ctx context.Context, text string, p voice.SpeechParams) error {
	s.mu.Lock()
	s.Calls = append(s.Calls, SpeakCall{Text: text, Params: p})
	err := s.Err
	block := s.Block
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

// CallCount returns the number of Speak invocations so far.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

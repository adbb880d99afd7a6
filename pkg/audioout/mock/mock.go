// Package mock provides a test double for the audioout package.
package mock

import (
	"context"
	"sync"

	"github.com/parleo-app/parleo/pkg/audioout"
	"github.com/parleo-app/parleo/pkg/voice"
)

// Player is a mock implementation of audioout.Player. By default Play returns
// immediately; set Block to make it wait for context cancellation so tests can
// exercise pre-emption and stop behaviour.
type Player struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every Play call.
	Err error

	// Block makes Play wait until ctx is cancelled before returning.
	Block bool

	// Played records the payloads passed to Play.
	Played []voice.AudioPayload
}

// Compile-time interface assertion.
var _ audioout.Player = (*Player)(nil)

// Play implements audioout.Player.
func (p *Player) Play(ctx context.Context, payload voice.AudioPayload) error {
	p.mu.Lock()
	p.Played = append(p.Played, payload)
	err := p.Err
	block := p.Block
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

// CallCount returns the number of Play invocations so far.
func (p *Player) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Played)
}

// SetErr replaces the scripted error. Thread-safe.
func (p *Player) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// SetBlock toggles blocking behaviour. Thread-safe.
func (p *Player) SetBlock(block bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Block = block
}

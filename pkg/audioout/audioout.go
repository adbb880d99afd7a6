// Package audioout defines the Player interface for rendering synthesized
// audio payloads.
//
// The audio output channel is a single-owner resource: the playback session
// cancels the previous Play before starting a new one. Hosts that restrict
// playback until a user gesture report [ErrAutoplayBlocked]; the playback
// session gates further attempts until its UnlockAudio is invoked.
package audioout

import (
	"context"
	"errors"

	"github.com/parleo-app/parleo/pkg/voice"
)

// ErrAutoplayBlocked is returned by Play when the host refuses to start audio
// output without a preceding user gesture.
var ErrAutoplayBlocked = errors.New("autoplay blocked by host")

// Player decodes and renders one audio payload.
//
// Play blocks until playback completes, fails, or ctx is cancelled.
// Cancellation stops output immediately and returns ctx.Err().
type Player interface {
	Play(ctx context.Context, payload voice.AudioPayload) error
}

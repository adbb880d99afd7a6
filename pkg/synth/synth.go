// Package synth defines the Synthesizer interface for local speech synthesis.
//
// A synthesizer renders reply text as speech on the user's device when the
// generation service did not attach an audio payload. For the Parleo web
// client the implementation relays to the browser's speech-synthesis API
// through the gateway; tests use the mock subpackage.
package synth

import (
	"context"

	"github.com/parleo-app/parleo/pkg/voice"
)

// Synthesizer speaks text with the given voice parameters.
//
// Speak blocks until synthesis completes, fails, or ctx is cancelled. A
// cancelled context is not an error condition for the caller — the playback
// session uses cancellation to pre-empt an item.
//
// Implementations must be safe for concurrent use, though the playback
// session never runs two Speak calls at once.
type Synthesizer interface {
	Speak(ctx context.Context, text string, p voice.SpeechParams) error
}

// Package accumulate coalesces finalized transcript fragments into complete
// utterances.
//
// A run of final fragments separated by pauses shorter than the configured
// silence window becomes one utterance; the window timer restarts on every
// final fragment, so only the last quiescent period of at least the window
// duration triggers emission. Interim fragments produce UI previews only.
//
// The silence window is deliberately a tunable: product experiments have used
// values between 500ms and 2s, and no single value is authoritative.
package accumulate

import (
	"strings"
	"sync"
	"time"

	"github.com/parleo-app/parleo/pkg/voice"
)

// DefaultSilenceWindow is the silence duration after the last final fragment
// before the pending buffer is emitted as an utterance.
const DefaultSilenceWindow = 2 * time.Second

// Preview is an interim, UI-only view of the text accumulated so far plus the
// live fragment currently being recognized. Previews never become utterances
// by themselves.
type Preview struct {
	// Accumulated is the space-joined final text buffered so far.
	Accumulated string

	// Fragment is the live interim text.
	Fragment string
}

// Config configures an [Accumulator].
type Config struct {
	// SilenceWindow is the quiet period that finalizes an utterance.
	// Defaults to [DefaultSilenceWindow] if zero.
	SilenceWindow time.Duration
}

// Accumulator buffers final transcript fragments and emits one utterance per
// quiescent period. All methods are safe for concurrent use.
type Accumulator struct {
	window time.Duration

	mu      sync.Mutex
	pending []string
	timer   *time.Timer
	gen     int // invalidates stale timer fires
	closed  bool

	utterances chan voice.Utterance
	previews   chan Preview
	done       chan struct{}

	// emitters tracks in-flight emit calls so Close can safely close the
	// output channels.
	emitters sync.WaitGroup
}

// New creates an [Accumulator].
func New(cfg Config) *Accumulator {
	window := cfg.SilenceWindow
	if window <= 0 {
		window = DefaultSilenceWindow
	}
	return &Accumulator{
		window:     window,
		utterances: make(chan voice.Utterance, 8),
		previews:   make(chan Preview, 16),
		done:       make(chan struct{}),
	}
}

// Utterances returns the channel of completed utterances. The channel is
// closed by [Accumulator.Close].
func (a *Accumulator) Utterances() <-chan voice.Utterance {
	return a.utterances
}

// Previews returns the channel of interim previews. Previews are dropped
// rather than buffered when the consumer lags; each one is superseded by the
// next anyway.
func (a *Accumulator) Previews() <-chan Preview {
	return a.previews
}

// OnFragment feeds one transcript fragment into the accumulator.
//
// Interim fragments emit a preview and nothing else. Final fragments are
// appended to the pending buffer and restart the silence timer; a buffer that
// trims to nothing never arms the timer.
func (a *Accumulator) OnFragment(f voice.TranscriptFragment) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}

	if !f.IsFinal {
		preview := Preview{
			Accumulated: strings.Join(a.pending, " "),
			Fragment:    f.Text,
		}
		a.emitters.Add(1)
		a.mu.Unlock()
		select {
		case a.previews <- preview:
		default:
		}
		a.emitters.Done()
		return
	}

	if text := strings.TrimSpace(f.Text); text != "" {
		a.pending = append(a.pending, text)
	}
	if len(a.pending) == 0 {
		// Whitespace-only buffer: do not arm the timer.
		a.mu.Unlock()
		return
	}
	a.rearmLocked()
	a.mu.Unlock()
}

// Flush emits the pending buffer immediately, bypassing the silence timer.
// Used on manual stop. A whitespace-only buffer emits nothing.
func (a *Accumulator) Flush() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.cancelTimerLocked()
	text := a.takeLocked()
	a.emitters.Add(1)
	a.mu.Unlock()

	a.emit(text)
}

// Close cancels any armed timer and closes the output channels. Pending text
// is discarded; call [Accumulator.Flush] first to keep it. Close is
// idempotent.
func (a *Accumulator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.cancelTimerLocked()
	a.pending = nil
	close(a.done)
	a.mu.Unlock()

	a.emitters.Wait()
	close(a.utterances)
	close(a.previews)
}

// rearmLocked cancels and restarts the silence timer. Must be called with
// a.mu held and a non-empty pending buffer.
func (a *Accumulator) rearmLocked() {
	a.cancelTimerLocked()
	a.gen++
	gen := a.gen
	a.timer = time.AfterFunc(a.window, func() {
		a.fire(gen)
	})
}

// cancelTimerLocked stops the armed timer and invalidates its generation so
// an already-fired callback becomes a no-op. Must be called with a.mu held.
func (a *Accumulator) cancelTimerLocked() {
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// fire is the timer callback for generation gen.
func (a *Accumulator) fire(gen int) {
	a.mu.Lock()
	if a.closed || gen != a.gen {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	text := a.takeLocked()
	a.emitters.Add(1)
	a.mu.Unlock()

	a.emit(text)
}

// takeLocked drains the pending buffer and returns its trimmed, space-joined
// text. Must be called with a.mu held.
func (a *Accumulator) takeLocked() string {
	text := strings.TrimSpace(strings.Join(a.pending, " "))
	a.pending = nil
	return text
}

// emit delivers one utterance, unless text is empty or the accumulator has
// been closed in the meantime. Callers must have registered with a.emitters.
func (a *Accumulator) emit(text string) {
	defer a.emitters.Done()
	if text == "" {
		return
	}
	u := voice.Utterance{Text: text, FormedAt: time.Now()}
	select {
	case a.utterances <- u:
	case <-a.done:
	}
}

// Package recog defines the Backend interface for live speech-recognition
// capture.
//
// A recognition backend wraps whatever continuous speech-to-text capability
// the host offers (for the Parleo web client this is the browser recognition
// relay; tests use the mock subpackage). The central abstraction is Session:
// once started, a session emits a stream of events — start, interim and final
// results, classified errors, and end-of-pass — that the capture layer turns
// into transcript fragments.
//
// Implementations must be safe for concurrent use.
package recog

import (
	"context"
	"time"

	"github.com/parleo-app/parleo/pkg/voice"
)

// ErrorKind classifies recognition backend errors. The capture layer decides
// per kind whether to restart silently, back off, wait for connectivity, or
// surface the failure.
type ErrorKind string

const (
	// ErrNoSpeech means the backend detected no speech during the pass.
	// Recoverable: restart silently.
	ErrNoSpeech ErrorKind = "no-speech"

	// ErrAudioCapture means a transient audio-capture glitch occurred.
	// Recoverable: restart silently.
	ErrAudioCapture ErrorKind = "audio-capture"

	// ErrAborted means the pass was aborted, normally by a deliberate stop or
	// restart. Never user-visible.
	ErrAborted ErrorKind = "aborted"

	// ErrNetwork means the backend's recognition service is unreachable.
	// Recovered via reconnect listening or backoff.
	ErrNetwork ErrorKind = "network"

	// ErrNotAllowed means microphone permission was refused. Fatal.
	ErrNotAllowed ErrorKind = "not-allowed"

	// ErrNoDevice means no input device exists. Fatal.
	ErrNoDevice ErrorKind = "no-device"
)

// EventKind discriminates the events a recognition session emits.
type EventKind int

const (
	// EventStarted signals the backend has begun capturing audio.
	EventStarted EventKind = iota

	// EventResult carries an interim or final recognition result.
	EventResult

	// EventError carries a classified backend error. The pass ends after an
	// error event; a separate EventEnded follows.
	EventError

	// EventEnded signals the end of one recognition pass. Backends that stop
	// after each utterance emit this frequently; the capture layer restarts
	// the pass unless a manual stop is in effect.
	EventEnded
)

// Event is a single occurrence within a recognition pass.
type Event struct {
	Kind EventKind

	// Interim is the live-updating (revisable) text of a result event.
	Interim string

	// Final is the committed text of a result event. Backends never revise a
	// final result.
	Final string

	// Err is the error classification for error events.
	Err ErrorKind
}

// Session represents one open recognition pass.
//
// The Events channel is closed by the implementation when the pass ends.
// Stop must be idempotent; the backend emits [ErrAborted] (not a real error
// kind) for any in-flight pass it tears down.
type Session interface {
	// Events returns the event stream for this pass.
	Events() <-chan Event

	// Stop aborts the pass and releases the microphone.
	Stop()
}

// Backend is the abstraction over any live recognition capability.
//
// Start returns [voice.ErrPermissionDenied], [voice.ErrDeviceNotFound], or
// [voice.ErrUnsupported] when capture cannot begin; the capture layer switches
// to the chunked-audio fallback on ErrUnsupported.
type Backend interface {
	Start(ctx context.Context, language string) (Session, error)
}

// Recorder captures raw audio segments for batch transcription. It is the
// input side of the chunked-audio fallback: the capture layer records short
// segments and submits them to the remote transcription endpoint.
type Recorder interface {
	// Record captures approximately d of audio and returns it as a single
	// encoded payload. It blocks until the segment is complete or ctx is
	// cancelled.
	Record(ctx context.Context, d time.Duration) (voice.AudioPayload, error)
}

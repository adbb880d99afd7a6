// Package voice defines the shared types used across the Parleo live-conversation
// pipeline.
//
// These types form the lingua franca between capture, accumulation, transport,
// and playback. Each pipeline stage defines its own domain types; cross-cutting
// data structures live here to avoid circular imports.
package voice

import "time"

// Session identifies one live-conversation run. It is owned exclusively by the
// conversation controller: created on session start, cleared on session end.
// At most one Session is active per controller instance.
type Session struct {
	// ID is the unique session identifier.
	ID string

	// Active reports whether the session is currently running.
	Active bool

	// CreatedAt is when the session was started.
	CreatedAt time.Time
}

// TranscriptFragment is a piece of recognized speech produced by the capture
// session and consumed immediately by the utterance accumulator. Fragments are
// never persisted.
type TranscriptFragment struct {
	// Text is the recognized speech content.
	Text string

	// IsFinal indicates whether the recognizer has committed to this result.
	// Interim fragments are superseded by later fragments; final fragments are
	// emitted exactly once.
	IsFinal bool

	// Seq is the fragment's position within the current recognition pass.
	Seq int
}

// Utterance is accumulated final transcript text that is ready to send for a
// reply. An Utterance is consumed exactly once by the conversation transport;
// it is never empty or whitespace-only.
type Utterance struct {
	// Text is the trimmed, space-joined accumulated text.
	Text string

	// FormedAt is when the silence window elapsed (or a manual flush occurred).
	FormedAt time.Time
}

// AudioPayload is a synthesized-audio blob together with its MIME type.
type AudioPayload struct {
	Data []byte
	MIME string
}

// ReplyChunk is one increment of the assistant's streamed answer.
//
// At most one non-nil Audio payload is delivered per reply, and exactly one
// chunk per reply carries Done=true. Chunks for a single utterance are emitted
// in increasing order of FullText length; nothing follows the terminal chunk.
type ReplyChunk struct {
	// Delta is the text added since the previous chunk.
	Delta string

	// FullText is the cumulative reply text so far.
	FullText string

	// Audio is the synthesized reply audio, if the service produced one.
	Audio *AudioPayload

	// Done marks the terminal chunk of the reply.
	Done bool
}

// SpeechParams carries voice parameters for local speech synthesis.
type SpeechParams struct {
	// Rate adjusts speaking rate (0.5–2.0, 1.0 = default).
	Rate float64

	// Pitch adjusts pitch (0.0–2.0, 1.0 = default).
	Pitch float64

	// Volume is the output volume (0.0–1.0).
	Volume float64

	// Language is the BCP-47 language tag for synthesis (e.g., "es-ES").
	Language string

	// Voice is the host-specific voice identifier. Empty selects the default.
	Voice string
}

// PlaybackItem is one queued reply to render as audio: either a synthesized
// audio payload or literal text for local speech synthesis.
type PlaybackItem struct {
	// Audio is the synthesized payload. When nil, Text is spoken via local
	// speech synthesis instead.
	Audio *AudioPayload

	// Text is the reply text, used for synthesis when Audio is nil.
	Text string

	// Params are the synthesis voice parameters. Ignored when Audio is set.
	Params SpeechParams
}

// Quality is a qualitative connection quality tier.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
	QualityOffline   Quality = "offline"
)

// NetworkStatus is a point-in-time view of device connectivity.
type NetworkStatus struct {
	// Online reports whether the device currently has connectivity.
	Online bool

	// Quality is the tier derived from the last round-trip measurement.
	Quality Quality

	// RTT is the last measured probe round-trip time. Zero when offline or
	// when no probe has completed yet.
	RTT time.Duration
}

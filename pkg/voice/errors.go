package voice

import "errors"

// Pipeline error taxonomy. Components wrap these sentinels with context so
// callers can classify failures via [errors.Is].
var (
	// ErrPermissionDenied is returned when microphone access is refused.
	// Permanent for the session: the user must grant access and retry.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDeviceNotFound is returned when no audio input device exists.
	ErrDeviceNotFound = errors.New("no audio input device found")

	// ErrUnsupported is returned when no live capture backend is available on
	// the host. The capture session handles this internally by switching to
	// the chunked-audio fallback; it surfaces only if the fallback is also
	// unavailable.
	ErrUnsupported = errors.New("speech capture not supported")

	// ErrNetworkOffline classifies failures caused by the device being
	// offline. Recovered internally via reconnect listening.
	ErrNetworkOffline = errors.New("network offline")

	// ErrPoorConnection classifies failures attributed to a degraded
	// connection. Recovered internally via backoff.
	ErrPoorConnection = errors.New("poor network connection")

	// ErrServiceUnavailable is returned when a remote endpoint reports it is
	// permanently unavailable (e.g., HTTP 501/404 from the transcription
	// endpoint).
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrTransportFailure is returned when every reply-generation attempt
	// (streaming, non-streaming, direct fallback) has been exhausted. The
	// session remains usable for the next utterance.
	ErrTransportFailure = errors.New("all reply generation attempts failed")

	// ErrPlaybackBlocked is returned when the host blocks audio output until
	// a user gesture unlocks it. The item is retained as the pending queued
	// item and plays after UnlockAudio.
	ErrPlaybackBlocked = errors.New("audio playback blocked pending user gesture")

	// ErrPlaybackError is returned when audio decode, rendering, or local
	// synthesis fails.
	ErrPlaybackError = errors.New("audio playback failed")
)

package gateway

import "github.com/parleo-app/parleo/pkg/voice"

// Client-to-server message types.
const (
	msgStartSession = "start-session"
	msgEndSession   = "end-session"
	msgStopCapture  = "stop-capture"
	msgUnlockAudio  = "unlock-audio"
	msgSubmit       = "submit"
	msgNetwork      = "network"

	// Relay replies from the browser capabilities.
	msgRecognitionStarted = "recognition-started"
	msgRecognitionFailed  = "recognition-failed"
	msgRecognitionEvent   = "recognition-event"
	msgSegment            = "segment"
	msgDone               = "done"
)

// Server-to-client message types.
const (
	msgSessionStarted = "session-started"
	msgStatus         = "status"
	msgPreview        = "interim-preview"
	msgReplyChunk     = "reply-chunk"
	msgWarning        = "warning"
	msgError          = "error"
	msgSessionClosed  = "session-closed"

	// Relay commands driving the browser capabilities.
	msgRecognitionStart = "recognition-start"
	msgRecognitionStop  = "recognition-stop"
	msgSpeak            = "speak"
	msgPlay             = "play"
	msgRecord           = "record"
	msgStopOutput       = "stop-output"
)

// Relay failure reasons reported by the client.
const (
	reasonNotAllowed      = "not-allowed"
	reasonNoDevice        = "no-device"
	reasonUnsupported     = "unsupported"
	reasonAutoplayBlocked = "autoplay-blocked"
)

// speechParams is the wire form of [voice.SpeechParams].
type speechParams struct {
	Rate     float64 `json:"rate,omitempty"`
	Pitch    float64 `json:"pitch,omitempty"`
	Volume   float64 `json:"volume,omitempty"`
	Language string  `json:"language,omitempty"`
	Voice    string  `json:"voice,omitempty"`
}

func (p *speechParams) toVoice() voice.SpeechParams {
	if p == nil {
		return voice.SpeechParams{}
	}
	return voice.SpeechParams{
		Rate:     p.Rate,
		Pitch:    p.Pitch,
		Volume:   p.Volume,
		Language: p.Language,
		Voice:    p.Voice,
	}
}

func fromVoiceParams(p voice.SpeechParams) *speechParams {
	return &speechParams{
		Rate:     p.Rate,
		Pitch:    p.Pitch,
		Volume:   p.Volume,
		Language: p.Language,
		Voice:    p.Voice,
	}
}

// recognitionEvent is the wire form of one browser recognition event.
type recognitionEvent struct {
	// Kind is "started", "result", "error", or "ended".
	Kind string `json:"kind"`

	Interim string `json:"interim,omitempty"`
	Final   string `json:"final,omitempty"`

	// Error is the backend error classification for error events
	// ("no-speech", "aborted", "network", ...).
	Error string `json:"error,omitempty"`
}

// clientMessage is any text frame received from the browser client. Fields
// beyond Type are populated per message type.
type clientMessage struct {
	Type string `json:"type"`

	// start-session
	Language  string        `json:"language,omitempty"`
	Level     string        `json:"level,omitempty"`
	FocusArea string        `json:"focusArea,omitempty"`
	Speech    *speechParams `json:"speech,omitempty"`
	TextOnly  bool          `json:"textOnly,omitempty"`

	// submit
	Text string `json:"text,omitempty"`

	// network
	Online *bool `json:"online,omitempty"`

	// Relay correlation: recognition pass id or pending command id.
	ID string `json:"id,omitempty"`

	// recognition-event
	Event *recognitionEvent `json:"event,omitempty"`

	// segment
	MIME string `json:"mime,omitempty"`

	// recognition-failed / done
	Error string `json:"error,omitempty"`
}

// sessionInfo is the wire form of [voice.Session].
type sessionInfo struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// previewInfo is the wire form of an interim transcript preview.
type previewInfo struct {
	Accumulated string `json:"accumulated,omitempty"`
	Fragment    string `json:"fragment,omitempty"`
}

// replyChunk is the wire form of [voice.ReplyChunk]. Reply audio is not
// inlined; it is delivered through a separate play command.
type replyChunk struct {
	Delta    string `json:"delta,omitempty"`
	FullText string `json:"fullText"`
	Done     bool   `json:"done,omitempty"`
}

// warningInfo is the wire form of a capture warning.
type warningInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

// serverMessage is any text frame sent to the browser client. Fields beyond
// Type are populated per message type.
type serverMessage struct {
	Type string `json:"type"`

	Session *sessionInfo `json:"session,omitempty"`
	Status  string       `json:"status,omitempty"`
	Preview *previewInfo `json:"preview,omitempty"`
	Chunk   *replyChunk  `json:"chunk,omitempty"`
	Warning *warningInfo `json:"warning,omitempty"`
	Error   string       `json:"error,omitempty"`

	// Relay commands.
	ID         string        `json:"id,omitempty"`
	Language   string        `json:"language,omitempty"`
	Text       string        `json:"text,omitempty"`
	Params     *speechParams `json:"params,omitempty"`
	MIME       string        `json:"mime,omitempty"`
	DurationMS int           `json:"durationMs,omitempty"`
}

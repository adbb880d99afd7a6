package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleo-app/parleo/pkg/audioout"
	"github.com/parleo-app/parleo/pkg/recog"
	"github.com/parleo-app/parleo/pkg/synth"
	"github.com/parleo-app/parleo/pkg/voice"
)

// stopTimeout bounds best-effort relay teardown writes after the owning
// context is gone.
const stopTimeout = 2 * time.Second

// Capabilities exposes one client's browser-side capabilities — live speech
// recognition, segment recording, speech synthesis, and audio playback — as
// the pipeline's device interfaces. Each command is forwarded over the
// websocket and its reply is matched by id.
type Capabilities struct {
	conn *wireConn

	mu     sync.Mutex
	passes map[string]*recogSession
}

// Compile-time interface assertions.
var (
	_ recog.Backend     = (*Capabilities)(nil)
	_ recog.Recorder    = (*Capabilities)(nil)
	_ synth.Synthesizer = (*Capabilities)(nil)
	_ audioout.Player   = (*Capabilities)(nil)
)

func newCapabilities(conn *wireConn) *Capabilities {
	return &Capabilities{
		conn:   conn,
		passes: make(map[string]*recogSession),
	}
}

// Start opens a recognition pass on the client and waits for its
// started/failed reply. Failure reasons map onto the voice sentinel errors so
// the capture layer routes them like any local backend's.
func (c *Capabilities) Start(ctx context.Context, language string) (recog.Session, error) {
	id := uuid.NewString()
	sess := &recogSession{
		id:     id,
		caps:   c,
		events: make(chan recog.Event, 16),
	}

	c.mu.Lock()
	c.passes[id] = sess
	c.mu.Unlock()

	c.conn.register(id)
	err := c.conn.sendJSON(ctx, serverMessage{
		Type:     msgRecognitionStart,
		ID:       id,
		Language: language,
	})
	if err != nil {
		c.removePass(id)
		c.conn.drop(id)
		return nil, fmt.Errorf("gateway: recognition start: %w", err)
	}

	res, err := c.conn.await(ctx, id)
	if err != nil {
		c.removePass(id)
		return nil, fmt.Errorf("gateway: recognition start: %w", err)
	}
	if res.failure != "" {
		c.removePass(id)
		return nil, startError(res.failure)
	}
	return sess, nil
}

func startError(reason string) error {
	switch reason {
	case reasonNotAllowed:
		return voice.ErrPermissionDenied
	case reasonNoDevice:
		return voice.ErrDeviceNotFound
	case reasonUnsupported:
		return voice.ErrUnsupported
	default:
		return fmt.Errorf("gateway: recognition start refused: %s", reason)
	}
}

// Record asks the client to capture one audio segment of roughly d and waits
// for its binary reply.
func (c *Capabilities) Record(ctx context.Context, d time.Duration) (voice.AudioPayload, error) {
	id := uuid.NewString()
	c.conn.register(id)
	err := c.conn.sendJSON(ctx, serverMessage{
		Type:       msgRecord,
		ID:         id,
		DurationMS: int(d.Milliseconds()),
	})
	if err != nil {
		c.conn.drop(id)
		return voice.AudioPayload{}, fmt.Errorf("gateway: record: %w", err)
	}

	res, err := c.conn.await(ctx, id)
	if err != nil {
		return voice.AudioPayload{}, fmt.Errorf("gateway: record: %w", err)
	}
	if res.failure != "" {
		return voice.AudioPayload{}, startError(res.failure)
	}
	return res.audio, nil
}

// Speak relays text to the client's local speech synthesis and blocks until
// it reports completion. Cancelling ctx stops output on the client.
func (c *Capabilities) Speak(ctx context.Context, text string, p voice.SpeechParams) error {
	id := uuid.NewString()
	c.conn.register(id)
	err := c.conn.sendJSON(ctx, serverMessage{
		Type:   msgSpeak,
		ID:     id,
		Text:   text,
		Params: fromVoiceParams(p),
	})
	if err != nil {
		c.conn.drop(id)
		return fmt.Errorf("gateway: speak: %w", err)
	}
	return c.awaitOutput(ctx, id)
}

// Play relays a synthesized audio payload to the client and blocks until
// playback ends. An autoplay refusal surfaces as [audioout.ErrAutoplayBlocked].
func (c *Capabilities) Play(ctx context.Context, payload voice.AudioPayload) error {
	id := uuid.NewString()
	c.conn.register(id)
	err := c.conn.sendJSONWithBinary(ctx, serverMessage{
		Type: msgPlay,
		ID:   id,
		MIME: payload.MIME,
	}, payload.Data)
	if err != nil {
		c.conn.drop(id)
		return fmt.Errorf("gateway: play: %w", err)
	}
	return c.awaitOutput(ctx, id)
}

// awaitOutput waits for a speak/play done reply. On cancellation it tells the
// client to stop output before returning ctx.Err().
func (c *Capabilities) awaitOutput(ctx context.Context, id string) error {
	res, err := c.conn.await(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			_ = c.conn.sendJSON(stopCtx, serverMessage{Type: msgStopOutput, ID: id})
		}
		return err
	}
	switch res.failure {
	case "":
		return nil
	case reasonAutoplayBlocked:
		return audioout.ErrAutoplayBlocked
	default:
		return fmt.Errorf("gateway: output failed: %s", res.failure)
	}
}

// dispatchEvent routes one recognition event to its pass. The terminal
// "ended" event closes the pass's event stream.
func (c *Capabilities) dispatchEvent(id string, ev *recognitionEvent) {
	c.mu.Lock()
	sess := c.passes[id]
	c.mu.Unlock()
	if sess == nil || ev == nil {
		return
	}

	switch ev.Kind {
	case "started":
		sess.deliver(recog.Event{Kind: recog.EventStarted})
	case "result":
		sess.deliver(recog.Event{Kind: recog.EventResult, Interim: ev.Interim, Final: ev.Final})
	case "error":
		sess.deliver(recog.Event{Kind: recog.EventError, Err: recog.ErrorKind(ev.Error)})
	case "ended":
		sess.deliver(recog.Event{Kind: recog.EventEnded})
		c.removePass(id)
		sess.closeEvents()
	}
}

// closeAll tears down every open pass, used when the connection dies.
func (c *Capabilities) closeAll() {
	c.mu.Lock()
	passes := c.passes
	c.passes = make(map[string]*recogSession)
	c.mu.Unlock()
	for _, sess := range passes {
		sess.closeEvents()
	}
}

func (c *Capabilities) removePass(id string) {
	c.mu.Lock()
	delete(c.passes, id)
	c.mu.Unlock()
}

// recogSession is one relayed recognition pass.
type recogSession struct {
	id     string
	caps   *Capabilities
	events chan recog.Event

	stopOnce sync.Once

	mu       sync.Mutex
	finished bool
}

var _ recog.Session = (*recogSession)(nil)

// Events returns the event stream for this pass.
func (s *recogSession) Events() <-chan recog.Event {
	return s.events
}

// Stop aborts the pass. The client is told best-effort; the pass ends locally
// regardless, so teardown never depends on a reply from a gone client.
func (s *recogSession) Stop() {
	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = s.caps.conn.sendJSON(ctx, serverMessage{Type: msgRecognitionStop, ID: s.id})

		s.caps.removePass(s.id)
		s.deliver(recog.Event{Kind: recog.EventError, Err: recog.ErrAborted})
		s.deliver(recog.Event{Kind: recog.EventEnded})
		s.closeEvents()
	})
}

// deliver pushes an event without ever blocking the read loop. A consumer
// that stopped draining loses events rather than stalling the connection.
func (s *recogSession) deliver(ev recog.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

func (s *recogSession) closeEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	close(s.events)
}

// Package gateway exposes the live-conversation pipeline over a websocket.
//
// Each connection carries one client: control frames (start/end session,
// flush, unlock audio) and relay replies flow up as JSON text frames, recorded
// audio segments as binary frames; pipeline events and relay commands flow
// down. The browser's recognition, synthesis, and playback capabilities are
// driven remotely through [Capabilities], so the whole pipeline runs
// server-side against one socket.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/parleo-app/parleo/internal/accumulate"
	"github.com/parleo-app/parleo/internal/capture"
	"github.com/parleo-app/parleo/internal/config"
	"github.com/parleo-app/parleo/internal/controller"
	"github.com/parleo-app/parleo/internal/netmon"
	"github.com/parleo-app/parleo/internal/observe"
	"github.com/parleo-app/parleo/internal/playback"
	"github.com/parleo-app/parleo/internal/resilience"
	"github.com/parleo-app/parleo/internal/transport"
	"github.com/parleo-app/parleo/pkg/transcribe"
	"github.com/parleo-app/parleo/pkg/voice"
)

// Config wires a [Handler]'s shared collaborators. Per-connection state
// (monitor, capture, controller) is built fresh for each client.
type Config struct {
	// Service is the remote generation service. Required.
	Service transport.Service

	// Direct is the secondary generation fallback. Nil disables the direct
	// stage.
	Direct transport.DirectGenerator

	// Transcriber serves the chunked capture fallback. Nil disables it.
	Transcriber transcribe.Transcriber

	// Pipeline and Network tune per-connection pipelines.
	Pipeline config.PipelineConfig
	Network  config.NetworkConfig

	// Metrics records gateway instruments. Defaults to the package-level
	// instance.
	Metrics *observe.Metrics
}

// Handler accepts websocket connections and runs one conversation pipeline
// per client.
type Handler struct {
	cfg     Config
	metrics *observe.Metrics
	conns   atomic.Int64
}

// ActiveConnections reports the number of clients currently connected.
func (h *Handler) ActiveConnections() int64 { return h.conns.Load() }

// NewHandler creates a gateway [Handler].
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Service == nil {
		return nil, errors.New("gateway: generation service must not be nil")
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Handler{cfg: cfg, metrics: m}, nil
}

// ServeHTTP upgrades the request to a websocket and serves the client until
// the connection closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("gateway: websocket accept failed", "err", err)
		return
	}

	ctx := r.Context()
	h.conns.Add(1)
	h.metrics.ActiveConnections.Add(ctx, 1)
	defer func() {
		h.conns.Add(-1)
		h.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)
	}()

	log := observe.Logger(ctx).With("remote", r.RemoteAddr)
	log.Info("gateway: client connected")

	if err := h.serve(ctx, ws); err != nil && websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
		log.Warn("gateway: connection ended with error", "err", err)
	}
	log.Info("gateway: client disconnected")
	ws.Close(websocket.StatusNormalClosure, "")
}

// client is the per-connection pipeline.
type client struct {
	conn    *wireConn
	caps    *Capabilities
	monitor *netmon.Monitor
	ctrl    *controller.Controller

	metrics *observe.Metrics

	mu         sync.Mutex
	language   string
	thinkingAt time.Time
}

// serve builds the pipeline for one connection and runs its read loop.
func (h *Handler) serve(ctx context.Context, ws *websocket.Conn) error {
	conn := newWireConn(ws)
	caps := newCapabilities(conn)

	monitor := netmon.New(netmon.Config{
		ProbeURL:      h.cfg.Network.ProbeURL,
		ProbeInterval: h.cfg.Network.ProbeInterval(),
		ProbeTimeout:  h.cfg.Network.ProbeTimeout(),
	})
	monitor.Start(ctx)
	defer monitor.Close()

	capt := capture.New(capture.Config{
		Backend:     caps,
		Recorder:    caps,
		Transcriber: h.cfg.Transcriber,
		Network:     monitor,
		Backoff: resilience.Backoff{
			Base:     h.cfg.Pipeline.RestartBackoff(),
			Attempts: h.cfg.Pipeline.MaxRestartAttempts,
		},
		SettleDelay:   h.cfg.Pipeline.SettleDelay(),
		WarnThrottle:  h.cfg.Pipeline.WarnThrottle(),
		SegmentLength: h.cfg.Pipeline.Segment(),
		Metrics:       h.metrics,
	})

	trans, err := transport.New(transport.Config{
		Service:      h.cfg.Service,
		Direct:       h.cfg.Direct,
		MinEmitDelta: h.cfg.Pipeline.MinEmitDelta,
		Metrics:      h.metrics,
	})
	if err != nil {
		return err
	}

	play, err := playback.New(playback.Config{Player: caps, Synth: caps, Metrics: h.metrics})
	if err != nil {
		return err
	}

	ctrl, err := controller.New(controller.Config{
		Capture:   capt,
		Transport: trans,
		Playback:  play,
		Accumulate: accumulate.Config{
			SilenceWindow: h.cfg.Pipeline.SilenceWindow(),
		},
	})
	if err != nil {
		return err
	}

	cl := &client{
		conn:    conn,
		caps:    caps,
		monitor: monitor,
		ctrl:    ctrl,
		metrics: h.metrics,
	}

	unsub := ctrl.Subscribe(func(ev controller.Event) {
		cl.forward(ctx, ev)
	})
	defer unsub()

	defer func() {
		conn.close()
		caps.closeAll()
		ctrl.EndSession()
	}()

	return cl.readLoop(ctx, ws)
}

// readLoop dispatches frames from the client until the connection closes.
func (c *client) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return err
		}

		if typ == websocket.MessageBinary {
			c.conn.handleBinary(data)
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("gateway: dropping malformed frame", "err", err)
			continue
		}
		c.handle(ctx, &msg)
	}
}

// handle processes one control or relay message.
//
// Controller operations run off the read loop: starting capture blocks on a
// relay reply that only this loop can read. Relay replies and recognition
// events stay inline to preserve their ordering.
func (c *client) handle(ctx context.Context, msg *clientMessage) {
	switch msg.Type {
	case msgStartSession:
		go c.startSession(ctx, msg)

	case msgEndSession:
		go c.ctrl.EndSession()

	case msgStopCapture:
		go c.ctrl.StopCapture()

	case msgUnlockAudio:
		go func() {
			if err := c.ctrl.UnlockAudio(ctx); err != nil {
				c.sendError(ctx, err)
			}
		}()

	case msgSubmit:
		c.ctrl.Submit(voice.TranscriptFragment{Text: msg.Text, IsFinal: true})

	case msgNetwork:
		if msg.Online != nil {
			c.monitor.NotifyOnline(*msg.Online)
		}

	case msgRecognitionStarted:
		c.conn.resolve(msg.ID, callResult{})

	case msgRecognitionFailed:
		c.conn.resolve(msg.ID, callResult{failure: msg.Error})

	case msgRecognitionEvent:
		c.caps.dispatchEvent(msg.ID, msg.Event)

	case msgSegment:
		c.conn.expectBinary(msg)

	case msgDone:
		c.conn.resolve(msg.ID, callResult{failure: msg.Error})

	default:
		slog.Debug("gateway: unknown message type", "type", msg.Type)
	}
}

// startSession starts a conversation session and reports the outcome.
func (c *client) startSession(ctx context.Context, msg *clientMessage) {
	sess, err := c.ctrl.StartSession(ctx, controller.StartOptions{
		Language:       msg.Language,
		Level:          msg.Level,
		FocusArea:      msg.FocusArea,
		Speech:         msg.Speech.toVoice(),
		DisableCapture: msg.TextOnly,
	})
	if err != nil {
		c.sendError(ctx, err)
		return
	}

	c.mu.Lock()
	c.language = msg.Language
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(ctx, 1)
	_ = c.conn.sendJSON(ctx, serverMessage{
		Type: msgSessionStarted,
		Session: &sessionInfo{
			ID:        sess.ID,
			CreatedAt: sess.CreatedAt.Format(time.RFC3339),
		},
	})
}

// forward translates a controller event into its wire form.
func (c *client) forward(ctx context.Context, ev controller.Event) {
	switch ev.Kind {
	case controller.EventStatus:
		c.observeStatus(ctx, ev.Status)
		_ = c.conn.sendJSON(ctx, serverMessage{Type: msgStatus, Status: string(ev.Status)})

	case controller.EventPreview:
		_ = c.conn.sendJSON(ctx, serverMessage{Type: msgPreview, Preview: &previewInfo{
			Accumulated: ev.Preview.Accumulated,
			Fragment:    ev.Preview.Fragment,
		}})

	case controller.EventReply:
		c.observeReply(ctx, ev.Chunk)
		_ = c.conn.sendJSON(ctx, serverMessage{Type: msgReplyChunk, Chunk: &replyChunk{
			Delta:    ev.Chunk.Delta,
			FullText: ev.Chunk.FullText,
			Done:     ev.Chunk.Done,
		}})

	case controller.EventWarning:
		w := &warningInfo{Kind: string(ev.Warning.Kind)}
		if ev.Warning.Err != nil {
			w.Message = ev.Warning.Err.Error()
		}
		_ = c.conn.sendJSON(ctx, serverMessage{Type: msgWarning, Warning: w})

	case controller.EventError:
		c.sendError(ctx, ev.Err)

	case controller.EventSessionClosed:
		c.metrics.ActiveSessions.Add(ctx, -1)
		_ = c.conn.sendJSON(ctx, serverMessage{
			Type:    msgSessionClosed,
			Session: &sessionInfo{ID: ev.Session.ID},
		})
	}
}

// observeStatus records the utterance counter and marks the start of a turn.
func (c *client) observeStatus(ctx context.Context, status controller.Status) {
	if status != controller.StatusThinking {
		return
	}
	c.mu.Lock()
	c.thinkingAt = time.Now()
	language := c.language
	c.mu.Unlock()
	c.metrics.RecordUtterance(ctx, language)
}

// observeReply records turn latency on the terminal chunk.
func (c *client) observeReply(ctx context.Context, chunk voice.ReplyChunk) {
	if !chunk.Done {
		return
	}
	c.mu.Lock()
	started := c.thinkingAt
	c.thinkingAt = time.Time{}
	c.mu.Unlock()
	if !started.IsZero() {
		c.metrics.TurnDuration.Record(ctx, time.Since(started).Seconds())
	}
}

func (c *client) sendError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	_ = c.conn.sendJSON(ctx, serverMessage{Type: msgError, Error: err.Error()})
}

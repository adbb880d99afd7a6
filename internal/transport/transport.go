// Package transport delivers utterances to the remote generation service and
// surfaces each reply incrementally as a stream of chunks.
//
// Delivery uses a layered fallback chain, each layer guarded by a persistent
// circuit breaker: a streaming request first, a non-streaming request to the
// same service when streaming fails, and finally a direct provider on a
// different backend. A Send call either emits exactly one terminal chunk or
// returns a transport failure, never both.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/parleo-app/parleo/internal/observe"
	"github.com/parleo-app/parleo/internal/resilience"
	"github.com/parleo-app/parleo/pkg/voice"
)

// DefaultMinEmitDelta is the minimum growth of accumulated reply text, in
// bytes, between two non-terminal chunk emissions.
const DefaultMinEmitDelta = 8

// Stage names used for the persistent per-strategy circuit breakers.
const (
	stageStreaming    = "streaming"
	stageNonStreaming = "non-streaming"
	stageDirect       = "direct"
)

// errEmptyStream marks a stream that completed without producing any text.
var errEmptyStream = errors.New("stream produced no text")

// Service is the remote generation service boundary. *Client implements it.
type Service interface {
	Stream(ctx context.Context, req Request, fn func(Frame) error) error
	Generate(ctx context.Context, req Request) (string, error)
}

// DirectGenerator is the secondary fallback on a different backend, used when
// the generation service itself cannot produce a reply.
type DirectGenerator interface {
	Generate(ctx context.Context, message, language string) (string, error)
}

// SendOptions carries per-utterance request parameters.
type SendOptions struct {
	SessionID string
	Level     string
	FocusArea string
	Language  string
}

// Config configures a [Transport].
type Config struct {
	// Service is the remote generation service. Required.
	Service Service

	// Direct is the secondary fallback provider. Nil disables the direct
	// stage.
	Direct DirectGenerator

	// Breaker configures the per-stage circuit breakers.
	Breaker resilience.BreakerConfig

	// MinEmitDelta defaults to DefaultMinEmitDelta if zero.
	MinEmitDelta int

	// Metrics records delivery instruments. Defaults to the package-level
	// instance.
	Metrics *observe.Metrics
}

// reply is the outcome of one delivery stage.
type reply struct {
	text  string
	audio *voice.AudioPayload
}

// Transport sends utterances and emits reply chunks.
//
// Send calls are serialized: chunks of two utterances are never interleaved
// on the emission channel, and a new utterance does not begin delivery until
// the previous one's terminal chunk has been emitted.
type Transport struct {
	cfg   Config
	chain *resilience.Chain[reply]

	sendMu sync.Mutex
	chunks chan voice.ReplyChunk
}

// New creates a [Transport].
func New(cfg Config) (*Transport, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("transport: Service must not be nil")
	}
	if cfg.MinEmitDelta <= 0 {
		cfg.MinEmitDelta = DefaultMinEmitDelta
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Transport{
		cfg:    cfg,
		chain:  resilience.NewChain[reply](cfg.Breaker),
		chunks: make(chan voice.ReplyChunk, 32),
	}, nil
}

// Chunks returns the shared reply chunk stream. All Send calls emit here, in
// per-utterance order, terminal chunk last.
func (t *Transport) Chunks() <-chan voice.ReplyChunk { return t.chunks }

// Send delivers one utterance and blocks until the reply is complete. On
// success it emits non-terminal chunks as text accumulates, then exactly one
// terminal chunk (also returned). On failure it emits nothing and returns an
// error wrapping [voice.ErrTransportFailure].
func (t *Transport) Send(ctx context.Context, utt voice.Utterance, opts SendOptions) (voice.ReplyChunk, error) {
	if strings.TrimSpace(utt.Text) == "" {
		return voice.ReplyChunk{}, fmt.Errorf("transport: refusing to send empty utterance")
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	req := Request{
		Message:   utt.Text,
		SessionID: opts.SessionID,
		Level:     opts.Level,
		FocusArea: opts.FocusArea,
		Language:  opts.Language,
	}

	started := time.Now()

	// Streaming attempt. Non-terminal chunks are emitted as a side effect;
	// acc keeps whatever text and audio the stream managed to deliver so a
	// fallback can never shrink the reply.
	var acc streamState
	res, _, err := t.chain.Execute(ctx, resilience.Stage[reply]{
		Name: stageStreaming,
		Run:  t.streamStage(req, &acc),
	})
	if err == nil {
		t.cfg.Metrics.RecordTransportStage(ctx, stageStreaming, "ok")
		t.cfg.Metrics.GenerationDuration.Record(ctx, time.Since(started).Seconds(),
			metric.WithAttributes(observe.Attr("stage", stageStreaming)))
		return t.emitTerminal(ctx, res, acc)
	}
	t.cfg.Metrics.RecordTransportStage(ctx, stageStreaming, "error")
	if ctx.Err() != nil {
		return voice.ReplyChunk{}, ctx.Err()
	}
	slog.Warn("streaming delivery failed", "error", err)

	// An established stream that ended with no text at all skips the
	// non-streaming retry against the same service and goes straight to the
	// direct provider.
	var stages []resilience.Stage[reply]
	if !errors.Is(err, errEmptyStream) {
		stages = append(stages, resilience.Stage[reply]{
			Name: stageNonStreaming,
			Run: func(ctx context.Context) (reply, error) {
				text, err := t.cfg.Service.Generate(ctx, req)
				if err != nil {
					return reply{}, err
				}
				if strings.TrimSpace(text) == "" {
					return reply{}, errEmptyStream
				}
				return reply{text: text}, nil
			},
		})
	}
	if t.cfg.Direct != nil {
		stages = append(stages, resilience.Stage[reply]{
			Name: stageDirect,
			Run: func(ctx context.Context) (reply, error) {
				text, err := t.cfg.Direct.Generate(ctx, utt.Text, opts.Language)
				if err != nil {
					return reply{}, err
				}
				if strings.TrimSpace(text) == "" {
					return reply{}, errEmptyStream
				}
				return reply{text: text}, nil
			},
		})
	}

	if len(stages) == 0 {
		return voice.ReplyChunk{}, fmt.Errorf("transport: %w: %w", voice.ErrTransportFailure, err)
	}

	res, stage, err := t.chain.Execute(ctx, stages...)
	if err != nil {
		t.cfg.Metrics.RecordTransportStage(ctx, stages[len(stages)-1].Name, "error")
		if ctx.Err() != nil {
			return voice.ReplyChunk{}, ctx.Err()
		}
		return voice.ReplyChunk{}, fmt.Errorf("transport: %w: %w", voice.ErrTransportFailure, err)
	}

	t.cfg.Metrics.RecordTransportStage(ctx, stage, "ok")
	t.cfg.Metrics.GenerationDuration.Record(ctx, time.Since(started).Seconds(),
		metric.WithAttributes(observe.Attr("stage", stage)))
	slog.Info("reply delivered via fallback",
		"stage", stage, "took", time.Since(started))
	return t.emitTerminal(ctx, res, acc)
}

// streamState accumulates what a streaming attempt delivered before it
// succeeded or failed.
type streamState struct {
	text    string
	audio   *voice.AudioPayload
	emitted int // length of text at the last non-terminal emission
}

// streamStage returns the streaming stage closure for one Send call.
func (t *Transport) streamStage(req Request, acc *streamState) func(ctx context.Context) (reply, error) {
	return func(ctx context.Context) (reply, error) {
		err := t.cfg.Service.Stream(ctx, req, func(frame Frame) error {
			full := frame.FullResponse
			if full == "" {
				full = acc.text + frame.Content
			}
			if len(full) > len(acc.text) {
				acc.text = full
			}

			if audio, err := frame.Audio(); err != nil {
				slog.Warn("discarding undecodable audio frame", "error", err)
			} else if audio != nil {
				acc.audio = audio
			}

			if frame.Done {
				// The terminal chunk is emitted by Send once the whole
				// delivery has settled.
				return nil
			}
			if len(acc.text)-acc.emitted < t.cfg.MinEmitDelta {
				return nil
			}
			acc.emitted = len(acc.text)
			return t.emit(ctx, voice.ReplyChunk{
				Delta:    frame.Content,
				FullText: acc.text,
			})
		})
		if err != nil {
			return reply{}, err
		}
		if strings.TrimSpace(acc.text) == "" {
			return reply{}, errEmptyStream
		}
		return reply{text: acc.text, audio: acc.audio}, nil
	}
}

// emitTerminal emits the mandatory done chunk for a completed delivery. The
// terminal text is never shorter than what streaming already emitted, and a
// payload captured by the stream survives a text-only fallback.
func (t *Transport) emitTerminal(ctx context.Context, res reply, acc streamState) (voice.ReplyChunk, error) {
	text := res.text
	if len(acc.text) > len(text) {
		text = acc.text
	}
	audio := res.audio
	if audio == nil {
		audio = acc.audio
	}

	chunk := voice.ReplyChunk{
		Delta:    text[min(acc.emitted, len(text)):],
		FullText: text,
		Audio:    audio,
		Done:     true,
	}
	if err := t.emit(ctx, chunk); err != nil {
		return voice.ReplyChunk{}, err
	}
	return chunk, nil
}

// emit delivers one chunk on the shared channel.
func (t *Transport) emit(ctx context.Context, chunk voice.ReplyChunk) error {
	select {
	case t.chunks <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

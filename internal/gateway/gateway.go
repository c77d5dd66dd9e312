// Package gateway implements the streaming completion flow: request
// normalization, the upstream dispatch with its single fallback retry, and
// translation of the provider stream into normalized client events.
package gateway

import (
	"context"
	"log"
	"time"

	"github.com/openfiesta/fiesta-gateway/internal/openrouter"
	"github.com/openfiesta/fiesta-gateway/internal/policy"
)

// Exchange outcomes reported in Result.Status.
const (
	StatusOK             = "ok"
	StatusUpstreamError  = "upstream_error"
	StatusFallbackFailed = "fallback_failed"
	StatusTimeout        = "timeout"
	StatusCancelled      = "cancelled"
	StatusReadError      = "read_error"
	StatusUnreachable    = "unreachable"
)

// EmitFunc writes one client event. A non-nil error means the client is gone
// and the exchange must stop; implementations are expected to flush before
// returning so the next upstream read waits on downstream write capacity.
type EmitFunc func(Event) error

// Gateway owns the per-request completion flow. It holds no mutable state;
// every exchange is self-contained.
type Gateway struct {
	client         *openrouter.Client
	policy         *policy.Table
	sharedKey      string
	timeout        time.Duration
	historyWindow  int
	attachmentClip int
	logger         *log.Logger
	debug          bool
}

// Config holds construction options for the Gateway.
type Config struct {
	Client       *openrouter.Client
	Policy       *policy.Table // nil selects the built-in policy table
	SharedAPIKey string        // server-wide credential used when the caller sends none
	// UpstreamTimeout bounds each upstream attempt (default 60s).
	UpstreamTimeout time.Duration
	// HistoryWindow caps the messages forwarded upstream (default 8).
	HistoryWindow int
	// AttachmentClip caps decoded text/plain attachments in characters
	// (default 20000).
	AttachmentClip int
	Logger         *log.Logger
	Debug          bool
}

// New creates a Gateway instance.
func New(cfg Config) *Gateway {
	pol := cfg.Policy
	if pol == nil {
		pol = policy.Default()
	}
	timeout := cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	window := cfg.HistoryWindow
	if window <= 0 {
		window = 8
	}
	clip := cfg.AttachmentClip
	if clip <= 0 {
		clip = 20000
	}
	return &Gateway{
		client:         cfg.Client,
		policy:         pol,
		sharedKey:      cfg.SharedAPIKey,
		timeout:        timeout,
		historyWindow:  window,
		attachmentClip: clip,
		logger:         cfg.Logger,
		debug:          cfg.Debug,
	}
}

// Result summarizes one exchange for logging, metrics and the usage ledger.
type Result struct {
	Status            string
	UsedModel         string
	FallbackAttempted bool
	FallbackUsed      bool
	DeltaBytes        int64
	DroppedFrames     int
	// PreStreamErr is set when the exchange failed before any event was
	// emitted; the caller should answer with a plain HTTP error.
	PreStreamErr error
}

// Stream runs one complete exchange against the upstream provider, emitting
// normalized events in order: metadata first, then deltas, then (optionally)
// errors, and the terminal sentinel last. Image-output models take the
// non-streaming path and get a synthesized single-chunk stream.
func (g *Gateway) Stream(ctx context.Context, req NormalizedRequest, emit EmitFunc) Result {
	if g.policy.IsImageModel(req.Model) {
		return g.streamImageCompletion(ctx, req, emit)
	}

	res := Result{UsedModel: req.Model}
	resp, streamCtx, cancel, disp := g.dispatch(ctx, req, &res)
	if disp != nil {
		if disp.preStream != nil {
			res.Status = StatusUnreachable
			res.PreStreamErr = disp.preStream
			return res
		}
		// Terminal upstream failure: one error event, then the sentinel.
		if err := emit(*disp.event); err != nil {
			res.Status = StatusCancelled
			return res
		}
		_ = emit(DoneEvent())
		return res
	}
	defer cancel()

	if err := emit(MetaEvent(req.KeySource)); err != nil {
		resp.Body.Close()
		res.Status = StatusCancelled
		return res
	}
	g.pump(streamCtx, req, resp.Body, emit, &res)
	return res
}

// streamImageCompletion handles models that only support non-streaming
// completion: the full result is re-framed as a token event plus metadata,
// preserving the uniform client-facing stream shape.
func (g *Gateway) streamImageCompletion(ctx context.Context, req NormalizedRequest, emit EmitFunc) Result {
	res := Result{UsedModel: req.Model}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	completion, err := g.client.CreateCompletion(callCtx, req.APIKey, req.Attr, req.Upstream)
	if err != nil {
		g.debugf("image completion failed model=%s: %v", req.Model, err)
		res.Status = StatusUpstreamError
		if callCtx.Err() == context.DeadlineExceeded {
			res.Status = StatusTimeout
			if e := emit(ErrorEvent(g.timeoutMessage(), 408, req.KeySource)); e == nil {
				_ = emit(DoneEvent())
			}
			return res
		}
		if e := emit(ErrorEvent(err.Error(), 500, req.KeySource)); e == nil {
			_ = emit(DoneEvent())
		}
		return res
	}

	if text := completion.Text(); text != "" {
		if err := emit(TokenEvent(text)); err != nil {
			res.Status = StatusCancelled
			return res
		}
		res.DeltaBytes += int64(len(text))
	}
	if err := emit(ImageMetaEvent(req.KeySource)); err != nil {
		res.Status = StatusCancelled
		return res
	}
	_ = emit(DoneEvent())
	res.Status = StatusOK
	return res
}

func (g *Gateway) debugf(format string, args ...interface{}) {
	if g.debug && g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

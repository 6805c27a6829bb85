package router

import (
	"context"
	"errors"
	"time"

	"github.com/hyodotdev/locanara/internal/engine"
	"github.com/hyodotdev/locanara/internal/stream"
	"github.com/hyodotdev/locanara/pkg/types"
)

// borrow resolves the handle that will serve one request and validates the
// routing preconditions. The returned handle is a short-lived borrow; the
// router keeps ownership.
func (r *Router) borrow(feature types.Feature, needImage bool) (engine.Handle, engine.Kind, error) {
	r.mu.RLock()
	initialized := r.initialized
	kind := r.kind
	h := r.handle
	r.mu.RUnlock()

	if !initialized {
		return nil, kind, newErr(KindNotInitialized, "router not initialized")
	}
	if kind.IsNone() || h == nil {
		if !r.platformSupported() && (r.cfg.Catalog == nil || len(r.cfg.Catalog.List()) == 0) {
			return nil, kind, newErr(KindDeviceNotSupported, "no inference engine available on this device")
		}
		return nil, kind, newErr(KindModelNotLoaded, "no backend loaded")
	}
	if kind.IsPlatform() && !r.cfg.Platform.SupportsFeature(feature) {
		return nil, kind, newErr(KindFeatureNotAvailable,
			"platform engine does not support feature "+string(feature))
	}
	if kind.IsLocal() && r.cfg.Memory != nil && !r.cfg.Memory.CanRunInference() {
		return nil, kind, newErr(KindInsufficientMemory, "memory pressure too high for inference")
	}
	if needImage && !h.SupportsMultimodal() {
		return nil, kind, newErr(KindFeatureNotSupported, "active backend has no image support")
	}
	return h, kind, nil
}

// Execute routes a blocking generation to the active backend and returns the
// full result.
func (r *Router) Execute(ctx context.Context, feature types.Feature, prompt string, cfg types.GenerateConfig) (types.GenerationResult, error) {
	return r.execute(ctx, engine.Request{Feature: feature, Prompt: prompt, Config: cfg}, false)
}

// ExecuteWithImage routes a blocking multimodal generation. Fails with a
// feature-not-supported error when the active handle lacks image support.
func (r *Router) ExecuteWithImage(ctx context.Context, prompt string, image []byte, cfg types.GenerateConfig) (types.GenerationResult, error) {
	return r.execute(ctx, engine.Request{Feature: types.FeatureChat, Prompt: prompt, Image: image, Config: cfg}, true)
}

func (r *Router) execute(ctx context.Context, req engine.Request, needImage bool) (types.GenerationResult, error) {
	h, kind, err := r.borrow(req.Feature, needImage)
	if err != nil {
		return types.GenerationResult{}, err
	}
	release, err := r.beginGeneration(ctx)
	if err != nil {
		return types.GenerationResult{}, err
	}
	defer release()

	generationsTotal.WithLabelValues(kind.String(), "blocking").Inc()
	start := time.Now()
	final, err := h.Generate(ctx, req)
	if err != nil {
		return types.GenerationResult{}, mapExecErr(err)
	}
	reason := final.FinishReason
	if reason == "" {
		reason = "stop"
	}
	return types.GenerationResult{
		Text:         final.Content,
		TokenCount:   final.TokenCount,
		DurationMS:   time.Since(start).Milliseconds(),
		FinishReason: reason,
	}, nil
}

// ExecuteStreaming routes a streaming generation and returns its lazy,
// single-consumption event sequence. Failures after the call returns are
// delivered as a terminal failed event on the sequence, not as an error here.
func (r *Router) ExecuteStreaming(ctx context.Context, feature types.Feature, prompt string, cfg types.GenerateConfig) (*stream.Stream, error) {
	return r.executeStream(ctx, feature, prompt, cfg, false, 0)
}

// ExecuteStreamingBuffered is ExecuteStreaming with coalesced chunk events
// instead of raw tokens.
func (r *Router) ExecuteStreamingBuffered(ctx context.Context, feature types.Feature, prompt string, cfg types.GenerateConfig, minChars int) (*stream.Stream, error) {
	return r.executeStream(ctx, feature, prompt, cfg, true, minChars)
}

func (r *Router) executeStream(ctx context.Context, feature types.Feature, prompt string, cfg types.GenerateConfig, buffered bool, minChars int) (*stream.Stream, error) {
	h, kind, err := r.borrow(feature, false)
	if err != nil {
		return nil, err
	}
	release, err := r.beginGeneration(ctx)
	if err != nil {
		return nil, err
	}

	var coord *stream.Coordinator
	coord = stream.New(stream.Config{
		Logger: r.log,
		OnTerminate: func() {
			r.clearSession(coord)
			release()
		},
	})
	r.setSession(coord)

	req := engine.Request{Feature: feature, Prompt: prompt, Config: cfg}
	var st *stream.Stream
	if buffered {
		st, err = coord.GenerateBuffered(ctx, h, req, minChars)
	} else {
		st, err = coord.Generate(ctx, h, req)
	}
	if err != nil {
		r.clearSession(coord)
		release()
		return nil, wrapErr(KindExecutionFailed, "start stream", err)
	}
	generationsTotal.WithLabelValues(kind.String(), "streaming").Inc()
	return st, nil
}

func (r *Router) setSession(c *stream.Coordinator) {
	r.mu.Lock()
	r.session = c
	r.mu.Unlock()
}

func (r *Router) clearSession(c *stream.Coordinator) {
	r.mu.Lock()
	if r.session == c {
		r.session = nil
	}
	r.mu.Unlock()
}

// CancelInference forwards cancellation to the active handle and streaming
// session. Returns false when nothing cancellable is active or the current
// kind is privileged.
func (r *Router) CancelInference() bool {
	r.mu.RLock()
	kind := r.kind
	h := r.handle
	sess := r.session
	r.mu.RUnlock()

	if kind.IsPlatform() {
		return false
	}
	cancelled := false
	if sess != nil {
		if st := sess.State(); st == stream.StateGenerating || st == stream.StatePaused {
			sess.Cancel()
			cancelled = true
		}
	}
	if h != nil && h.Cancel() {
		cancelled = true
	}
	return cancelled
}

// mapExecErr converts backend failures into the router's error taxonomy.
func mapExecErr(err error) error {
	switch {
	case errors.Is(err, engine.ErrCancelled) || errors.Is(err, context.Canceled):
		return wrapErr(KindExecutionCancelled, "generation cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return wrapErr(KindExecutionTimeout, "generation timed out", err)
	case errors.Is(err, engine.ErrRuntimeUnavailable):
		return wrapErr(KindEngineNotAvailable, "inference runtime unavailable", err)
	default:
		return wrapErr(KindExecutionFailed, "generation failed", err)
	}
}

package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hyodotdev/locanara/pkg/types"
)

// localHandle is a loaded local candidate backend: one adapter session bound
// to one model file.
type localHandle struct {
	kind  Kind
	model types.Model
	sess  AdapterSession
	log   zerolog.Logger

	mu       sync.Mutex
	loaded   bool
	cancelFn context.CancelFunc // non-nil while a generation is in flight
}

// NewLocalHandle wraps a loaded adapter session as a Handle.
func NewLocalHandle(kind Kind, mdl types.Model, sess AdapterSession, log zerolog.Logger) Handle {
	return &localHandle{
		kind:   kind,
		model:  mdl,
		sess:   sess,
		log:    log.With().Str("engine", kind.String()).Str("model", mdl.ID).Logger(),
		loaded: true,
	}
}

func (h *localHandle) Kind() Kind      { return h.kind }
func (h *localHandle) ModelID() string { return h.model.ID }

func (h *localHandle) IsLoaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}

func (h *localHandle) SupportsMultimodal() bool { return h.model.Multimodal }

func (h *localHandle) Generate(ctx context.Context, req Request) (Final, error) {
	return h.GenerateStream(ctx, req, func(string) error { return nil })
}

func (h *localHandle) GenerateStream(ctx context.Context, req Request, onToken func(string) error) (Final, error) {
	genCtx, err := h.beginCall(ctx)
	if err != nil {
		return Final{}, err
	}
	defer h.endCall()

	final, err := h.sess.Generate(genCtx, req.Prompt, req.Config, onToken)
	if err != nil {
		// A cancel via Cancel() surfaces as context.Canceled on genCtx while
		// the caller's ctx is still live; report it as our cancellation.
		if genCtx.Err() != nil && ctx.Err() == nil {
			return Final{}, ErrCancelled
		}
		return Final{}, err
	}
	return final, nil
}

func (h *localHandle) beginCall(ctx context.Context) (context.Context, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded {
		return nil, errors.New("backend is unloaded")
	}
	if h.cancelFn != nil {
		return nil, errors.New("generation already in flight")
	}
	genCtx, cancel := context.WithCancel(ctx)
	h.cancelFn = cancel
	return genCtx, nil
}

func (h *localHandle) endCall() {
	h.mu.Lock()
	if h.cancelFn != nil {
		h.cancelFn()
		h.cancelFn = nil
	}
	h.mu.Unlock()
}

func (h *localHandle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelFn == nil {
		return false
	}
	h.cancelFn()
	return true
}

func (h *localHandle) Unload() error {
	h.mu.Lock()
	if !h.loaded {
		h.mu.Unlock()
		return nil
	}
	h.loaded = false
	if h.cancelFn != nil {
		h.cancelFn()
		h.cancelFn = nil
	}
	sess := h.sess
	h.sess = nil
	h.mu.Unlock()

	h.log.Debug().Msg("unloading local backend")
	if sess != nil {
		return sess.Close()
	}
	return nil
}

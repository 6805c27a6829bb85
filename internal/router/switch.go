package router

import (
	"context"
	"time"

	"github.com/hyodotdev/locanara/internal/engine"
	"github.com/hyodotdev/locanara/internal/memory"
	"github.com/hyodotdev/locanara/pkg/types"
)

// switchRequest is one unit of work for the single switch worker.
type switchRequest struct {
	name  string
	apply func() error
	done  chan error
}

// enqueueSwitch submits work to the switch worker and waits for its result.
// A submitted switch always runs to completion in submission order; a caller
// that stops waiting (ctx done) abandons the result, not the operation.
func (r *Router) enqueueSwitch(ctx context.Context, name string, apply func() error) error {
	req := switchRequest{name: name, apply: apply, done: make(chan error, 1)}
	select {
	case r.switchCh <- req:
	case <-r.done:
		return newErr(KindExecutionFailed, "router closed")
	case <-ctx.Done():
		return wrapErr(KindExecutionFailed, "switch not submitted", ctx.Err())
	}
	select {
	case err := <-req.done:
		return err
	case <-r.done:
		// The worker may have exited between the send above and now; it will
		// never answer a request it did not drain.
		select {
		case err := <-req.done:
			return err
		default:
			return newErr(KindExecutionFailed, "router closed")
		}
	case <-ctx.Done():
		return wrapErr(KindExecutionFailed, "abandoned waiting for switch "+name, ctx.Err())
	}
}

// switchWorker serializes every switch, load, and unload. Two switches can
// never interleave, so neither can observe a stale handle and both try to
// unload or load concurrently.
func (r *Router) switchWorker() {
	defer close(r.workerDone)
	for {
		select {
		case req := <-r.switchCh:
			start := time.Now()
			err := req.apply()
			switchesTotal.WithLabelValues(req.name, resultLabel(err)).Inc()
			evt := r.log.Debug().Str("op", req.name).Dur("took", time.Since(start))
			if err != nil {
				evt = r.log.Warn().Str("op", req.name).Err(err)
			}
			evt.Msg("switch operation finished")
			req.done <- err
		case <-r.done:
			// Unblock any queued callers before exiting.
			for {
				select {
				case req := <-r.switchCh:
					req.done <- newErr(KindExecutionFailed, "router closed")
				default:
					return
				}
			}
		}
	}
}

// Initialize detects device capability, picks an initial engine in Auto
// mode, and best-effort auto-loads the first previously-downloaded local
// model. Idempotent; auto-load failure is logged, never fatal.
func (r *Router) Initialize(ctx context.Context) error {
	r.mu.RLock()
	inited := r.initialized
	r.mu.RUnlock()
	if inited {
		return nil
	}
	return r.enqueueSwitch(ctx, "initialize", func() error {
		r.mu.Lock()
		if r.initialized {
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()

		if r.platformSupported() {
			r.activate(engine.NewPlatformHandle(r.cfg.Platform), engine.Platform(), engine.AutoMode())
			r.finishInit()
			r.log.Info().Msg("initialized on privileged platform engine")
			return nil
		}

		if mdl, ok := r.initialModel(); ok {
			h, kind, err := r.loadLocal(mdl)
			if err != nil {
				r.log.Warn().Err(err).Str("model", mdl.ID).
					Msg("auto-load failed, starting without an engine")
			} else {
				r.activate(h, kind, engine.AutoMode())
				r.log.Info().Str("engine", kind.String()).Str("model", mdl.ID).
					Msg("initialized on local engine")
			}
		} else {
			r.log.Info().Msg("no downloaded models, starting without an engine")
		}
		r.finishInit()
		return nil
	})
}

func (r *Router) finishInit() {
	r.mu.Lock()
	r.initialized = true
	r.mu.Unlock()
}

// initialModel picks the configured default when downloaded, otherwise the
// first downloaded model.
func (r *Router) initialModel() (types.Model, bool) {
	if r.cfg.Catalog == nil {
		return types.Model{}, false
	}
	if r.cfg.DefaultModel != "" {
		if mdl, ok := r.cfg.Catalog.Get(r.cfg.DefaultModel); ok {
			return mdl, true
		}
	}
	models := r.cfg.Catalog.List()
	if len(models) == 0 {
		return types.Model{}, false
	}
	return models[0], true
}

// loadLocal performs the memory preflight and loads a local handle.
// Worker-only.
func (r *Router) loadLocal(mdl types.Model) (engine.Handle, engine.Kind, error) {
	kind := r.preferredLocalKind()
	if r.cfg.Memory != nil {
		required := r.cfg.Memory.EstimateRequirement(mdl)
		if !r.cfg.Memory.HasEnoughMemory(required) {
			return nil, kind, newErr(KindInsufficientMemory,
				"not enough memory to load "+mdl.ID)
		}
	}
	if r.cfg.Loader == nil {
		return nil, kind, newErr(KindEngineNotAvailable, "no local loader configured")
	}
	h, err := r.cfg.Loader.Load(context.Background(), kind, mdl)
	if err != nil {
		return nil, kind, wrapErr(KindExecutionFailed, "load "+mdl.ID, err)
	}
	return h, kind, nil
}

// activate installs a handle as the single live backend. Worker-only.
func (r *Router) activate(h engine.Handle, kind engine.Kind, mode engine.Mode) {
	r.mu.Lock()
	r.handle = h
	r.kind = kind
	r.mode = mode
	r.mu.Unlock()
}

// unloadCurrent cancels any in-flight generation on the outgoing handle,
// waits for admission to drain, then unloads it. Reports whether a handle
// was present. The kind drops to None with the handle so the router never
// names an engine it no longer holds; activation sets the next kind.
// Worker-only.
func (r *Router) unloadCurrent() bool {
	r.mu.Lock()
	h := r.handle
	sess := r.session
	r.handle = nil
	r.kind = engine.None()
	r.mu.Unlock()
	if h == nil {
		return false
	}

	if sess != nil {
		sess.Cancel()
	}
	h.Cancel()

	// Wait for the in-flight generation to actually stop before unloading;
	// the backend's contract leaves unload-during-generation undefined.
	deadline := time.Now().Add(r.cfg.DrainTimeout)
	for len(r.genCh) > 0 {
		if time.Now().After(deadline) {
			r.log.Warn().Str("engine", h.Kind().String()).
				Msg("drain timeout, unloading with generation possibly in flight")
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := h.Unload(); err != nil {
		r.log.Warn().Err(err).Str("engine", h.Kind().String()).Msg("unload failed")
	}
	return true
}

// drainDelay waits out the configured settle margin after an unload, to let
// native resources settle before the next activation.
func (r *Router) drainDelay() {
	time.Sleep(r.cfg.DrainDelay)
}

// SwitchToPlatform makes the privileged platform engine active. Any local
// handle is unloaded first.
func (r *Router) SwitchToPlatform(ctx context.Context) error {
	if !r.platformSupported() {
		return newErr(KindEngineNotAvailable, "platform engine unsupported on this device")
	}
	return r.enqueueSwitch(ctx, "switch_platform", func() error {
		if r.unloadCurrent() {
			r.drainDelay()
		}
		r.activate(engine.NewPlatformHandle(r.cfg.Platform), engine.Platform(), engine.ForcedPlatformMode())
		return nil
	})
}

// SwitchToLocal loads modelID and makes it the active engine. On load
// failure the current kind and mode are left unchanged and the error is
// propagated.
func (r *Router) SwitchToLocal(ctx context.Context, modelID string) error {
	return r.enqueueSwitch(ctx, "switch_local", func() error {
		if r.cfg.Catalog == nil {
			return newErr(KindModelNotDownloaded, "model not downloaded: "+modelID)
		}
		mdl, ok := r.cfg.Catalog.Get(modelID)
		if !ok {
			return newErr(KindModelNotDownloaded, "model not downloaded: "+modelID)
		}

		r.mu.RLock()
		cur := r.handle
		r.mu.RUnlock()
		if cur != nil && cur.Kind().IsLocal() && cur.ModelID() == modelID && cur.IsLoaded() {
			r.mu.Lock()
			r.mode = engine.ForcedLocalMode(modelID)
			r.mu.Unlock()
			return nil
		}

		if r.unloadCurrent() {
			r.drainDelay()
		}
		h, kind, err := r.loadLocal(mdl)
		if err != nil {
			return err
		}
		r.activate(h, kind, engine.ForcedLocalMode(modelID))
		return nil
	})
}

// SetPreferredEngine records the preferred engine. When the router is
// currently on a different non-privileged engine, the old handle is unloaded
// and cleared; loading is deferred to the next explicit switch.
func (r *Router) SetPreferredEngine(ctx context.Context, kind engine.Kind) error {
	if !r.engineAvailable(kind) {
		return newErr(KindEngineNotAvailable, "engine not available: "+kind.String())
	}
	return r.enqueueSwitch(ctx, "set_preferred", func() error {
		r.mu.Lock()
		r.preferred = kind
		cur := r.kind
		r.mu.Unlock()

		if cur.IsLocal() && cur != kind {
			r.unloadCurrent()
		}
		return nil
	})
}

// UnloadModel unloads the named model if it backs the active handle.
func (r *Router) UnloadModel(ctx context.Context, modelID string) error {
	return r.enqueueSwitch(ctx, "unload", func() error {
		r.mu.RLock()
		h := r.handle
		r.mu.RUnlock()
		if h == nil || !h.Kind().IsLocal() || h.ModelID() != modelID {
			return newErr(KindModelNotLoaded, "model not loaded: "+modelID)
		}
		r.unloadCurrent()
		return nil
	})
}

// RegisterEngine lets an external loader install the active handle directly.
// The current kind is updated to match the handle's declared kind; any
// previous handle is unloaded first.
func (r *Router) RegisterEngine(ctx context.Context, h engine.Handle) error {
	if h == nil {
		return newErr(KindExecutionFailed, "nil handle")
	}
	return r.enqueueSwitch(ctx, "register", func() error {
		if r.unloadCurrent() {
			r.drainDelay()
		}
		r.mu.Lock()
		mode := r.mode
		r.mu.Unlock()
		r.activate(h, h.Kind(), mode)
		return nil
	})
}

// UnregisterEngine removes the active handle without unloading it;
// ownership returns to the caller that registered it.
func (r *Router) UnregisterEngine(ctx context.Context) error {
	return r.enqueueSwitch(ctx, "unregister", func() error {
		r.mu.Lock()
		r.handle = nil
		r.kind = engine.None()
		r.mu.Unlock()
		return nil
	})
}

// HandleMemoryEvent is the eviction hook the owning application subscribes
// to the memory monitor. On critical pressure the active local handle is
// unloaded through the switch queue, never concurrently with a switch.
func (r *Router) HandleMemoryEvent(ev memory.Event) {
	if ev.Type != memory.EventCriticalMemory {
		return
	}
	r.mu.RLock()
	h := r.handle
	r.mu.RUnlock()
	if h == nil || !h.Kind().IsLocal() {
		return
	}
	r.log.Warn().Int("available_mb", ev.Stats.AvailableMB).
		Msg("critical memory pressure, evicting local backend")

	// Detached: the monitor's handler must not block on the switch queue.
	go func() {
		err := r.enqueueSwitch(context.Background(), "evict", func() error {
			r.mu.RLock()
			cur := r.handle
			r.mu.RUnlock()
			if cur == nil || !cur.Kind().IsLocal() {
				return nil
			}
			r.unloadCurrent()
			evictionsTotal.Inc()
			return nil
		})
		if err != nil {
			r.log.Warn().Err(err).Msg("eviction failed")
		}
	}()
}

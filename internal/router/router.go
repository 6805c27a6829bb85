package router

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyodotdev/locanara/internal/catalog"
	"github.com/hyodotdev/locanara/internal/engine"
	"github.com/hyodotdev/locanara/internal/memory"
	"github.com/hyodotdev/locanara/internal/stream"
)

// Defaults applied when corresponding Config fields are unset.
const (
	// defaultDrainDelay is the settle margin between unloading one backend
	// and activating the next. Empirical, not a correctness requirement.
	defaultDrainDelay = 100 * time.Millisecond
	// defaultDrainTimeout bounds how long a switch waits for an in-flight
	// generation on the outgoing handle to stop after cancellation.
	defaultDrainTimeout  = 2 * time.Second
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	switchQueueDepth     = 16
)

// Config encapsulates all tunables and collaborators for Router construction.
type Config struct {
	Catalog *catalog.Catalog
	// Memory gates loads and drives eviction; optional.
	Memory *memory.Monitor
	// Platform is the host-provided privileged runtime; nil on devices
	// without one.
	Platform engine.PlatformRuntime
	Loader   engine.Loader
	// LocalCandidates lists the local backend ids available on this device,
	// in preference order. Defaults to generic-cpu only.
	LocalCandidates []engine.Kind
	// DefaultModel is tried first by the best-effort auto-load at
	// Initialize; empty means the first catalog entry.
	DefaultModel string

	DrainDelay    time.Duration
	DrainTimeout  time.Duration
	MaxQueueDepth int
	MaxWait       time.Duration
	Logger        zerolog.Logger
}

// Router holds the single currently-active backend handle (or none), a
// preferred engine selection, and the selection mode. All switch operations
// are serialized through a single-worker FIFO queue; dispatch borrows the
// handle for the duration of one call under an admission gate.
type Router struct {
	cfg Config
	log zerolog.Logger

	mu          sync.RWMutex
	initialized bool
	kind        engine.Kind
	mode        engine.Mode
	preferred   engine.Kind
	handle      engine.Handle
	session     *stream.Coordinator // active streaming session, if any

	// Admission: single in-flight generation, bounded FIFO wait queue.
	genCh   chan struct{}
	queueCh chan struct{}

	switchCh   chan switchRequest
	done       chan struct{}
	workerDone chan struct{}
	closeOnce  sync.Once
}

// New constructs a Router and starts its switch worker. Call Close to stop
// it and release the active backend.
func New(cfg Config) *Router {
	if cfg.DrainDelay <= 0 {
		cfg.DrainDelay = defaultDrainDelay
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = defaultMaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if len(cfg.LocalCandidates) == 0 {
		cfg.LocalCandidates = []engine.Kind{engine.Local(engine.LocalGenericCPU)}
	}
	r := &Router{
		cfg:        cfg,
		log:        cfg.Logger,
		kind:       engine.None(),
		mode:       engine.AutoMode(),
		genCh:      make(chan struct{}, 1),
		queueCh:    make(chan struct{}, cfg.MaxQueueDepth),
		switchCh:   make(chan switchRequest, switchQueueDepth),
		done:       make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	go r.switchWorker()
	return r
}

// Close stops the switch worker and unloads the active backend.
func (r *Router) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	<-r.workerDone

	r.mu.Lock()
	h := r.handle
	r.handle = nil
	r.kind = engine.None()
	r.mu.Unlock()
	if h != nil {
		return h.Unload()
	}
	return nil
}

// CurrentEngine returns the kind of the currently-active engine.
func (r *Router) CurrentEngine() engine.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kind
}

// Mode returns the current selection mode.
func (r *Router) Mode() engine.Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// CurrentModelID returns the model behind the active handle, when local.
func (r *Router) CurrentModelID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.handle == nil {
		return ""
	}
	return r.handle.ModelID()
}

// IsModelReady reports whether a backend is loaded and can serve requests.
func (r *Router) IsModelReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handle != nil && r.handle.IsLoaded()
}

// IsMultimodalAvailable reports whether the active handle accepts images.
func (r *Router) IsMultimodalAvailable() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handle != nil && r.handle.SupportsMultimodal()
}

// AvailableFallbackEngines returns the engines available on this device:
// the privileged platform engine when supported, then the configured local
// candidates.
func (r *Router) AvailableFallbackEngines() []engine.Kind {
	out := make([]engine.Kind, 0, len(r.cfg.LocalCandidates)+1)
	if r.platformSupported() {
		out = append(out, engine.Platform())
	}
	out = append(out, r.cfg.LocalCandidates...)
	return out
}

func (r *Router) platformSupported() bool {
	return r.cfg.Platform != nil && r.cfg.Platform.Supported()
}

func (r *Router) engineAvailable(kind engine.Kind) bool {
	if kind.IsPlatform() {
		return r.platformSupported()
	}
	if kind.IsLocal() {
		for _, k := range r.cfg.LocalCandidates {
			if k == kind {
				return true
			}
		}
	}
	return false
}

// preferredLocalKind picks the local backend id for the next load: the
// preferred engine when it is local, else the first configured candidate.
func (r *Router) preferredLocalKind() engine.Kind {
	r.mu.RLock()
	pref := r.preferred
	r.mu.RUnlock()
	if pref.IsLocal() {
		return pref
	}
	return r.cfg.LocalCandidates[0]
}

package engine

import (
	"context"
	"errors"

	"github.com/hyodotdev/locanara/pkg/types"
)

// ErrCancelled is returned by a generation that stopped because cancellation
// was requested. Callers should treat context.Canceled the same way.
var ErrCancelled = errors.New("generation cancelled")

// ErrRuntimeUnavailable signals that the native runtime backing a handle is
// not present in this build or on this device.
var ErrRuntimeUnavailable = errors.New("inference runtime unavailable")

// Request carries one generation call across the handle boundary.
type Request struct {
	Feature types.Feature
	Prompt  string
	// Optional image bytes; only meaningful for multimodal handles.
	Image  []byte
	Config types.GenerateConfig
}

// Final summarizes a generation after all tokens have been produced.
type Final struct {
	Content      string
	TokenCount   int
	FinishReason string
}

// Handle is one loaded inference backend: weights plus runtime context.
// A Handle is exclusively owned by the router; other components may only
// borrow it for the duration of a single call. At most one generation runs
// on a handle at a time (the router's admission gate enforces this).
type Handle interface {
	// Kind reports which engine slot this handle fills.
	Kind() Kind
	// ModelID is the id of the loaded model; empty for the platform engine.
	ModelID() string
	IsLoaded() bool
	SupportsMultimodal() bool

	// Generate runs a blocking generation and returns the full text.
	Generate(ctx context.Context, req Request) (Final, error)

	// GenerateStream invokes onToken for each produced token, in production
	// order. Returning an error from onToken stops generation; ErrCancelled
	// is propagated unchanged.
	GenerateStream(ctx context.Context, req Request, onToken func(string) error) (Final, error)

	// Cancel requests cooperative cancellation of the in-flight generation
	// and reports whether one was active. Platform handles always return
	// false: privileged calls are not cancellable.
	Cancel() bool

	// Unload releases the backend. It must be safe to call with no
	// generation in flight; the handle is unusable afterwards.
	Unload() error
}

package engine

import (
	"context"

	"github.com/hyodotdev/locanara/pkg/types"
)

// PlatformRuntime is implemented by the embedding application when the host
// environment exposes a zero-setup language model (e.g. Apple Foundation
// Models on capable devices). It requires no download and no load step.
type PlatformRuntime interface {
	// Supported reports whether the device and OS expose the runtime at all.
	Supported() bool
	// SupportsFeature reports whether the runtime can serve the given
	// feature on this device/OS combination.
	SupportsFeature(f types.Feature) bool
	SupportsMultimodal() bool

	// Respond runs a blocking generation.
	Respond(ctx context.Context, req Request) (Final, error)
	// RespondStream streams tokens through onToken.
	RespondStream(ctx context.Context, req Request, onToken func(string) error) (Final, error)
}

// platformHandle adapts a PlatformRuntime to the Handle interface. There is
// nothing to load or unload; the host owns the underlying session.
type platformHandle struct {
	rt PlatformRuntime
}

// NewPlatformHandle wraps the host runtime as an always-ready Handle.
func NewPlatformHandle(rt PlatformRuntime) Handle {
	return &platformHandle{rt: rt}
}

func (h *platformHandle) Kind() Kind               { return Platform() }
func (h *platformHandle) ModelID() string          { return "" }
func (h *platformHandle) IsLoaded() bool           { return h.rt.Supported() }
func (h *platformHandle) SupportsMultimodal() bool { return h.rt.SupportsMultimodal() }

func (h *platformHandle) Generate(ctx context.Context, req Request) (Final, error) {
	return h.rt.Respond(ctx, req)
}

func (h *platformHandle) GenerateStream(ctx context.Context, req Request, onToken func(string) error) (Final, error) {
	return h.rt.RespondStream(ctx, req, onToken)
}

// Cancel always reports false: privileged platform calls are not
// cancellable in this design.
func (h *platformHandle) Cancel() bool { return false }

func (h *platformHandle) Unload() error { return nil }

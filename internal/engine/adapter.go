package engine

import (
	"context"

	"github.com/hyodotdev/locanara/pkg/types"
)

// Adapter abstracts the native model runtime backing a local candidate
// handle. Concrete implementations (llama.cpp) satisfy this interface; heavy
// lifting stays in native code.
type Adapter interface {
	// Load reads the model at path into memory and returns a session bound
	// to it. Load may fail when the runtime is unavailable in this build.
	Load(path string, opts AdapterOptions) (AdapterSession, error)
}

// AdapterOptions configures a loaded model context.
type AdapterOptions struct {
	ContextSize int
	Threads     int
}

// AdapterSession is a loaded model context that can serve generations.
type AdapterSession interface {
	// Generate streams tokens for the prompt through onToken.
	// Implementations must return promptly when ctx is cancelled or when
	// onToken returns an error.
	Generate(ctx context.Context, prompt string, cfg types.GenerateConfig, onToken func(string) error) (Final, error)
	// Close frees the loaded model.
	Close() error
}

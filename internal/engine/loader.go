package engine

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hyodotdev/locanara/pkg/types"
)

// Loader creates handles for local candidate models. The load is the slow
// half of a switch; the router serializes calls through its switch worker.
type Loader interface {
	Load(ctx context.Context, kind Kind, mdl types.Model) (Handle, error)
}

// AdapterLoader loads local models through a runtime Adapter.
type AdapterLoader struct {
	Adapter     Adapter
	ContextSize int
	Threads     int
	Logger      zerolog.Logger
}

// NewAdapterLoader returns a loader backed by the in-process llama adapter.
func NewAdapterLoader(ctxSize, threads int, log zerolog.Logger) *AdapterLoader {
	return &AdapterLoader{
		Adapter:     NewLlamaAdapter(),
		ContextSize: ctxSize,
		Threads:     threads,
		Logger:      log,
	}
}

// LlamaBuilt reports whether this binary carries the real llama runtime.
func LlamaBuilt() bool { return llamaBuilt }

func (l *AdapterLoader) Load(ctx context.Context, kind Kind, mdl types.Model) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.Logger.Info().Str("model", mdl.ID).Str("engine", kind.String()).Msg("loading local backend")
	sess, err := l.Adapter.Load(mdl.Path, AdapterOptions{ContextSize: l.ContextSize, Threads: l.Threads})
	if err != nil {
		return nil, err
	}
	return NewLocalHandle(kind, mdl, sess, l.Logger), nil
}

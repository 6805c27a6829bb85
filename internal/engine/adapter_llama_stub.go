//go:build !llama

package engine

// No-CGO stub for the llama adapter, compiled when the 'llama' build tag is
// not set. Default builds and CI stay CGO-free; the stub refuses to load
// rather than mock inference.

var llamaBuilt = false

type llamaAdapter struct{}

// NewLlamaAdapter returns the in-process llama.cpp adapter.
func NewLlamaAdapter() Adapter { return &llamaAdapter{} }

func (a *llamaAdapter) Load(path string, opts AdapterOptions) (AdapterSession, error) {
	return nil, ErrRuntimeUnavailable
}

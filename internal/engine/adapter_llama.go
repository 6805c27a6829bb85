//go:build llama

package engine

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"

	"github.com/hyodotdev/locanara/pkg/types"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

type llamaAdapter struct{}

// NewLlamaAdapter returns the in-process llama.cpp adapter.
func NewLlamaAdapter() Adapter { return &llamaAdapter{} }

// llamaSession owns one loaded model.
type llamaSession struct {
	model   *llama.LLama
	threads int
}

func (a *llamaAdapter) Load(path string, opts AdapterOptions) (AdapterSession, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is empty")
	}
	mo := []llama.ModelOption{}
	if opts.ContextSize > 0 {
		mo = append(mo, llama.SetContext(opts.ContextSize))
	}
	m, err := llama.New(path, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaSession{model: m, threads: opts.Threads}, nil
}

func (s *llamaSession) Generate(ctx context.Context, prompt string, cfg types.GenerateConfig, onToken func(string) error) (Final, error) {
	if s.model == nil {
		return Final{}, errors.New("llama model not initialized")
	}

	tokens := 0
	var cbErr error
	s.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if err := onToken(tok); err != nil {
			cbErr = err
			return false
		}
		tokens++
		return true
	})

	text, err := s.model.Predict(prompt, predictOptions(cfg, s.threads)...)
	if cbErr != nil {
		return Final{}, cbErr
	}
	if err != nil {
		if ctx.Err() != nil {
			return Final{}, ctx.Err()
		}
		return Final{}, err
	}
	return Final{Content: text, TokenCount: tokens, FinishReason: "stop"}, nil
}

func (s *llamaSession) Close() error {
	if s.model != nil {
		s.model.Free()
		s.model = nil
	}
	return nil
}

func posInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func posF32(v float64, def float32) float32 {
	if v > 0 {
		return float32(v)
	}
	return def
}

// predictOptions converts generation config into go-llama.cpp options.
func predictOptions(cfg types.GenerateConfig, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(posInt(cfg.MaxTokens, 256)),
		llama.SetThreads(posInt(threads, 4)),
		llama.SetTopP(posF32(cfg.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(posInt(cfg.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(posF32(cfg.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(posF32(cfg.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if cfg.Seed != 0 {
		po = append(po, llama.SetSeed(int(cfg.Seed)))
	}
	if len(cfg.Stop) > 0 {
		po = append(po, llama.SetStopWords(cfg.Stop...))
	}
	return po
}

package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyodotdev/locanara/internal/catalog"
	"github.com/hyodotdev/locanara/internal/engine"
	"github.com/hyodotdev/locanara/internal/memory"
	"github.com/hyodotdev/locanara/internal/router"
	"github.com/hyodotdev/locanara/internal/stream"
	"github.com/hyodotdev/locanara/pkg/types"
)

// Deps collects the components the service composes.
type Deps struct {
	Router  *router.Router
	Memory  *memory.Monitor
	Catalog *catalog.Catalog
	Logger  zerolog.Logger
}

// Service adapts the router, catalog and memory monitor into the surface the
// HTTP layer serves.
type Service struct {
	router  *router.Router
	memory  *memory.Monitor
	catalog *catalog.Catalog
	log     zerolog.Logger
	start   time.Time
}

func New(d Deps) *Service {
	return &Service{
		router:  d.Router,
		memory:  d.Memory,
		catalog: d.Catalog,
		log:     d.Logger,
		start:   time.Now(),
	}
}

func (s *Service) ListModels() []types.Model {
	if s.catalog == nil {
		return nil
	}
	return s.catalog.List()
}

func (s *Service) Status() types.StatusResponse {
	avail := s.router.AvailableFallbackEngines()
	names := make([]string, 0, len(avail))
	for _, k := range avail {
		names = append(names, k.String())
	}
	resp := types.StatusResponse{
		Engine: types.EngineStatus{
			Current:    s.router.CurrentEngine().String(),
			Mode:       s.router.Mode().String(),
			ModelID:    s.router.CurrentModelID(),
			Available:  names,
			ModelReady: s.router.IsModelReady(),
			Multimodal: s.router.IsMultimodalAvailable(),
		},
		Models:         s.ListModels(),
		UptimeSeconds:  int64(time.Since(s.start).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	if s.memory != nil {
		if stats, err := s.memory.Stats(); err == nil {
			resp.Memory = &stats
		}
	}
	return resp
}

func (s *Service) MemoryStats() (types.MemoryStats, error) {
	return s.memory.Stats()
}

func (s *Service) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error) {
	result, err := s.router.Execute(ctx, parseFeature(req.Feature), req.Prompt, req.Config)
	if err != nil {
		return types.GenerateResponse{}, err
	}
	return types.GenerateResponse{
		Result: result,
		Engine: s.router.CurrentEngine().String(),
	}, nil
}

func (s *Service) GenerateStream(ctx context.Context, req types.GenerateRequest) (*stream.Stream, error) {
	if req.Buffered {
		return s.router.ExecuteStreamingBuffered(ctx, parseFeature(req.Feature), req.Prompt, req.Config, 0)
	}
	return s.router.ExecuteStreaming(ctx, parseFeature(req.Feature), req.Prompt, req.Config)
}

func (s *Service) SwitchToPlatform(ctx context.Context) error {
	return s.router.SwitchToPlatform(ctx)
}

func (s *Service) SwitchToLocal(ctx context.Context, modelID string) error {
	return s.router.SwitchToLocal(ctx, modelID)
}

func (s *Service) SetPreferredEngine(ctx context.Context, engineType, id string) error {
	kind, err := parseEngineKind(engineType, id)
	if err != nil {
		return err
	}
	return s.router.SetPreferredEngine(ctx, kind)
}

func (s *Service) UnloadModel(ctx context.Context, modelID string) error {
	return s.router.UnloadModel(ctx, modelID)
}

func (s *Service) CancelInference() bool {
	return s.router.CancelInference()
}

func (s *Service) RequestCleanup() {
	if s.memory != nil {
		s.memory.RequestCleanup()
	}
}

func (s *Service) Ready() bool {
	return !s.router.CurrentEngine().IsNone()
}

func parseFeature(f string) types.Feature {
	switch types.Feature(f) {
	case types.FeatureSummarize, types.FeatureTranslate, types.FeatureExtraction:
		return types.Feature(f)
	default:
		return types.FeatureChat
	}
}

func parseEngineKind(engineType, id string) (engine.Kind, error) {
	switch engineType {
	case "platform":
		return engine.Platform(), nil
	case "local":
		if id == "" {
			id = engine.LocalGenericCPU
		}
		return engine.Local(id), nil
	default:
		return engine.None(), router.NewError(router.KindEngineNotAvailable,
			"unknown engine type "+engineType)
	}
}

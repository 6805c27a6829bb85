package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyodotdev/locanara/internal/stream"
	"github.com/hyodotdev/locanara/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	MemoryStats() (types.MemoryStats, error)
	Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error)
	GenerateStream(ctx context.Context, req types.GenerateRequest) (*stream.Stream, error)
	SwitchToPlatform(ctx context.Context) error
	SwitchToLocal(ctx context.Context, modelID string) error
	SetPreferredEngine(ctx context.Context, engineType, id string) error
	UnloadModel(ctx context.Context, modelID string) error
	CancelInference() bool
	RequestCleanup()
	Ready() bool
}

// streamEvent is the NDJSON wire form of one generation event.
type streamEvent struct {
	Type      string                  `json:"type"`
	Text      string                  `json:"text,omitempty"`
	Generated int                     `json:"generated,omitempty"`
	Total     int                     `json:"total,omitempty"`
	Result    *types.GenerationResult `json:"result,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

func wireEvent(ev stream.Event) streamEvent {
	out := streamEvent{
		Type:      string(ev.Type),
		Text:      ev.Text,
		Generated: ev.Generated,
		Total:     ev.Total,
		Result:    ev.Result,
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	return out
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.ModelsResponse{Models: svc.ListModels()})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	})

	r.Get("/memory", func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.MemoryStats()
		if err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, "memory probe unavailable: "+err.Error())
			return
		}
		writeJSON(w, stats)
	})

	r.Post("/generate", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[types.GenerateRequest](w, r)
		if !ok {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		ctx, cancel := requestContext(r)
		defer cancel()
		if req.Stream {
			handleGenerateStream(ctx, w, r, svc, req)
			return
		}
		handleGenerate(ctx, w, r, svc, req)
	})

	r.Post("/engine/platform", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := requestContext(r)
		defer cancel()
		if err := svc.SwitchToPlatform(ctx); err != nil {
			writeRouterError(w, err)
			return
		}
		writeJSON(w, svc.Status())
	})

	r.Post("/engine/local", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[types.SwitchRequest](w, r)
		if !ok {
			return
		}
		if req.ModelID == "" {
			writeJSONError(w, http.StatusBadRequest, "model_id is required")
			return
		}
		ctx, cancel := requestContext(r)
		defer cancel()
		if err := svc.SwitchToLocal(ctx, req.ModelID); err != nil {
			writeRouterError(w, err)
			return
		}
		writeJSON(w, svc.Status())
	})

	r.Post("/engine/preferred", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[types.PreferredEngineRequest](w, r)
		if !ok {
			return
		}
		if req.Type == "" {
			writeJSONError(w, http.StatusBadRequest, "type is required")
			return
		}
		ctx, cancel := requestContext(r)
		defer cancel()
		if err := svc.SetPreferredEngine(ctx, req.Type, req.ID); err != nil {
			writeRouterError(w, err)
			return
		}
		writeJSON(w, svc.Status())
	})

	r.Post("/unload", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[types.SwitchRequest](w, r)
		if !ok {
			return
		}
		if req.ModelID == "" {
			writeJSONError(w, http.StatusBadRequest, "model_id is required")
			return
		}
		ctx, cancel := requestContext(r)
		defer cancel()
		if err := svc.UnloadModel(ctx, req.ModelID); err != nil {
			writeRouterError(w, err)
			return
		}
		writeJSON(w, svc.Status())
	})

	r.Post("/cancel", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.CancelResponse{Cancelled: svc.CancelInference()})
	})

	r.Post("/memory/cleanup", func(w http.ResponseWriter, r *http.Request) {
		svc.RequestCleanup()
		w.WriteHeader(http.StatusAccepted)
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func handleGenerate(ctx context.Context, w http.ResponseWriter, r *http.Request, svc Service, req types.GenerateRequest) {
	lvl := requestLogLevel(r)
	start := time.Now()
	logGenerate(r, lvl, "generate start", 0, 0, nil)
	resp, err := svc.Generate(ctx, req)
	if err != nil {
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		status, _ := statusForErr(err)
		logGenerate(r, lvl, "generate end", status, time.Since(start), err)
		writeRouterError(w, err)
		return
	}
	logGenerate(r, lvl, "generate end", http.StatusOK, time.Since(start), nil)
	writeJSON(w, resp)
}

func handleGenerateStream(ctx context.Context, w http.ResponseWriter, r *http.Request, svc Service, req types.GenerateRequest) {
	lvl := requestLogLevel(r)
	start := time.Now()
	st, err := svc.GenerateStream(ctx, req)
	if err != nil {
		writeRouterError(w, err)
		return
	}
	defer st.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	writer := io.Writer(w)
	if lvl >= LevelDebug {
		writer = io.MultiWriter(w, &loggingLineWriter{})
	}
	enc := json.NewEncoder(writer)
	logGenerate(r, lvl, "generate stream start", 0, 0, nil)
	for {
		ev, err := st.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Client disconnect or shutdown; the stream body is already
			// committed, nothing sensible left to write.
			break
		}
		if encErr := enc.Encode(wireEvent(ev)); encErr != nil {
			break
		}
		if flush != nil {
			flush()
		}
		if ev.Terminal() {
			break
		}
	}
	logGenerate(r, lvl, "generate stream end", http.StatusOK, time.Since(start), nil)
}

// serverBaseCtx is the root of every handler context. The daemon cancels it
// on shutdown so in-flight generations stop before connections drain.
var serverBaseCtx = context.Background()

// SetBaseContext installs the process-wide context handlers derive from.
// Passing nil restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// requestContext joins the request context with the process base context so
// shutdown cancels in-flight generations, and applies the optional timeout.
func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	if generateTimeout > 0 {
		tctx, tcancel := context.WithTimeout(ctx, time.Duration(generateTimeout)*time.Second)
		return tctx, func() { tcancel(); cancel() }
	}
	return ctx, cancel
}

// joinContexts derives a context that ends when either parent does. The
// returned cancel stops the watcher goroutine and must always be called.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		select {
		case <-a.Done():
		case <-b.Done():
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// decodeBody enforces Content-Type and size limits, then decodes the JSON body.
func decodeBody[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return req, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

func logGenerate(r *http.Request, lvl LogLevel, msg string, status int, dur time.Duration, err error) {
	if lvl < LevelInfo || zlog == nil {
		return
	}
	z := zlog.Info().Str("path", r.URL.Path)
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		z = z.Str("request_id", rid)
	}
	if status != 0 {
		z = z.Int("status", status).Dur("dur", dur)
	}
	if err != nil {
		z = z.Err(err)
	}
	z.Msg(msg)
}

package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lemond/internal/backend"
	"lemond/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.ModelEntry
	Resolve(name string) (types.ModelInfo, error)
	Load(ctx context.Context, name string, opts backend.LaunchOptions) error
	Unload(ctx context.Context, name string) error
	UnloadAll(ctx context.Context) error
	Forward(ctx context.Context, req *backend.Request) (*backend.Response, error)
	ForwardStream(ctx context.Context, req *backend.Request, sink backend.Sink) error
	RecordStats(types.Usage)
	Stats() types.StatsResponse
	Health() types.HealthResponse
	Status() types.StatusResponse
	Pull(info types.ModelInfo) error
	Delete(ctx context.Context, name string) error
	Ready() bool
}

type handlers struct {
	svc Service
}

// NewMux builds the router. Every /api/v1 route is also served under /v1 so
// stock OpenAI clients work unchanged.
func NewMux(svc Service) http.Handler {
	h := &handlers{svc: svc}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Recoverer)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: orDefault(corsAllowedOrigins, []string{"*"}),
			AllowedMethods: orDefault(corsAllowedMethods, []string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Accept", "Authorization", "Content-Type", "X-Log-Level"}),
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/api/v1", h.routes)
	r.Route("/v1", h.routes)

	r.Post("/internal/shutdown", h.shutdown)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no model loaded"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func (h *handlers) routes(r chi.Router) {
	r.Use(InflightMiddleware)

	r.Post("/chat/completions", h.infer(backend.EndpointChat))
	r.Post("/completions", h.infer(backend.EndpointCompletions))
	r.Post("/embeddings", h.infer(backend.EndpointEmbeddings))
	r.Post("/reranking", h.infer(backend.EndpointReranking))
	r.Post("/audio/transcriptions", h.transcribe)

	r.Group(func(r chi.Router) {
		// Compression for JSON management endpoints only; inference replies stream.
		r.Use(middleware.Compress(5, "application/json"))
		r.Get("/models", h.listModels)
		r.Get("/models/{id}", h.getModel)
		r.Get("/health", h.health)
		r.Get("/stats", h.stats)
		r.Get("/status", h.status)
	})

	r.Post("/load", h.load)
	r.Post("/unload", h.unload)
	r.Post("/pull", h.pull)
	r.Post("/delete", h.deleteModel)
}

func (h *handlers) shutdown(w http.ResponseWriter, r *http.Request) {
	if shutdownFunc == nil {
		writeJSONError(w, http.StatusServiceUnavailable, errUnavailable, "shutdown is not enabled")
		return
	}
	requestLogger(r).Info().Msg("shutdown requested")
	writeJSON(w, http.StatusOK, types.StatusMessage{Status: "success", Message: "shutting down"})
	go shutdownFunc()
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

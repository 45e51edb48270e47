// Package httpserver assembles the chi router that fronts the request
// pipeline: request-id/recovery/logging/metrics middleware, CORS, the
// operational endpoints (health, status, models, provider reachability),
// and the catch-all proxy route that hands off to the pipeline.
package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/llmgateway/gateway/internal/apierror"
	"github.com/llmgateway/gateway/internal/pipeline"
)

// Config carries the collaborators and static info the router needs beyond
// the pipeline itself.
type Config struct {
	Version        string
	Environment    string
	AllowedOrigins []string
}

// New assembles the full router. health reports distributed-tier and
// provider reachability; it may be nil in which case /status and
// /health/vendors degrade gracefully.
func New(p *pipeline.Pipeline, reg ModelLister, health *HealthProbe, logger *zap.Logger, cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(requestIDHeader)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(loggingMiddleware(logger))
	r.Use(metricsMiddleware())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-RateLimit-Remaining", "X-Cost-Total", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler(cfg))
	r.Get("/status", statusHandler(health, cfg))
	r.Get("/models", modelsHandler(reg))
	r.Get("/health/vendors", vendorHealthHandler(health))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	r.HandleFunc("/proxy/{provider}/*", proxyHandler(p, logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": {"message": "Not found", "type": "invalid_request_error", "code": "not_found"}}`))
	})

	return r
}

// requestIDHeader ensures every request carries an X-Request-ID: the
// caller's own value if present, otherwise chi's generated request id.
func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") == "" {
			id := chiMiddleware.GetReqID(r.Context())
			if id == "" {
				id = uuid.NewString()
			}
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", r.Header.Get("X-Request-ID"))
		next.ServeHTTP(w, r)
	})
}

func proxyHandler(p *pipeline.Pipeline, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		res, apiErr := p.Handle(r.Context(), r, provider)
		if apiErr != nil {
			if res != nil {
				for k, v := range res.Header {
					w.Header()[k] = v
				}
			}
			apierror.WriteHTTP(w, r.Header.Get("X-Request-ID"), apiErr, time.Now())
			return
		}

		for k, v := range res.Header {
			w.Header()[k] = v
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(res.StatusCode)
		if _, err := w.Write(res.Body); err != nil {
			logger.Warn("httpserver: writing proxy response failed", zap.Error(err))
		}
	}
}

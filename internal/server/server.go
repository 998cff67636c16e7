// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/VictorHono/agrosense-ai-sub001/internal/config"
	"github.com/VictorHono/agrosense-ai-sub001/internal/logging"
	"github.com/VictorHono/agrosense-ai-sub001/internal/observability"
	"github.com/VictorHono/agrosense-ai-sub001/internal/server/handlers"
	"github.com/VictorHono/agrosense-ai-sub001/internal/service/advisory"
	analysissvc "github.com/VictorHono/agrosense-ai-sub001/internal/service/analysis"
)

// Dependencies groups the services behind the HTTP routes. History and
// Collector are optional.
type Dependencies struct {
	Diagnoses *analysissvc.Sessions
	Harvests  *analysissvc.Sessions
	Advisory  *advisory.Service
	History   handlers.HistoryStore
	Devices   handlers.DeviceBinding
	Positions handlers.PositionSessionConfig
	Collector *observability.Collector
	Health    map[string]handlers.HealthCheck
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.ServerConfig,
	imaging config.ImagingConfig,
	deps Dependencies,
	logger logging.Logger,
) *Server {
	if logger == nil {
		logger = logging.Noop()
	}
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	if deps.Collector != nil {
		router.Use(deps.Collector.Middleware)
	}

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type", "X-Device-ID", "X-Language"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Create handler dependencies
	geoHandler := handlers.NewGeoHandler(logger)
	diagnosisHandler := handlers.NewAnalysisHandler(deps.Diagnoses, imaging.MaxUploadBytes, logger)
	harvestHandler := handlers.NewAnalysisHandler(deps.Harvests, imaging.MaxUploadBytes, logger)
	advisoryHandler := handlers.NewAdvisoryHandler(deps.Advisory, logger)
	limiter := handlers.NewClientLimiter(cfg.ClientRate, cfg.ClientBurst, logger)

	// Routes
	router.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.HealthHandler(deps.Health))

		r.Route("/v1", func(r chi.Router) {
			if cfg.RequestTimeout > 0 {
				r.Use(middleware.Timeout(cfg.RequestTimeout))
			}

			// Analysis API
			r.Group(func(r chi.Router) {
				r.Use(limiter.Middleware)
				r.Post("/diagnoses", diagnosisHandler.Analyze)
				r.Post("/diagnoses/retry", diagnosisHandler.Retry)
				r.Post("/harvests", harvestHandler.Analyze)
				r.Post("/harvests/retry", harvestHandler.Retry)
			})

			// Geo API
			r.Route("/geo", func(r chi.Router) {
				r.Get("/context", geoHandler.GetLocationContext)
				r.Get("/regions", geoHandler.ListRegions)
				r.Get("/regions/{key}", geoHandler.GetRegion)
			})

			// Advisory API
			r.Route("/advice", func(r chi.Router) {
				r.Get("/weather", advisoryHandler.GetWeather)
				r.Get("/tips", advisoryHandler.GetTips)
				r.Get("/alerts", advisoryHandler.GetAlerts)
			})
			r.Post("/chat", advisoryHandler.Chat)

			if deps.History != nil {
				historyHandler := handlers.NewHistoryHandler(deps.History, logger)
				r.Get("/history", historyHandler.ListHistory)
				r.Get("/history/{id}", historyHandler.GetHistoryEntry)
			}
		})
	})

	// WebSocket endpoint for device position sessions
	if deps.Devices != nil {
		positionHandler := handlers.NewPositionHandler(deps.Devices, deps.Positions, deps.Collector, logger)
		router.Get("/ws/position/{device}", positionHandler.ServeSession)
	}

	if deps.Collector != nil {
		router.Handle("/metrics", deps.Collector.Handler())
	}

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		server: httpServer,
		router: router,
	}
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// requestLogger attaches a request scoped logger and logs each response
func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := logger.With(logging.String("request_id", middleware.GetReqID(r.Context())))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logging.ContextWithLogger(r.Context(), reqLogger)))

			reqLogger.Info(r.Context(), "request handled",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", ww.Status()),
				logging.Int("bytes", ww.BytesWritten()),
				logging.Duration("elapsed", time.Since(start)))
		})
	}
}

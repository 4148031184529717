package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/bookinglake/bookinglake/internal/pipeline"
)

// RouterConfig selects the handlers and limits of the REST surface.
type RouterConfig struct {
	// Bookings handles POST /v1/bookings; nil disables the route
	Bookings pipeline.Processor
	// Events handles POST /v1/events; nil disables the route
	Events         pipeline.Processor
	// Compactor handles POST /v1/compactions; nil disables the route
	Compactor      Compactor
	BatchPolicy    pipeline.BatchPolicy
	MaxBodyBytes   int64
	AllowedOrigins []string
	// Middleware wraps the routed handler, innermost first
	Middleware []func(http.Handler) http.Handler
}

// NewRouter builds the REST handler with request IDs, recovery, logging
// and CORS applied.
func NewRouter(cfg RouterConfig, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	r := mux.NewRouter()
	r.HandleFunc("/health", HealthHandler("bookinglake")).Methods(http.MethodGet)

	// Routes stay on the root router: a subrouter without its own
	// MethodNotAllowedHandler reports a method mismatch as 404.
	if cfg.Bookings != nil {
		r.Handle("/v1/bookings", NewBookingHandler(cfg.Bookings, cfg.MaxBodyBytes, logger)).Methods(http.MethodPost)
	}
	if cfg.Events != nil {
		r.Handle("/v1/events", NewEventsHandler(cfg.Events, cfg.BatchPolicy, cfg.MaxBodyBytes, logger)).Methods(http.MethodPost)
	}

	if cfg.Compactor != nil {
		r.Handle("/v1/compactions", NewCompactionHandler(cfg.Compactor, logger)).Methods(http.MethodPost)
	}

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	// Middleware registered with Use does not run for unmatched routes, so
	// the chain wraps the router instead.
	var h http.Handler = r
	for _, mw := range cfg.Middleware {
		h = mw(h)
	}
	h = ContentTypeMiddleware(h)
	h = LoggingMiddleware(logger)(h)
	h = RecoveryMiddleware(logger)(h)
	h = RequestIDMiddleware(h)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
	}).Handler(h)
}

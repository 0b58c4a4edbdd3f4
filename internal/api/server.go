package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/equipment-manuals/internal/assets"
	"github.com/JakeFAU/equipment-manuals/internal/catalog"
	"github.com/JakeFAU/equipment-manuals/internal/config"
	"github.com/JakeFAU/equipment-manuals/internal/logging"
	"github.com/JakeFAU/equipment-manuals/internal/metrics"
)

// AssetPrefix is the URL prefix cached files are served under.
const AssetPrefix = "/public/temp-pdfs/"

// Catalog lists manufacturers and models.
type Catalog interface {
	ListManufacturers(ctx context.Context, search string, limit int) ([]catalog.Manufacturer, error)
	Manufacturer(ctx context.Context, id string) (catalog.Manufacturer, error)
	ListModels(ctx context.Context, manufacturerID, search string, limit int) (catalog.ModelList, error)
	Model(ctx context.Context, manufacturerID, modelID string) (catalog.Model, error)
	CachedManufacturers(ctx context.Context) ([]catalog.Manufacturer, bool)
	CachedModelLists(ctx context.Context, ids []string) int
}

// Resolver turns a model into manual references.
type Resolver interface {
	Resolve(ctx context.Context, mfr catalog.Manufacturer, modelCode string) ([]catalog.ManualReference, error)
}

// Sessions associates downloaded assets with browser sessions.
type Sessions interface {
	Fetch(ctx context.Context, sessionID, rawURL string) (assets.Result, error)
	Clear(ctx context.Context, sessionID string) (int, error)
	Release(ctx context.Context, sessionID, key string) (bool, error)
	Assets(sessionID string) []string
	Count() int
}

// AssetCache is the subset of the asset cache the handlers need.
type AssetCache interface {
	KeyFor(rawURL string) (string, error)
	Sweep() int
	Count() int
	Dir() string
}

// Readiness reports whether the scrape collaborator is usable.
type Readiness interface {
	Ready() bool
}

// IDGenerator issues request ids and session tokens.
type IDGenerator interface {
	NewID() (string, error)
	NewToken() (string, error)
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Catalog  Catalog
	Resolver Resolver
	Sessions Sessions
	Assets   AssetCache
	Scraper  Readiness
	IDs      IDGenerator
}

// Server wires HTTP handlers to the catalog, resolver, and session tracker.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.ServerConfig
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.ServerConfig, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)
	s := &Server{deps: deps, cfg: cfg, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.sessionMiddleware)

	r.Get("/", s.index)
	r.Get("/health", s.health)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Handle(AssetPrefix+"*", s.assetFiles())

	r.Route("/api", func(r chi.Router) {
		r.Use(timeoutMiddleware(2 * time.Minute))
		r.Get("/manufacturers", s.listManufacturers)
		r.Get("/manufacturers/{id}/models", s.listModels)
		r.Get("/manufacturers/{id}/models/{modelId}", s.getModel)
		r.Get("/manufacturers/{id}/models/{modelId}/manuals", s.listManuals)
		r.Get("/manual-metadata", s.manualMetadata)
		r.Get("/session-status", s.sessionStatus)
		r.Post("/clear-session-pdfs", s.clearSession)
		r.Post("/clear-all-pdfs", s.clearSession)
		r.Post("/clear-pdf", s.clearPDF)
		r.Post("/cleanup-pdfs", s.cleanup)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// assetFiles serves cached PDFs and previews without directory listings.
func (s *Server) assetFiles() http.Handler {
	files := http.StripPrefix(AssetPrefix, http.FileServer(http.Dir(s.deps.Assets.Dir())))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		files.ServeHTTP(w, r)
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, err := s.deps.IDs.NewID()
		if err != nil {
			reqID = "unknown"
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", requestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestID(r.Context())),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"success":false,"error":"request timed out"}`)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

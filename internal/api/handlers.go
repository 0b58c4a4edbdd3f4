package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/equipment-manuals/internal/catalog"
)

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "equipment-manuals",
		"endpoints": map[string]string{
			"health":             "/health",
			"manufacturers":      "/api/manufacturers?search=&limit=",
			"models":             "/api/manufacturers/{id}/models?search=&limit=",
			"model":              "/api/manufacturers/{id}/models/{modelId}",
			"manuals":            "/api/manufacturers/{id}/models/{modelId}/manuals",
			"manual_metadata":    "/api/manual-metadata?url=&manufacturer_id=&model_id=",
			"session_status":     "/api/session-status",
			"clear_session_pdfs": "/api/clear-session-pdfs",
			"clear_pdf":          "/api/clear-pdf",
			"cleanup_pdfs":       "/api/cleanup-pdfs",
			"metrics":            "/metrics",
		},
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ready := s.deps.Scraper.Ready()
	status := "healthy"
	if !ready {
		status = "degraded"
	}
	manufacturers, ok := s.deps.Catalog.CachedManufacturers(r.Context())
	ids := make([]string, 0, len(manufacturers))
	for _, m := range manufacturers {
		ids = append(ids, m.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"scraperReady": ready,
		"sessionId":    sessionID(r.Context()),
		"cache": map[string]any{
			"manufacturersCached": ok,
			"manufacturers":       len(manufacturers),
			"modelLists":          s.deps.Catalog.CachedModelLists(r.Context(), ids),
			"assets":              s.deps.Assets.Count(),
		},
		"activeSessions": s.deps.Sessions.Count(),
	})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.deps.Scraper.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listManufacturers(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	list, err := s.deps.Catalog.ListManufacturers(r.Context(), r.URL.Query().Get("search"), limit)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(list), "data": list})
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	list, err := s.deps.Catalog.ListModels(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("search"), limit)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	body := map[string]any{"success": true, "count": len(list.Models), "data": list.Models}
	if list.Partial {
		body["partial"] = true
		body["message"] = "The manufacturer's catalog may be incomplete."
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) getModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Catalog.Model(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "modelId"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": m})
}

// listManuals resolves manuals for a model. A model missing from a listing
// that may be incomplete is still resolved by its code.
func (s *Server) listManuals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mfrID, modelID := chi.URLParam(r, "id"), chi.URLParam(r, "modelId")
	mfr, err := s.deps.Catalog.Manufacturer(ctx, mfrID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	code := modelID
	m, err := s.deps.Catalog.Model(ctx, mfr.ID, modelID)
	switch {
	case err == nil:
		if len(m.Manuals) > 0 {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(m.Manuals), "data": m.Manuals})
			return
		}
		code = firstNonEmpty(m.ID, m.Name, modelID)
	case errors.Is(err, catalog.ErrNotFound):
		s.logger.Debug("model not in listing; resolving by code",
			zap.String("manufacturer", mfr.ID), zap.String("model", modelID))
	default:
		s.writeFailure(w, r, err)
		return
	}

	manuals, err := s.deps.Resolver.Resolve(ctx, mfr, code)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(manuals), "data": manuals})
}

func (s *Server) manualMetadata(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawURL := strings.TrimSpace(q.Get("url"))
	if rawURL == "" {
		s.writeFailure(w, r, fmt.Errorf("%w: url is required", errBadRequest))
		return
	}
	if _, err := s.deps.Assets.KeyFor(rawURL); err != nil {
		s.writeFailure(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	sid := sessionID(r.Context())
	res, err := s.deps.Sessions.Fetch(r.Context(), sid, rawURL)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.logger.Info("manual metadata",
		zap.String("session", sid),
		zap.String("manufacturer", q.Get("manufacturer_id")),
		zap.String("model", q.Get("model_id")),
		zap.String("key", res.Key),
	)

	body := map[string]any{
		"success":       true,
		"title":         res.Title,
		"pageCount":     res.Pages,
		"fileSize":      formatSize(res.Size),
		"fileSizeBytes": res.Size,
		"localUrl":      AssetPrefix + res.FileName,
	}
	if res.PreviewName != "" && !res.PreviewUnavailable {
		body["preview"] = AssetPrefix + res.PreviewName
	} else {
		body["previewUnavailable"] = true
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) sessionStatus(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"sessionId":      sid,
		"pdfs":           s.deps.Sessions.Assets(sid),
		"activeSessions": s.deps.Sessions.Count(),
	})
}

// clearSession always answers 200; clearing an empty session is a no-op.
func (s *Server) clearSession(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r.Context())
	n, err := s.deps.Sessions.Clear(r.Context(), sid)
	if err != nil {
		s.logger.Warn("session clear incomplete", zap.String("session", sid), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"released": n,
		"message":  fmt.Sprintf("Released %d PDF(s) for this session", n),
	})
}

type clearPDFRequest struct {
	URL string `json:"url"`
}

func (s *Server) clearPDF(w http.ResponseWriter, r *http.Request) {
	var req clearPDFRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.URL) == "" {
		s.writeFailure(w, r, fmt.Errorf("%w: url is required", errBadRequest))
		return
	}
	key, err := s.deps.Assets.KeyFor(req.URL)
	if err != nil {
		s.writeFailure(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	held, err := s.deps.Sessions.Release(r.Context(), sessionID(r.Context()), key)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "key": key, "released": held})
}

func (s *Server) cleanup(w http.ResponseWriter, _ *http.Request) {
	removed := s.deps.Assets.Sweep()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "removed": removed})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

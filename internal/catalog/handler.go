package catalog

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// HTTP serves the catalog under /v1/routes.
type HTTP struct {
	src    Source
	logger *zap.Logger
}

func NewHTTP(src Source, logger *zap.Logger) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{src: src, logger: logger.Named("catalog")}
}

func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.listRoutes)
	r.Get("/{id}/vehicles", h.listVehicles)
	return r
}

func (h *HTTP) listRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.src.ListRoutes(r.Context())
	if err != nil {
		h.logger.Error("list routes failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "routes unavailable"})
		return
	}
	if routes == nil {
		routes = []Route{}
	}
	writeJSON(w, http.StatusOK, routes)
}

func (h *HTTP) listVehicles(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid route id"})
		return
	}
	vehicles, err := h.src.ListVehicles(r.Context(), id)
	if err != nil {
		h.logger.Error("list vehicles failed", zap.Int64("route_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "vehicles unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, vehicles)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

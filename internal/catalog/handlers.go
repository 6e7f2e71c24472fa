package catalog

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/atmx/trading-sim/internal/httpapi"
)

// Handler exposes the catalog over HTTP.
type Handler struct {
	svc *Service
	log zerolog.Logger
}

// NewHandler creates the catalog HTTP handlers.
func NewHandler(svc *Service, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// CreateAssetRequest is the JSON body for POST /assets.
type CreateAssetRequest struct {
	Symbol string `json:"symbol" validate:"required,max=32"`
	Name   string `json:"name" validate:"required,max=128"`
}

// ListAssets handles GET /api/v1/assets
// Query: search, sort=price|name|symbol, dir=asc|desc, page (zero-based), size.
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.svc.List(r.Context(), Query{
		Search: q.Get("search"),
		SortBy: q.Get("sort"),
		Desc:   strings.EqualFold(q.Get("dir"), "desc"),
		Page:   httpapi.QueryInt(r, "page", 0),
		Size:   httpapi.QueryInt(r, "size", 0),
	})
	if err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, page)
}

// GetAsset handles GET /api/v1/assets/{assetID}
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.svc.Get(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, asset)
}

// CreateAsset handles POST /api/v1/assets
func (h *Handler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req CreateAssetRequest
	if err := httpapi.DecodeAndValidate(r, &req); err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	asset, err := h.svc.Create(r.Context(), req.Symbol, req.Name)
	if err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, asset)
}

// DeleteAsset handles DELETE /api/v1/assets/{assetID}
func (h *Handler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "assetID")); err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHistory handles GET /api/v1/assets/{assetID}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	points, err := h.svc.History(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, points)
}

// Routes mounts the handlers on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/assets", h.ListAssets)
	r.Post("/assets", h.CreateAsset)
	r.Get("/assets/{assetID}", h.GetAsset)
	r.Delete("/assets/{assetID}", h.DeleteAsset)
	r.Get("/assets/{assetID}/history", h.GetHistory)
}

package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/customervoice/internal/middleware"
	"github.com/hitoshi/customervoice/internal/model"
)

// CompetitorHandler は競合管理のハンドラー。REST APIへそのまま中継する。
type CompetitorHandler struct {
	workspaces WorkspaceProvider
}

// NewCompetitorHandler はCompetitorHandlerを生成する。
func NewCompetitorHandler(workspaces WorkspaceProvider) *CompetitorHandler {
	return &CompetitorHandler{workspaces: workspaces}
}

// List は競合の一覧を返す。
// GET /api/competitors
func (h *CompetitorHandler) List(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, ok := parsePositive(q.Get("page"))
	if !ok {
		middleware.WriteValidationError(w, "page", "must be a positive integer")
		return
	}
	pageSize, ok := parsePositive(q.Get("page_size"))
	if !ok || pageSize > 100 {
		middleware.WriteValidationError(w, "page_size", "must be between 1 and 100")
		return
	}

	resp, err := ws.API.ListCompetitors(r.Context(), model.PageParams{Page: page, PageSize: pageSize})
	if err != nil {
		middleware.WriteUpstreamError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Create は競合を登録する。
// POST /api/competitors
func (h *CompetitorHandler) Create(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	var req model.CompetitorCreate
	if !decodeJSON(w, r, &req, false) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		middleware.WriteValidationError(w, "name", "required")
		return
	}

	c, err := ws.API.CreateCompetitor(r.Context(), req)
	if err != nil {
		middleware.WriteUpstreamError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, c)
}

// Get は競合を1件返す。
// GET /api/competitors/{id}
func (h *CompetitorHandler) Get(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	c, err := ws.API.GetCompetitor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteUpstreamError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, c)
}

// Update は競合を部分更新する。更新項目がない場合は通信せずに400を返す。
// PATCH /api/competitors/{id}
func (h *CompetitorHandler) Update(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	var req model.CompetitorUpdate
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.Empty() {
		middleware.WriteValidationError(w, "body", "at least one field is required")
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		middleware.WriteValidationError(w, "name", "must not be empty")
		return
	}

	c, err := ws.API.UpdateCompetitor(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		middleware.WriteUpstreamError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, c)
}

// Delete は競合を削除する。
// DELETE /api/competitors/{id}
func (h *CompetitorHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	if err := ws.API.DeleteCompetitor(r.Context(), chi.URLParam(r, "id")); err != nil {
		middleware.WriteUpstreamError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Comparison は自社と競合の比較を返す。
// GET /api/competitors/{id}/comparison
func (h *CompetitorHandler) Comparison(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	q := r.URL.Query()
	dates := model.DateRange{StartDate: q.Get("start_date"), EndDate: q.Get("end_date")}
	for field, v := range map[string]string{"start_date": dates.StartDate, "end_date": dates.EndDate} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, v); err != nil {
			middleware.WriteValidationError(w, field, "must be YYYY-MM-DD")
			return
		}
	}

	resp, err := ws.API.CompetitorComparison(r.Context(), chi.URLParam(r, "id"), dates)
	if err != nil {
		middleware.WriteUpstreamError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

package handler

import (
	"errors"
	"net/http"

	"github.com/hitoshi/customervoice/internal/dashboard"
	"github.com/hitoshi/customervoice/internal/middleware"
)

// PreferencesHandler は表示設定のハンドラー。
type PreferencesHandler struct {
	workspaces WorkspaceProvider
}

// NewPreferencesHandler はPreferencesHandlerを生成する。
func NewPreferencesHandler(workspaces WorkspaceProvider) *PreferencesHandler {
	return &PreferencesHandler{workspaces: workspaces}
}

// Get は現在の表示設定を返す。
// GET /api/preferences
func (h *PreferencesHandler) Get(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, ws.Preferences(r.Context()))
}

// Update は表示設定を部分更新する。
// PUT /api/preferences
func (h *PreferencesHandler) Update(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	var req dashboard.PreferencesUpdate
	if !decodeJSON(w, r, &req, false) {
		return
	}
	prefs, err := ws.UpdatePreferences(r.Context(), req)
	if err != nil {
		var fe *dashboard.FieldError
		if errors.As(err, &fe) {
			middleware.WriteValidationError(w, fe.Field, fe.Issue)
			return
		}
		middleware.WriteInternalServerError(w)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, prefs)
}

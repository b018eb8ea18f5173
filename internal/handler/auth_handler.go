package handler

import (
	"net/http"
	"strings"

	"github.com/hitoshi/customervoice/internal/middleware"
	"github.com/hitoshi/customervoice/internal/model"
	"github.com/hitoshi/customervoice/internal/session"
)

// AuthHandler はログイン・登録・ログアウトのハンドラー。
// 認証状態はワークスペースのセッションが持ち、ブラウザにはトークンを渡さない。
type AuthHandler struct {
	workspaces WorkspaceProvider
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(workspaces WorkspaceProvider) *AuthHandler {
	return &AuthHandler{workspaces: workspaces}
}

// meResponse は GET /auth/me のレスポンス。
type meResponse struct {
	State         string      `json:"state"`
	Authenticated bool        `json:"authenticated"`
	User          *model.User `json:"user,omitempty"`
	DisplayName   string      `json:"display_name,omitempty"`
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	var req model.LoginRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		middleware.WriteValidationError(w, "email", "required")
		return
	}
	if req.Password == "" {
		middleware.WriteValidationError(w, "password", "required")
		return
	}
	writeAuthResult(w, ws.Login(r.Context(), req), http.StatusOK)
}

// Register はアカウントを作成してログインする。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	var req model.RegisterRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		middleware.WriteValidationError(w, "email", "required")
		return
	}
	if req.Password == "" {
		middleware.WriteValidationError(w, "password", "required")
		return
	}
	writeAuthResult(w, ws.Register(r.Context(), req), http.StatusCreated)
}

// Logout はワークスペースのセッションを破棄する。REST APIへの通信は行わない。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	ws.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在の認証状態を返す。未ログインでも200を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	if r.URL.Query().Get("refresh") == "true" {
		ws.Session.Refresh(r.Context())
	}
	snap := ws.Session.Snapshot()
	resp := meResponse{
		State:         ws.Session.State().String(),
		Authenticated: snap.Authenticated(),
		User:          snap.User,
	}
	if snap.User != nil {
		resp.DisplayName = snap.User.Name()
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

func writeAuthResult(w http.ResponseWriter, res session.Result, successStatus int) {
	if res.Success {
		middleware.WriteJSON(w, successStatus, res)
		return
	}
	middleware.WriteUpstreamError(w, res.Err)
}

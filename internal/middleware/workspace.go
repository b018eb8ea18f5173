package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/hitoshi/customervoice/internal/model"
)

// WorkspaceCookieName はワークスペースIDを保持するCookie名。
const WorkspaceCookieName = "cv_workspace"

// CookieConfig はミドルウェアが発行するCookieの属性。
type CookieConfig struct {
	Secure bool
	Domain string
	MaxAge int // 秒
}

// NewWorkspaceMiddleware はCookieからワークスペースIDを読み取ってコンテキストに注入する。
// Cookieがない場合や値がUUIDでない場合は新しいIDを発行する。
func NewWorkspaceMiddleware(cfg CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(WorkspaceCookieName); err == nil {
				if parsed, err := uuid.Parse(c.Value); err == nil {
					id = parsed.String()
				}
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     WorkspaceCookieName,
					Value:    id,
					Path:     "/",
					Domain:   cfg.Domain,
					MaxAge:   cfg.MaxAge,
					HttpOnly: true,
					Secure:   cfg.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			annotateWorkspace(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ContextWithWorkspaceID(r.Context(), id)))
		})
	}
}

// AuthChecker はワークスペースがログイン済みかを判定する。
type AuthChecker interface {
	Authenticated(ctx context.Context, workspaceID string) bool
}

// NewRequireAuthMiddleware は未ログインのワークスペースに401を返すミドルウェアを返す。
// ワークスペースミドルウェアの後に配置する。
func NewRequireAuthMiddleware(checker AuthChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := WorkspaceIDFromContext(r.Context())
			if !ok || !checker.Authenticated(r.Context(), id) {
				WriteJSON(w, http.StatusUnauthorized, model.ErrorResponse{
					Error:   "unauthorized",
					Message: "Authentication required.",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Package handler はダッシュボードサーバーのHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/hitoshi/customervoice/internal/dashboard"
	"github.com/hitoshi/customervoice/internal/middleware"
)

// maxRequestBody はリクエストボディの上限（1 MiB）。
const maxRequestBody = 1 << 20

// WorkspaceProvider はワークスペースIDからWorkspaceを返す。*dashboard.Registry が実装する。
type WorkspaceProvider interface {
	Workspace(ctx context.Context, id string) (*dashboard.Workspace, error)
}

// currentWorkspace はリクエストのワークスペースを返す。
// 取得できない場合はレスポンスを書き込んでfalseを返す。
func currentWorkspace(w http.ResponseWriter, r *http.Request, workspaces WorkspaceProvider) (*dashboard.Workspace, bool) {
	id, ok := middleware.WorkspaceIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "unauthorized", "Workspace is not established.")
		return nil, false
	}
	ws, err := workspaces.Workspace(r.Context(), id)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return nil, false
	}
	return ws, true
}

// decodeJSON はリクエストボディをdstに読み込む。
// 失敗した場合は400を書き込んでfalseを返す。空のボディはallowEmptyのときだけ許す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body is too large.")
			return false
		}
		middleware.WriteValidationError(w, "body", "invalid JSON")
		return false
	}
	return true
}

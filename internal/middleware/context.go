// Package middleware はダッシュボードサーバーのHTTPミドルウェアを提供する。
package middleware

import "context"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	requestIDContextKey   = contextKey("request_id")
	workspaceIDContextKey = contextKey("workspace_id")
)

// RequestIDFromContext はリクエストIDを返す。なければ空文字。
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// WorkspaceIDFromContext はワークスペースIDを返す。
// ワークスペースミドルウェアを通過したリクエストでのみ値がある。
func WorkspaceIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(workspaceIDContextKey).(string)
	return id, ok && id != ""
}

// ContextWithWorkspaceID はコンテキストにワークスペースIDを注入する。
func ContextWithWorkspaceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workspaceIDContextKey, id)
}

package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// statusRecorder はhttp.ResponseWriterをラップし、最初に書き込まれたステータスを記録する。
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.status = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.status = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// requestLog は内側のミドルウェアからログ項目を書き戻すための入れ物。
type requestLog struct {
	workspaceID string
}

var requestLogContextKey = contextKey("request_log")

// annotateWorkspace はロギングミドルウェアにワークスペースIDを伝える。
func annotateWorkspace(ctx context.Context, id string) {
	if rl, ok := ctx.Value(requestLogContextKey).(*requestLog); ok {
		rl.workspaceID = id
	}
}

// shortWorkspaceID はログ用にワークスペースIDの先頭8文字を返す。
// IDはCookieの値そのものなので全体をログに残さない。
func shortWorkspaceID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// StatusObserver はレスポンスのステータスコードを受け取る。
// *metrics.Collector が実装する。
type StatusObserver interface {
	RecordHTTPStatus(status int)
}

// NewLoggingMiddleware はリクエストごとに構造化ログを1行出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、request_id、workspace（あれば先頭8文字）を含む。
// observerがnilでなければステータスコードも通知する。
func NewLoggingMiddleware(logger *slog.Logger, observer StatusObserver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			rl := &requestLog{}
			r = r.WithContext(context.WithValue(r.Context(), requestLogContextKey, rl))

			next.ServeHTTP(rec, r)

			durationMs := float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond)
			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Float64("duration_ms", durationMs),
			}
			if id := RequestIDFromContext(r.Context()); id != "" {
				args = append(args, slog.String("request_id", id))
			}
			if rl.workspaceID != "" {
				args = append(args, slog.String("workspace", shortWorkspaceID(rl.workspaceID)))
			}

			level := slog.LevelInfo
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case rec.status >= 400:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http_request", args...)

			if observer != nil {
				observer.RecordHTTPStatus(rec.status)
			}
		})
	}
}

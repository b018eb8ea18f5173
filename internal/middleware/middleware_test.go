package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/hitoshi/customervoice/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) model.ErrorResponse {
	t.Helper()
	var body model.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

// --- request id ---

func TestRequestIDMiddleware_GeneratesWhenMissing(t *testing.T) {
	var seen string
	h := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("request id = %q, want uuid", seen)
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("header = %q, want %q", got, seen)
	}
}

func TestRequestIDMiddleware_PropagatesIncoming(t *testing.T) {
	var seen string
	h := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "abc-123" {
		t.Errorf("request id = %q, want abc-123", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", 65))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if len(seen) != 36 {
		t.Errorf("oversized id should be replaced, got %q", seen)
	}
}

// --- workspace ---

func TestWorkspaceMiddleware_IssuesCookie(t *testing.T) {
	var seen string
	h := NewWorkspaceMiddleware(CookieConfig{MaxAge: 60})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = WorkspaceIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != WorkspaceCookieName {
		t.Fatalf("cookies = %v", cookies)
	}
	if cookies[0].Value != seen || !cookies[0].HttpOnly {
		t.Errorf("cookie = %+v, context id = %q", cookies[0], seen)
	}
}

func TestWorkspaceMiddleware_ReusesValidCookie(t *testing.T) {
	id := uuid.NewString()
	var seen string
	h := NewWorkspaceMiddleware(CookieConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = WorkspaceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: WorkspaceCookieName, Value: id})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != id {
		t.Errorf("workspace = %q, want %q", seen, id)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("valid cookie should not be reissued")
	}
}

func TestWorkspaceMiddleware_ReplacesMalformedCookie(t *testing.T) {
	var seen string
	h := NewWorkspaceMiddleware(CookieConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = WorkspaceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: WorkspaceCookieName, Value: "../../etc"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen == "../../etc" || seen == "" {
		t.Errorf("workspace = %q, want freshly issued id", seen)
	}
	if len(rec.Result().Cookies()) != 1 {
		t.Error("malformed cookie should be replaced")
	}
}

type fakeChecker map[string]bool

func (f fakeChecker) Authenticated(_ context.Context, id string) bool { return f[id] }

func TestRequireAuthMiddleware(t *testing.T) {
	h := NewRequireAuthMiddleware(fakeChecker{"ws-ok": true})(okHandler())

	tests := []struct {
		name      string
		workspace string
		want      int
	}{
		{"authenticated", "ws-ok", http.StatusOK},
		{"anonymous", "ws-anon", http.StatusUnauthorized},
		{"no workspace", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.workspace != "" {
				req = req.WithContext(ContextWithWorkspaceID(req.Context(), tt.workspace))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

// --- errors ---

func TestWriteUpstreamError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   model.ErrorResponse
		wantRetry  string
	}{
		{
			name:       "api error keeps status and message",
			err:        fmt.Errorf("list insights: %w", &model.APIError{Status: 404, Code: "not_found", Message: "Competitor not found"}),
			wantStatus: http.StatusNotFound,
			wantBody:   model.ErrorResponse{Error: "not_found", Message: "Competitor not found"},
		},
		{
			name:       "api error without code",
			err:        model.NewAPIError(http.StatusForbidden, nil),
			wantStatus: http.StatusForbidden,
			wantBody:   model.ErrorResponse{Error: "forbidden", Message: "Request failed with status 403"},
		},
		{
			name:       "rate limited carries retry after",
			err:        &model.APIError{Status: 429, Code: "rate_limited", Message: "Slow down", RetryAfter: 30 * time.Second},
			wantStatus: http.StatusTooManyRequests,
			wantBody:   model.ErrorResponse{Error: "rate_limited", Message: "Slow down", RetryAfterSeconds: 30},
			wantRetry:  "30",
		},
		{
			name:       "config error",
			err:        model.NewMissingDigestTokenError(),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   model.ErrorResponse{Error: "configuration_error", Message: model.NewMissingDigestTokenError().Message},
		},
		{
			name:       "network error",
			err:        &model.NetworkError{Method: "GET", URL: "http://x", Err: errors.New("connection refused")},
			wantStatus: http.StatusBadGateway,
			wantBody:   model.ErrorResponse{Error: "upstream_unavailable", Message: "Unable to reach the Customer Voice API."},
		},
		{
			name:       "timeout",
			err:        &model.NetworkError{Method: "GET", URL: "http://x", Err: context.DeadlineExceeded},
			wantStatus: http.StatusGatewayTimeout,
			wantBody:   model.ErrorResponse{Error: "upstream_timeout", Message: "The Customer Voice API did not respond in time."},
		},
		{
			name:       "unknown error is hidden",
			err:        errors.New("secret detail"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   model.ErrorResponse{Error: "internal_error", Message: model.GenericFailureMessage},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteUpstreamError(rec, tt.err)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.wantRetry {
				t.Errorf("Retry-After = %q, want %q", got, tt.wantRetry)
			}
			if diff := cmp.Diff(tt.wantBody, decodeError(t, rec)); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriteValidationError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteValidationError(rec, "email", "required")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeError(t, rec)
	want := []model.ErrorDetail{{Field: "email", Issue: "required"}}
	if diff := cmp.Diff(want, body.Details); diff != "" {
		t.Errorf("details mismatch (-want +got):\n%s", diff)
	}
}

// --- logging / recovery / headers / cors ---

type statusCounter struct{ statuses []int }

func (s *statusCounter) RecordHTTPStatus(status int) { s.statuses = append(s.statuses, status) }

func TestLoggingMiddleware_LogsRequestAndWorkspace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	observer := &statusCounter{}
	id := uuid.NewString()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := NewRequestIDMiddleware()(
		NewLoggingMiddleware(logger, observer)(
			NewWorkspaceMiddleware(CookieConfig{})(inner)))

	req := httptest.NewRequest(http.MethodGet, "/api/insights", nil)
	req.AddCookie(&http.Cookie{Name: WorkspaceCookieName, Value: id})
	req.Header.Set(RequestIDHeader, "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log is not JSON: %v (%s)", err, buf.String())
	}
	want := map[string]any{
		"level":      "WARN",
		"msg":        "http_request",
		"method":     "GET",
		"path":       "/api/insights",
		"status":     float64(404),
		"request_id": "req-1",
		"workspace":  id[:8],
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("log[%s] = %v, want %v", k, entry[k], v)
		}
	}
	if diff := cmp.Diff([]int{404}, observer.statuses); diff != "" {
		t.Errorf("observed statuses (-want +got):\n%s", diff)
	}
}

func TestRecoveryMiddleware_ReturnsJSON500(t *testing.T) {
	h := NewRecoveryMiddleware(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error != "internal_error" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	rec := httptest.NewRecorder()
	NewSecurityHeadersMiddleware()(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for k, v := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	called := false
	h := NewCORSMiddleware("http://localhost:3000")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/insights", nil))

	if rec.Code != http.StatusNoContent || called {
		t.Errorf("preflight status = %d, handler called = %v", rec.Code, called)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, CSRFHeaderName) {
		t.Errorf("allow headers = %q, want %s", got, CSRFHeaderName)
	}
}

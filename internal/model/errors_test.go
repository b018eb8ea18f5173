package model

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNewAPIError_UsesServerMessage(t *testing.T) {
	err := NewAPIError(400, &ErrorResponse{
		Error:   "validation_error",
		Message: "Name is required.",
		Details: []ErrorDetail{{Field: "name", Issue: "missing"}},
	})

	if err.Error() != "Name is required." {
		t.Errorf("Error() = %q, want %q", err.Error(), "Name is required.")
	}
	if err.Code != "validation_error" {
		t.Errorf("Code = %q, want %q", err.Code, "validation_error")
	}
	if len(err.Details) != 1 || err.Details[0].Field != "name" {
		t.Errorf("Details = %+v, want one detail for field name", err.Details)
	}
}

func TestNewAPIError_FallsBackToStatusMessage(t *testing.T) {
	err := NewAPIError(502, nil)
	if err.Error() != "Request failed with status 502" {
		t.Errorf("Error() = %q, want generic status message", err.Error())
	}
}

func TestNewAPIError_RetryAfterSeconds(t *testing.T) {
	err := NewAPIError(429, &ErrorResponse{Message: "slow down", RetryAfterSeconds: 30})
	if err.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", err.RetryAfter)
	}
}

func TestIsUnauthorized_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("session check: %w", NewAPIError(401, nil))
	if !IsUnauthorized(wrapped) {
		t.Error("ラップされた401は IsUnauthorized で検出されるべき")
	}
	if IsUnauthorized(NewAPIError(403, nil)) {
		t.Error("403 は IsUnauthorized ではない")
	}
	if IsUnauthorized(errors.New("boom")) {
		t.Error("APIError以外は IsUnauthorized ではない")
	}
}

func TestIsConfigError(t *testing.T) {
	if !IsConfigError(fmt.Errorf("run digest: %w", NewMissingDigestTokenError())) {
		t.Error("ラップされたConfigErrorを検出できるべき")
	}
	if IsConfigError(NewAPIError(500, nil)) {
		t.Error("APIErrorはConfigErrorではない")
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"api error", NewAPIError(409, &ErrorResponse{Message: "An account with this email already exists."}), "An account with this email already exists."},
		{"config error", NewMissingBaseURLError(), "API base URL is not configured."},
		{"network error", &NetworkError{Method: "GET", URL: "http://x", Err: errors.New("refused")}, GenericFailureMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPagination_Consistent(t *testing.T) {
	tests := []struct {
		p    Pagination
		want bool
	}{
		{Pagination{PageSize: 25, TotalItems: 0, TotalPages: 0}, true},
		{Pagination{PageSize: 25, TotalItems: 25, TotalPages: 1}, true},
		{Pagination{PageSize: 25, TotalItems: 26, TotalPages: 2}, true},
		{Pagination{PageSize: 25, TotalItems: 26, TotalPages: 1}, false},
	}
	for _, tt := range tests {
		if got := tt.p.Consistent(); got != tt.want {
			t.Errorf("%+v.Consistent() = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestSession_Authenticated(t *testing.T) {
	if (Session{Token: "t"}).Authenticated() {
		t.Error("ユーザー未確定のセッションは認証済みではない")
	}
	if !(Session{Token: "t", User: &User{Email: "a@example.com"}}).Authenticated() {
		t.Error("トークンとユーザーがあれば認証済み")
	}
}

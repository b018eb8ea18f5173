package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/hitoshi/customervoice/internal/model"
)

// WriteJSON はJSONレスポンスを書き込む。
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError はREST APIと同じ形式のエラーレスポンスを書き込む。
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, model.ErrorResponse{Error: code, Message: message})
}

// WriteValidationError はフィールド単位の入力エラーを400で返す。
func WriteValidationError(w http.ResponseWriter, field, issue string) {
	WriteJSON(w, http.StatusBadRequest, model.ErrorResponse{
		Error:   "validation_error",
		Message: "Request validation failed.",
		Details: []model.ErrorDetail{{Field: field, Issue: issue}},
	})
}

// WriteUpstreamError はREST API呼び出しの失敗をレスポンスに変換する。
//   - APIError: 上流のステータスとメッセージをそのまま返す
//   - ConfigError: 503
//   - NetworkError: 502
//   - タイムアウト: 504
//
// それ以外は詳細を隠して500を返す。
func WriteUpstreamError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	var cfgErr *model.ConfigError
	var netErr *model.NetworkError

	switch {
	case errors.As(err, &apiErr):
		code := apiErr.Code
		if code == "" {
			code = statusCode(apiErr.Status)
		}
		body := model.ErrorResponse{Error: code, Message: apiErr.Error(), Details: apiErr.Details}
		if apiErr.Status == http.StatusTooManyRequests && apiErr.RetryAfter > 0 {
			secs := int(apiErr.RetryAfter.Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			body.RetryAfterSeconds = secs
		}
		WriteJSON(w, apiErr.Status, body)
	case errors.As(err, &cfgErr):
		WriteError(w, http.StatusServiceUnavailable, "configuration_error", cfgErr.Message)
	case errors.Is(err, context.DeadlineExceeded):
		WriteError(w, http.StatusGatewayTimeout, "upstream_timeout", "The Customer Voice API did not respond in time.")
	case errors.As(err, &netErr):
		WriteError(w, http.StatusBadGateway, "upstream_unavailable", "Unable to reach the Customer Voice API.")
	default:
		WriteInternalServerError(w)
	}
}

// WriteInternalServerError は内部エラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、利用者には汎用メッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, "internal_error", model.GenericFailureMessage)
}

func statusCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "upstream_error"
	}
}

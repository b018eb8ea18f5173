package model

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// GenericFailureMessage はサーバーからメッセージが得られない場合にUIへ表示する文言。
const GenericFailureMessage = "Unable to process your request. Please try again."

// ErrorDetail はフィールド単位のエラー詳細。
type ErrorDetail struct {
	Field string `json:"field,omitempty"`
	Issue string `json:"issue,omitempty"`
}

// ErrorResponse はREST APIのエラーレスポンスボディ。
// 429の場合はretry_after_secondsとguidanceが付与される。
type ErrorResponse struct {
	Error             string        `json:"error"`
	Message           string        `json:"message"`
	Details           []ErrorDetail `json:"details,omitempty"`
	RetryAfterSeconds int           `json:"retry_after_seconds,omitempty"`
	Guidance          string        `json:"guidance,omitempty"`
}

// APIError はREST APIが非2xxを返したことを表す。
// 429はリトライ上限に達した後にのみこのエラーになる。
type APIError struct {
	Status     int           // HTTPステータスコード
	Code       string        // レスポンスボディのerrorフィールド
	Message    string        // 表示用メッセージ
	Details    []ErrorDetail // フィールド単位の詳細
	RetryAfter time.Duration // 429の場合の待機時間（不明なら0）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return StatusFailureMessage(e.Status)
}

// StatusFailureMessage はステータスコードのみから生成する汎用メッセージを返す。
func StatusFailureMessage(status int) string {
	return fmt.Sprintf("Request failed with status %d", status)
}

// NewAPIError はレスポンスボディ（nil可）からAPIErrorを生成する。
func NewAPIError(status int, body *ErrorResponse) *APIError {
	apiErr := &APIError{
		Status:  status,
		Message: StatusFailureMessage(status),
	}
	if body == nil {
		return apiErr
	}
	apiErr.Code = body.Error
	if body.Message != "" {
		apiErr.Message = body.Message
	}
	apiErr.Details = body.Details
	if body.RetryAfterSeconds > 0 {
		apiErr.RetryAfter = time.Duration(body.RetryAfterSeconds) * time.Second
	}
	return apiErr
}

// ConfigError はベースURLやトークンなど必須設定の欠落を表す。
// ネットワーク通信の前に返される。
type ConfigError struct {
	Setting string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *ConfigError) Error() string {
	return e.Message
}

// NewMissingBaseURLError はAPIベースURL未設定エラーを生成する。
func NewMissingBaseURLError() *ConfigError {
	return &ConfigError{
		Setting: "API_BASE_URL",
		Message: "API base URL is not configured.",
	}
}

// NewMissingDigestTokenError はダイジェスト用トークン未設定エラーを生成する。
func NewMissingDigestTokenError() *ConfigError {
	return &ConfigError{
		Setting: "DIGEST_TOKEN",
		Message: "Digest token is not configured. Set DIGEST_TOKEN or save a digest token before running a digest.",
	}
}

// NetworkError はレスポンスを得られなかった通信失敗を表す。
// 自動リトライの対象外。
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap は原因となったエラーを返す。
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StatusCode はerrがAPIErrorの場合にそのステータスコードを返す。それ以外は0。
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsUnauthorized はerrが401のAPIErrorかどうかを返す。
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// IsConfigError はerrがConfigErrorかどうかを返す。
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// UserMessage はUIに表示するメッセージを返す。
// サーバーのメッセージや設定エラーの説明を優先し、それ以外は汎用メッセージにする。
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr.Message
	}
	return GenericFailureMessage
}

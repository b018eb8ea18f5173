package apiclient

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Outcome はHTTPステータスコードに基づくリクエスト結果の分類。
type Outcome int

const (
	// OutcomeOK は2xx応答。
	OutcomeOK Outcome = iota
	// OutcomeUnauthorized は401/403応答。
	OutcomeUnauthorized
	// OutcomeRateLimited は429応答。リトライ対象。
	OutcomeRateLimited
	// OutcomeClientError はその他の4xx応答。
	OutcomeClientError
	// OutcomeServerError は5xx応答。
	OutcomeServerError
	// OutcomeNetworkError は応答を得られなかった通信失敗。
	OutcomeNetworkError
	// OutcomeUnknown は上記以外のステータスコード。
	OutcomeUnknown
)

// String はメトリクスのラベルやログに使う名前を返す。
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeClientError:
		return "client_error"
	case OutcomeServerError:
		return "server_error"
	case OutcomeNetworkError:
		return "network_error"
	default:
		return "unknown"
	}
}

const (
	// DefaultRetryLimit は429に対する既定のリトライ回数。
	DefaultRetryLimit = 3
	// NoRetry はリトライを無効にする場合にOptions.RetryLimitへ指定する値。
	NoRetry = -1

	// minRetryDelay はリトライ待機時間の下限。
	minRetryDelay = time.Second
	// maxRetryAfter はRetry-Afterヘッダーに従う待機時間の上限。
	maxRetryAfter = time.Hour
	// maxBackoffExponent は指数バックオフの指数の上限。
	maxBackoffExponent = 16
)

// ClassifyStatus はHTTPステータスコードをOutcomeに分類する。
// 0はレスポンスを得られなかったことを表す。
func ClassifyStatus(statusCode int) Outcome {
	switch {
	case statusCode == 0:
		return OutcomeNetworkError
	case statusCode >= 200 && statusCode < 300:
		return OutcomeOK
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return OutcomeUnauthorized
	case statusCode == http.StatusTooManyRequests:
		return OutcomeRateLimited
	case statusCode >= 400 && statusCode < 500:
		return OutcomeClientError
	case statusCode >= 500:
		return OutcomeServerError
	default:
		return OutcomeUnknown
	}
}

// RetryDelay は次のリトライまでの待機時間を計算する。
// Retry-Afterヘッダー（秒数またはHTTP日付）があればそれに従い、
// なければ 2^retryCount 秒とする。いずれの場合も1秒を下回らない。
// Retry-Afterによる待機は maxRetryAfter を上限とする。
func RetryDelay(retryAfter string, retryCount int, now time.Time) time.Duration {
	if d, ok := parseRetryAfter(retryAfter, now); ok {
		return max(d, minRetryDelay)
	}
	return max(CalculateBackoff(retryCount), minRetryDelay)
}

// CalculateBackoff はリトライ回数に基づく指数バックオフ（1s, 2s, 4s, ...）を返す。
func CalculateBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > maxBackoffExponent {
		retryCount = maxBackoffExponent
	}
	return time.Duration(1<<retryCount) * time.Second
}

func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		if secs > int(maxRetryAfter/time.Second) {
			return maxRetryAfter, true
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return min(t.Sub(now), maxRetryAfter), true
	}
	return 0, false
}

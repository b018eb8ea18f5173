// Package apiclient はCustomer Voice REST APIへのHTTPリクエストを共通化する。
// ベースURLの解決、JSONの送受信、Bearer認証、429応答のリトライを担う。
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/customervoice/internal/model"
)

const (
	// defaultUserAgent はリクエストに付与するUser-Agent。
	defaultUserAgent = "CustomerVoice/1.0"
	// defaultTimeout はHTTPクライアント未指定時の1試行あたりのタイムアウト。
	defaultTimeout = 15 * time.Second
	// maxResponseSize は読み取るレスポンスボディの上限（10MB）。
	maxResponseSize = 10 << 20
)

// Sleeper はリトライ間の待機を行う。テストでは偽の実装に差し替える。
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc は関数をSleeperとして扱うアダプタ。
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep はSleeperインターフェースを実装する。
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// timerSleeper はタイマーで待機し、コンテキストのキャンセルで中断する。
type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Recorder は各試行の結果を記録する。internal/metricsが実装する。
type Recorder interface {
	ObserveRequest(method string, outcome Outcome, duration time.Duration)
	ObserveRetry(method string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRequest(string, Outcome, time.Duration) {}
func (nopRecorder) ObserveRetry(string)                           {}

// Options はClientの生成オプション。
type Options struct {
	// BaseURL はREST APIのベースURL。必須。
	BaseURL string
	// HTTPClient は未指定の場合タイムアウト付きのクライアントを生成する。
	HTTPClient *http.Client
	Logger     *slog.Logger
	// RetryLimit は429に対するリトライ回数。0はDefaultRetryLimit、NoRetryで無効。
	RetryLimit int
	// Limiter は各試行の前に待機するクライアント側のレート制限。nilなら制限しない。
	Limiter   *rate.Limiter
	Recorder  Recorder
	Sleeper   Sleeper
	UserAgent string
	// Now はRetry-AfterのHTTP日付の解釈に使う現在時刻。テスト用。
	Now func() time.Time
}

// Client はREST APIへのリクエストを実行する。
// 呼び出しごとの状態を持たず、並行利用できる。
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	retryLimit int
	limiter    *rate.Limiter
	recorder   Recorder
	sleeper    Sleeper
	userAgent  string
	now        func() time.Time
}

// New はClientを生成する。ベースURLが空の場合はConfigErrorを返す。
func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, model.NewMissingBaseURLError()
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		retryLimit: opts.RetryLimit,
		limiter:    opts.Limiter,
		recorder:   opts.Recorder,
		sleeper:    opts.Sleeper,
		userAgent:  opts.UserAgent,
		now:        opts.Now,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	switch {
	case c.retryLimit == 0:
		c.retryLimit = DefaultRetryLimit
	case c.retryLimit < 0:
		c.retryLimit = 0
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	if c.sleeper == nil {
		c.sleeper = timerSleeper{}
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// BaseURL は末尾のスラッシュを除いたベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RetryLimit は429に対するリトライ回数を返す。
func (c *Client) RetryLimit() int {
	return c.retryLimit
}

// Request は1回のAPI呼び出しの内容。
type Request struct {
	Method string
	// Path はベースURLからの相対パス。http(s)://で始まる場合はそのまま使う。
	Path  string
	Query url.Values
	// Body はJSONにエンコードして送信する。nilなら本文なし。
	Body any
	// Token が空でなければ Authorization: Bearer として送る。
	Token  string
	Header http.Header
}

// Do はリクエストを実行し、成功時のJSONをoutへデコードする。
// 429応答はリトライ上限まで待機して再送する。上限に達した429やその他の非2xxは
// *model.APIError、通信失敗は *model.NetworkError として返す。
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	if c == nil || c.baseURL == "" {
		return model.NewMissingBaseURLError()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.ResolveURL(req.Path, req.Query)
	if err != nil {
		return err
	}

	var payload []byte
	if req.Body != nil {
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("レート制限の待機が中断されました: %w", err)
			}
		}

		status, header, body, err := c.send(ctx, method, target, payload, req)
		if err != nil {
			return err
		}

		if status == http.StatusTooManyRequests && attempt < c.retryLimit {
			delay := RetryDelay(header.Get("Retry-After"), attempt, c.now())
			c.logger.Warn("APIがレート制限を返したためリトライします",
				slog.String("method", method),
				slog.String("url", target),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
			)
			c.recorder.ObserveRetry(method)
			if err := c.sleeper.Sleep(ctx, delay); err != nil {
				return fmt.Errorf("リトライ待機が中断されました: %w", err)
			}
			continue
		}

		if status < 200 || status >= 300 {
			return decodeAPIError(status, header, body)
		}

		if out == nil || status == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("レスポンスJSONのパースに失敗しました (%s %s): %w", method, target, err)
		}
		return nil
	}
}

// send は1回分のHTTP交換を行い、ボディを読み切って返す。
func (c *Client) send(ctx context.Context, method, target string, payload []byte, req Request) (int, http.Header, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.recorder.ObserveRequest(method, OutcomeNetworkError, time.Since(start))
		c.logger.Error("APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("url", target),
			slog.String("error", err.Error()),
		)
		return 0, nil, nil, &model.NetworkError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	elapsed := time.Since(start)
	if err != nil {
		c.recorder.ObserveRequest(method, OutcomeNetworkError, elapsed)
		return 0, nil, nil, &model.NetworkError{Method: method, URL: target, Err: fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)}
	}

	outcome := ClassifyStatus(resp.StatusCode)
	c.recorder.ObserveRequest(method, outcome, elapsed)
	c.logger.Debug("APIを呼び出しました",
		slog.String("method", method),
		slog.String("url", target),
		slog.Int("http_status", resp.StatusCode),
		slog.String("outcome", outcome.String()),
		slog.Duration("duration", elapsed),
	)
	return resp.StatusCode, resp.Header, body, nil
}

// ResolveURL はパスとクエリから送信先URLを組み立てる。
// 絶対URLのパスはそのまま使い、相対パスには先頭のスラッシュを補う。
func (c *Client) ResolveURL(path string, query url.Values) (string, error) {
	var raw string
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		raw = path
	} else {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		raw = c.baseURL + path
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("リクエストURLのパースに失敗しました: %w", err)
	}
	if len(query) > 0 {
		encoded := query.Encode()
		if u.RawQuery != "" {
			u.RawQuery += "&" + encoded
		} else {
			u.RawQuery = encoded
		}
	}
	return u.String(), nil
}

// decodeAPIError は非2xx応答をAPIErrorに変換する。
// ボディがJSONでない場合はステータスのみのメッセージにする。
func decodeAPIError(status int, header http.Header, body []byte) error {
	var payload model.ErrorResponse
	var apiErr *model.APIError
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil {
		apiErr = model.NewAPIError(status, &payload)
	} else {
		apiErr = model.NewAPIError(status, nil)
	}
	if apiErr.RetryAfter == 0 && status == http.StatusTooManyRequests {
		if d, ok := parseRetryAfter(header.Get("Retry-After"), time.Now()); ok && d > 0 {
			apiErr.RetryAfter = d
		}
	}
	return apiErr
}

// Package api はCustomer Voice REST APIのリソースごとの型付き関数を提供する。
// HTTPの詳細はRequesterに委譲し、このパッケージはパスとクエリと型の対応だけを持つ。
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/customervoice/internal/apiclient"
	"github.com/hitoshi/customervoice/internal/model"
)

// ErrEmptyID は空の識別子が指定されたことを表す。通信前に返される。
var ErrEmptyID = errors.New("identifier must not be empty")

// Requester はHTTPリクエストを実行する。*apiclient.Client が実装する。
type Requester interface {
	Do(ctx context.Context, req apiclient.Request, out any) error
}

// TokenSource はBearerトークンの読み取り専用の供給元。
// 空文字はトークンなしを表す。
type TokenSource interface {
	Token() string
}

// StaticToken は固定のトークンを返すTokenSource。
type StaticToken string

// Token はTokenSourceインターフェースを実装する。
func (t StaticToken) Token() string {
	return string(t)
}

// TokenFunc は関数をTokenSourceとして扱うアダプタ。
type TokenFunc func() string

// Token はTokenSourceインターフェースを実装する。
func (f TokenFunc) Token() string {
	return f()
}

// Client はREST APIのリソース操作をまとめたファサード。
type Client struct {
	requester Requester
	session   TokenSource
	digest    TokenSource
}

// NewClient はClientを生成する。
// sessionは認証済みエンドポイント用、digestは /digest/run 用のトークン供給元で、いずれもnil可。
func NewClient(requester Requester, session, digest TokenSource) *Client {
	return &Client{requester: requester, session: session, digest: digest}
}

// WithSession は別のセッショントークン供給元を使うClientのコピーを返す。
func (c *Client) WithSession(session TokenSource) *Client {
	cp := *c
	cp.session = session
	return &cp
}

func tokenOf(src TokenSource) string {
	if src == nil {
		return ""
	}
	return src.Token()
}

func (c *Client) sessionToken() string {
	return tokenOf(c.session)
}

// Ingest はレビューを取り込む。
func (c *Client) Ingest(ctx context.Context, payload model.ReviewIngestRequest) (*model.ReviewIngestResponse, error) {
	var out model.ReviewIngestResponse
	err := c.requester.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/ingest",
		Body:   payload,
		Token:  c.sessionToken(),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("ingest reviews: %w", err)
	}
	return &out, nil
}

// Analyze は任意のテキストの感情とトピックを解析する。
func (c *Client) Analyze(ctx context.Context, payload model.AnalyzeRequest) (*model.AnalyzeResponse, error) {
	var out model.AnalyzeResponse
	err := c.requester.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/analyze",
		Body:   payload,
		Token:  c.sessionToken(),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("analyze text: %w", err)
	}
	return &out, nil
}

// ListInsights はフィルタ条件に合うインサイトのスナップショットを取得する。
func (c *Client) ListInsights(ctx context.Context, filter model.InsightsFilter) (*model.InsightsResponse, error) {
	var out model.InsightsResponse
	err := c.requester.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/insights",
		Query:  InsightsQuery(filter),
		Token:  c.sessionToken(),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	return &out, nil
}

// ListCompetitors は競合の一覧を取得する。
func (c *Client) ListCompetitors(ctx context.Context, params model.PageParams) (*model.CompetitorListResponse, error) {
	var out model.CompetitorListResponse
	err := c.requester.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/competitors",
		Query:  PageQuery(params),
		Token:  c.sessionToken(),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("list competitors: %w", err)
	}
	return &out, nil
}

// CreateCompetitor は競合を登録する。
func (c *Client) CreateCompetitor(ctx context.Context, payload model.CompetitorCreate) (*model.Competitor, error) {
	var out model.Competitor
	err := c.requester.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/competitors",
		Body:   payload,
		Token:  c.sessionToken(),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("create competitor: %w", err)
	}
	return &out, nil
}

// GetCompetitor は競合を1件取得する。
func (c *Client) GetCompetitor(ctx context.Context, id string) (*model.Competitor, error) {
	path, err := competitorPath(id)
	if err != nil {
		return nil, fmt.Errorf("get competitor: %w", err)
	}
	var out model.Competitor
	err = c.requester.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   path,
		Token:  c.sessionToken(),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("get competitor: %w", err)
	}
	return &out, nil
}

// UpdateCompetitor は競合を部分更新する。
func (c *Client) UpdateCompetitor(ctx context.Context, id string, payload model.CompetitorUpdate) (*model.Competitor, error) {
	path, err := competitorPath(id)
	if err != nil {
		return nil, fmt.Errorf("update competitor: %w", err)
	}
	var out model.Competitor
	err = c.requester.Do(ctx, apiclient.Request{
		Method: http.MethodPatch,
		Path:   path,
		Body:   payload,
		Token:  c.sessionToken(),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("update competitor: %w", err)
	}
	return &out, nil
}

// DeleteCompetitor は競合を削除する。成功時のレスポンスボディは読まない。
func (c *Client) DeleteCompetitor(ctx context.Context, id string) error {
	path, err := competitorPath(id)
	if err != nil {
		return fmt.Errorf("delete competitor: %w", err)
	}
	err = c.requester.Do(ctx, apiclient.Request{
		Method: http.MethodDelete,
		Path:   path,
		Token:  c.sessionToken(),
	}, nil)
	if err != nil {
		return fmt.Errorf("delete competitor: %w", err)
	}
	return nil
}

// CompetitorComparison は自社と競合の感情・トピック比較を取得する。
func (c *Client) CompetitorComparison(ctx context.Context, id string, dates model.DateRange) (*model.CompetitorComparisonResponse, error) {
	path, err := competitorPath(id)
	if err != nil {
		return nil, fmt.Errorf("competitor comparison: %w", err)
	}
	var out model.CompetitorComparisonResponse
	err = c.requester.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   path + "/comparison",
		Query:  DateRangeQuery(dates),
		Token:  c.sessionToken(),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("competitor comparison: %w", err)
	}
	return &out, nil
}

// RunDigest はダイジェストをオンデマンドで生成する。
// ダイジェスト用トークンがない場合は通信せずにConfigErrorを返す。
func (c *Client) RunDigest(ctx context.Context, payload model.DigestRequest) (*model.DigestResponse, error) {
	token := tokenOf(c.digest)
	if token == "" {
		return nil, model.NewMissingDigestTokenError()
	}
	var out model.DigestResponse
	err := c.requester.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/digest/run",
		Body:   payload,
		Token:  token,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("run digest: %w", err)
	}
	return &out, nil
}

// Login はメールアドレスとパスワードで認証する。
func (c *Client) Login(ctx context.Context, payload model.LoginRequest) (*model.AuthSuccessResponse, error) {
	var out model.AuthSuccessResponse
	err := c.requester.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body:   payload,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &out, nil
}

// Register はアカウントを作成する。
func (c *Client) Register(ctx context.Context, payload model.RegisterRequest) (*model.AuthSuccessResponse, error) {
	var out model.AuthSuccessResponse
	err := c.requester.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/auth/register",
		Body:   payload,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return &out, nil
}

// Me は指定トークンの持ち主のユーザー情報を取得する。
// セッション検証に使うため、保持中のトークンではなく引数のトークンを送る。
func (c *Client) Me(ctx context.Context, token string) (*model.User, error) {
	var out model.MeResponse
	err := c.requester.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/auth/me",
		Token:  token,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("fetch current user: %w", err)
	}
	return &out.User, nil
}

func competitorPath(id string) (string, error) {
	if id == "" {
		return "", ErrEmptyID
	}
	return "/competitors/" + url.PathEscape(id), nil
}

// InsightsQuery はInsightsFilterをクエリ文字列に変換する。ゼロ値は含めない。
func InsightsQuery(f model.InsightsFilter) url.Values {
	q := PageQuery(model.PageParams{Page: f.Page, PageSize: f.PageSize})
	setString(q, "start_date", f.StartDate)
	setString(q, "end_date", f.EndDate)
	setString(q, "source_id", f.SourceID)
	setString(q, "sentiment", f.Sentiment)
	return q
}

// PageQuery はページング指定をクエリ文字列に変換する。ゼロ値は含めない。
func PageQuery(p model.PageParams) url.Values {
	q := url.Values{}
	setInt(q, "page", p.Page)
	setInt(q, "page_size", p.PageSize)
	return q
}

// DateRangeQuery は期間指定をクエリ文字列に変換する。空文字は含めない。
func DateRangeQuery(d model.DateRange) url.Values {
	q := url.Values{}
	setString(q, "start_date", d.StartDate)
	setString(q, "end_date", d.EndDate)
	return q
}

func setString(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func setInt(q url.Values, key string, value int) {
	if value != 0 {
		q.Set(key, strconv.Itoa(value))
	}
}

package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hitoshi/customervoice/internal/insights"
	"github.com/hitoshi/customervoice/internal/middleware"
	"github.com/hitoshi/customervoice/internal/model"
)

// InsightsHandler はインサイト表示のハンドラー。
type InsightsHandler struct {
	workspaces WorkspaceProvider
}

// NewInsightsHandler はInsightsHandlerを生成する。
func NewInsightsHandler(workspaces WorkspaceProvider) *InsightsHandler {
	return &InsightsHandler{workspaces: workspaces}
}

// displayView は整形済みの表示値。
type displayView struct {
	TotalReviews  string `json:"total_reviews"`
	NegativeCount string `json:"negative_count"`
	PositiveShare string `json:"positive_share,omitempty"`
	TopTopic      string `json:"top_topic,omitempty"`
	TopSource     string `json:"top_source,omitempty"`
}

// insightsView はスナップショットと表示用データ。
type insightsView struct {
	*insights.Snapshot
	RecentReviews []insights.ReviewCard `json:"recent_reviews"`
	Display       displayView           `json:"display"`
}

// currentView は GET /api/insights/current のレスポンス。
type currentView struct {
	Loaded       bool          `json:"loaded"`
	Loading      bool          `json:"loading"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Snapshot     *insightsView `json:"snapshot,omitempty"`
}

func newInsightsView(snap *insights.Snapshot) *insightsView {
	d := displayView{
		TotalReviews:  insights.FormatNumber(snap.Summary.TotalReviews),
		NegativeCount: insights.FormatNumber(snap.Summary.NegativeCount),
	}
	if snap.Summary.SentimentAvailable {
		d.PositiveShare = insights.FormatPercent(snap.Summary.PositiveShare)
	}
	if t := snap.Summary.TopTopic; t != nil {
		d.TopTopic = t.TopicLabel
	}
	if src := snap.Summary.TopSource; src != nil {
		d.TopSource = src.SourceName
	}
	return &insightsView{
		Snapshot:      snap,
		RecentReviews: insights.RecentReviews(snap.Response),
		Display:       d,
	}
}

// List はクエリ条件でインサイトを読み込み、ワークスペースの現在のスナップショットとして返す。
// GET /api/insights
func (h *InsightsHandler) List(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	filter, field, issue := parseInsightsFilter(r.URL.Query())
	if field != "" {
		middleware.WriteValidationError(w, field, issue)
		return
	}

	snap, err := ws.Insights.Load(r.Context(), filter)
	if err != nil {
		writeInsightsError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, newInsightsView(snap))
}

// Current は直近に確定したスナップショットを返す。通信は行わない。
// GET /api/insights/current
func (h *InsightsHandler) Current(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	snap, err := ws.Insights.Current()
	resp := currentView{Loading: ws.Insights.Loading()}
	if snap != nil {
		resp.Loaded = true
		resp.Snapshot = newInsightsView(snap)
	}
	if err != nil {
		resp.ErrorMessage = insights.ErrorMessage(err)
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

func writeInsightsError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	switch {
	case errors.Is(err, insights.ErrSuperseded):
		middleware.WriteError(w, http.StatusConflict, "superseded", "A newer insights request replaced this one.")
	case errors.As(err, &apiErr), model.IsConfigError(err):
		middleware.WriteUpstreamError(w, err)
	default:
		middleware.WriteError(w, http.StatusBadGateway, "insights_unavailable", insights.ErrorMessage(err))
	}
}

// parseInsightsFilter はクエリ文字列を検証してInsightsFilterに変換する。
// 不正な値があればそのフィールド名と理由を返す。
func parseInsightsFilter(q url.Values) (model.InsightsFilter, string, string) {
	var f model.InsightsFilter
	var ok bool
	if f.Page, ok = parsePositive(q.Get("page")); !ok {
		return f, "page", "must be a positive integer"
	}
	if f.PageSize, ok = parsePositive(q.Get("page_size")); !ok || f.PageSize > 100 {
		return f, "page_size", "must be between 1 and 100"
	}
	for _, key := range []string{"start_date", "end_date"} {
		if v := q.Get(key); v != "" {
			if _, err := time.Parse(time.DateOnly, v); err != nil {
				return f, key, "must be YYYY-MM-DD"
			}
		}
	}
	f.StartDate = q.Get("start_date")
	f.EndDate = q.Get("end_date")
	if f.StartDate != "" && f.EndDate != "" && f.EndDate < f.StartDate {
		return f, "end_date", "must not be before start_date"
	}
	f.SourceID = q.Get("source_id")
	switch s := model.SentimentLabel(q.Get("sentiment")); s {
	case "", model.SentimentPositive, model.SentimentNeutral, model.SentimentNegative:
		f.Sentiment = string(s)
	default:
		return f, "sentiment", "must be Positive, Neutral or Negative"
	}
	return f, "", ""
}

// parsePositive は空文字を0として扱い、それ以外は正の整数のみ受け付ける。
func parsePositive(s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

package model

import "time"

// DigestRequest は POST /digest/run のリクエストボディ。
type DigestRequest struct {
	TimeframeStart     *time.Time `json:"timeframe_start,omitempty"`
	TimeframeEnd       *time.Time `json:"timeframe_end,omitempty"`
	IncludeCompetitors *bool      `json:"include_competitors,omitempty"`
}

// TopicSpotlight は前期間比で変化したトピック。
type TopicSpotlight struct {
	TopicLabel       string   `json:"topic_label"`
	ChangeVsPrevious float64  `json:"change_vs_previous"`
	SampleQuotes     []string `json:"sample_quotes"`
}

// CompetitorDigestItem はダイジェスト内の競合サマリー。
type CompetitorDigestItem struct {
	CompetitorID   string  `json:"competitor_id"`
	Name           string  `json:"name"`
	SentimentDelta float64 `json:"sentiment_delta"`
	Highlight      string  `json:"highlight,omitempty"`
}

// DigestResponse はオンデマンド生成されたダイジェスト。
// KeyMetricsの値は文字列または数値。
type DigestResponse struct {
	DigestID          string                 `json:"digest_id"`
	TimeframeStart    time.Time              `json:"timeframe_start"`
	TimeframeEnd      time.Time              `json:"timeframe_end"`
	GeneratedAt       time.Time              `json:"generated_at"`
	Highlights        []string               `json:"highlights"`
	KeyMetrics        map[string]any         `json:"key_metrics"`
	SentimentSnapshot *SentimentSummary      `json:"sentiment_snapshot,omitempty"`
	TopicSpotlight    []TopicSpotlight       `json:"topic_spotlight,omitempty"`
	CompetitorSummary []CompetitorDigestItem `json:"competitor_summary,omitempty"`
}

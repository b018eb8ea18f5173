package model

import "time"

// SentimentLabel はレビューの感情ラベル。
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "Positive"
	SentimentNeutral  SentimentLabel = "Neutral"
	SentimentNegative SentimentLabel = "Negative"
)

// Sentiment は感情ラベルとスコア（-1.0〜1.0）。
type Sentiment struct {
	Label SentimentLabel `json:"label"`
	Score float64        `json:"score"`
}

// TopicScore はトピックと確信度（0〜1）。
type TopicScore struct {
	TopicLabel      string  `json:"topic_label"`
	TopicConfidence float64 `json:"topic_confidence"`
}

// Pagination はページング情報。
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// Consistent はtotal_pages == ceil(total_items / page_size) を満たすかを返す。
// サーバー側の契約であり、クライアントでは強制しない。
func (p Pagination) Consistent() bool {
	if p.PageSize <= 0 {
		return p.TotalPages == 0
	}
	return p.TotalPages == (p.TotalItems+p.PageSize-1)/p.PageSize
}

// SentimentTrendPoint は日付単位の感情件数。
type SentimentTrendPoint struct {
	Date         string   `json:"date"`
	Positive     int      `json:"positive"`
	Neutral      int      `json:"neutral"`
	Negative     int      `json:"negative"`
	AverageScore *float64 `json:"average_score,omitempty"`
}

// Total はその日のレビュー件数（positive + neutral + negative）を返す。
func (p SentimentTrendPoint) Total() int {
	return p.Positive + p.Neutral + p.Negative
}

// TopicDistributionItem はトピックごとのレビュー件数。
type TopicDistributionItem struct {
	TopicLabel        string  `json:"topic_label"`
	ReviewCount       int     `json:"review_count"`
	AverageConfidence float64 `json:"average_confidence"`
}

// SourceBreakdownItem はレビューソースごとの集計。
type SourceBreakdownItem struct {
	SourceID              string  `json:"source_id"`
	SourceName            string  `json:"source_name"`
	ReviewCount           int     `json:"review_count"`
	AverageSentimentScore float64 `json:"average_sentiment_score"`
}

// RecentReview はインサイトに含まれる直近のレビュー。
type RecentReview struct {
	ReviewID       string       `json:"review_id"`
	SourceID       string       `json:"source_id"`
	SourceReviewID string       `json:"source_review_id"`
	Title          string       `json:"title"`
	Body           string       `json:"body,omitempty"`
	Sentiment      Sentiment    `json:"sentiment"`
	Topics         []TopicScore `json:"topics,omitempty"`
	Rating         *float64     `json:"rating,omitempty"`
	PublishedAt    time.Time    `json:"published_at"`
}

// InsightsResponse は GET /insights のレスポンス。
// 取得した時点のスナップショットとして扱い、ローカルで変更しない。
type InsightsResponse struct {
	Pagination        Pagination              `json:"pagination"`
	SentimentTrend    []SentimentTrendPoint   `json:"sentiment_trend"`
	TopicDistribution []TopicDistributionItem `json:"topic_distribution"`
	SourceBreakdown   []SourceBreakdownItem   `json:"source_breakdown"`
	RecentReviews     []RecentReview          `json:"recent_reviews"`
}

// InsightsFilter は GET /insights のクエリ条件。
// ゼロ値のフィールドは未指定として扱われ、クエリ文字列に含まれない。
type InsightsFilter struct {
	Page      int    `json:"page,omitempty"`
	PageSize  int    `json:"page_size,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	SourceID  string `json:"source_id,omitempty"`
	Sentiment string `json:"sentiment,omitempty"`
}

package model

import "time"

// Competitor はベンチマーク対象の競合。
type Competitor struct {
	CompetitorID string    `json:"competitor_id"`
	Name         string    `json:"name"`
	URL          string    `json:"url,omitempty"`
	Description  string    `json:"description,omitempty"`
	Tags         []string  `json:"tags"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CompetitorCreate は POST /competitors のリクエストボディ。
type CompetitorCreate struct {
	Name        string   `json:"name"`
	URL         string   `json:"url,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// CompetitorUpdate は PATCH /competitors/{id} の部分更新ボディ。
// nilのフィールドは送信されない。
type CompetitorUpdate struct {
	Name        *string   `json:"name,omitempty"`
	URL         *string   `json:"url,omitempty"`
	Description *string   `json:"description,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

// Empty は更新対象のフィールドが1つもないかを返す。
func (u CompetitorUpdate) Empty() bool {
	return u.Name == nil && u.URL == nil && u.Description == nil && u.Tags == nil
}

// CompetitorListResponse は GET /competitors のレスポンス。
type CompetitorListResponse struct {
	Pagination Pagination   `json:"pagination"`
	Items      []Competitor `json:"items"`
}

// PageParams は一覧APIのページング指定。ゼロ値は未指定。
type PageParams struct {
	Page     int
	PageSize int
}

// DateRange は期間指定（YYYY-MM-DD）。空文字は未指定。
type DateRange struct {
	StartDate string
	EndDate   string
}

// SentimentSummary は期間内の感情集計。
type SentimentSummary struct {
	Positive     int     `json:"positive"`
	Neutral      int     `json:"neutral"`
	Negative     int     `json:"negative"`
	AverageScore float64 `json:"average_score"`
	ReviewCount  int     `json:"review_count"`
}

// TopicComparison は自社と競合のトピック占有率の比較。
type TopicComparison struct {
	TopicLabel      string  `json:"topic_label"`
	SelfShare       float64 `json:"self_share"`
	CompetitorShare float64 `json:"competitor_share"`
	Delta           float64 `json:"delta"`
}

// CompetitorComparisonResponse は GET /competitors/{id}/comparison のレスポンス。
type CompetitorComparisonResponse struct {
	Competitor          Competitor        `json:"competitor"`
	SelfSentiment       SentimentSummary  `json:"self_sentiment"`
	CompetitorSentiment SentimentSummary  `json:"competitor_sentiment"`
	TopTopics           []TopicComparison `json:"top_topics"`
}

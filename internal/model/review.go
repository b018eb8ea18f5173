package model

import "time"

// ReviewIngestItem は取り込み対象のレビュー1件。
// Ratingは0〜5で、評価を持たないソースではnil。
type ReviewIngestItem struct {
	SourceReviewID string         `json:"source_review_id"`
	Title          string         `json:"title,omitempty"`
	Body           string         `json:"body"`
	Rating         *float64       `json:"rating,omitempty"`
	AuthorName     string         `json:"author_name,omitempty"`
	Language       string         `json:"language,omitempty"`
	Location       string         `json:"location,omitempty"`
	PublishedAt    time.Time      `json:"published_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// SourceMetadata はレビューソースの付帯情報。
type SourceMetadata struct {
	ExternalID string `json:"external_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Platform   string `json:"platform,omitempty"`
	URL        string `json:"url,omitempty"`
}

// ReviewIngestRequest は POST /ingest のリクエストボディ。
type ReviewIngestRequest struct {
	SourceID                string             `json:"source_id"`
	OverwriteSourceMetadata bool               `json:"overwrite_source_metadata,omitempty"`
	SourceMetadata          *SourceMetadata    `json:"source_metadata,omitempty"`
	Reviews                 []ReviewIngestItem `json:"reviews"`
}

// ReviewIngestResponse は POST /ingest のレスポンス。
type ReviewIngestResponse struct {
	IngestedCount  int      `json:"ingested_count"`
	DuplicateCount int      `json:"duplicate_count"`
	ReviewIDs      []string `json:"review_ids"`
	Message        string   `json:"message,omitempty"`
}

// AnalyzeRequest は POST /analyze のリクエストボディ。
type AnalyzeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// AnalyzeResponse は POST /analyze のレスポンス。
type AnalyzeResponse struct {
	Sentiment Sentiment    `json:"sentiment"`
	Topics    []TopicScore `json:"topics"`
}

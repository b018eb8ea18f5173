package insights

import (
	"fmt"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/hitoshi/customervoice/internal/model"
	"github.com/hitoshi/customervoice/internal/security"
)

const (
	// ExcerptLength はレビュー本文の抜粋の最大文字数。
	ExcerptLength = 220
	// RecentReviewLimit はダッシュボードに並べる直近レビューの件数。
	RecentReviewLimit = 6
)

var numberPrinter = message.NewPrinter(language.AmericanEnglish)

// FormatNumber は3桁区切りの数値文字列を返す。
func FormatNumber(n int) string {
	return numberPrinter.Sprintf("%d", n)
}

// FormatPercent は0〜1の値を小数1桁のパーセント表記にする。
func FormatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// FormatDateShort は "Jan 2" 形式の日付を返す。
func FormatDateShort(t time.Time) string {
	return t.Format("Jan 2")
}

// Truncate はlimit文字を超える場合に切り詰めて "..." を付ける。
func Truncate(s string, limit int) string {
	if limit < 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + "..."
}

// Excerpt はレビュー本文からHTMLを除去し、ExcerptLengthで切り詰める。
func Excerpt(body string) string {
	return Truncate(security.PlainText(body), ExcerptLength)
}

// Tone は感情ラベルの表示区分。
type Tone string

const (
	TonePositive Tone = "positive"
	ToneNegative Tone = "negative"
	ToneNeutral  Tone = "neutral"
)

// SentimentTone は感情ラベルを表示区分に変換する。未知のラベルはneutral。
func SentimentTone(label model.SentimentLabel) Tone {
	switch label {
	case model.SentimentPositive:
		return TonePositive
	case model.SentimentNegative:
		return ToneNegative
	default:
		return ToneNeutral
	}
}

// ReviewCard は直近レビューの表示用データ。
type ReviewCard struct {
	ReviewID  string               `json:"review_id"`
	Title     string               `json:"title"`
	Excerpt   string               `json:"excerpt"`
	Sentiment model.SentimentLabel `json:"sentiment"`
	Tone      Tone                 `json:"tone"`
	Published string               `json:"published"`
}

// RecentReviews は直近レビューのうち先頭RecentReviewLimit件を表示用に変換する。
func RecentReviews(resp *model.InsightsResponse) []ReviewCard {
	if resp == nil {
		return nil
	}
	n := min(len(resp.RecentReviews), RecentReviewLimit)
	cards := make([]ReviewCard, 0, n)
	for _, r := range resp.RecentReviews[:n] {
		cards = append(cards, ReviewCard{
			ReviewID:  r.ReviewID,
			Title:     r.Title,
			Excerpt:   Excerpt(r.Body),
			Sentiment: r.Sentiment.Label,
			Tone:      SentimentTone(r.Sentiment.Label),
			Published: FormatDateShort(r.PublishedAt),
		})
	}
	return cards
}

package insights

import (
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/customervoice/internal/model"
)

func TestFormatNumber(t *testing.T) {
	tests := map[int]string{0: "0", 999: "999", 1234: "1,234", 1234567: "1,234,567", -4500: "-4,500"}
	for in, want := range tests {
		if got := FormatNumber(in); got != want {
			t.Errorf("FormatNumber(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatPercent(t *testing.T) {
	tests := map[float64]string{0: "0.0%", 0.6: "60.0%", 0.1234: "12.3%", 1: "100.0%"}
	for in, want := range tests {
		if got := FormatPercent(in); got != want {
			t.Errorf("FormatPercent(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatDateShort(t *testing.T) {
	d := time.Date(2026, time.January, 2, 15, 4, 0, 0, time.UTC)
	if got := FormatDateShort(d); got != "Jan 2" {
		t.Errorf("FormatDateShort() = %q, want %q", got, "Jan 2")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "上限以下", in: "short", limit: 10, want: "short"},
		{name: "ちょうど上限", in: "12345", limit: 5, want: "12345"},
		{name: "上限超過", in: "123456", limit: 5, want: "12345..."},
		{name: "マルチバイト", in: "あいうえお", limit: 3, want: "あいう..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.limit); got != tt.want {
				t.Errorf("Truncate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExcerpt(t *testing.T) {
	body := "<p>" + strings.Repeat("a", 300) + "</p>"
	got := Excerpt(body)
	if got != strings.Repeat("a", ExcerptLength)+"..." {
		t.Errorf("Excerpt() = %q", got)
	}
}

func TestSentimentTone(t *testing.T) {
	tests := map[model.SentimentLabel]Tone{
		model.SentimentPositive: TonePositive,
		model.SentimentNegative: ToneNegative,
		model.SentimentNeutral:  ToneNeutral,
		"Mixed":                 ToneNeutral,
	}
	for in, want := range tests {
		if got := SentimentTone(in); got != want {
			t.Errorf("SentimentTone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRecentReviews(t *testing.T) {
	resp := &model.InsightsResponse{}
	for i := range 8 {
		resp.RecentReviews = append(resp.RecentReviews, model.RecentReview{
			ReviewID:    string(rune('a' + i)),
			Title:       "title",
			Body:        "<b>Great</b> support",
			Sentiment:   model.Sentiment{Label: model.SentimentPositive, Score: 0.7},
			PublishedAt: time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC),
		})
	}

	cards := RecentReviews(resp)
	if len(cards) != RecentReviewLimit {
		t.Fatalf("len = %d, want %d", len(cards), RecentReviewLimit)
	}
	first := cards[0]
	if first.ReviewID != "a" || first.Excerpt != "Great support" || first.Tone != TonePositive || first.Published != "Mar 9" {
		t.Errorf("cards[0] = %+v", first)
	}
	if RecentReviews(nil) != nil {
		t.Error("RecentReviews(nil) != nil")
	}
}

// Package insights はインサイトのスナップショットから画面表示用の集計値を導出する。
package insights

import "github.com/hitoshi/customervoice/internal/model"

// Summary はInsightsResponseから導出した表示用の集計値。
// 入力のスライスとは領域を共有しないため、そのまま表示層へ渡してよい。
type Summary struct {
	TotalReviews int `json:"total_reviews"`
	SourceCount  int `json:"source_count"`

	Positive int `json:"positive"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`

	// PositiveShareは0〜1。感情の集計がない場合は0でSentimentAvailableがfalse。
	PositiveShare      float64 `json:"positive_share"`
	SentimentAvailable bool    `json:"sentiment_available"`

	NegativeCount int `json:"negative_count"`

	AverageTopicsPerReview float64 `json:"average_topics_per_review"`
	LatestAverageScore     float64 `json:"latest_average_score"`

	TopTopic  *model.TopicDistributionItem `json:"top_topic,omitempty"`
	TopSource *model.SourceBreakdownItem   `json:"top_source,omitempty"`

	HasData bool `json:"has_data"`
}

// Summarize はレスポンスを集計する。入力は変更しない。nilはゼロ値を返す。
//
// topic_distributionは件数の降順で返される前提で、先頭をTopTopicとする。
// TopSourceはaverage_sentiment_scoreの最大値で、同値の場合は先に現れたものを採る。
func Summarize(resp *model.InsightsResponse) Summary {
	if resp == nil {
		return Summary{}
	}

	s := Summary{
		TotalReviews: resp.Pagination.TotalItems,
		SourceCount:  len(resp.SourceBreakdown),
		HasData:      resp.Pagination.TotalItems > 0,
	}

	for _, p := range resp.SentimentTrend {
		s.Positive += p.Positive
		s.Neutral += p.Neutral
		s.Negative += p.Negative
	}
	if total := s.Positive + s.Neutral + s.Negative; total > 0 {
		s.PositiveShare = float64(s.Positive) / float64(total)
		s.SentimentAvailable = true
		s.NegativeCount = s.Negative
	} else {
		s.NegativeCount = countNegativeReviews(resp.RecentReviews)
	}

	if n := len(resp.SentimentTrend); n > 0 && resp.SentimentTrend[n-1].AverageScore != nil {
		s.LatestAverageScore = *resp.SentimentTrend[n-1].AverageScore
	}

	if s.TotalReviews > 0 {
		var mentions int
		for _, t := range resp.TopicDistribution {
			mentions += t.ReviewCount
		}
		s.AverageTopicsPerReview = float64(mentions) / float64(s.TotalReviews)
	}

	if len(resp.TopicDistribution) > 0 {
		top := resp.TopicDistribution[0]
		s.TopTopic = &top
	}

	for i := range resp.SourceBreakdown {
		if s.TopSource == nil || resp.SourceBreakdown[i].AverageSentimentScore > s.TopSource.AverageSentimentScore {
			src := resp.SourceBreakdown[i]
			s.TopSource = &src
		}
	}

	return s
}

func countNegativeReviews(reviews []model.RecentReview) int {
	var n int
	for _, r := range reviews {
		if r.Sentiment.Label == model.SentimentNegative {
			n++
		}
	}
	return n
}

// PositiveSharePercent は肯定的な割合を0〜100の整数に丸めて返す。
// 感情の集計がない場合はfalseを返す。
func (s Summary) PositiveSharePercent() (int, bool) {
	if !s.SentimentAvailable {
		return 0, false
	}
	return int(s.PositiveShare*100 + 0.5), true
}

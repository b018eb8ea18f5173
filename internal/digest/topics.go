package digest

import (
	"cmp"
	"slices"

	"github.com/hitoshi/customervoice/internal/model"
)

// spotlightLimit は称賛・不満それぞれに並べるトピック数。
const spotlightLimit = 3

// SplitTopics は注目トピックを称賛（変化が0以上、降順）と不満（負、昇順）に分け、
// それぞれ上位3件を返す。入力は変更しない。
func SplitTopics(d *model.DigestResponse) (praise, complaints []model.TopicSpotlight) {
	if d == nil {
		return nil, nil
	}
	for _, t := range d.TopicSpotlight {
		if t.ChangeVsPrevious >= 0 {
			praise = append(praise, t)
		} else {
			complaints = append(complaints, t)
		}
	}
	slices.SortStableFunc(praise, func(a, b model.TopicSpotlight) int {
		return cmp.Compare(b.ChangeVsPrevious, a.ChangeVsPrevious)
	})
	slices.SortStableFunc(complaints, func(a, b model.TopicSpotlight) int {
		return cmp.Compare(a.ChangeVsPrevious, b.ChangeVsPrevious)
	})
	return truncate(praise), truncate(complaints)
}

func truncate(topics []model.TopicSpotlight) []model.TopicSpotlight {
	if len(topics) > spotlightLimit {
		return topics[:spotlightLimit]
	}
	return topics
}

// FirstQuote は先頭のサンプル引用を返す。なければ空文字。
func FirstQuote(t model.TopicSpotlight) string {
	if len(t.SampleQuotes) == 0 {
		return ""
	}
	return t.SampleQuotes[0]
}

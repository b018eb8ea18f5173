package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/customervoice/internal/model"
	"github.com/hitoshi/customervoice/internal/storage"
)

// FrequencyPreferenceKey は配信頻度の設定を保存するキー。
const FrequencyPreferenceKey = "cv_digest_frequency"

// Frequency はダイジェストの集計周期。
type Frequency string

const (
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// ParseFrequency は文字列をFrequencyに変換する。未知の値はエラー。
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(s))); f {
	case Weekly, Monthly:
		return f, nil
	default:
		return "", fmt.Errorf("unknown digest frequency %q (want weekly or monthly)", s)
	}
}

// NormalizeFrequency は保存値をFrequencyに変換する。monthly以外はweekly。
func NormalizeFrequency(s string) Frequency {
	if Frequency(s) == Monthly {
		return Monthly
	}
	return Weekly
}

// Timeframe はnowを終端とする集計期間を返す。
// weeklyは7日前、monthlyは1か月前が始端。
func (f Frequency) Timeframe(now time.Time) (start, end time.Time) {
	end = now.UTC()
	if f == Monthly {
		return end.AddDate(0, -1, 0), end
	}
	return end.AddDate(0, 0, -7), end
}

// Request は周期に応じたダイジェスト要求を組み立てる。競合の比較は常に含める。
func (f Frequency) Request(now time.Time) model.DigestRequest {
	start, end := f.Timeframe(now)
	include := true
	return model.DigestRequest{
		TimeframeStart:     &start,
		TimeframeEnd:       &end,
		IncludeCompetitors: &include,
	}
}

// LoadFrequency は保存された配信頻度を読む。未保存ならweekly。
func LoadFrequency(ctx context.Context, store *storage.SoftStore) Frequency {
	v, _ := store.Get(ctx, FrequencyPreferenceKey)
	return NormalizeFrequency(v)
}

// SaveFrequency は配信頻度を保存する。
func SaveFrequency(ctx context.Context, store *storage.SoftStore, f Frequency) {
	store.Set(ctx, FrequencyPreferenceKey, string(NormalizeFrequency(string(f))))
}

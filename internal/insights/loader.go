package insights

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hitoshi/customervoice/internal/model"
)

// DefaultPageSize はダッシュボードが1回に取得する件数。
const DefaultPageSize = 25

// LoadFailedMessage はAPIエラー以外で取得に失敗した場合の表示文言。
const LoadFailedMessage = "Unable to load insights right now."

// ErrSuperseded は後発の読み込みが発行されたため結果を破棄したことを表す。
var ErrSuperseded = errors.New("insights load superseded by a newer request")

// Fetcher はインサイトを取得する。*api.Client が実装する。
type Fetcher interface {
	ListInsights(ctx context.Context, filter model.InsightsFilter) (*model.InsightsResponse, error)
}

// Snapshot は確定したインサイトの取得結果。
type Snapshot struct {
	Filter    model.InsightsFilter    `json:"filter"`
	Response  *model.InsightsResponse `json:"insights"`
	Summary   Summary                 `json:"summary"`
	FetchedAt time.Time               `json:"fetched_at"`
}

// Loader は最新の読み込み結果だけを保持する。
// 各Loadは単調増加の通番を持ち、完了時点でより新しいLoadが発行されていれば結果を捨てる。
type Loader struct {
	fetcher Fetcher
	now     func() time.Time

	mu      sync.Mutex
	seq     uint64
	current *Snapshot
	lastErr error
	loading bool
}

// NewLoader は新しいLoaderを生成する。
func NewLoader(fetcher Fetcher) *Loader {
	return &Loader{fetcher: fetcher, now: time.Now}
}

// Load はfilterでインサイトを取得し、最新の要求であれば現在のスナップショットとして確定する。
// PageSizeが0の場合はDefaultPageSizeを使う。
// 失敗した場合はスナップショットを破棄してエラーを保持する。
func (l *Loader) Load(ctx context.Context, filter model.InsightsFilter) (*Snapshot, error) {
	if filter.PageSize == 0 {
		filter.PageSize = DefaultPageSize
	}

	l.mu.Lock()
	l.seq++
	seq := l.seq
	l.loading = true
	l.mu.Unlock()

	resp, err := l.fetcher.ListInsights(ctx, filter)

	l.mu.Lock()
	defer l.mu.Unlock()
	if seq != l.seq {
		return nil, ErrSuperseded
	}
	l.loading = false
	if err != nil {
		l.current = nil
		l.lastErr = err
		return nil, err
	}

	l.current = &Snapshot{
		Filter:    filter,
		Response:  resp,
		Summary:   Summarize(resp),
		FetchedAt: l.now(),
	}
	l.lastErr = nil
	return l.current, nil
}

// Current は確定済みのスナップショットと直近の失敗を返す。
func (l *Loader) Current() (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current, l.lastErr
}

// Loading は確定待ちの読み込みがあるかを返す。
func (l *Loader) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

// Reset は保持中の結果を破棄する。実行中の読み込みの結果も反映されなくなる。
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.current = nil
	l.lastErr = nil
	l.loading = false
}

// ErrorMessage は読み込み失敗時に表示する文言を返す。
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	return LoadFailedMessage
}

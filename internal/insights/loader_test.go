package insights

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hitoshi/customervoice/internal/model"
)

// blockingFetcher は呼び出しごとにチャネルで応答を制御するFetcher。
type blockingFetcher struct {
	mu      sync.Mutex
	calls   []model.InsightsFilter
	started chan struct{}
	release map[string]chan result
}

type result struct {
	resp *model.InsightsResponse
	err  error
}

func newBlockingFetcher(keys ...string) *blockingFetcher {
	f := &blockingFetcher{
		started: make(chan struct{}, 16),
		release: make(map[string]chan result),
	}
	for _, k := range keys {
		f.release[k] = make(chan result, 1)
	}
	return f
}

func (f *blockingFetcher) ListInsights(ctx context.Context, filter model.InsightsFilter) (*model.InsightsResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, filter)
	ch := f.release[filter.SourceID]
	f.mu.Unlock()
	f.started <- struct{}{}
	r := <-ch
	return r.resp, r.err
}

func responseWithTotal(n int) *model.InsightsResponse {
	return &model.InsightsResponse{Pagination: model.Pagination{TotalItems: n}}
}

func TestLoader_Load(t *testing.T) {
	f := newBlockingFetcher("")
	f.release[""] <- result{resp: responseWithTotal(7)}
	l := NewLoader(f)

	snap, err := l.Load(context.Background(), model.InsightsFilter{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if snap.Filter.PageSize != DefaultPageSize {
		t.Errorf("PageSize = %d, want %d", snap.Filter.PageSize, DefaultPageSize)
	}
	if snap.Summary.TotalReviews != 7 || !snap.Summary.HasData {
		t.Errorf("Summary = %+v", snap.Summary)
	}
	cur, curErr := l.Current()
	if cur != snap || curErr != nil {
		t.Errorf("Current() = %p, %v, want %p, nil", cur, curErr, snap)
	}
	if l.Loading() {
		t.Error("Loading() = true after completion")
	}
}

// 先に発行した読み込みが後から完了しても、新しい結果を上書きしないこと。
func TestLoader_StaleResultIsDiscarded(t *testing.T) {
	f := newBlockingFetcher("old", "new")
	l := NewLoader(f)

	oldDone := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), model.InsightsFilter{SourceID: "old"})
		oldDone <- err
	}()
	<-f.started

	newDone := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), model.InsightsFilter{SourceID: "new"})
		newDone <- err
	}()
	<-f.started

	f.release["new"] <- result{resp: responseWithTotal(2)}
	if err := <-newDone; err != nil {
		t.Fatalf("new Load() error = %v", err)
	}

	f.release["old"] <- result{resp: responseWithTotal(99)}
	if err := <-oldDone; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("old Load() error = %v, want ErrSuperseded", err)
	}

	cur, _ := l.Current()
	if cur == nil || cur.Filter.SourceID != "new" || cur.Summary.TotalReviews != 2 {
		t.Errorf("Current() = %+v, want the newer snapshot", cur)
	}
}

func TestLoader_StaleErrorIsDiscarded(t *testing.T) {
	f := newBlockingFetcher("old", "new")
	l := NewLoader(f)

	oldDone := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), model.InsightsFilter{SourceID: "old"})
		oldDone <- err
	}()
	<-f.started

	f.release["new"] <- result{resp: responseWithTotal(3)}
	if _, err := l.Load(context.Background(), model.InsightsFilter{SourceID: "new"}); err != nil {
		t.Fatalf("new Load() error = %v", err)
	}

	f.release["old"] <- result{err: errors.New("boom")}
	if err := <-oldDone; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("old Load() error = %v, want ErrSuperseded", err)
	}
	cur, curErr := l.Current()
	if cur == nil || curErr != nil {
		t.Errorf("Current() = %v, %v, want snapshot without error", cur, curErr)
	}
}

func TestLoader_FailureClearsSnapshot(t *testing.T) {
	f := newBlockingFetcher("")
	l := NewLoader(f)
	f.release[""] <- result{resp: responseWithTotal(1)}
	if _, err := l.Load(context.Background(), model.InsightsFilter{}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	apiErr := model.NewAPIError(500, &model.ErrorResponse{Message: "Insights backend unavailable."})
	f.release[""] <- result{err: apiErr}
	_, err := l.Load(context.Background(), model.InsightsFilter{})
	if !errors.Is(err, apiErr) {
		t.Fatalf("Load() error = %v, want %v", err, apiErr)
	}

	cur, curErr := l.Current()
	if cur != nil {
		t.Errorf("Current() snapshot = %+v, want nil", cur)
	}
	if got := ErrorMessage(curErr); got != "Insights backend unavailable." {
		t.Errorf("ErrorMessage() = %q", got)
	}
}

func TestLoader_ResetDropsInFlight(t *testing.T) {
	f := newBlockingFetcher("")
	l := NewLoader(f)

	done := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), model.InsightsFilter{})
		done <- err
	}()
	<-f.started
	l.Reset()
	f.release[""] <- result{resp: responseWithTotal(5)}

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("Load() error = %v, want ErrSuperseded", err)
	}
	if cur, _ := l.Current(); cur != nil {
		t.Errorf("Current() = %+v, want nil after Reset", cur)
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "APIエラーはサーバーの文言", err: model.NewAPIError(403, &model.ErrorResponse{Message: "Forbidden."}), want: "Forbidden."},
		{name: "その他は固定文言", err: errors.New("dial tcp: refused"), want: LoadFailedMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorMessage(tt.err); got != tt.want {
				t.Errorf("ErrorMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

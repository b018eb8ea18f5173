package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/customervoice/internal/model"
	"github.com/hitoshi/customervoice/internal/security"
)

// ErrFeedNotFound はURLからフィードを見つけられなかったことを表す。
var ErrFeedNotFound = errors.New("no RSS or Atom feed found")

// Ingester はレビューをAPIへ送る。*api.Client が実装する。
type Ingester interface {
	Ingest(ctx context.Context, payload model.ReviewIngestRequest) (*model.ReviewIngestResponse, error)
}

// ImporterOptions はImporterの設定。ゼロ値の項目は既定値になる。
type ImporterOptions struct {
	// HTTPClient はフィード取得に使うクライアント（デフォルト: SSRF対策済みクライアント）。
	HTTPClient *http.Client
	// ValidateURL は取得前のURL検証（デフォルト: security.ValidateSourceURL）。
	ValidateURL func(string) error
	Timeout     time.Duration
	MaxBodySize int64
	Logger      *slog.Logger
}

// Importer はソースのフィードを取得してレビューとして取り込む。
type Importer struct {
	ingester    Ingester
	client      *http.Client
	validate    func(string) error
	maxBodySize int64
	logger      *slog.Logger
	now         func() time.Time
}

// NewImporter は新しいImporterを生成する。
func NewImporter(ingester Ingester, opts ImporterOptions) *Importer {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = security.NewFetchClient(opts.Timeout)
	}
	if opts.ValidateURL == nil {
		opts.ValidateURL = security.ValidateSourceURL
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 5 * 1024 * 1024
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Importer{
		ingester:    ingester,
		client:      opts.HTTPClient,
		validate:    opts.ValidateURL,
		maxBodySize: opts.MaxBodySize,
		logger:      opts.Logger,
		now:         time.Now,
	}
}

// Fetch はソースのフィードを取得し、取り込み用のレビューに変換する。
// URLがHTMLページの場合は宣言されたフィードを1回だけたどる。
func (im *Importer) Fetch(ctx context.Context, src Source) ([]model.ReviewIngestItem, error) {
	body, contentType, err := im.get(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	if !isFeedResponse(contentType, body) {
		if !strings.Contains(mediaType(contentType), "html") {
			return nil, fmt.Errorf("%w at %s", ErrFeedNotFound, src.URL)
		}
		link, ok := selectFeed(discoverFeedLinks(body, src.URL), src.URL)
		if !ok {
			return nil, fmt.Errorf("%w at %s", ErrFeedNotFound, src.URL)
		}
		im.logger.Debug("HTMLからフィードを検出しました",
			slog.String("source_id", src.ID),
			slog.String("feed_url", link.URL),
		)
		body, _, err = im.get(ctx, link.URL)
		if err != nil {
			return nil, err
		}
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", src.URL, err)
	}
	return convertItems(feed.Items, src, im.now()), nil
}

func (im *Importer) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err := im.validate(rawURL); err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "CustomerVoice/1.0 Review Importer")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.9, */*;q=0.8")

	resp, err := im.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, im.maxBodySize))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// Import はソースのフィードを取得してAPIへ取り込む。
// 取り込み対象がない場合はAPIを呼ばずに空の結果を返す。
func (im *Importer) Import(ctx context.Context, src Source) (*model.ReviewIngestResponse, error) {
	start := im.now()
	items, err := im.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		im.logger.Info("取り込み対象のレビューがありません", slog.String("source_id", src.ID))
		return &model.ReviewIngestResponse{ReviewIDs: []string{}}, nil
	}

	resp, err := im.ingester.Ingest(ctx, model.ReviewIngestRequest{
		SourceID:                src.ID,
		OverwriteSourceMetadata: true,
		SourceMetadata:          src.Metadata(),
		Reviews:                 items,
	})
	if err != nil {
		return nil, err
	}

	im.logger.Info("レビューを取り込みました",
		slog.String("source_id", src.ID),
		slog.Int("entries", len(items)),
		slog.Int("ingested_count", resp.IngestedCount),
		slog.Int("duplicate_count", resp.DuplicateCount),
		slog.Float64("duration_ms", float64(im.now().Sub(start).Milliseconds())),
	)
	return resp, nil
}

// Result はソース1件分の取り込み結果。
type Result struct {
	Source   Source                      `json:"source"`
	Response *model.ReviewIngestResponse `json:"response,omitempty"`
	Err      error                       `json:"-"`
}

// ImportAll はソースを順に取り込む。1件の失敗で残りを止めない。
// すべて失敗した場合のみエラーを返す。
func (im *Importer) ImportAll(ctx context.Context, sources []Source) ([]Result, error) {
	results := make([]Result, 0, len(sources))
	var errs []error
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		resp, err := im.Import(ctx, src)
		if err != nil {
			im.logger.Error("レビューの取り込みに失敗しました",
				slog.String("source_id", src.ID),
				slog.String("url", src.URL),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name, err))
		}
		results = append(results, Result{Source: src, Response: resp, Err: err})
	}
	if len(sources) > 0 && len(errs) == len(sources) {
		return results, errors.Join(errs...)
	}
	return results, nil
}

// convertItems はフィードのエントリをレビューに変換する。本文が空のエントリは除く。
func convertItems(items []*gofeed.Item, src Source, now time.Time) []model.ReviewIngestItem {
	out := make([]model.ReviewIngestItem, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		title := security.PlainText(it.Title)
		body := security.PlainText(it.Content)
		if body == "" {
			body = security.PlainText(it.Description)
		}
		if body == "" {
			body = title
		}
		if body == "" {
			continue
		}

		review := model.ReviewIngestItem{
			SourceReviewID: entryID(it),
			Title:          title,
			Body:           body,
			Language:       src.Language,
			PublishedAt:    now.UTC(),
		}
		switch {
		case it.PublishedParsed != nil:
			review.PublishedAt = it.PublishedParsed.UTC()
		case it.UpdatedParsed != nil:
			review.PublishedAt = it.UpdatedParsed.UTC()
		}
		if it.Author != nil {
			review.AuthorName = it.Author.Name
		}
		if review.AuthorName == "" && len(it.Authors) > 0 && it.Authors[0] != nil {
			review.AuthorName = it.Authors[0].Name
		}
		if it.Link != "" {
			review.Metadata = map[string]any{"link": it.Link}
		}
		out = append(out, review)
	}
	return out
}

// entryID はエントリの安定した識別子を返す。GUID、リンク、タイトルと日付のハッシュの順に使う。
func entryID(it *gofeed.Item) string {
	if it.GUID != "" {
		return it.GUID
	}
	if it.Link != "" {
		return it.Link
	}
	sum := sha256.Sum256([]byte(it.Title + "\x00" + it.Published + "\x00" + it.Content + it.Description))
	return hex.EncodeToString(sum[:16])
}

package digest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/customervoice/internal/model"
)

// Runner はダイジェストを生成する。*api.Client が実装する。
type Runner interface {
	RunDigest(ctx context.Context, payload model.DigestRequest) (*model.DigestResponse, error)
}

// RunObserver はスケジュール実行の結果を受け取る。
type RunObserver interface {
	ObserveDigestRun(status string)
}

// SchedulerConfig はダイジェスト定期配信の設定。
type SchedulerConfig struct {
	// Interval は実行間隔（デフォルト: 24時間）。
	Interval   time.Duration
	Frequency  Frequency
	Recipients []string
}

// Scheduler はダイジェストを定期的に生成して配信するジョブ。
// 連続して失敗した場合は一定時間実行を見送る。
type Scheduler struct {
	runner   Runner
	mailer   Mailer
	logger   *slog.Logger
	config   SchedulerConfig
	observer RunObserver
	now      func() time.Time

	consecutiveErrors int
	backoffUntil      time.Time
}

// NewScheduler は新しいSchedulerを生成する。
func NewScheduler(runner Runner, mailer Mailer, logger *slog.Logger, config SchedulerConfig) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	if config.Frequency == "" {
		config.Frequency = Weekly
	}
	return &Scheduler{
		runner: runner,
		mailer: mailer,
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// SetObserver は実行結果の通知先を設定する。
func (s *Scheduler) SetObserver(o RunObserver) {
	s.observer = o
}

// Start はコンテキストがキャンセルされるまでIntervalごとにRunOnceを実行する。
// 起動直後にも1回実行する。
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("ダイジェスト配信ジョブを開始しました",
		slog.Duration("interval", s.config.Interval),
		slog.String("frequency", string(s.config.Frequency)),
		slog.Int("recipients", len(s.config.Recipients)),
	)

	s.runAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ダイジェスト配信ジョブを停止しました")
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Scheduler) runAndLog(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("ダイジェスト配信に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce はダイジェストを1回生成して配信する。
// 設定エラーはバックオフの対象にしない。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := s.now()

	if !s.backoffUntil.IsZero() && start.Before(s.backoffUntil) {
		s.logger.Info("ダイジェスト配信ジョブはバックオフ中のためスキップします",
			slog.Time("backoff_until", s.backoffUntil),
		)
		s.observe("skipped")
		return nil
	}

	digest, err := s.runner.RunDigest(ctx, s.config.Frequency.Request(start))
	if err != nil {
		if model.IsConfigError(err) {
			s.observe("config_error")
			return fmt.Errorf("ダイジェストの生成に失敗しました: %w", err)
		}
		s.recordFailure(start)
		return fmt.Errorf("ダイジェストの生成に失敗しました: %w", err)
	}

	msg, err := BuildMessage(digest, s.config.Frequency, s.config.Recipients)
	if err != nil {
		s.observe("failed")
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.recordFailure(start)
		return fmt.Errorf("ダイジェストの配信に失敗しました: %w", err)
	}

	s.consecutiveErrors = 0
	s.backoffUntil = time.Time{}
	s.observe("delivered")
	s.logger.Info("ダイジェストを配信しました",
		slog.String("digest_id", digest.DigestID),
		slog.Int("highlights", len(digest.Highlights)),
		slog.Float64("duration_ms", float64(s.now().Sub(start).Milliseconds())),
	)
	return nil
}

func (s *Scheduler) recordFailure(now time.Time) {
	s.consecutiveErrors++
	s.observe("failed")
	if backoff := errorBackoff(s.consecutiveErrors); backoff > 0 {
		s.backoffUntil = now.Add(backoff)
		s.logger.Warn("連続エラーによりバックオフを適用します",
			slog.Int("consecutive_errors", s.consecutiveErrors),
			slog.Duration("backoff_duration", backoff),
		)
	}
}

func (s *Scheduler) observe(status string) {
	if s.observer != nil {
		s.observer.ObserveDigestRun(status)
	}
}

// errorBackoff は連続エラー回数に応じた待機時間。3回で1時間、5回で6時間、10回で24時間。
func errorBackoff(consecutiveErrors int) time.Duration {
	switch {
	case consecutiveErrors >= 10:
		return 24 * time.Hour
	case consecutiveErrors >= 5:
		return 6 * time.Hour
	case consecutiveErrors >= 3:
		return time.Hour
	default:
		return 0
	}
}

// BuildMessage はダイジェストからテキストとHTMLの両方を持つメールを組み立てる。
func BuildMessage(d *model.DigestResponse, f Frequency, to []string) (Message, error) {
	var text, html bytes.Buffer
	if err := RenderText(&text, d); err != nil {
		return Message{}, err
	}
	if err := RenderHTML(&html, d); err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: Subject(d, f),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

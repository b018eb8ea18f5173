package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/customervoice/internal/api"
	"github.com/hitoshi/customervoice/internal/config"
	"github.com/hitoshi/customervoice/internal/dashboard"
	"github.com/hitoshi/customervoice/internal/digest"
	"github.com/hitoshi/customervoice/internal/handler"
	"github.com/hitoshi/customervoice/internal/ingest"
	"github.com/hitoshi/customervoice/internal/metrics"
	"github.com/hitoshi/customervoice/internal/middleware"
	"github.com/hitoshi/customervoice/internal/storage"
)

// evictionInterval はアイドルなワークスペースをメモリから追い出す間隔。
const evictionInterval = 5 * time.Minute

// dashboardServer はダッシュボードサーバーの構成要素。
type dashboardServer struct {
	handler     http.Handler
	registry    *dashboard.Registry
	rateLimiter *middleware.RateLimiter
	purge       *storage.PurgeJob
	closers     []func() error
}

// newDashboardServer は全依存関係をワイヤリングする。
// DATABASE_URLがあればセッションをPostgreSQLに保存し、なければメモリに保持する。
func newDashboardServer(cfg *config.Config, log *slog.Logger) (*dashboardServer, error) {
	srv := &dashboardServer{}

	// 1. ストレージ
	var store storage.Store
	if cfg.DatabaseURL != "" {
		db, err := storage.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		srv.closers = append(srv.closers, db.Close)
		if err := db.Ping(); err != nil {
			srv.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := storage.Migrate(db, storage.DialectPostgres); err != nil {
			srv.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		store = storage.NewSQLStore(db, storage.DialectPostgres)
		log.Info("データベース接続を確立しました")
	} else {
		store = storage.NewMemory()
		log.Warn("DATABASE_URLが未設定のため、セッションはメモリに保持されます")
	}
	srv.purge = storage.NewPurgeJob(store, log)
	if cfg.PurgeInterval > 0 {
		srv.purge.Interval = cfg.PurgeInterval
	}

	// 2. メトリクス
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(promReg)

	// 3. REST APIクライアント
	requester, err := newRequester(cfg, log, collector)
	if err != nil {
		srv.Close()
		return nil, err
	}
	tokens := digest.NewTokenResolver(cfg.DigestToken, storage.NewSoftStore(storage.Namespace(store, "digest/"), log))
	srv.registry = dashboard.NewRegistry(dashboard.RegistryOptions{
		API:      api.NewClient(requester, nil, tokens),
		Store:    store,
		Logger:   log,
		Gauge:    collector,
		TokenTTL: time.Duration(cfg.SessionMaxAge) * time.Second,
	})

	// 4. ソース定義
	sources, err := ingest.LoadSources(cfg.SourcesFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			srv.Close()
			return nil, err
		}
		log.Info("ソース定義ファイルがないため、取り込み対象のソースはありません",
			slog.String("path", cfg.SourcesFile),
		)
	}

	// 5. ルーター
	srv.rateLimiter = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitGeneral), log)
	srv.closers = append(srv.closers, func() error {
		srv.rateLimiter.Stop()
		return nil
	})
	srv.handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		Workspaces:        srv.registry,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(promReg),
		RateLimiter:       srv.rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Cookie: middleware.CookieConfig{
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
			MaxAge: cfg.SessionMaxAge,
		},
		Sources: sources,
		ImporterOptions: ingest.ImporterOptions{
			Timeout:     cfg.FetchTimeout,
			MaxBodySize: cfg.FetchMaxSize,
			Logger:      log,
		},
	})
	return srv, nil
}

// Start はバックグラウンドジョブを起動する。ctxのキャンセルで停止する。
func (s *dashboardServer) Start(ctx context.Context) {
	go s.purge.Start(ctx)
	go s.registry.StartEviction(ctx, evictionInterval)
}

// Close は保持している接続を閉じる。
func (s *dashboardServer) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// runServe はダッシュボードサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	srv, err := newDashboardServer(cfg, log)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	srv.Start(ctx)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("ダッシュボードサーバーを起動しました",
			slog.String("addr", server.Addr),
			slog.String("base_url", cfg.BaseURL),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}
	log.Info("ダッシュボードサーバーを停止しています")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("ダッシュボードサーバーを停止しました")
	return nil
}

// Package app はサブコマンドの解析と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/customervoice/internal/api"
	"github.com/hitoshi/customervoice/internal/apiclient"
	"github.com/hitoshi/customervoice/internal/config"
	"github.com/hitoshi/customervoice/internal/digest"
	"github.com/hitoshi/customervoice/internal/logger"
	"github.com/hitoshi/customervoice/internal/session"
	"github.com/hitoshi/customervoice/internal/storage"
)

// streams はコマンドの入出力先。ログはoutを汚さないようlogへ出す。
type streams struct {
	in  io.Reader
	out io.Writer
	log io.Writer
}

// Init は環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		logger.SetupDefault(w, "info")
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logger.SetupDefault(w, cfg.LogLevel), nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。コマンドの出力はstdoutへ、ログは標準エラーへ書く。
func Run(stdout io.Writer, args []string) error {
	return run(context.Background(), streams{in: os.Stdin, out: stdout, log: os.Stderr}, args)
}

func run(ctx context.Context, s streams, args []string) error {
	cmd, rest, err := ParseCommand(args)
	if err != nil {
		printUsage(s.log)
		return err
	}

	switch cmd {
	case CommandHelp:
		printUsage(s.out)
		return nil
	case CommandHealthcheck:
		// 軽量サブコマンドのため、フル初期化をスキップする
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(ctx, port)
	}

	cfg, log, err := Init(s.log)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	log.Debug("コマンドを開始します", slog.String("command", string(cmd)))

	switch cmd {
	case CommandServe:
		return runServe(ctx, cfg, log)
	case CommandMigrate:
		return runMigrate(cfg, log)
	case CommandLogin:
		return runLogin(ctx, cfg, log, s, rest)
	case CommandLogout:
		return runLogout(ctx, cfg, log, s)
	case CommandWhoami:
		return runWhoami(ctx, cfg, log, s)
	case CommandInsights:
		return runInsights(ctx, cfg, log, s, rest)
	case CommandDigest:
		return runDigest(ctx, cfg, log, s, rest)
	case CommandSchedule:
		return runSchedule(ctx, cfg, log, rest)
	case CommandIngest:
		return runIngest(ctx, cfg, log, s, rest)
	default:
		return fmt.Errorf("unhandled command %q", cmd)
	}
}

// newRequester は設定からHTTPリクエストラッパーを生成する。recorderはnil可。
// REQUEST_RETRY_LIMIT=0 はリトライ無効として扱う。
func newRequester(cfg *config.Config, log *slog.Logger, recorder apiclient.Recorder) (*apiclient.Client, error) {
	var limiter *rate.Limiter
	if cfg.RequestRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestRatePerSecond), max(cfg.RequestRateBurst, 1))
	}
	retryLimit := cfg.RequestRetryLimit
	if retryLimit <= 0 {
		retryLimit = apiclient.NoRetry
	}
	return apiclient.New(apiclient.Options{
		BaseURL:    cfg.APIBaseURL,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
		Logger:     log,
		RetryLimit: retryLimit,
		Limiter:    limiter,
		Recorder:   recorder,
	})
}

// cliState はCLIの状態ファイルと、それを使うセッション・APIクライアント。
type cliState struct {
	store   *storage.SQLStore
	soft    *storage.SoftStore
	session *session.Store
	api     *api.Client
	tokens  *digest.TokenResolver
}

// openCLIState は状態ファイルを開き、保存済みトークンを読むセッションを構成する。
// セッションの初期化（/auth/me）は呼び出し側が必要なときに行う。
func openCLIState(cfg *config.Config, log *slog.Logger) (*cliState, error) {
	store, err := storage.NewSQLite(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}
	requester, err := newRequester(cfg, log, nil)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	soft := storage.NewSoftStore(store, log)
	tokens := digest.NewTokenResolver(cfg.DigestToken, soft)
	base := api.NewClient(requester, nil, tokens)
	sess := session.NewStore(base, soft, log)
	sess.TokenTTL = time.Duration(cfg.SessionMaxAge) * time.Second

	return &cliState{
		store:   store,
		soft:    soft,
		session: sess,
		api:     base.WithSession(sess),
		tokens:  tokens,
	}, nil
}

func (s *cliState) Close() error {
	return s.store.Close()
}

// errNotLoggedIn は認証が必要なコマンドを未ログインで実行したことを表す。
var errNotLoggedIn = errors.New("not logged in; run `customervoice login` first")

// requireLogin は保存済みトークンを検証し、認証済みでなければエラーを返す。
func (s *cliState) requireLogin(ctx context.Context) error {
	if s.session.Initialize(ctx) != session.StateAuthenticated {
		return errNotLoggedIn
	}
	return nil
}

// runMigrate はストレージのマイグレーションを実行する。
// DATABASE_URLがあればPostgreSQL、なければCLIの状態ファイルが対象。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	if cfg.DatabaseURL == "" {
		log.Info("状態ファイルのマイグレーションを実行します", slog.String("path", cfg.StatePath))
		store, err := storage.NewSQLite(cfg.StatePath)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		log.Info("マイグレーションが完了しました")
		return store.Close()
	}

	log.Info("データベースのマイグレーションを実行します",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	db, err := storage.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := storage.Migrate(db, storage.DialectPostgres); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Info("マイグレーションが完了しました")
	return nil
}

// runHealthcheck は /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost:"+port+"/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}

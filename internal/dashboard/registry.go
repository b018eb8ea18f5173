// Package dashboard はブラウザごとのワークスペースを管理する。
// ワークスペースはCookieのIDに対応し、認証セッションとAPIクライアントと
// インサイトのローダーと表示設定を持つ。
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/customervoice/internal/api"
	"github.com/hitoshi/customervoice/internal/insights"
	"github.com/hitoshi/customervoice/internal/model"
	"github.com/hitoshi/customervoice/internal/session"
	"github.com/hitoshi/customervoice/internal/storage"
)

// ErrEmptyWorkspaceID はワークスペースIDが空であることを表す。
var ErrEmptyWorkspaceID = errors.New("workspace id must not be empty")

// Workspace は1つのブラウザに対応する作業領域。
type Workspace struct {
	ID       string
	Session  *session.Store
	API      *api.Client
	Insights *insights.Loader

	store      *storage.SoftStore
	lastAccess time.Time // Registry.mu で保護

	initMu      sync.Mutex
	initialized bool
	nextInit    time.Time
}

// Preferences は現在の表示設定を返す。
func (w *Workspace) Preferences(ctx context.Context) Preferences {
	return LoadPreferences(ctx, w.store)
}

// UpdatePreferences は表示設定を更新する。
func (w *Workspace) UpdatePreferences(ctx context.Context, update PreferencesUpdate) (Preferences, error) {
	return ApplyPreferences(ctx, w.store, update)
}

// Login はログインし、成功した場合は前のユーザーのインサイトを破棄する。
func (w *Workspace) Login(ctx context.Context, creds model.LoginRequest) session.Result {
	res := w.Session.Login(ctx, creds)
	if res.Success {
		w.Insights.Reset()
	}
	return res
}

// Register はアカウントを作成してログインする。
func (w *Workspace) Register(ctx context.Context, payload model.RegisterRequest) session.Result {
	res := w.Session.Register(ctx, payload)
	if res.Success {
		w.Insights.Reset()
	}
	return res
}

// Logout はセッションとインサイトを破棄する。
func (w *Workspace) Logout(ctx context.Context) {
	w.Session.Logout(ctx)
	w.Insights.Reset()
}

const (
	// initTimeout は保存済みトークンの検証にかける時間の上限。
	initTimeout = 10 * time.Second
	// initRetryInterval は401以外で検証に失敗したあと、再検証するまでの間隔。
	initRetryInterval = 30 * time.Second
)

// WorkspaceGauge はワークスペース数の通知先。*metrics.Collector が実装する。
type WorkspaceGauge interface {
	SetWorkspaces(n int)
}

// RegistryOptions はRegistryの設定。
type RegistryOptions struct {
	// API はセッショントークンを持たない共通のクライアント。
	API *api.Client
	// Store はトークンと設定の保存先。nilの場合は保存しない。
	Store       storage.Store
	Logger      *slog.Logger
	Gauge       WorkspaceGauge
	TokenTTL    time.Duration
	IdleTimeout time.Duration // デフォルト: 30分
	// MaxWorkspaces はメモリに保持するワークスペース数の上限。
	// 超えた場合は最終アクセスが最も古いものを追い出す。デフォルト: 10000
	MaxWorkspaces int
}

// Registry はワークスペースIDからWorkspaceへの対応を保持する。
// メモリから追い出されたワークスペースは、次のアクセスで保存済みトークンから復元される。
type Registry struct {
	opts   RegistryOptions
	logger *slog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	workspaces map[string]*Workspace
}

// NewRegistry はRegistryを生成する。
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	if opts.MaxWorkspaces <= 0 {
		opts.MaxWorkspaces = 10000
	}
	return &Registry{
		opts:       opts,
		logger:     opts.Logger,
		now:        time.Now,
		workspaces: make(map[string]*Workspace),
	}
}

// Workspace はIDに対応するWorkspaceを返す。
// 初回アクセス時は保存済みトークンを /auth/me で検証してから返す。
func (r *Registry) Workspace(ctx context.Context, id string) (*Workspace, error) {
	if id == "" {
		return nil, ErrEmptyWorkspaceID
	}

	r.mu.Lock()
	ws, ok := r.workspaces[id]
	if !ok {
		if len(r.workspaces) >= r.opts.MaxWorkspaces {
			r.evictOldestLocked()
		}
		ws = r.newWorkspace(id)
		r.workspaces[id] = ws
	}
	ws.lastAccess = r.now()
	count := len(r.workspaces)
	r.mu.Unlock()

	if !ok {
		r.reportCount(count)
	}

	r.initialize(ctx, ws)
	return ws, nil
}

// initialize は保存済みトークンを検証する。
// 401以外の失敗ではトークンが残るため、initRetryInterval後のアクセスで検証し直す。
func (r *Registry) initialize(ctx context.Context, ws *Workspace) {
	ws.initMu.Lock()
	defer ws.initMu.Unlock()

	if ws.initialized {
		return
	}
	if ws.Session.Authenticated() {
		ws.initialized = true
		return
	}
	now := r.now()
	if now.Before(ws.nextInit) {
		return
	}

	// 呼び出し元のリクエストが切断されても検証は最後まで行う
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), initTimeout)
	defer cancel()
	state := ws.Session.Initialize(ctx)

	ws.initialized = state == session.StateAuthenticated || ws.Session.Token() == ""
	if !ws.initialized {
		ws.nextInit = now.Add(initRetryInterval)
	}
	r.logger.Debug("ワークスペースを復元しました",
		slog.String("workspace", shortID(ws.ID)),
		slog.String("state", state.String()),
		slog.Bool("retry", !ws.initialized),
	)
}

// evictOldestLocked は最終アクセスが最も古いワークスペースを取り除く。r.mu を保持して呼ぶ。
func (r *Registry) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, ws := range r.workspaces {
		if oldestID == "" || ws.lastAccess.Before(oldest) {
			oldestID, oldest = id, ws.lastAccess
		}
	}
	delete(r.workspaces, oldestID)
	r.logger.Debug("上限に達したためワークスペースを追い出しました",
		slog.String("workspace", shortID(oldestID)),
	)
}

func (r *Registry) newWorkspace(id string) *Workspace {
	var inner storage.Store
	if r.opts.Store != nil {
		inner = storage.Namespace(r.opts.Store, "workspace/"+id+"/")
	}
	soft := storage.NewSoftStore(inner, r.logger)

	sess := session.NewStore(r.opts.API, soft, r.logger)
	sess.TokenTTL = r.opts.TokenTTL
	client := r.opts.API.WithSession(sess)

	return &Workspace{
		ID:       id,
		Session:  sess,
		API:      client,
		Insights: insights.NewLoader(client),
		store:    soft,
	}
}

// Authenticated はワークスペースがログイン済みかを返す。
func (r *Registry) Authenticated(ctx context.Context, id string) bool {
	ws, err := r.Workspace(ctx, id)
	if err != nil {
		return false
	}
	return ws.Session.Authenticated()
}

// Len は保持中のワークスペース数を返す。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workspaces)
}

// Evict はワークスペースをメモリから取り除く。保存済みのトークンは残る。
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	delete(r.workspaces, id)
	count := len(r.workspaces)
	r.mu.Unlock()
	r.reportCount(count)
}

// EvictIdle はIdleTimeoutを超えてアクセスのないワークスペースを取り除き、件数を返す。
func (r *Registry) EvictIdle() int {
	cutoff := r.now().Add(-r.opts.IdleTimeout)

	r.mu.Lock()
	removed := 0
	for id, ws := range r.workspaces {
		if ws.lastAccess.Before(cutoff) {
			delete(r.workspaces, id)
			removed++
		}
	}
	count := len(r.workspaces)
	r.mu.Unlock()

	if removed > 0 {
		r.reportCount(count)
	}
	return removed
}

// StartEviction はコンテキストがキャンセルされるまでintervalごとにEvictIdleを実行する。
func (r *Registry) StartEviction(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := r.EvictIdle(); removed > 0 {
				r.logger.Info("アイドル状態のワークスペースを解放しました",
					slog.Int("evicted_count", removed),
					slog.Int("remaining", r.Len()),
				)
			}
		}
	}
}

func (r *Registry) reportCount(n int) {
	if r.opts.Gauge != nil {
		r.opts.Gauge.SetWorkspaces(n)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

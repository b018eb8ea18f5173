// Package session は認証トークンとユーザー情報を保持するセッションストアを提供する。
//
// トークンの所有者はStoreだけで、APIクライアントはTokenSourceとして読み取るだけにする。
// 状態遷移は Uninitialized → Initializing → {Authenticated, Anonymous}。
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/customervoice/internal/model"
	"github.com/hitoshi/customervoice/internal/storage"
)

// TokenStorageKey は認証トークンを保存するキー。
const TokenStorageKey = "customer-voice-auth-token"

// State はセッションの状態。
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// AuthAPI は認証系エンドポイント。*api.Client が実装する。
type AuthAPI interface {
	Login(ctx context.Context, payload model.LoginRequest) (*model.AuthSuccessResponse, error)
	Register(ctx context.Context, payload model.RegisterRequest) (*model.AuthSuccessResponse, error)
	Me(ctx context.Context, token string) (*model.User, error)
}

// Result はログイン・登録の結果。失敗はエラー値ではなくMessageで伝える。
type Result struct {
	Success bool        `json:"success"`
	User    *model.User `json:"user,omitempty"`
	Message string      `json:"message,omitempty"`
	// Err は失敗の原因。HTTPステータスへの変換に使う。
	Err error `json:"-"`
}

// Store は1ユーザー分の認証セッション。並行利用しても安全。
//
// トークン検証は開始時の世代番号を持ち、完了までにログイン・ログアウト・
// 新しい検証が起きていれば結果を反映しない。
type Store struct {
	api     AuthAPI
	storage *storage.SoftStore
	logger  *slog.Logger

	// TokenTTL が正の場合、保存するトークンに有効期限を付ける。
	TokenTTL time.Duration
	now      func() time.Time

	// persistMu は保存済みトークンへの書き込みを直列化する。
	persistMu sync.Mutex

	mu         sync.RWMutex
	state      State
	token      string
	user       *model.User
	generation uint64
	pending    int
}

// NewStore は新しいStoreを生成する。storeがnilの場合はトークンを永続化しない。
func NewStore(api AuthAPI, store *storage.SoftStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		api:     api,
		storage: store,
		logger:  logger,
		now:     time.Now,
	}
}

// Initialize は保存済みトークンを読み込み、あれば /auth/me で検証する。
// トークンがなければ通信せずにAnonymousになる。
func (s *Store) Initialize(ctx context.Context) State {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.state = StateInitializing
	s.mu.Unlock()

	token, ok := s.storage.Get(ctx, TokenStorageKey)
	if !ok || token == "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen == s.generation {
			s.token = ""
			s.user = nil
			s.state = StateAnonymous
		}
		return s.state
	}

	s.mu.Lock()
	if gen != s.generation {
		defer s.mu.Unlock()
		return s.state
	}
	s.token = token
	s.mu.Unlock()

	return s.validate(ctx, gen, token)
}

// Refresh は保持中のトークンを再検証する。401の場合はAnonymousに戻す。
func (s *Store) Refresh(ctx context.Context) State {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	token := s.token
	if token == "" {
		s.user = nil
		s.state = StateAnonymous
		s.mu.Unlock()
		return StateAnonymous
	}
	s.mu.Unlock()

	return s.validate(ctx, gen, token)
}

func (s *Store) validate(ctx context.Context, gen uint64, token string) State {
	user, err := s.api.Me(ctx, token)

	s.mu.Lock()
	if gen != s.generation {
		defer s.mu.Unlock()
		s.logger.Debug("古いセッション検証結果を破棄しました")
		return s.state
	}

	switch {
	case err == nil:
		s.user = user
		s.state = StateAuthenticated
		s.mu.Unlock()
		return StateAuthenticated
	case model.IsUnauthorized(err):
		s.token = ""
		s.user = nil
		s.state = StateAnonymous
		s.mu.Unlock()
		s.writeToken(ctx, gen, "")
		s.logger.Info("保存済みトークンが無効なため破棄しました")
		return StateAnonymous
	default:
		// 401以外の失敗ではトークンを残し、次の検証で再試行できるようにする
		s.user = nil
		s.state = StateAnonymous
		s.mu.Unlock()
		s.logger.Warn("セッションの検証に失敗しました",
			slog.String("error", err.Error()),
		)
		return StateAnonymous
	}
}

// Login はメールアドレスとパスワードでログインする。
// 失敗した場合は状態を変えずにメッセージを返す。
func (s *Store) Login(ctx context.Context, creds model.LoginRequest) Result {
	return s.authenticate(ctx, func() (*model.AuthSuccessResponse, error) {
		return s.api.Login(ctx, creds)
	})
}

// Register はアカウントを作成してログイン状態にする。
func (s *Store) Register(ctx context.Context, payload model.RegisterRequest) Result {
	return s.authenticate(ctx, func() (*model.AuthSuccessResponse, error) {
		return s.api.Register(ctx, payload)
	})
}

func (s *Store) authenticate(ctx context.Context, call func() (*model.AuthSuccessResponse, error)) Result {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()

	resp, err := call()

	s.mu.Lock()
	s.pending--
	if err != nil {
		s.mu.Unlock()
		s.logger.Info("認証に失敗しました", slog.String("error", err.Error()))
		return Result{Success: false, Message: model.UserMessage(err), Err: err}
	}
	s.generation++
	gen := s.generation
	user := resp.User
	s.token = resp.Token
	s.user = &user
	s.state = StateAuthenticated
	s.mu.Unlock()

	s.writeToken(ctx, gen, resp.Token)
	return Result{Success: true, User: copyUser(&user)}
}

// writeToken はgenが最新のままの場合だけ保存済みトークンを更新する。
// tokenが空なら削除する。書き込み中に始まった操作は、この書き込みの完了を待ってから自分の値を書く。
func (s *Store) writeToken(ctx context.Context, gen uint64, token string) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	current := gen == s.generation
	s.mu.RUnlock()
	if !current {
		s.logger.Debug("古いトークンの保存を取りやめました")
		return
	}

	switch {
	case token == "":
		s.storage.Remove(ctx, TokenStorageKey)
	case s.TokenTTL > 0:
		s.storage.SetExpiring(ctx, TokenStorageKey, token, s.now().Add(s.TokenTTL))
	default:
		s.storage.Set(ctx, TokenStorageKey, token)
	}
}

// Logout はトークンとユーザー情報を破棄する。サーバーへの通信は行わない。
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.token = ""
	s.user = nil
	s.state = StateAnonymous
	s.mu.Unlock()

	s.writeToken(ctx, gen, "")
}

// Token は保持中のBearerトークンを返す。api.TokenSource を満たす。
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User はログイン中のユーザーのコピーを返す。
func (s *Store) User() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUser(s.user)
}

// State は現在の状態を返す。
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Authenticated はユーザー情報まで確定しているかを返す。
func (s *Store) Authenticated() bool {
	return s.State() == StateAuthenticated
}

// Pending はログイン・登録の処理中かを返す。
func (s *Store) Pending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending > 0
}

// Snapshot はトークンとユーザーの組を返す。
func (s *Store) Snapshot() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Session{Token: s.token, User: copyUser(s.user)}
}

func copyUser(u *model.User) *model.User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}

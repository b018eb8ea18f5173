package storage

import (
	"context"
	"log/slog"
	"time"
)

// SoftStore は任意のStoreを包み、ストアの欠如や失敗を「値なし」として扱う。
// 失敗は警告ログに残し、呼び出し元にはエラーを返さない。
// 内側のStoreがnilでも安全に使える。
type SoftStore struct {
	store  Store
	logger *slog.Logger
}

// NewSoftStore はSoftStoreを生成する。storeはnilでもよい。
func NewSoftStore(store Store, logger *slog.Logger) *SoftStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SoftStore{store: store, logger: logger}
}

// Available は内側のStoreが設定されているかを返す。
func (s *SoftStore) Available() bool {
	return s != nil && s.store != nil
}

// Get はキーの値を返す。取得できない場合は空文字とfalse。
func (s *SoftStore) Get(ctx context.Context, key string) (string, bool) {
	if !s.Available() {
		return "", false
	}
	v, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("ストレージからの読み取りに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return "", false
	}
	return v, ok
}

// Set は値を保存する。失敗は警告ログのみ。
func (s *SoftStore) Set(ctx context.Context, key, value string) {
	if !s.Available() {
		return
	}
	if err := s.store.Set(ctx, key, value); err != nil {
		s.logger.Warn("ストレージへの書き込みに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// SetExpiring は期限付きの値を保存する。失敗は警告ログのみ。
func (s *SoftStore) SetExpiring(ctx context.Context, key, value string, expiresAt time.Time) {
	if !s.Available() {
		return
	}
	if err := s.store.SetExpiring(ctx, key, value, expiresAt); err != nil {
		s.logger.Warn("ストレージへの書き込みに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Remove はキーを削除する。失敗は警告ログのみ。
func (s *SoftStore) Remove(ctx context.Context, key string) {
	if !s.Available() {
		return
	}
	if err := s.store.Remove(ctx, key); err != nil {
		s.logger.Warn("ストレージからの削除に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Package storage は認証トークンや表示設定を保持するキーバリューストアを提供する。
// メモリ・SQLite・PostgreSQLの実装があり、いずれも Store を満たす。
package storage

import (
	"context"
	"time"
)

// Store は文字列のキーと値を保持するストア。
// 存在しないキーや期限切れのキーはGetでokがfalseになる。
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	// SetExpiring はexpiresAtを過ぎると読めなくなる値を保存する。
	SetExpiring(ctx context.Context, key, value string, expiresAt time.Time) error
	Remove(ctx context.Context, key string) error
	// PurgeExpired は期限切れのエントリを削除し、削除件数を返す。
	PurgeExpired(ctx context.Context) (int64, error)
}

// namespaced はキーに接頭辞を付けて別のStoreへ委譲する。
type namespaced struct {
	inner  Store
	prefix string
}

// Namespace はすべてのキーにprefixを付けるStoreを返す。
// ワークスペースごとにキーを分離するために使う。
func Namespace(inner Store, prefix string) Store {
	return &namespaced{inner: inner, prefix: prefix}
}

func (n *namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.inner.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key, value string) error {
	return n.inner.Set(ctx, n.prefix+key, value)
}

func (n *namespaced) SetExpiring(ctx context.Context, key, value string, expiresAt time.Time) error {
	return n.inner.SetExpiring(ctx, n.prefix+key, value, expiresAt)
}

func (n *namespaced) Remove(ctx context.Context, key string) error {
	return n.inner.Remove(ctx, n.prefix+key)
}

// PurgeExpired は接頭辞に関係なく内側のストア全体を対象にする。
func (n *namespaced) PurgeExpired(ctx context.Context) (int64, error) {
	return n.inner.PurgeExpired(ctx)
}

// Package digest はダイジェストの実行・整形・配信を扱う。
package digest

import (
	"context"
	"errors"
	"strings"

	"github.com/hitoshi/customervoice/internal/storage"
)

// TokenStorageKey はダイジェスト用トークンを保存するキー。
const TokenStorageKey = "customer-voice-digest-token"

// ErrEmptyToken は空のトークンを保存しようとしたことを表す。
var ErrEmptyToken = errors.New("digest token must not be empty")

// TokenResolver はダイジェスト用トークンを解決する。
// 設定値があればそれを使い、なければストレージの値を使う。
// api.TokenSource を満たす。
type TokenResolver struct {
	configured string
	store      *storage.SoftStore
}

// NewTokenResolver はTokenResolverを生成する。storeはnilでもよい。
func NewTokenResolver(configured string, store *storage.SoftStore) *TokenResolver {
	return &TokenResolver{configured: strings.TrimSpace(configured), store: store}
}

// Token は解決したトークンを返す。見つからない場合は空文字。
func (r *TokenResolver) Token() string {
	token, _ := r.Resolve(context.Background())
	return token
}

// Resolve はトークンとその出所（"config" または "storage"）を返す。
func (r *TokenResolver) Resolve(ctx context.Context) (token, source string) {
	if r.configured != "" {
		return r.configured, "config"
	}
	if v, ok := r.store.Get(ctx, TokenStorageKey); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), "storage"
	}
	return "", ""
}

// Save はトークンをストレージに保存する。
func (r *TokenResolver) Save(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	r.store.Set(ctx, TokenStorageKey, token)
	return nil
}

// Clear は保存済みのトークンを削除する。設定値には影響しない。
func (r *TokenResolver) Clear(ctx context.Context) {
	r.store.Remove(ctx, TokenStorageKey)
}

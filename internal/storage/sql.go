package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect はSQLストアの接続先データベースの種類。
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore はkv_entriesテーブルを使うStore。
// 期限と更新時刻はUnixミリ秒で保存する。
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	queries queries
	now     func() time.Time
}

type queries struct {
	get    string
	upsert string
	remove string
	purge  string
}

var postgresQueries = queries{
	get: `SELECT value, expires_at FROM kv_entries WHERE key = $1`,
	upsert: `INSERT INTO kv_entries (key, value, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE
		 SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
	remove: `DELETE FROM kv_entries WHERE key = $1`,
	purge:  `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= $1`,
}

var sqliteQueries = queries{
	get: `SELECT value, expires_at FROM kv_entries WHERE key = ?`,
	upsert: `INSERT INTO kv_entries (key, value, expires_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE
		 SET value = excluded.value, expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
	remove: `DELETE FROM kv_entries WHERE key = ?`,
	purge:  `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
}

// OpenPostgres はPostgreSQLデータベース接続を開く。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func OpenPostgres(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// OpenSQLite はSQLiteの状態ファイルを開く。親ディレクトリがなければ作成する。
func OpenSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 書き込みは1接続に直列化する
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	return db, nil
}

// NewSQLStore はマイグレーション済みのdbを使うSQLStoreを生成する。
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	q := postgresQueries
	if dialect == DialectSQLite {
		q = sqliteQueries
	}
	return &SQLStore{db: db, dialect: dialect, queries: q, now: time.Now}
}

// NewSQLite はSQLiteファイルを開き、マイグレーションを適用したStoreを返す。
func NewSQLite(path string) (*SQLStore, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, DialectSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return NewSQLStore(db, DialectSQLite), nil
}

// Dialect は接続先データベースの種類を返す。
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// DB は内部のデータベース接続を返す。
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close はデータベース接続を閉じる。
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Get はキーの値を返す。期限切れの値は存在しないものとして扱う。
func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.queries.get, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get entry: %w", err)
	}
	if expiresAt.Valid && expiresAt.Int64 <= s.now().UnixMilli() {
		return "", false, nil
	}
	return value, true, nil
}

// Set は無期限の値を保存する。
func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	return s.upsert(ctx, key, value, sql.NullInt64{})
}

// SetExpiring は期限付きの値を保存する。
func (s *SQLStore) SetExpiring(ctx context.Context, key, value string, expiresAt time.Time) error {
	return s.upsert(ctx, key, value, sql.NullInt64{Int64: expiresAt.UnixMilli(), Valid: true})
}

func (s *SQLStore) upsert(ctx context.Context, key, value string, expiresAt sql.NullInt64) error {
	_, err := s.db.ExecContext(ctx, s.queries.upsert, key, value, expiresAt, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to set entry: %w", err)
	}
	return nil
}

// Remove はキーを削除する。存在しなくてもエラーにしない。
func (s *SQLStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.queries.remove, key); err != nil {
		return fmt.Errorf("failed to remove entry: %w", err)
	}
	return nil
}

// PurgeExpired は期限切れのエントリを削除し、削除件数を返す。
func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.queries.purge, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired entries: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get purged count: %w", err)
	}
	return n, nil
}

// compile-time interface check
var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*Memory)(nil)
)

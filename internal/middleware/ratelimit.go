package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/customervoice/internal/model"
)

// RateLimiterConfig はワークスペース単位のレート制限設定。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般（req/sec）
	GeneralBurst    int
	WriteRate       rate.Limit    // 取り込み・解析など上流に書き込む操作（req/sec）
	WriteBurst      int
	CleanupInterval time.Duration // 使われなくなったリミッターを掃除する間隔
	IdleTimeout     time.Duration // この期間アクセスのないリミッターを削除する
}

// DefaultRateLimiterConfig はperMinuteを全般の上限とした設定を返す。
// 書き込み系は10 req/min に固定する。
func DefaultRateLimiterConfig(perMinute int) RateLimiterConfig {
	if perMinute <= 0 {
		perMinute = 120
	}
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(perMinute) / 60.0),
		GeneralBurst:    perMinute,
		WriteRate:       rate.Limit(10.0 / 60.0),
		WriteBurst:      10,
		CleanupInterval: 5 * time.Minute,
		IdleTimeout:     10 * time.Minute,
	}
}

type trackedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet はキーごとのトークンバケットを保持する。
type limiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*trackedLimiter
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{limit: limit, burst: burst, limiters: make(map[string]*trackedLimiter)}
}

func (s *limiterSet) allow(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tl, ok := s.limiters[key]
	if !ok {
		tl = &trackedLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = tl
	}
	tl.lastAccess = now
	return tl.limiter.AllowN(now, 1)
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

func (s *limiterSet) sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, tl := range s.limiters {
		if tl.lastAccess.Before(cutoff) {
			delete(s.limiters, key)
			removed++
		}
	}
	return removed
}

// RateLimiter はワークスペースごとのレート制限を管理する。
// 全般と書き込み系の2種類のバケットを独立に持つ。
type RateLimiter struct {
	config  RateLimiterConfig
	logger  *slog.Logger
	general *limiterSet
	write   *limiterSet
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter はRateLimiterを生成し、バックグラウンドの掃除を開始する。
func NewRateLimiter(config RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		logger:  logger,
		general: newLimiterSet(config.GeneralRate, config.GeneralBurst),
		write:   newLimiterSet(config.WriteRate, config.WriteBurst),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go rl.cleanupLoop()
	}
	return rl
}

// Stop は掃除ゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// ワークスペースミドルウェアの後に配置する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, rl.config.GeneralRate, "general")
}

// WriteMiddleware は書き込み系操作のレート制限ミドルウェアを返す。
func (rl *RateLimiter) WriteMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.write, rl.config.WriteRate, "write")
}

func (rl *RateLimiter) middleware(set *limiterSet, limit rate.Limit, kind string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := WorkspaceIDFromContext(r.Context())
			if !ok {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "Workspace is not established.")
				return
			}
			if !set.allow(id, rl.now()) {
				rl.logger.Warn("rate limit exceeded",
					slog.String("workspace", shortWorkspaceID(id)),
					slog.String("limit_type", kind),
				)
				writeRateLimitResponse(w, limit)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は全般・書き込み系それぞれのリミッター数を返す。
func (rl *RateLimiter) LimiterCount() (general, write int) {
	return rl.general.len(), rl.write.len()
}

// Sweep はIdleTimeoutより長くアクセスのないリミッターを削除し、削除数を返す。
func (rl *RateLimiter) Sweep() int {
	cutoff := rl.now().Add(-rl.config.IdleTimeout)
	return rl.general.sweep(cutoff) + rl.write.sweep(cutoff)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			if removed := rl.Sweep(); removed > 0 {
				rl.logger.Debug("rate limiter cleanup", slog.Int("removed", removed))
			}
		}
	}
}

// writeRateLimitResponse はRetry-After付きの429を返す。
// 待機秒数はトークン1つが補充されるまでの時間を切り上げる。
func writeRateLimitResponse(w http.ResponseWriter, limit rate.Limit) {
	retryAfter := 1
	if limit > 0 {
		retryAfter = max(int(math.Ceil(1/float64(limit))), 1)
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	WriteJSON(w, http.StatusTooManyRequests, model.ErrorResponse{
		Error:             "rate_limited",
		Message:           "Too many requests. Please try again later.",
		RetryAfterSeconds: retryAfter,
	})
}

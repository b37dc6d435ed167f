package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mshiba/terakoya/internal/model"
)

// エンドポイント種別。レート制限のキーの一部になる。
const (
	// EndpointClassAuth は認証エンドポイント（サインアップ・ログイン）。
	EndpointClassAuth = "auth"
	// EndpointClassAPI は認証済みAPI全般。
	EndpointClassAPI = "api"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	AuthLimit       int           // authクラスのウィンドウあたり上限
	APILimit        int           // apiクラスのウィンドウあたり上限
	Window          time.Duration // 固定ウィンドウの長さ
	CleanupInterval time.Duration // 期限切れバケットのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 要件: auth 5 req/60s/IP、api 30 req/60s/IP
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		AuthLimit:       5,
		APILimit:        30,
		Window:          60 * time.Second,
		CleanupInterval: 5 * time.Minute,
	}
}

// RateLimitRecorder はレート制限拒否のメトリクス記録インターフェース。
type RateLimitRecorder interface {
	RecordRateLimited(endpointClass string)
}

// bucket は1キー分の固定ウィンドウカウンター。
type bucket struct {
	windowStart time.Time
	count       int
}

// bucketKey はレート制限バケットの複合キー。
type bucketKey struct {
	clientIP      string
	endpointClass string
}

// RateLimiter は(クライアントIP, エンドポイント種別)ごとの固定ウィンドウ
// レート制限を管理する。ウィンドウ境界は壁時計に整列し、スライディングはしない。
// カウントは保護対象の処理より前に行い、成功・失敗を問わず1スロットを消費する
// （失敗したログイン試行もカウントされることが認証情報の総当たり対策になる）。
// 中断されたリクエストがスロットを返却することはない。
type RateLimiter struct {
	config  RateLimiterConfig
	metrics RateLimitRecorder

	mu      sync.Mutex
	buckets map[bucketKey]*bucket

	stopCh chan struct{}

	// now はテストでの時刻注入用。
	now func() time.Time
}

// NewRateLimiter は新しいRateLimiterを生成する。metricsはnil可。
// バックグラウンドで期限切れバケットのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig, metrics RateLimitRecorder) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		metrics: metrics,
		buckets: make(map[bucketKey]*bucket),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Middleware は指定エンドポイント種別のレート制限ミドルウェアを返す。
// 上限超過時は429とRetry-Afterヘッダー（ウィンドウ残り秒数）を返す。
func (rl *RateLimiter) Middleware(endpointClass string) func(next http.Handler) http.Handler {
	limit := rl.config.APILimit
	if endpointClass == EndpointClassAuth {
		limit = rl.config.AuthLimit
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := getClientIP(r)

			allowed, retryAfter := rl.check(bucketKey{clientIP: clientIP, endpointClass: endpointClass}, limit)
			if !allowed {
				retryAfterSec := int(retryAfter.Seconds())
				if retryAfterSec < 1 {
					retryAfterSec = 1
				}

				if rl.metrics != nil {
					rl.metrics.RecordRateLimited(endpointClass)
				}
				slog.Warn("rate limit exceeded",
					slog.String("client_ip", clientIP),
					slog.String("endpoint_class", endpointClass),
				)

				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
				WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError(retryAfterSec))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// check はキーの現在ウィンドウのカウントをインクリメントし、上限判定を行う。
// インクリメントと比較はロック下でアトミックに行い、境界値での
// 同時すり抜けを防ぐ。拒否時はウィンドウの残り時間を返す。
func (rl *RateLimiter) check(key bucketKey, limit int) (bool, time.Duration) {
	now := rl.now()
	windowStart := now.Truncate(rl.config.Window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[key]
	if !exists || b.windowStart.Before(windowStart) {
		// 新規キーまたはウィンドウが切り替わった。カウントを1から開始。
		rl.buckets[key] = &bucket{windowStart: windowStart, count: 1}
		return 1 <= limit, windowStart.Add(rl.config.Window).Sub(now)
	}

	b.count++
	if b.count > limit {
		return false, b.windowStart.Add(rl.config.Window).Sub(now)
	}
	return true, 0
}

// BucketCount は現在管理されているバケットのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) BucketCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// cleanupLoop はバックグラウンドで期限切れバケットを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup はウィンドウが2周期以上前に終わったバケットを削除する。
func (rl *RateLimiter) cleanup() {
	cutoff := rl.now().Add(-2 * rl.config.Window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, b := range rl.buckets {
		if b.windowStart.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// getClientIP はリクエストからクライアントIPを取得する。
// リバースプロキシ配下を想定し、X-Forwarded-For、X-Real-IPを優先する。
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// 複数ホップの場合は先頭（オリジナルのクライアント）を採用
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

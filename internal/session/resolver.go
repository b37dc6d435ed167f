package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mshiba/terakoya/internal/idp"
	"github.com/mshiba/terakoya/internal/model"
)

// State はセッション解決の状態を表す。
type State string

const (
	// StateNone は有効なセッションが存在しないことを示す。
	StateNone State = "none"
	// StateValid は検証済みの有効なセッションを示す。
	StateValid State = "valid"
	// StateExpired はトークン期限切れ（リフレッシュ対象）を示す。
	// Resolveの内部状態であり、リフレッシュの成否によりValidまたはNoneに収束する。
	StateExpired State = "expired"
)

// Resolution はセッション解決の結果を表す。
type Resolution struct {
	State   State
	Session *model.Session

	// SetCookie はリフレッシュで新しいトークンペアが発行されたことを示す。
	// 呼び出し側は新セッションをクライアントに保存すること。
	SetCookie bool

	// ClearCookie はクライアント保持トークンの破棄を指示する。
	// 期限超過・リフレッシュ失敗・改ざん検出時に立つ。
	ClearCookie bool
}

// CredentialRefresher はリゾルバーが必要とするCredential Provider操作。
// idp.Clientの部分集合として定義する。
type CredentialRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*idp.Grant, error)
}

// Recorder はセッション解決のメトリクス記録インターフェース。
type Recorder interface {
	// RecordSessionResolution は解決結果の状態を記録する。
	RecordSessionResolution(state string)
	// RecordRefresh はリフレッシュの結果（refreshed/coalesced/failed/unavailable）を記録する。
	RecordRefresh(outcome string)
}

// ResolverConfig はリゾルバーの設定。
type ResolverConfig struct {
	// HardTTL は発行からの絶対上限。トークン側の期限に関わらず、
	// これを超えたセッションはリフレッシュせずに無効とする。
	// プロバイダーが長寿命トークンを発行した場合の穴を塞ぐ独立ポリシー。
	HardTTL time.Duration

	// RefreshTimeout はリフレッシュ1回あたりの上限時間。
	// リクエストが中断されてもsingle-flightが保持されないよう、
	// リフレッシュ自体は呼び出し元から切り離したコンテキストで実行する。
	RefreshTimeout time.Duration
}

// Resolver はインバウンドリクエストのトークンペアを検証済みセッションに解決する。
// Credential Providerと通信する唯一のコンポーネント。並行使用に対して安全。
type Resolver struct {
	idp     CredentialRefresher
	codec   *Codec
	config  ResolverConfig
	metrics Recorder

	// flight は同一identityの同時リフレッシュを1回のプロバイダー呼び出しに合流させる。
	flight singleflight.Group

	// now はテストでの時刻注入用。
	now func() time.Time
}

// NewResolver はResolverを生成する。metricsはnil可。
func NewResolver(provider CredentialRefresher, codec *Codec, config ResolverConfig, metrics Recorder) *Resolver {
	if config.HardTTL <= 0 {
		config.HardTTL = 24 * time.Hour
	}
	if config.RefreshTimeout <= 0 {
		config.RefreshTimeout = 5 * time.Second
	}
	return &Resolver{
		idp:     provider,
		codec:   codec,
		config:  config,
		metrics: metrics,
		now:     time.Now,
	}
}

// Resolve はCookie値からセッションを解決する。
// 期限切れセッションにはちょうど1回のリフレッシュを試行し、
// 成功時は新しいトークンペアと共にStateValidを返す（SetCookie=true）。
// 失敗時はStateNoneを返し、クライアント保持トークンの破棄を指示する。
// Credential Provider到達失敗はフェイルクローズ（StateNone扱い）。
func (r *Resolver) Resolve(ctx context.Context, rawCookie string) Resolution {
	if rawCookie == "" {
		return r.record(Resolution{State: StateNone})
	}

	sess, err := r.codec.Decode(rawCookie)
	if err != nil {
		// 改ざんまたは形式不正。クライアント側のトークンを破棄させる。
		slog.Warn("session cookie rejected", slog.String("error", err.Error()))
		return r.record(Resolution{State: StateNone, ClearCookie: true})
	}

	now := r.now()

	switch r.classify(sess, now) {
	case StateValid:
		return r.record(Resolution{State: StateValid, Session: sess})

	case StateExpired:
		return r.refresh(ctx, sess)

	default:
		// ハード上限超過。リフレッシュ対象外。
		return r.record(Resolution{State: StateNone, ClearCookie: true})
	}
}

// classify はセッションの状態を判定する。
// ハード上限（HardTTL）はトークン側の期限より優先される。
func (r *Resolver) classify(sess *model.Session, now time.Time) State {
	if sess.Age(now) > r.config.HardTTL {
		return StateNone
	}
	if now.After(sess.ExpiresAt) {
		return StateExpired
	}
	return StateValid
}

// refresh は期限切れセッションのトークンペアを更新する。
// 同一identityの同時リフレッシュはsingle-flightで1回に合流させ、
// 後着はその結果を共有する。リフレッシュ自体は呼び出し元のキャンセルから
// 切り離したタイムアウト付きコンテキストで実行するため、クライアント中断が
// 進行中のリフレッシュや他の待機者を巻き込むことはない。
func (r *Resolver) refresh(ctx context.Context, sess *model.Session) Resolution {
	ch := r.flight.DoChan(sess.IdentityID, func() (interface{}, error) {
		refreshCtx, cancel := context.WithTimeout(context.Background(), r.config.RefreshTimeout)
		defer cancel()

		grant, err := r.idp.Refresh(refreshCtx, sess.RefreshToken)
		if err != nil {
			return nil, err
		}

		return &model.Session{
			IdentityID:   grant.Identity.ID,
			Email:        grant.Identity.Email,
			AccessToken:  grant.AccessToken,
			RefreshToken: grant.RefreshToken,
			IssuedAt:     grant.IssuedAt,
			ExpiresAt:    grant.ExpiresAt,
		}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return r.refreshFailed(sess, res.Err)
		}

		renewed := res.Val.(*model.Session)
		if res.Shared {
			r.recordRefresh("coalesced")
		} else {
			r.recordRefresh("refreshed")
		}
		slog.Info("session refreshed",
			slog.String("identity_id", renewed.IdentityID),
			slog.Bool("shared", res.Shared),
		)
		return r.record(Resolution{State: StateValid, Session: renewed, SetCookie: true})

	case <-ctx.Done():
		// 呼び出し元が中断した。リフレッシュ自体は独立して完走する。
		// Cookieの状態は確定しないため破棄指示は出さない。
		return r.record(Resolution{State: StateNone})
	}
}

// refreshFailed はリフレッシュ失敗をResolutionに変換する。
// 再試行はしない（1回のみの試行ポリシー）。
func (r *Resolver) refreshFailed(sess *model.Session, err error) Resolution {
	if errors.Is(err, idp.ErrUpstreamUnavailable) {
		// フェイルクローズ: 未認証として扱うが、トークン自体は
		// プロバイダー復旧後に再試行できるため破棄しない。
		slog.Error("credential provider unreachable during refresh",
			slog.String("identity_id", sess.IdentityID),
			slog.String("error", err.Error()),
		)
		r.recordRefresh("unavailable")
		return r.record(Resolution{State: StateNone})
	}

	slog.Info("session refresh rejected",
		slog.String("identity_id", sess.IdentityID),
		slog.String("error", err.Error()),
	)
	r.recordRefresh("failed")
	return r.record(Resolution{State: StateNone, ClearCookie: true})
}

// record は解決結果のメトリクスを記録して返す。
func (r *Resolver) record(res Resolution) Resolution {
	if r.metrics != nil {
		r.metrics.RecordSessionResolution(string(res.State))
	}
	return res
}

func (r *Resolver) recordRefresh(outcome string) {
	if r.metrics != nil {
		r.metrics.RecordRefresh(outcome)
	}
}

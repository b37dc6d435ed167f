// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mshiba/terakoya/internal/model"
	"github.com/mshiba/terakoya/internal/session"
)

// SessionCookieName はトークンペアを保持するCookieの名前。
const SessionCookieName = "terakoya_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストに解決済みセッションを格納するためのキー。
var sessionContextKey = contextKey("session")

// roleContextKey はリクエストコンテキストにロールを格納するためのキー。
var roleContextKey = contextKey("role")

// SessionResolver はCookie値の解決に必要なインターフェース。
// session.Resolverの部分集合として定義する。
type SessionResolver interface {
	Resolve(ctx context.Context, rawCookie string) session.Resolution
}

// SessionEncoder はリフレッシュ済みセッションのCookie値への変換インターフェース。
type SessionEncoder interface {
	Encode(sess *model.Session) (string, error)
}

// ProfileProvisioner は解決済みidentityのプロフィール取得インターフェース。
// 未作成のプロフィールは冪等に自動作成される（profile.Serviceの部分集合）。
type ProfileProvisioner interface {
	EnsureProfile(ctx context.Context, identityID string) (*model.Profile, error)
}

// CookieConfig はセッションCookieの属性設定。
type CookieConfig struct {
	Secure bool
	Domain string

	// MaxAge はローテーション時に書き込むCookieの有効期間（秒）。
	// セッションのハード上限（SESSION_HARD_TTL）と揃えて設定する。
	MaxAge int
}

// SessionMiddleware はすべてのリクエストでセッション解決を実行するミドルウェア。
// 解決済みセッションとロールをリクエストコンテキストに注入し、
// リゾルバーの指示に従ってCookieの更新・破棄を行う。
// 未認証でもリクエストは通過させる。認可判定はガードが行う。
type SessionMiddleware struct {
	resolver SessionResolver
	encoder  SessionEncoder
	profiles ProfileProvisioner
	cookie   CookieConfig
}

// NewSessionMiddleware はSessionMiddlewareを生成する。
func NewSessionMiddleware(resolver SessionResolver, encoder SessionEncoder, profiles ProfileProvisioner, cookie CookieConfig) *SessionMiddleware {
	return &SessionMiddleware{
		resolver: resolver,
		encoder:  encoder,
		profiles: profiles,
		cookie:   cookie,
	}
}

// Handler はセッション解決ミドルウェアを返す。
func (m *SessionMiddleware) Handler() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var raw string
			if cookie, err := r.Cookie(SessionCookieName); err == nil {
				raw = cookie.Value
			}

			res := m.resolver.Resolve(r.Context(), raw)

			if res.ClearCookie {
				m.clearCookie(w)
			}
			if res.SetCookie && res.Session != nil {
				m.setCookie(w, res.Session)
			}

			if res.State != session.StateValid || res.Session == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, res.Session)

			// ロールはローカルのプロフィールから取得する。
			// 初回アクセス時はここでプロフィールが自動作成される。
			// プロフィール層の障害はロール判定をUserに縮退させるのみで、
			// リクエスト自体は通過させる（認可はデータ層が再判定する）。
			role := model.RoleUser
			profile, err := m.profiles.EnsureProfile(ctx, res.Session.IdentityID)
			if err != nil {
				slog.Error("failed to provision profile for session",
					slog.String("identity_id", res.Session.IdentityID),
					slog.String("error", err.Error()),
				)
			} else if profile != nil {
				role = profile.Role
			}
			ctx = context.WithValue(ctx, roleContextKey, role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// setCookie はリフレッシュ済みセッションをHTTP Only Cookieとして書き込む。
func (m *SessionMiddleware) setCookie(w http.ResponseWriter, sess *model.Session) {
	value, err := m.encoder.Encode(sess)
	if err != nil {
		slog.Error("failed to encode session cookie", slog.String("error", err.Error()))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   m.cookie.Domain,
		MaxAge:   m.cookie.MaxAge,
		HttpOnly: true,
		Secure:   m.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearCookie はクライアント保持トークンを破棄させる。
func (m *SessionMiddleware) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionFromContext はリクエストコンテキストから解決済みセッションを取得する。
// セッションミドルウェアを通過した認証済みリクエストでのみ有効。
func SessionFromContext(ctx context.Context) (*model.Session, error) {
	sess, ok := ctx.Value(sessionContextKey).(*model.Session)
	if !ok || sess == nil {
		return nil, fmt.Errorf("session not found in context")
	}
	return sess, nil
}

// IdentityFromContext はリクエストコンテキストから認証済みidentity IDを取得する。
func IdentityFromContext(ctx context.Context) (string, error) {
	sess, err := SessionFromContext(ctx)
	if err != nil {
		return "", err
	}
	return sess.IdentityID, nil
}

// RoleFromContext はリクエストコンテキストからロールを取得する。
// 未認証リクエストに対してはfalseを返す。
func RoleFromContext(ctx context.Context) (model.Role, bool) {
	role, ok := ctx.Value(roleContextKey).(model.Role)
	return role, ok
}

// ContextWithSession はコンテキストにセッションとロールを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, sess *model.Session, role model.Role) context.Context {
	ctx = context.WithValue(ctx, sessionContextKey, sess)
	return context.WithValue(ctx, roleContextKey, role)
}

package middleware

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/mshiba/terakoya/internal/model"
)

// RouteClass はルートのアクセス分類を表す。
type RouteClass string

const (
	// RoutePublic は誰でもアクセスできるルート。
	RoutePublic RouteClass = "public"
	// RouteProtectedUser は認証済みユーザーのみアクセスできるルート。
	RouteProtectedUser RouteClass = "protected_user"
	// RouteProtectedAdmin はAdminロールのみアクセスできるルート。
	RouteProtectedAdmin RouteClass = "protected_admin"
)

// RequesterState はリクエストの認証状態を表す。
type RequesterState string

const (
	// Anonymous は有効なセッションを持たない状態。
	Anonymous RequesterState = "anonymous"
	// AuthenticatedUser はUserロールの認証済み状態。
	AuthenticatedUser RequesterState = "authenticated_user"
	// AuthenticatedAdmin はAdminロールの認証済み状態。
	AuthenticatedAdmin RequesterState = "authenticated_admin"
)

// GuardConfig はルートガードのリダイレクト先設定。
type GuardConfig struct {
	// SignInPath は未認証リクエストのリダイレクト先。
	SignInPath string
	// HomePath は認証済みリクエストのデフォルトの着地先。
	HomePath string
}

// DefaultGuardConfig はデフォルトのガード設定を返す。
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		SignInPath: "/login",
		HomePath:   "/home",
	}
}

// Guard はページルートのアクセス可否をナビゲーションとして判定する。
// この判定はUX用の参考情報であり、データ層のownershipポリシーが
// 正式な認可判定として独立に再実施される（多層防御）。
type Guard struct {
	config GuardConfig
}

// NewGuard はGuardを生成する。
func NewGuard(config GuardConfig) *Guard {
	return &Guard{config: config}
}

// requesterState はリクエストコンテキストから認証状態を導出する。
// セッションミドルウェアの通過が前提。
func requesterState(r *http.Request) RequesterState {
	if _, err := SessionFromContext(r.Context()); err != nil {
		return Anonymous
	}
	if role, ok := RoleFromContext(r.Context()); ok && role == model.RoleAdmin {
		return AuthenticatedAdmin
	}
	return AuthenticatedUser
}

// PageMiddleware は指定クラスのページルートを保護するミドルウェアを返す。
// 拒否はエラーページではなくリダイレクトで表現する:
//   - 未認証 → サインインページ（元のパスをreturn_toとして付与）
//   - 非Adminによる管理ページ → ホームページ
func (g *Guard) PageMiddleware(class RouteClass) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := requesterState(r)

			switch g.decide(class, state) {
			case decisionAllow:
				next.ServeHTTP(w, r)

			case decisionRedirectSignIn:
				target := g.config.SignInPath + "?return_to=" + url.QueryEscape(r.URL.Path)
				http.Redirect(w, r, target, http.StatusSeeOther)

			case decisionRedirectHome:
				slog.Info("admin route denied for non-admin",
					slog.String("path", r.URL.Path),
				)
				http.Redirect(w, r, g.config.HomePath, http.StatusSeeOther)
			}
		})
	}
}

// APIMiddleware は指定クラスのAPIルートを保護するミドルウェアを返す。
// ページと違いリダイレクトは行わず、JSONエラーで応答する:
//   - 未認証 → 401 AUTH_REQUIRED
//   - 非Adminによる管理API → 403 FORBIDDEN
func (g *Guard) APIMiddleware(class RouteClass) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := requesterState(r)

			switch g.decide(class, state) {
			case decisionAllow:
				next.ServeHTTP(w, r)

			case decisionRedirectSignIn:
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())

			case decisionRedirectHome:
				slog.Warn("admin API denied for non-admin",
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
			}
		})
	}
}

// decision はガードの判定結果。
type decision int

const (
	decisionAllow decision = iota
	decisionRedirectSignIn
	decisionRedirectHome
)

// decide はルートクラスと認証状態から判定を導出する。
func (g *Guard) decide(class RouteClass, state RequesterState) decision {
	switch class {
	case RouteProtectedUser:
		if state == Anonymous {
			return decisionRedirectSignIn
		}
		return decisionAllow

	case RouteProtectedAdmin:
		switch state {
		case Anonymous:
			return decisionRedirectSignIn
		case AuthenticatedUser:
			return decisionRedirectHome
		default:
			return decisionAllow
		}

	default:
		// Public
		return decisionAllow
	}
}

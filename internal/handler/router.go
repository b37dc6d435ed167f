package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mshiba/terakoya/internal/metrics"
	"github.com/mshiba/terakoya/internal/middleware"
)

// HealthChecker はヘルスチェックに必要なインターフェース。
// sql.DBのPingContextの部分集合として定義する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionMiddleware *middleware.SessionMiddleware
	Guard             *middleware.Guard
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface
	AuthEncoder SessionEncoder
	AuthConfig  AuthHandlerConfig

	// ドメインサービス
	ProfileService  ProfileServiceInterface
	ContentService  ContentServiceInterface
	ProgressService ProgressServiceInterface
	RoleUpdater     RoleUpdater
	OrphanPurger    OrphanPurger
	UserService     UserServiceInterface

	// 運用
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → SecurityHeaders → Recovery → Logging → (ルートごと: RateLimit / Session / ガード)
//
// レート制限と入力検証は境界で解決して即座に返す。signup/loginは
// セッションを読まないため、セッション解決を通さずにレート制限のみを適用する。
// 制限超過のリクエストがリゾルバー経由でCredential Providerへの
// リフレッシュ呼び出しを誘発しないようにするためのチェーン分割である。
// それ以外のルートはセッション解決を行い、認可はルートクラスごとの
// ガードとデータ層のownershipポリシーが行う。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthEncoder, deps.AuthConfig)
	profileHandler := NewProfileHandler(deps.ProfileService)
	convHandler := NewConversationHandler(deps.ContentService)
	progressHandler := NewProgressHandler(deps.ProgressService)
	adminHandler := NewAdminHandler(deps.RoleUpdater, deps.OrphanPurger)
	userHandler := NewUserHandler(deps.UserService)
	pageHandler := NewPageHandler()

	// --- 運用エンドポイント（Public、セッション不要） ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	// CSRFトークン取得
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- 認証エンドポイント ---
	// signup/loginはauthクラスのレート制限のみ。セッション解決は通さない。
	// logoutはコンテキストのセッションからリフレッシュトークンを読むため
	// セッション解決が必要。

	r.Route("/auth", func(r chi.Router) {
		r.With(deps.RateLimiter.Middleware(middleware.EndpointClassAuth)).Post("/signup", authHandler.SignUp)
		r.With(deps.RateLimiter.Middleware(middleware.EndpointClassAuth)).Post("/login", authHandler.Login)
		r.With(deps.SessionMiddleware.Handler()).Post("/logout", authHandler.Logout)
	})

	// --- セッション解決を伴うルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.SessionMiddleware.Handler())

		// GET /session - 未認証でもsession: nullを返すためガードの外
		r.Get("/session", authHandler.Session)

		// ページルート
		r.With(deps.Guard.PageMiddleware(middleware.RoutePublic)).Get("/login", pageHandler.Login)
		r.With(deps.Guard.PageMiddleware(middleware.RouteProtectedUser)).Get("/home", pageHandler.Home)
		r.With(deps.Guard.PageMiddleware(middleware.RouteProtectedAdmin)).Get("/admin", pageHandler.Admin)
	})

	// --- 認証が必要なAPIルート ---
	// ミドルウェアスタック: Session → CSRF → Guard(ProtectedUser) → RateLimit(api)
	r.Group(func(r chi.Router) {
		r.Use(deps.SessionMiddleware.Handler())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.Guard.APIMiddleware(middleware.RouteProtectedUser))
		r.Use(deps.RateLimiter.Middleware(middleware.EndpointClassAPI))

		// プロフィール
		r.Route("/api/profile", func(r chi.Router) {
			r.Get("/", profileHandler.GetProfile)
			r.Put("/", profileHandler.UpdateNames)
		})

		// 会話・メッセージ
		r.Route("/api/conversations", func(r chi.Router) {
			r.Get("/", convHandler.ListConversations)
			r.Post("/", convHandler.CreateConversation)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", convHandler.GetConversation)
				r.Delete("/", convHandler.DeleteConversation)

				r.Get("/messages", convHandler.ListMessages)
				r.Post("/messages", convHandler.AppendMessage)
			})
		})

		// 学習進捗
		r.Route("/api/progress", func(r chi.Router) {
			r.Get("/", progressHandler.ListProgress)
			r.Put("/{lessonID}", progressHandler.UpsertProgress)
		})

		// ユーザー管理
		r.Route("/api/users", func(r chi.Router) {
			r.Delete("/me", userHandler.Withdraw)
		})
	})

	// --- 管理者専用APIルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.SessionMiddleware.Handler())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.Guard.APIMiddleware(middleware.RouteProtectedAdmin))
		r.Use(deps.RateLimiter.Middleware(middleware.EndpointClassAPI))

		r.Route("/api/admin", func(r chi.Router) {
			r.Put("/profiles/{id}/role", adminHandler.UpdateRole)
			r.Post("/maintenance/purge", adminHandler.PurgeOrphans)
		})
	})

	return r
}

// NewHealthHandler はヘルスチェックエンドポイントのハンドラーを返す。
// GET /health
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := checker.PingContext(r.Context()); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

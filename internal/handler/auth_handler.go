package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/mshiba/terakoya/internal/middleware"
	"github.com/mshiba/terakoya/internal/model"
)

// minPasswordLength はパスワードの最小長。
const minPasswordLength = 8

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignUp(ctx context.Context, email, password, firstName, lastName string) (*model.Session, error)
	SignIn(ctx context.Context, email, password string) (*model.Session, error)
	SignOut(ctx context.Context, refreshToken string)
}

// SessionEncoder はセッションのCookie値への変換インターフェース。
type SessionEncoder interface {
	Encode(sess *model.Session) (string, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はサインアップ・サインイン関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	encoder SessionEncoder
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, encoder SessionEncoder, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		encoder: encoder,
		config:  config,
	}
}

// signUpRequest はサインアップリクエストのボディ。
type signUpRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// signInRequest はサインインリクエストのボディ。
type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse はセッション情報のAPIレスポンス。
// トークン自体はHTTP Only Cookieでのみ運搬し、ボディには含めない。
type sessionResponse struct {
	IdentityID string    `json:"identity_id"`
	Email      string    `json:"email"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SignUp は新規ユーザーを登録し、セッションを確立する。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationFailedError("リクエストボディを解析できません"))
		return
	}

	if apiErr := validateCredentialInput(req.Email, req.Password); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationFailedError("姓と名は必須です"))
		return
	}

	sess, err := h.service.SignUp(r.Context(), req.Email, req.Password, strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, sess)
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

// Login はメールアドレスとパスワードでセッションを確立する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationFailedError("リクエストボディを解析できません"))
		return
	}

	if apiErr := validateCredentialInput(req.Email, req.Password); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	sess, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, sess)
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	// サーバー側の失効はベストエフォート。Cookie破棄は常に行う。
	if sess, err := middleware.SessionFromContext(r.Context()); err == nil {
		h.service.SignOut(r.Context(), sess.RefreshToken)
	}

	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Session は現在の解決済みセッションを返す。
// GET /session
// 未認証の場合はsession: nullを返す（エラーにはしない）。
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	sess, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"session": nil})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"session": toSessionResponse(sess)})
}

// setSessionCookie はセッションをHTTP Only Cookieとして書き込む。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sess *model.Session) {
	value, err := h.encoder.Encode(sess)
	if err != nil {
		slog.Error("failed to encode session cookie", slog.String("error", err.Error()))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はセッションCookieをクリアする。
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// toSessionResponse はセッションをAPIレスポンスに変換する。
func toSessionResponse(sess *model.Session) sessionResponse {
	return sessionResponse{
		IdentityID: sess.IdentityID,
		Email:      sess.Email,
		IssuedAt:   sess.IssuedAt,
		ExpiresAt:  sess.ExpiresAt,
	}
}

// validateCredentialInput はメールアドレスとパスワードの形式検証を行う。
// 検証エラーはCredential Providerに到達する前に解決される。
func validateCredentialInput(email, password string) *model.APIError {
	if email == "" {
		return model.NewValidationFailedError("メールアドレスは必須です")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return model.NewValidationFailedError("メールアドレスの形式が正しくありません")
	}
	if len(password) < minPasswordLength {
		return model.NewValidationFailedError("パスワードは8文字以上で指定してください")
	}
	return nil
}

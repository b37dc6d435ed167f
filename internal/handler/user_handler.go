package handler

import (
	"context"
	"net/http"

	"github.com/mshiba/terakoya/internal/middleware"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Withdraw はユーザーの退会処理を実行する。
	Withdraw(ctx context.Context, identityID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

// Withdraw は自身のアカウントを削除する。
// DELETE /api/users/me
// ローカルデータとCredential Provider側のidentityを連鎖削除し、
// セッションCookieをクリアする。
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	identityID, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAuthRequired(w)
		return
	}

	if err := h.service.Withdraw(r.Context(), identityID); err != nil {
		handleServiceError(w, err)
		return
	}

	// identityが消えたため、クライアント保持トークンも破棄させる
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusNoContent)
}

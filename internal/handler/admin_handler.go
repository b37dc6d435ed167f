package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mshiba/terakoya/internal/content"
	"github.com/mshiba/terakoya/internal/model"
)

// RoleUpdater は管理者ハンドラーが必要とするロール変更インターフェース。
// profile.Serviceの部分集合として定義する。
type RoleUpdater interface {
	UpdateRole(ctx context.Context, identityID string, role model.Role) (*model.Profile, error)
}

// OrphanPurger は孤児リソースの一括削除インターフェース。
// content.Serviceの部分集合として定義する。
type OrphanPurger interface {
	PurgeOrphans(ctx context.Context, caller content.Caller) (int64, error)
}

// AdminHandler は管理者専用操作のHTTPハンドラー。
// ルーティング層でProtectedAdminクラスとして保護されるが、
// メンテナンスパージはownershipポリシーでも独立にロールを再検証する。
type AdminHandler struct {
	roles  RoleUpdater
	purger OrphanPurger
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(roles RoleUpdater, purger OrphanPurger) *AdminHandler {
	return &AdminHandler{
		roles:  roles,
		purger: purger,
	}
}

// updateRoleRequest はロール変更リクエストのボディ。
type updateRoleRequest struct {
	Role string `json:"role"`
}

// purgeResponse はメンテナンスパージのAPIレスポンス。
type purgeResponse struct {
	DeletedCount int64 `json:"deleted_count"`
}

// UpdateRole は指定identityのロールを変更する。
// PUT /api/admin/profiles/{id}/role
func (h *AdminHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationFailedError("リクエストボディを解析できません"))
		return
	}

	profile, err := h.roles.UpdateRole(r.Context(), chi.URLParam(r, "id"), model.Role(req.Role))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// PurgeOrphans は所有者プロフィールが存在しない孤児リソースを一括削除する。
// POST /api/admin/maintenance/purge
func (h *AdminHandler) PurgeOrphans(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		writeAuthRequired(w)
		return
	}

	deleted, err := h.purger.PurgeOrphans(r.Context(), caller)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, purgeResponse{DeletedCount: deleted})
}

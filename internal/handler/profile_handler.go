package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mshiba/terakoya/internal/middleware"
	"github.com/mshiba/terakoya/internal/model"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	GetProfile(ctx context.Context, identityID string) (*model.Profile, error)
	UpdateNames(ctx context.Context, identityID, firstName, lastName string) (*model.Profile, error)
}

// ProfileHandler はプロフィール管理のHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// profileResponse はプロフィール情報のAPIレスポンス。
type profileResponse struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// updateNamesRequest は名前更新リクエストのボディ。
type updateNamesRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// GetProfile は自身のプロフィールを取得する。
// GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	identityID, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAuthRequired(w)
		return
	}

	profile, err := h.service.GetProfile(r.Context(), identityID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// UpdateNames は自身の名前フィールドを更新する。ロールは変更できない。
// PUT /api/profile
func (h *ProfileHandler) UpdateNames(w http.ResponseWriter, r *http.Request) {
	identityID, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAuthRequired(w)
		return
	}

	var req updateNamesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationFailedError("リクエストボディを解析できません"))
		return
	}

	profile, err := h.service.UpdateNames(r.Context(), identityID, req.FirstName, req.LastName)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// toProfileResponse はプロフィールをAPIレスポンスに変換する。
func toProfileResponse(profile *model.Profile) profileResponse {
	return profileResponse{
		ID:        profile.ID,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Role:      string(profile.Role),
		CreatedAt: profile.CreatedAt,
		UpdatedAt: profile.UpdatedAt,
	}
}

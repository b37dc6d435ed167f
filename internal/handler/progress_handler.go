package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mshiba/terakoya/internal/content"
	"github.com/mshiba/terakoya/internal/model"
)

// ProgressServiceInterface は進捗ハンドラーが必要とするサービスインターフェース。
type ProgressServiceInterface interface {
	ListProgress(ctx context.Context, caller content.Caller) ([]*model.Progress, error)
	UpsertProgress(ctx context.Context, caller content.Caller, lessonID string, completed bool, score int) (*model.Progress, error)
}

// ProgressHandler は学習進捗管理のHTTPハンドラー。
type ProgressHandler struct {
	service ProgressServiceInterface
}

// NewProgressHandler はProgressHandlerを生成する。
func NewProgressHandler(service ProgressServiceInterface) *ProgressHandler {
	return &ProgressHandler{service: service}
}

// progressResponse は進捗情報のAPIレスポンス。
type progressResponse struct {
	LessonID  string    `json:"lesson_id"`
	Completed bool      `json:"completed"`
	Score     int       `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// upsertProgressRequest は進捗更新リクエストのボディ。
type upsertProgressRequest struct {
	Completed bool `json:"completed"`
	Score     int  `json:"score"`
}

// ListProgress は自身の学習進捗の一覧を取得する。
// GET /api/progress
func (h *ProgressHandler) ListProgress(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		writeAuthRequired(w)
		return
	}

	records, err := h.service.ListProgress(r.Context(), caller)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]progressResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toProgressResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpsertProgress はレッスンの進捗を記録・更新する。
// PUT /api/progress/{lessonID}
func (h *ProgressHandler) UpsertProgress(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		writeAuthRequired(w)
		return
	}

	var req upsertProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationFailedError("リクエストボディを解析できません"))
		return
	}

	record, err := h.service.UpsertProgress(r.Context(), caller, chi.URLParam(r, "lessonID"), req.Completed, req.Score)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProgressResponse(record))
}

// toProgressResponse は進捗をAPIレスポンスに変換する。
func toProgressResponse(rec *model.Progress) progressResponse {
	return progressResponse{
		LessonID:  rec.LessonID,
		Completed: rec.Completed,
		Score:     rec.Score,
		UpdatedAt: rec.UpdatedAt,
	}
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mshiba/terakoya/internal/content"
	"github.com/mshiba/terakoya/internal/middleware"
	"github.com/mshiba/terakoya/internal/model"
)

// ContentServiceInterface は会話ハンドラーが必要とするサービスインターフェース。
type ContentServiceInterface interface {
	ListConversations(ctx context.Context, caller content.Caller) ([]*model.Conversation, error)
	CreateConversation(ctx context.Context, caller content.Caller, title string) (*model.Conversation, error)
	GetConversation(ctx context.Context, caller content.Caller, conversationID string) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, caller content.Caller, conversationID string) error
	ListMessages(ctx context.Context, caller content.Caller, conversationID string) ([]*model.Message, error)
	AppendMessage(ctx context.Context, caller content.Caller, conversationID string, sender model.MessageSender, body string) (*model.Message, error)
}

// ConversationHandler は会話・メッセージ管理のHTTPハンドラー。
type ConversationHandler struct {
	service ContentServiceInterface
}

// NewConversationHandler はConversationHandlerを生成する。
func NewConversationHandler(service ContentServiceInterface) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// conversationResponse は会話情報のAPIレスポンス。
type conversationResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// messageResponse はメッセージ情報のAPIレスポンス。
type messageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

// createConversationRequest は会話作成リクエストのボディ。
type createConversationRequest struct {
	Title string `json:"title"`
}

// appendMessageRequest はメッセージ追加リクエストのボディ。
type appendMessageRequest struct {
	Sender string `json:"sender"`
	Body   string `json:"body"`
}

// callerFromRequest はリクエストコンテキストから認可属性を取り出す。
func callerFromRequest(r *http.Request) (content.Caller, bool) {
	identityID, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		return content.Caller{}, false
	}
	role, ok := middleware.RoleFromContext(r.Context())
	if !ok {
		role = model.RoleUser
	}
	return content.Caller{IdentityID: identityID, Role: role}, true
}

// ListConversations は自身が所有する会話の一覧を取得する。
// GET /api/conversations
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		writeAuthRequired(w)
		return
	}

	convs, err := h.service.ListConversations(r.Context(), caller)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]conversationResponse, 0, len(convs))
	for _, conv := range convs {
		resp = append(resp, toConversationResponse(conv))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateConversation は新しい会話を作成する。
// POST /api/conversations
func (h *ConversationHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		writeAuthRequired(w)
		return
	}

	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationFailedError("リクエストボディを解析できません"))
		return
	}

	conv, err := h.service.CreateConversation(r.Context(), caller, req.Title)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toConversationResponse(conv))
}

// GetConversation は会話を取得する。所有者以外には404を返す。
// GET /api/conversations/{id}
func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		writeAuthRequired(w)
		return
	}

	conv, err := h.service.GetConversation(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

// DeleteConversation は会話と関連メッセージを削除する。
// DELETE /api/conversations/{id}
func (h *ConversationHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		writeAuthRequired(w)
		return
	}

	if err := h.service.DeleteConversation(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListMessages は会話内のメッセージ一覧を取得する。
// GET /api/conversations/{id}/messages
func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		writeAuthRequired(w)
		return
	}

	msgs, err := h.service.ListMessages(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]messageResponse, 0, len(msgs))
	for _, msg := range msgs {
		resp = append(resp, toMessageResponse(msg))
	}
	writeJSON(w, http.StatusOK, resp)
}

// AppendMessage は会話にメッセージを追加する。
// POST /api/conversations/{id}/messages
func (h *ConversationHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		writeAuthRequired(w)
		return
	}

	var req appendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationFailedError("リクエストボディを解析できません"))
		return
	}

	msg, err := h.service.AppendMessage(r.Context(), caller, chi.URLParam(r, "id"), model.MessageSender(req.Sender), req.Body)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

// toConversationResponse は会話をAPIレスポンスに変換する。
// owner_identity_idは本人の会話しか返らないため、レスポンスには含めない。
func toConversationResponse(conv *model.Conversation) conversationResponse {
	return conversationResponse{
		ID:        conv.ID,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
}

// toMessageResponse はメッセージをAPIレスポンスに変換する。
func toMessageResponse(msg *model.Message) messageResponse {
	return messageResponse{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         string(msg.Sender),
		Body:           msg.Body,
		CreatedAt:      msg.CreatedAt,
	}
}

package content

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mshiba/terakoya/internal/model"
)

// --- モック定義 ---

// mockConvRepo はConversationRepositoryのモック実装。
type mockConvRepo struct {
	findFn           func(ctx context.Context, id string) (*model.Conversation, error)
	listFn           func(ctx context.Context, ownerID string) ([]*model.Conversation, error)
	createFn         func(ctx context.Context, conv *model.Conversation) error
	deleteFn         func(ctx context.Context, id string) error
	deleteByOwnerFn  func(ctx context.Context, ownerID string) error
	deleteOrphanedFn func(ctx context.Context) (int64, error)
}

func (m *mockConvRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	if m.findFn != nil {
		return m.findFn(ctx, id)
	}
	return nil, nil
}

func (m *mockConvRepo) ListByOwnerID(ctx context.Context, ownerID string) ([]*model.Conversation, error) {
	if m.listFn != nil {
		return m.listFn(ctx, ownerID)
	}
	return nil, nil
}

func (m *mockConvRepo) Create(ctx context.Context, conv *model.Conversation) error {
	if m.createFn != nil {
		return m.createFn(ctx, conv)
	}
	return nil
}

func (m *mockConvRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockConvRepo) DeleteByOwnerID(ctx context.Context, ownerID string) error {
	if m.deleteByOwnerFn != nil {
		return m.deleteByOwnerFn(ctx, ownerID)
	}
	return nil
}

func (m *mockConvRepo) DeleteOrphaned(ctx context.Context) (int64, error) {
	if m.deleteOrphanedFn != nil {
		return m.deleteOrphanedFn(ctx)
	}
	return 0, nil
}

// mockMsgRepo はMessageRepositoryのモック実装。
type mockMsgRepo struct {
	listFn   func(ctx context.Context, conversationID string) ([]*model.Message, error)
	createFn func(ctx context.Context, msg *model.Message) error
}

func (m *mockMsgRepo) ListByConversationID(ctx context.Context, conversationID string) ([]*model.Message, error) {
	if m.listFn != nil {
		return m.listFn(ctx, conversationID)
	}
	return nil, nil
}

func (m *mockMsgRepo) Create(ctx context.Context, msg *model.Message) error {
	if m.createFn != nil {
		return m.createFn(ctx, msg)
	}
	return nil
}

// mockProgressRepo はProgressRepositoryのモック実装。
type mockProgressRepo struct {
	listFn           func(ctx context.Context, ownerID string) ([]*model.Progress, error)
	upsertFn         func(ctx context.Context, ownerID, lessonID string, completed bool, score int, updatedAt time.Time) (*model.Progress, error)
	deleteByOwnerFn  func(ctx context.Context, ownerID string) error
	deleteOrphanedFn func(ctx context.Context) (int64, error)
}

func (m *mockProgressRepo) ListByOwnerID(ctx context.Context, ownerID string) ([]*model.Progress, error) {
	if m.listFn != nil {
		return m.listFn(ctx, ownerID)
	}
	return nil, nil
}

func (m *mockProgressRepo) Upsert(ctx context.Context, ownerID, lessonID string, completed bool, score int, updatedAt time.Time) (*model.Progress, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, ownerID, lessonID, completed, score, updatedAt)
	}
	return &model.Progress{OwnerIdentityID: ownerID, LessonID: lessonID, Completed: completed, Score: score, UpdatedAt: updatedAt}, nil
}

func (m *mockProgressRepo) DeleteByOwnerID(ctx context.Context, ownerID string) error {
	if m.deleteByOwnerFn != nil {
		return m.deleteByOwnerFn(ctx, ownerID)
	}
	return nil
}

func (m *mockProgressRepo) DeleteOrphaned(ctx context.Context) (int64, error) {
	if m.deleteOrphanedFn != nil {
		return m.deleteOrphanedFn(ctx)
	}
	return 0, nil
}

// mockSanitizer はContentSanitizerServiceのモック実装。
type mockSanitizer struct {
	sanitizeFn func(rawHTML string) string
}

func (m *mockSanitizer) Sanitize(rawHTML string) string {
	if m.sanitizeFn != nil {
		return m.sanitizeFn(rawHTML)
	}
	return rawHTML
}

// --- ヘルパー ---

func ownedConversation(ownerID string) *model.Conversation {
	now := time.Now()
	return &model.Conversation{
		ID:              "conv-1",
		OwnerIdentityID: ownerID,
		Title:           "文法の質問",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func newTestService(convRepo *mockConvRepo, msgRepo *mockMsgRepo, progressRepo *mockProgressRepo) *Service {
	if convRepo == nil {
		convRepo = &mockConvRepo{}
	}
	if msgRepo == nil {
		msgRepo = &mockMsgRepo{}
	}
	if progressRepo == nil {
		progressRepo = &mockProgressRepo{}
	}
	return NewService(convRepo, msgRepo, progressRepo, &mockSanitizer{})
}

func assertNotFound(t *testing.T, err error) {
	t.Helper()
	apiErr, ok := err.(*model.APIError)
	if !ok || apiErr.Code != model.ErrCodeNotFound {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}
}

// --- 会話の所有者境界テスト ---

func TestService_GetConversation_OwnerSucceeds(t *testing.T) {
	convRepo := &mockConvRepo{
		findFn: func(ctx context.Context, id string) (*model.Conversation, error) {
			return ownedConversation("identity-a"), nil
		},
	}
	svc := newTestService(convRepo, nil, nil)

	conv, err := svc.GetConversation(context.Background(), Caller{IdentityID: "identity-a", Role: model.RoleUser}, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv.ID != "conv-1" {
		t.Errorf("ID = %q, want %q", conv.ID, "conv-1")
	}
}

// 所有者以外のアクセスは、存在しない会話と区別できないNOT_FOUNDになる。
func TestService_GetConversation_NonOwnerGetsNotFound(t *testing.T) {
	convRepo := &mockConvRepo{
		findFn: func(ctx context.Context, id string) (*model.Conversation, error) {
			return ownedConversation("identity-a"), nil
		},
	}
	svc := newTestService(convRepo, nil, nil)

	_, err := svc.GetConversation(context.Background(), Caller{IdentityID: "identity-b", Role: model.RoleUser}, "conv-1")
	if err == nil {
		t.Fatal("expected error for non-owner access")
	}
	assertNotFound(t, err)
}

// Adminロールでも他ユーザーの会話の読み書きはできない。
func TestService_GetConversation_AdminDoesNotBypassOwnership(t *testing.T) {
	convRepo := &mockConvRepo{
		findFn: func(ctx context.Context, id string) (*model.Conversation, error) {
			return ownedConversation("identity-a"), nil
		},
	}
	svc := newTestService(convRepo, nil, nil)

	_, err := svc.GetConversation(context.Background(), Caller{IdentityID: "admin-identity", Role: model.RoleAdmin}, "conv-1")
	if err == nil {
		t.Fatal("expected error for admin non-owner access")
	}
	assertNotFound(t, err)
}

func TestService_GetConversation_MissingConversation(t *testing.T) {
	svc := newTestService(nil, nil, nil)

	_, err := svc.GetConversation(context.Background(), Caller{IdentityID: "identity-a", Role: model.RoleUser}, "no-such-conv")
	if err == nil {
		t.Fatal("expected error for missing conversation")
	}
	assertNotFound(t, err)
}

func TestService_DeleteConversation_NonOwnerGetsNotFound(t *testing.T) {
	deleteCalled := false
	convRepo := &mockConvRepo{
		findFn: func(ctx context.Context, id string) (*model.Conversation, error) {
			return ownedConversation("identity-a"), nil
		},
		deleteFn: func(ctx context.Context, id string) error {
			deleteCalled = true
			return nil
		},
	}
	svc := newTestService(convRepo, nil, nil)

	err := svc.DeleteConversation(context.Background(), Caller{IdentityID: "identity-b", Role: model.RoleUser}, "conv-1")
	assertNotFound(t, err)

	if deleteCalled {
		t.Error("delete must not reach the repository for a non-owner")
	}
}

// --- 会話作成テスト ---

func TestService_CreateConversation_SetsOwner(t *testing.T) {
	var created *model.Conversation
	convRepo := &mockConvRepo{
		createFn: func(ctx context.Context, conv *model.Conversation) error {
			created = conv
			return nil
		},
	}
	svc := newTestService(convRepo, nil, nil)

	conv, err := svc.CreateConversation(context.Background(), Caller{IdentityID: "identity-a", Role: model.RoleUser}, "発音の練習")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	if created == nil || created.OwnerIdentityID != "identity-a" {
		t.Error("conversation owner must be the caller identity")
	}
	if conv.ID == "" {
		t.Error("conversation ID must be generated")
	}
}

func TestService_CreateConversation_EmptyTitle(t *testing.T) {
	svc := newTestService(nil, nil, nil)

	_, err := svc.CreateConversation(context.Background(), Caller{IdentityID: "identity-a", Role: model.RoleUser}, "  ")
	if err == nil {
		t.Fatal("expected validation error for empty title")
	}
}

// --- メッセージテスト ---

func TestService_AppendMessage_SanitizesBody(t *testing.T) {
	convRepo := &mockConvRepo{
		findFn: func(ctx context.Context, id string) (*model.Conversation, error) {
			return ownedConversation("identity-a"), nil
		},
	}
	var saved *model.Message
	msgRepo := &mockMsgRepo{
		createFn: func(ctx context.Context, msg *model.Message) error {
			saved = msg
			return nil
		},
	}
	sanitizer := &mockSanitizer{
		sanitizeFn: func(rawHTML string) string {
			return strings.ReplaceAll(rawHTML, "<script>alert(1)</script>", "")
		},
	}
	svc := NewService(convRepo, msgRepo, &mockProgressRepo{}, sanitizer)

	caller := Caller{IdentityID: "identity-a", Role: model.RoleUser}
	_, err := svc.AppendMessage(context.Background(), caller, "conv-1", model.SenderLearner, "こんにちは<script>alert(1)</script>")
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	if saved == nil {
		t.Fatal("message was not saved")
	}
	if strings.Contains(saved.Body, "<script>") {
		t.Errorf("body was not sanitized: %q", saved.Body)
	}
	if saved.OwnerIdentityID != "identity-a" {
		t.Errorf("OwnerIdentityID = %q, want %q", saved.OwnerIdentityID, "identity-a")
	}
}

func TestService_AppendMessage_ValidationFailures(t *testing.T) {
	convRepo := &mockConvRepo{
		findFn: func(ctx context.Context, id string) (*model.Conversation, error) {
			return ownedConversation("identity-a"), nil
		},
	}
	svc := newTestService(convRepo, nil, nil)
	caller := Caller{IdentityID: "identity-a", Role: model.RoleUser}

	cases := []struct {
		name   string
		sender model.MessageSender
		body   string
	}{
		{"sender不正", model.MessageSender("bot"), "hello"},
		{"本文空", model.SenderLearner, "   "},
		{"本文長すぎ", model.SenderLearner, strings.Repeat("a", maxMessageBodyLength+1)},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := svc.AppendMessage(context.Background(), caller, "conv-1", c.sender, c.body); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestService_ListMessages_NonOwnerGetsNotFound(t *testing.T) {
	convRepo := &mockConvRepo{
		findFn: func(ctx context.Context, id string) (*model.Conversation, error) {
			return ownedConversation("identity-a"), nil
		},
	}
	svc := newTestService(convRepo, nil, nil)

	_, err := svc.ListMessages(context.Background(), Caller{IdentityID: "identity-b", Role: model.RoleUser}, "conv-1")
	assertNotFound(t, err)
}

// --- 進捗テスト ---

func TestService_UpsertProgress_WritesToCallerRow(t *testing.T) {
	var gotOwner string
	progressRepo := &mockProgressRepo{
		upsertFn: func(ctx context.Context, ownerID, lessonID string, completed bool, score int, updatedAt time.Time) (*model.Progress, error) {
			gotOwner = ownerID
			return &model.Progress{OwnerIdentityID: ownerID, LessonID: lessonID, Completed: completed, Score: score}, nil
		},
	}
	svc := newTestService(nil, nil, progressRepo)

	_, err := svc.UpsertProgress(context.Background(), Caller{IdentityID: "identity-a", Role: model.RoleUser}, "lesson-1", true, 85)
	if err != nil {
		t.Fatalf("UpsertProgress failed: %v", err)
	}

	if gotOwner != "identity-a" {
		t.Errorf("owner = %q, want caller identity", gotOwner)
	}
}

func TestService_UpsertProgress_ScoreRange(t *testing.T) {
	svc := newTestService(nil, nil, nil)
	caller := Caller{IdentityID: "identity-a", Role: model.RoleUser}

	if _, err := svc.UpsertProgress(context.Background(), caller, "lesson-1", false, -1); err == nil {
		t.Error("expected validation error for score < 0")
	}
	if _, err := svc.UpsertProgress(context.Background(), caller, "lesson-1", false, 101); err == nil {
		t.Error("expected validation error for score > 100")
	}
	if _, err := svc.UpsertProgress(context.Background(), caller, "", false, 50); err == nil {
		t.Error("expected validation error for empty lesson ID")
	}
}

// --- メンテナンスパージテスト ---

func TestService_PurgeOrphans_AdminSucceeds(t *testing.T) {
	convRepo := &mockConvRepo{
		deleteOrphanedFn: func(ctx context.Context) (int64, error) { return 3, nil },
	}
	progressRepo := &mockProgressRepo{
		deleteOrphanedFn: func(ctx context.Context) (int64, error) { return 2, nil },
	}
	svc := newTestService(convRepo, nil, progressRepo)

	deleted, err := svc.PurgeOrphans(context.Background(), Caller{IdentityID: "admin-identity", Role: model.RoleAdmin})
	if err != nil {
		t.Fatalf("PurgeOrphans failed: %v", err)
	}
	if deleted != 5 {
		t.Errorf("deleted = %d, want 5", deleted)
	}
}

// Userロールはバイパス操作を実行できない。
func TestService_PurgeOrphans_UserIsForbidden(t *testing.T) {
	purgeCalled := false
	convRepo := &mockConvRepo{
		deleteOrphanedFn: func(ctx context.Context) (int64, error) {
			purgeCalled = true
			return 0, nil
		},
	}
	svc := newTestService(convRepo, nil, nil)

	_, err := svc.PurgeOrphans(context.Background(), Caller{IdentityID: "identity-a", Role: model.RoleUser})
	if err == nil {
		t.Fatal("expected error for non-admin purge")
	}

	apiErr, ok := err.(*model.APIError)
	if !ok || apiErr.Code != model.ErrCodeForbidden {
		t.Errorf("error = %v, want FORBIDDEN", err)
	}
	if purgeCalled {
		t.Error("purge must not reach the repository for a non-admin")
	}
}

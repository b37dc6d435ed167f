// Package content は会話・メッセージ・学習進捗のドメインロジックを提供する。
// すべての操作はownershipポリシーによる認可を通過する。
// 所有者以外からのアクセスは、リソースの存在有無を漏らさないため
// NOT_FOUNDとして報告される（内部的にはForbiddenとして記録される）。
package content

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mshiba/terakoya/internal/model"
	"github.com/mshiba/terakoya/internal/ownership"
	"github.com/mshiba/terakoya/internal/repository"
	"github.com/mshiba/terakoya/internal/security"
)

// maxMessageBodyLength はメッセージ本文の最大長（サニタイズ前）。
const maxMessageBodyLength = 8000

// Caller は操作を要求しているセッションの認可属性。
type Caller struct {
	IdentityID string
	Role       model.Role
}

// Service は私有リソースのサービス層。
type Service struct {
	convRepo     repository.ConversationRepository
	msgRepo      repository.MessageRepository
	progressRepo repository.ProgressRepository
	sanitizer    security.ContentSanitizerService
}

// NewService はServiceを生成する。
func NewService(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	progressRepo repository.ProgressRepository,
	sanitizer security.ContentSanitizerService,
) *Service {
	return &Service{
		convRepo:     convRepo,
		msgRepo:      msgRepo,
		progressRepo: progressRepo,
		sanitizer:    sanitizer,
	}
}

// ListConversations は呼び出しidentityが所有する会話一覧を返す。
// 所有者スコープのクエリのため、他ユーザーの会話は結果に含まれ得ない。
func (s *Service) ListConversations(ctx context.Context, caller Caller) ([]*model.Conversation, error) {
	convs, err := s.convRepo.ListByOwnerID(ctx, caller.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("会話一覧の取得に失敗しました: %w", err)
	}
	return convs, nil
}

// CreateConversation は呼び出しidentityを所有者とする会話を作成する。
func (s *Service) CreateConversation(ctx context.Context, caller Caller, title string) (*model.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, model.NewValidationFailedError("会話のタイトルは必須です")
	}

	now := time.Now()
	conv := &model.Conversation{
		ID:              uuid.New().String(),
		OwnerIdentityID: caller.IdentityID,
		Title:           title,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.convRepo.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("会話の作成に失敗しました: %w", err)
	}

	return conv, nil
}

// GetConversation は指定IDの会話を返す。
// 所有者以外にはNOT_FOUNDを返す。
func (s *Service) GetConversation(ctx context.Context, caller Caller, conversationID string) (*model.Conversation, error) {
	return s.authorizeConversation(ctx, caller, conversationID, ownership.OpRead)
}

// DeleteConversation は指定IDの会話と関連メッセージを削除する。
func (s *Service) DeleteConversation(ctx context.Context, caller Caller, conversationID string) error {
	if _, err := s.authorizeConversation(ctx, caller, conversationID, ownership.OpDelete); err != nil {
		return err
	}

	if err := s.convRepo.DeleteByID(ctx, conversationID); err != nil {
		return fmt.Errorf("会話の削除に失敗しました: %w", err)
	}

	return nil
}

// ListMessages は会話内のメッセージ一覧を返す。
func (s *Service) ListMessages(ctx context.Context, caller Caller, conversationID string) ([]*model.Message, error) {
	if _, err := s.authorizeConversation(ctx, caller, conversationID, ownership.OpRead); err != nil {
		return nil, err
	}

	msgs, err := s.msgRepo.ListByConversationID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("メッセージ一覧の取得に失敗しました: %w", err)
	}
	return msgs, nil
}

// AppendMessage は会話にメッセージを追加する。
// 本文は保存前にサニタイズされる。
func (s *Service) AppendMessage(ctx context.Context, caller Caller, conversationID string, sender model.MessageSender, body string) (*model.Message, error) {
	if sender != model.SenderLearner && sender != model.SenderTutor {
		return nil, model.NewValidationFailedError("senderにはlearnerまたはtutorを指定してください")
	}
	if strings.TrimSpace(body) == "" {
		return nil, model.NewValidationFailedError("メッセージ本文は必須です")
	}
	if len(body) > maxMessageBodyLength {
		return nil, model.NewValidationFailedError("メッセージ本文が長すぎます")
	}

	conv, err := s.authorizeConversation(ctx, caller, conversationID, ownership.OpWrite)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:              uuid.New().String(),
		ConversationID:  conv.ID,
		OwnerIdentityID: conv.OwnerIdentityID,
		Sender:          sender,
		Body:            s.sanitizer.Sanitize(body),
		CreatedAt:       time.Now(),
	}

	if err := s.msgRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("メッセージの保存に失敗しました: %w", err)
	}

	return msg, nil
}

// ListProgress は呼び出しidentityの学習進捗一覧を返す。
func (s *Service) ListProgress(ctx context.Context, caller Caller) ([]*model.Progress, error) {
	records, err := s.progressRepo.ListByOwnerID(ctx, caller.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("進捗一覧の取得に失敗しました: %w", err)
	}
	return records, nil
}

// UpsertProgress は呼び出しidentityのレッスン進捗を更新する。
// 進捗は常に呼び出しidentity自身の行に書き込まれるため、
// 所有者境界を越える書き込みは構造的に発生しない。
func (s *Service) UpsertProgress(ctx context.Context, caller Caller, lessonID string, completed bool, score int) (*model.Progress, error) {
	lessonID = strings.TrimSpace(lessonID)
	if lessonID == "" {
		return nil, model.NewValidationFailedError("レッスンIDは必須です")
	}
	if score < 0 || score > 100 {
		return nil, model.NewValidationFailedError("スコアは0から100の範囲で指定してください")
	}

	record, err := s.progressRepo.Upsert(ctx, caller.IdentityID, lessonID, completed, score, time.Now())
	if err != nil {
		return nil, fmt.Errorf("進捗の更新に失敗しました: %w", err)
	}

	return record, nil
}

// PurgeOrphans は所有者プロフィールが存在しない会話・進捗を一括削除する。
// ownershipポリシーの明示的バイパス操作（OpMaintenancePurge）であり、
// 管理者ルート経由でのみ到達する。
func (s *Service) PurgeOrphans(ctx context.Context, caller Caller) (int64, error) {
	// バイパス判定はポリシーに委ねる。所有者IDは存在しない（孤児）ため空を渡す。
	if ownership.Authorize(caller.IdentityID, caller.Role, "", ownership.OpMaintenancePurge) != ownership.Allow {
		return 0, model.NewForbiddenError()
	}

	convDeleted, err := s.convRepo.DeleteOrphaned(ctx)
	if err != nil {
		return 0, fmt.Errorf("孤児会話の削除に失敗しました: %w", err)
	}

	progressDeleted, err := s.progressRepo.DeleteOrphaned(ctx)
	if err != nil {
		return convDeleted, fmt.Errorf("孤児進捗の削除に失敗しました: %w", err)
	}

	total := convDeleted + progressDeleted
	slog.Info("orphan purge completed",
		slog.String("identity_id", caller.IdentityID),
		slog.Int64("deleted_count", total),
	)

	return total, nil
}

// authorizeConversation は会話を取得し、操作の認可判定を行う。
// 会話が存在しない場合と所有者以外からのアクセスは、外部的に
// 区別できないNOT_FOUNDとして報告する。
func (s *Service) authorizeConversation(ctx context.Context, caller Caller, conversationID string, op ownership.Operation) (*model.Conversation, error) {
	conv, err := s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("会話の取得に失敗しました: %w", err)
	}
	if conv == nil {
		return nil, model.NewNotFoundError("会話")
	}

	if ownership.Authorize(caller.IdentityID, caller.Role, conv.OwnerIdentityID, op) != ownership.Allow {
		// 内部的にはForbiddenだが、外部には存在有無を漏らさない。
		return nil, model.NewNotFoundError("会話")
	}

	return conv, nil
}

// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mshiba/terakoya/internal/model"
	"github.com/mshiba/terakoya/internal/repository"
)

// IdentityDeleter はCredential Provider側のidentity削除インターフェース。
// idp.Clientの部分集合として定義する。
type IdentityDeleter interface {
	DeleteIdentity(ctx context.Context, identityID string) error
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	profileRepo  repository.ProfileRepository
	convRepo     repository.ConversationRepository
	progressRepo repository.ProgressRepository
	idp          IdentityDeleter
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	profileRepo repository.ProfileRepository,
	convRepo repository.ConversationRepository,
	progressRepo repository.ProgressRepository,
	idp IdentityDeleter,
) *Service {
	return &Service{
		profileRepo:  profileRepo,
		convRepo:     convRepo,
		progressRepo: progressRepo,
		idp:          idp,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: conversations（+ CASCADE: messages）→ progress → profile →
// Credential Providerのidentity。
// ローカルデータを先に削除することで、identity削除失敗時も
// 再実行で完了できる（孤児はメンテナンスパージでも回収される）。
func (s *Service) Withdraw(ctx context.Context, identityID string) error {
	// プロフィール存在確認
	profile, err := s.profileRepo.FindByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return model.NewProfileNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("identity_id", identityID),
	)

	// 1. 会話を削除（messagesはCASCADE削除）
	if err := s.convRepo.DeleteByOwnerID(ctx, identityID); err != nil {
		return fmt.Errorf("会話の削除に失敗しました: %w", err)
	}

	// 2. 進捗を削除
	if err := s.progressRepo.DeleteByOwnerID(ctx, identityID); err != nil {
		return fmt.Errorf("進捗の削除に失敗しました: %w", err)
	}

	// 3. プロフィールを削除
	if err := s.profileRepo.DeleteByID(ctx, identityID); err != nil {
		return fmt.Errorf("プロフィールの削除に失敗しました: %w", err)
	}

	// 4. Credential Provider側のidentityを削除
	if err := s.idp.DeleteIdentity(ctx, identityID); err != nil {
		return fmt.Errorf("identityの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("identity_id", identityID),
	)

	return nil
}

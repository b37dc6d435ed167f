// Package profile はプロフィールの自動プロビジョニングと管理を提供する。
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mshiba/terakoya/internal/model"
	"github.com/mshiba/terakoya/internal/repository"
)

// Service はプロフィール管理のサービス層。
// identityごとにちょうど1つのプロフィール行が存在することを保証する。
type Service struct {
	repo repository.ProfileRepository
}

// NewService はServiceを生成する。
func NewService(repo repository.ProfileRepository) *Service {
	return &Service{repo: repo}
}

// EnsureProfile はidentityのプロフィールを冪等に取得または作成する。
// 初回作成時は名前フィールド空・ロールUserで作成する。
// 認証済みリクエストがプロフィールを必要とする任意の時点で呼んでよく、
// 同一identityへの同時呼び出しはすべて同一の行を返す。
func (s *Service) EnsureProfile(ctx context.Context, identityID string) (*model.Profile, error) {
	if identityID == "" {
		return nil, fmt.Errorf("identity ID is required")
	}

	profile, err := s.repo.EnsureProfile(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールのプロビジョニングに失敗しました: %w", err)
	}

	return profile, nil
}

// GetProfile は指定identityのプロフィールを取得する。
func (s *Service) GetProfile(ctx context.Context, identityID string) (*model.Profile, error) {
	profile, err := s.repo.FindByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewProfileNotFoundError()
	}

	return profile, nil
}

// UpdateNames は所有者本人による名前フィールドの更新を行う。
// ロールは変更できない。
func (s *Service) UpdateNames(ctx context.Context, identityID, firstName, lastName string) (*model.Profile, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName == "" || lastName == "" {
		return nil, model.NewValidationFailedError("姓と名は必須です")
	}

	profile, err := s.repo.UpdateNames(ctx, identityID, firstName, lastName)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	return profile, nil
}

// UpdateRole は管理者によるロール変更を行う。
// 呼び出し側（ルートガード）がProtectedAdminクラスで保護していることが前提。
func (s *Service) UpdateRole(ctx context.Context, identityID string, role model.Role) (*model.Profile, error) {
	if !role.IsValid() {
		return nil, model.NewValidationFailedError("ロールにはuserまたはadminを指定してください")
	}

	existing, err := s.repo.FindByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if existing == nil {
		return nil, model.NewProfileNotFoundError()
	}

	profile, err := s.repo.UpdateRole(ctx, identityID, role)
	if err != nil {
		return nil, fmt.Errorf("ロールの更新に失敗しました: %w", err)
	}

	slog.Info("profile role updated",
		slog.String("identity_id", identityID),
		slog.String("role", string(role)),
	)

	return profile, nil
}

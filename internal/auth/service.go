// Package auth はサインアップ・サインイン・サインアウトのドメインロジックを提供する。
// 認証情報の検証自体はCredential Providerに委譲し、本パッケージは
// トークンペアのセッション化とプロフィールのプロビジョニングを担う。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mshiba/terakoya/internal/idp"
	"github.com/mshiba/terakoya/internal/model"
)

// CredentialProvider はCredential Providerのトークン発行・失効操作。
// idp.Clientの部分集合として定義する。
type CredentialProvider interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]string) (*idp.Grant, error)
	SignIn(ctx context.Context, email, password string) (*idp.Grant, error)
	Revoke(ctx context.Context, refreshToken string) error
}

// ProfileProvisioner はプロフィールの冪等な自動作成インターフェース。
// profile.Serviceの部分集合として定義する。
type ProfileProvisioner interface {
	EnsureProfile(ctx context.Context, identityID string) (*model.Profile, error)
}

// Recorder は認証試行のメトリクス記録インターフェース。
type Recorder interface {
	// RecordAuthAttempt は認証試行の結果（success/rejected/unavailable）を記録する。
	RecordAuthAttempt(result string)
}

// Service は認証フローのサービス層。
type Service struct {
	idp      CredentialProvider
	profiles ProfileProvisioner
	metrics  Recorder
}

// NewService はServiceを生成する。metricsはnil可。
func NewService(provider CredentialProvider, profiles ProfileProvisioner, metrics Recorder) *Service {
	return &Service{
		idp:      provider,
		profiles: profiles,
		metrics:  metrics,
	}
}

// SignUp は新規identityを登録し、セッションを確立する。
// 表示名はCredential Provider側のメタデータとしてのみ保存され、
// ローカルのプロフィールは名前フィールド空・ロールUserで作成される。
// 登録拒否は原因（メール重複等）を区別せずINVALID_CREDENTIALSで報告する。
func (s *Service) SignUp(ctx context.Context, email, password, firstName, lastName string) (*model.Session, error) {
	metadata := map[string]string{}
	if firstName != "" {
		metadata["first_name"] = firstName
	}
	if lastName != "" {
		metadata["last_name"] = lastName
	}

	grant, err := s.idp.SignUp(ctx, email, password, metadata)
	if err != nil {
		return nil, s.grantFailed("signup", err)
	}

	return s.establishSession(ctx, grant)
}

// SignIn はメールアドレスとパスワードでセッションを確立する。
// 認証拒否は原因（未登録メール、パスワード不一致）を区別せず
// INVALID_CREDENTIALSで報告する。
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	grant, err := s.idp.SignIn(ctx, email, password)
	if err != nil {
		return nil, s.grantFailed("signin", err)
	}

	return s.establishSession(ctx, grant)
}

// SignOut はリフレッシュトークンをCredential Provider側で失効させる。
// 失効失敗はログに記録するのみで、呼び出し側のCookie破棄は妨げない
// （クライアント側のトークン破棄が主で、サーバー側失効はベストエフォート）。
func (s *Service) SignOut(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	if err := s.idp.Revoke(ctx, refreshToken); err != nil {
		slog.Warn("token revoke failed",
			slog.String("error", err.Error()),
		)
	}
}

// establishSession はGrantをセッションに変換し、プロフィールをプロビジョニングする。
func (s *Service) establishSession(ctx context.Context, grant *idp.Grant) (*model.Session, error) {
	sess := &model.Session{
		IdentityID:   grant.Identity.ID,
		Email:        grant.Identity.Email,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		IssuedAt:     grant.IssuedAt,
		ExpiresAt:    grant.ExpiresAt,
	}

	// サインイン完了はプロフィールを必要とするトリガーポイントのひとつ。
	// 冪等操作のため、既存identityの再サインインでは既存行がそのまま返る。
	if _, err := s.profiles.EnsureProfile(ctx, sess.IdentityID); err != nil {
		return nil, fmt.Errorf("プロフィールのプロビジョニングに失敗しました: %w", err)
	}

	s.recordAttempt("success")
	slog.Info("session established",
		slog.String("identity_id", sess.IdentityID),
	)

	return sess, nil
}

// grantFailed はCredential Providerの失敗をAPIErrorに変換する。
func (s *Service) grantFailed(flow string, err error) error {
	if errors.Is(err, idp.ErrUpstreamUnavailable) {
		s.recordAttempt("unavailable")
		slog.Error("credential provider unreachable",
			slog.String("flow", flow),
			slog.String("error", err.Error()),
		)
		return model.NewUpstreamUnavailableError()
	}

	// 拒否理由の詳細はログにのみ残し、外部には常に同一種別で報告する。
	s.recordAttempt("rejected")
	slog.Info("credential rejected",
		slog.String("flow", flow),
		slog.String("error", err.Error()),
	)
	return model.NewInvalidCredentialsError()
}

func (s *Service) recordAttempt(result string) {
	if s.metrics != nil {
		s.metrics.RecordAuthAttempt(result)
	}
}

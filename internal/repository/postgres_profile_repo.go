package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mshiba/terakoya/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByID は指定identity IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	profile := &model.Profile{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, role, created_at, updated_at FROM profiles WHERE id = $1`,
		id,
	).Scan(&profile.ID, &profile.FirstName, &profile.LastName, &profile.Role, &profile.CreatedAt, &profile.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}

	return profile, nil
}

// EnsureProfile はプロフィールが存在しない場合のみ作成し、結果の行を返す。
// ON CONFLICT DO NOTHINGにより同時初回コンタクトは一方のINSERTのみが成功し、
// 他方はエラーなく既存行を観測する。既存行の名前・ロールは上書きしない。
func (r *PostgresProfileRepo) EnsureProfile(ctx context.Context, id string) (*model.Profile, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, first_name, last_name, role)
		 VALUES ($1, '', '', $2)
		 ON CONFLICT (id) DO NOTHING`,
		id, model.RoleUser,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", err)
	}

	profile, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		// INSERTとSELECTの間で削除された場合のみ到達する
		return nil, fmt.Errorf("profile disappeared after ensure: %s", id)
	}

	return profile, nil
}

// UpdateNames は名前フィールドのみを更新する。
func (r *PostgresProfileRepo) UpdateNames(ctx context.Context, id, firstName, lastName string) (*model.Profile, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET first_name = $2, last_name = $3, updated_at = now() WHERE id = $1`,
		id, firstName, lastName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile names: %w", err)
	}

	if err := requireRowAffected(result, "profile", id); err != nil {
		return nil, err
	}

	return r.FindByID(ctx, id)
}

// UpdateRole はロールのみを更新する。
func (r *PostgresProfileRepo) UpdateRole(ctx context.Context, id string, role model.Role) (*model.Profile, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET role = $2, updated_at = now() WHERE id = $1`,
		id, role,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile role: %w", err)
	}

	if err := requireRowAffected(result, "profile", id); err != nil {
		return nil, err
	}

	return r.FindByID(ctx, id)
}

// DeleteByID は指定identity IDのプロフィールを削除する。
func (r *PostgresProfileRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM profiles WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// requireRowAffected は更新が1行以上に作用したことを確認する。
func requireRowAffected(result sql.Result, resource, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s not found: %s", resource, id)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)

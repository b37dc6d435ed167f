package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mshiba/terakoya/internal/model"
)

// PostgresProgressRepo はPostgreSQLを使用した学習進捗リポジトリ。
type PostgresProgressRepo struct {
	db *sql.DB
}

// NewPostgresProgressRepo はPostgresProgressRepoを生成する。
func NewPostgresProgressRepo(db *sql.DB) *PostgresProgressRepo {
	return &PostgresProgressRepo{db: db}
}

// ListByOwnerID は所有者の進捗一覧を返す。
func (r *PostgresProgressRepo) ListByOwnerID(ctx context.Context, ownerID string) ([]*model.Progress, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT owner_identity_id, lesson_id, completed, score, updated_at
		 FROM progress WHERE owner_identity_id = $1
		 ORDER BY lesson_id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()

	var records []*model.Progress
	for rows.Next() {
		p := &model.Progress{}
		if err := rows.Scan(&p.OwnerIdentityID, &p.LessonID, &p.Completed, &p.Score, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		records = append(records, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate progress: %w", err)
	}

	return records, nil
}

// Upsert は進捗を冪等にUPSERTし、結果の行を返す。
func (r *PostgresProgressRepo) Upsert(ctx context.Context, ownerID, lessonID string, completed bool, score int, updatedAt time.Time) (*model.Progress, error) {
	p := &model.Progress{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO progress (owner_identity_id, lesson_id, completed, score, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (owner_identity_id, lesson_id)
		 DO UPDATE SET completed = EXCLUDED.completed, score = EXCLUDED.score, updated_at = EXCLUDED.updated_at
		 RETURNING owner_identity_id, lesson_id, completed, score, updated_at`,
		ownerID, lessonID, completed, score, updatedAt,
	).Scan(&p.OwnerIdentityID, &p.LessonID, &p.Completed, &p.Score, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert progress: %w", err)
	}

	return p, nil
}

// DeleteByOwnerID は所有者の全進捗を削除する。
func (r *PostgresProgressRepo) DeleteByOwnerID(ctx context.Context, ownerID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM progress WHERE owner_identity_id = $1`,
		ownerID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete progress by owner: %w", err)
	}
	return nil
}

// DeleteOrphaned は所有者プロフィールが存在しない進捗を削除し、件数を返す。
func (r *PostgresProgressRepo) DeleteOrphaned(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM progress pr
		 WHERE NOT EXISTS (SELECT 1 FROM profiles p WHERE p.id = pr.owner_identity_id)`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned progress: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ ProgressRepository = (*PostgresProgressRepo)(nil)

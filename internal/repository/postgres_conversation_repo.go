package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mshiba/terakoya/internal/model"
)

// PostgresConversationRepo はPostgreSQLを使用した会話リポジトリ。
type PostgresConversationRepo struct {
	db *sql.DB
}

// NewPostgresConversationRepo はPostgresConversationRepoを生成する。
func NewPostgresConversationRepo(db *sql.DB) *PostgresConversationRepo {
	return &PostgresConversationRepo{db: db}
}

// FindByID は指定IDの会話を取得する。見つからない場合はnilを返す。
func (r *PostgresConversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	conv := &model.Conversation{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_identity_id, title, created_at, updated_at FROM conversations WHERE id = $1`,
		id,
	).Scan(&conv.ID, &conv.OwnerIdentityID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation by ID: %w", err)
	}

	return conv, nil
}

// ListByOwnerID は所有者の会話一覧をupdated_at降順で返す。
func (r *PostgresConversationRepo) ListByOwnerID(ctx context.Context, ownerID string) ([]*model.Conversation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_identity_id, title, created_at, updated_at
		 FROM conversations WHERE owner_identity_id = $1
		 ORDER BY updated_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*model.Conversation
	for rows.Next() {
		conv := &model.Conversation{}
		if err := rows.Scan(&conv.ID, &conv.OwnerIdentityID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	return convs, nil
}

// Create は会話を作成する。
func (r *PostgresConversationRepo) Create(ctx context.Context, conv *model.Conversation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_identity_id, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		conv.ID, conv.OwnerIdentityID, conv.Title, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// DeleteByID は指定IDの会話を削除する。関連messagesはCASCADE削除される。
func (r *PostgresConversationRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// DeleteByOwnerID は所有者の全会話を削除する。
func (r *PostgresConversationRepo) DeleteByOwnerID(ctx context.Context, ownerID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE owner_identity_id = $1`,
		ownerID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete conversations by owner: %w", err)
	}
	return nil
}

// DeleteOrphaned は所有者プロフィールが存在しない会話を削除し、件数を返す。
func (r *PostgresConversationRepo) DeleteOrphaned(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM conversations c
		 WHERE NOT EXISTS (SELECT 1 FROM profiles p WHERE p.id = c.owner_identity_id)`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned conversations: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ ConversationRepository = (*PostgresConversationRepo)(nil)

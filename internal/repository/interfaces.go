// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/mshiba/terakoya/internal/model"
)

// ProfileRepository はプロフィールデータの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定identity IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// EnsureProfile はプロフィールが存在しない場合のみ作成し、結果の行を返す。
	// identity IDをキーとしたinsert-or-ignoreで実装し、同一identityへの
	// 同時初回コンタクトがエラーなく1行に収束することを保証する。
	// 既存行の名前・ロールは決して上書きしない。
	EnsureProfile(ctx context.Context, id string) (*model.Profile, error)

	// UpdateNames は名前フィールドのみを更新する。所有者本人の操作用。
	UpdateNames(ctx context.Context, id, firstName, lastName string) (*model.Profile, error)

	// UpdateRole はロールのみを更新する。管理者セッションの操作用。
	UpdateRole(ctx context.Context, id string, role model.Role) (*model.Profile, error)

	// DeleteByID は指定identity IDのプロフィールを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// ConversationRepository は会話データの永続化インターフェース。
type ConversationRepository interface {
	// FindByID は指定IDの会話を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Conversation, error)

	// ListByOwnerID は所有者の会話一覧をupdated_at降順で返す。
	ListByOwnerID(ctx context.Context, ownerID string) ([]*model.Conversation, error)

	// Create は会話を作成する。
	Create(ctx context.Context, conv *model.Conversation) error

	// DeleteByID は指定IDの会話を削除する。関連messagesはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error

	// DeleteByOwnerID は所有者の全会話を削除する。退会処理用。
	DeleteByOwnerID(ctx context.Context, ownerID string) error

	// DeleteOrphaned は所有者プロフィールが存在しない会話を削除し、件数を返す。
	// メンテナンスバイパス経由でのみ呼ばれる。
	DeleteOrphaned(ctx context.Context) (int64, error)
}

// MessageRepository はメッセージデータの永続化インターフェース。
type MessageRepository interface {
	// ListByConversationID は会話内のメッセージをcreated_at昇順で返す。
	ListByConversationID(ctx context.Context, conversationID string) ([]*model.Message, error)

	// Create はメッセージを作成する。
	Create(ctx context.Context, msg *model.Message) error
}

// ProgressRepository は学習進捗の永続化インターフェース。
type ProgressRepository interface {
	// ListByOwnerID は所有者の進捗一覧を返す。
	ListByOwnerID(ctx context.Context, ownerID string) ([]*model.Progress, error)

	// Upsert は進捗を冪等にUPSERTし、結果の行を返す。
	Upsert(ctx context.Context, ownerID, lessonID string, completed bool, score int, updatedAt time.Time) (*model.Progress, error)

	// DeleteByOwnerID は所有者の全進捗を削除する。退会処理用。
	DeleteByOwnerID(ctx context.Context, ownerID string) error

	// DeleteOrphaned は所有者プロフィールが存在しない進捗を削除し、件数を返す。
	DeleteOrphaned(ctx context.Context) (int64, error)
}

// Package model はドメインモデルを定義する。
package model

import "time"

// Role はプロフィールの権限ロールを表す。
// ロール判定はownershipポリシーとルートガード経由でのみ行い、
// 呼び出し側でのアドホックな判定は行わない。
type Role string

const (
	// RoleUser は一般ユーザーロール。
	RoleUser Role = "user"
	// RoleAdmin は管理者ロール。教材管理の権限を持つが、
	// 他ユーザーの私有リソースへの汎用アクセス権は持たない。
	RoleAdmin Role = "admin"
)

// IsValid はロール値が定義済みのものかどうかを返す。
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Profile はプラットフォーム側のユーザーレコードを表す。
// IDはCredential Providerが発行するidentity IDと一致する（1 identity = 1 profile）。
// 名前フィールドは所有者本人のみ、ロールは管理者セッションのみが変更できる。
type Profile struct {
	ID        string
	FirstName string
	LastName  string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

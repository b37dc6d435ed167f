// Package ownership は私有リソースへのアクセス可否を判定するポリシーを提供する。
// ここがデータ層における唯一の正式な認可判定であり、ルートガードの判定は
// ナビゲーション用の参考情報にすぎない。呼び出し側でのアドホックな
// 所有者チェックは行わず、必ずAuthorizeを経由すること。
package ownership

import (
	"log/slog"

	"github.com/mshiba/terakoya/internal/model"
)

// Operation は私有リソースに対する操作種別を表す。
type Operation string

const (
	// OpRead は私有リソースの読み取り。
	OpRead Operation = "read"
	// OpWrite は私有リソースの作成・更新。
	OpWrite Operation = "write"
	// OpDelete は私有リソースの削除。
	OpDelete Operation = "delete"

	// OpMaintenancePurge は孤児リソースの一括削除。
	// 所有者境界をバイパスする唯一の文書化された管理操作であり、
	// エンドユーザー向けルートからは到達できない。
	OpMaintenancePurge Operation = "maintenance_purge"
)

// bypassOps は所有者境界のバイパスが明示的に許可された操作の一覧。
// Adminロールであっても、ここに列挙されていない操作で
// 他ユーザーのリソースにアクセスすることはできない。
var bypassOps = map[Operation]bool{
	OpMaintenancePurge: true,
}

// Decision は認可判定の結果を表す。
type Decision int

const (
	// Deny はアクセス拒否。
	Deny Decision = iota
	// Allow はアクセス許可。
	Allow
)

// Authorize は私有リソースへの操作可否を判定する。
// 許可されるのは次のいずれかの場合のみ:
//   - 呼び出しidentityがリソースの所有者である
//   - 操作がバイパス一覧に含まれ、かつ呼び出しがAdminロールである
//
// Adminロールは教材管理の権限であり、他ユーザーの私有データへの
// 汎用アクセス権ではない。管理者アカウントが侵害された場合の
// 影響範囲を限定するための設計。
func Authorize(identityID string, role model.Role, resourceOwnerID string, op Operation) Decision {
	if identityID == "" {
		return Deny
	}

	if identityID == resourceOwnerID {
		return Allow
	}

	if bypassOps[op] && role == model.RoleAdmin {
		slog.Info("ownership bypass exercised",
			slog.String("identity_id", identityID),
			slog.String("operation", string(op)),
		)
		return Allow
	}

	slog.Warn("ownership denied",
		slog.String("identity_id", identityID),
		slog.String("resource_owner_id", resourceOwnerID),
		slog.String("operation", string(op)),
	)
	return Deny
}

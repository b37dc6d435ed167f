// Package cleanup は孤児リソースの自動削除ジョブを提供する。
// identity削除後に残った、所有者プロフィールの存在しない会話・進捗を
// 日次バッチで削除する。messagesはCASCADE削除で自動的に処理される。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// OrphanDeleter は孤児行の一括削除インターフェース。
// repositoryのDeleteOrphanedの部分集合として定義する。
type OrphanDeleter interface {
	DeleteOrphaned(ctx context.Context) (int64, error)
}

// CleanupJob は孤児リソースの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	convRepo     OrphanDeleter
	progressRepo OrphanDeleter
	logger       *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(convRepo, progressRepo OrphanDeleter, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		convRepo:     convRepo,
		progressRepo: progressRepo,
		logger:       logger,
	}
}

// Run は孤児会話と孤児進捗を削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	convDeleted, err := j.convRepo.DeleteOrphaned(ctx)
	if err != nil {
		j.logger.Error("孤児会話クリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("孤児会話クリーンアップの実行に失敗: %w", err)
	}

	progressDeleted, err := j.progressRepo.DeleteOrphaned(ctx)
	if err != nil {
		j.logger.Error("孤児進捗クリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("孤児進捗クリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("孤児クリーンアップジョブが完了しました",
		slog.Int64("conversations_deleted", convDeleted),
		slog.Int64("progress_deleted", progressDeleted),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

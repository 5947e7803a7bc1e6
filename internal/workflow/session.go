package workflow

import (
	"context"
	"log/slog"

	"github.com/hitoshi/labelman/internal/model"
	"github.com/hitoshi/labelman/internal/repository"
)

// EnterSession はコーダーのセッション開始を処理する。
// 管理者レベルのコーダーで、かつプロジェクトに管理者ロックが存在しない場合のみ
// ロックを作成する。既にロックが存在する場合は何もしない。
func (s *Service) EnterSession(ctx context.Context, projectID, coderID string) error {
	return s.tx.RunInTx(ctx, func(st *repository.Stores) error {
		level, err := st.Permissions.Level(ctx, projectID, coderID)
		if err != nil {
			return err
		}
		if !model.IsAdminLevel(level) {
			return nil
		}

		acquired, err := st.AdminLocks.Acquire(ctx, projectID, coderID)
		if err != nil {
			return err
		}
		if acquired {
			s.logger.Info("admin lock acquired",
				slog.String("project_id", projectID),
				slog.String("coder_id", coderID),
			)
		}
		return nil
	})
}

// LeaveSession はコーダーのセッション終了を処理する。
// コーダーの全割り当てを解除してアイテムをavailableに戻し、
// 管理者ロックを保持していれば解放する。
func (s *Service) LeaveSession(ctx context.Context, projectID, coderID string) error {
	return s.tx.RunInTx(ctx, func(st *repository.Stores) error {
		released, err := st.Assignments.ReleaseAll(ctx, coderID)
		if err != nil {
			return err
		}
		if released > 0 {
			s.logger.Info("assignments released on session leave",
				slog.String("coder_id", coderID),
				slog.Int64("count", released),
			)
		}

		level, err := st.Permissions.Level(ctx, projectID, coderID)
		if err != nil {
			return err
		}
		if !model.IsAdminLevel(level) {
			return nil
		}

		releasedLock, err := st.AdminLocks.Release(ctx, projectID, coderID)
		if err != nil {
			return err
		}
		if releasedLock {
			s.logger.Info("admin lock released",
				slog.String("project_id", projectID),
				slog.String("coder_id", coderID),
			)
		}
		return nil
	})
}

// CheckAdminAvailability は管理者レビュー画面を表示できるかを返す。
// ロックが存在しないか、自分がロックを保持している場合に表示できる。
func (s *Service) CheckAdminAvailability(ctx context.Context, projectID, coderID string) (bool, error) {
	var available bool
	err := s.tx.RunInTx(ctx, func(st *repository.Stores) error {
		lock, err := st.AdminLocks.Find(ctx, projectID)
		if err != nil {
			return err
		}
		available = lock == nil || lock.CoderID == coderID
		return nil
	})
	if err != nil {
		return false, err
	}
	return available, nil
}

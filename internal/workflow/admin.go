package workflow

import (
	"context"
	"errors"

	"github.com/hitoshi/labelman/internal/model"
	"github.com/hitoshi/labelman/internal/repository"
)

// skipLabelName は監査ログに記録するスキップ修正の新ラベル名。
const skipLabelName = "skip"

// ModifyRequest はラベル修正の入力。
type ModifyRequest struct {
	ItemID     string
	CoderID    string
	OldLabelID string
	NewLabelID string
	Reason     string
}

// ModifySkipRequest はラベルのスキップへの修正の入力。
type ModifySkipRequest struct {
	ItemID       string
	CoderID      string
	OldLabelID   string
	NewLabelID   string
	Reason       string
	ExplicitFlag bool
}

// AdminLabelRequest は管理者による最終ラベル付けの入力。
type AdminLabelRequest struct {
	ItemID        string
	AdminID       string
	LabelID       string
	Reason        string
	SensitiveFlag bool
}

// ModifyLabel は既存のラベル付け記録を新しいラベルに差し替える。
// 記録の差し替えと監査ログの追記は同一トランザクションで行われ、
// 差し替え対象が0件でも監査ログは必ず1件追記される。
func (s *Service) ModifyLabel(ctx context.Context, req ModifyRequest) error {
	reason := s.sanitizer.Sanitize(req.Reason)

	return s.tx.RunInTx(ctx, func(st *repository.Stores) error {
		item, err := st.Items.FindByIDForUpdate(ctx, req.ItemID)
		if err != nil {
			return err
		}
		if item == nil {
			return model.NewItemNotFoundError(req.ItemID)
		}

		oldLabel, newLabel, err := s.findLabelPair(ctx, st, req.OldLabelID, req.NewLabelID)
		if err != nil {
			return err
		}

		// 修正対象はコーダーを問わない。旧ラベルが一致する記録をすべて差し替える。
		if _, err := st.Records.Replace(ctx, item.ID, oldLabel.ID, newLabel.ID, "", reason, false); err != nil {
			return err
		}

		return st.ChangeLog.Append(ctx, &model.ChangeLogEntry{
			ProjectID:    item.ProjectID,
			ItemID:       item.ID,
			CoderID:      req.CoderID,
			OldLabelName: oldLabel.Name,
			NewLabelName: newLabel.Name,
		})
	})
}

// ModifyLabelToSkip は既存のラベル付け記録をスキップに修正する。
// ExplicitFlagが立っている場合は信頼性チェック状態を破棄して
// センシティブとして管理者キューへ送る。
// そうでなければ信頼性チェック対象ならスキップ票として扱い、
// 非対象ならスキップ理由で管理者キューへ送る。
func (s *Service) ModifyLabelToSkip(ctx context.Context, req ModifySkipRequest) error {
	reason := s.sanitizer.Sanitize(req.Reason)

	return s.tx.RunInTx(ctx, func(st *repository.Stores) error {
		item, err := st.Items.FindByIDForUpdate(ctx, req.ItemID)
		if err != nil {
			return err
		}
		if item == nil {
			return model.NewItemNotFoundError(req.ItemID)
		}

		oldLabel, newLabel, err := s.findLabelPair(ctx, st, req.OldLabelID, req.NewLabelID)
		if err != nil {
			return err
		}

		if _, err := st.Records.Replace(ctx, item.ID, oldLabel.ID, newLabel.ID, req.CoderID, reason, true); err != nil {
			return err
		}

		switch {
		case req.ExplicitFlag:
			if err := s.purgeReliabilityState(ctx, st, item, true); err != nil {
				return err
			}
			if err := st.Queue.Enqueue(ctx, item.ID, model.ReasonSensitive); err != nil {
				return err
			}

		case item.ReliabilityFlag:
			// 投票ログに残すだけで管理者キューには入れない。
			// キュー行きの判断は解決ポリシーに委ねる。
			hasVote, err := st.Votes.HasVote(ctx, item.ID, req.CoderID)
			if err != nil {
				return err
			}
			if !hasVote {
				vote := &model.ReliabilityVote{
					ItemID:  item.ID,
					CoderID: req.CoderID,
					Reason:  reason,
				}
				if err := st.Votes.Append(ctx, vote); err != nil {
					return err
				}
			}

		default:
			if err := st.Queue.Enqueue(ctx, item.ID, model.ReasonSkipped); err != nil {
				return err
			}
		}

		return st.ChangeLog.Append(ctx, &model.ChangeLogEntry{
			ProjectID:    item.ProjectID,
			ItemID:       item.ID,
			CoderID:      req.CoderID,
			OldLabelName: oldLabel.Name,
			NewLabelName: skipLabelName,
		})
	})
}

// AdminLabel は管理者キュー内のアイテムに最終ラベルを付ける。
// 事前の全ラベル付け記録は破棄され、管理者の記録1件に置き換わる。
// 信頼性チェックフラグ・センシティブフラグも管理者の指定で確定する。
func (s *Service) AdminLabel(ctx context.Context, req AdminLabelRequest) error {
	reason := s.sanitizer.Sanitize(req.Reason)

	var notify notification
	err := s.tx.RunInTx(ctx, func(st *repository.Stores) error {
		item, err := st.Items.FindByIDForUpdate(ctx, req.ItemID)
		if err != nil {
			return err
		}
		if item == nil {
			return model.NewItemNotFoundError(req.ItemID)
		}

		if err := s.requireAdmin(ctx, st, item.ProjectID, req.AdminID); err != nil {
			return err
		}

		label, err := st.Labels.FindByID(ctx, req.LabelID)
		if err != nil {
			return err
		}
		if label == nil || label.ProjectID != item.ProjectID {
			return model.NewLabelNotFoundError(req.LabelID)
		}

		project, err := st.Projects.FindByID(ctx, item.ProjectID)
		if err != nil {
			return err
		}
		if project == nil {
			return model.NewProjectNotFoundError(item.ProjectID)
		}

		// 事前のラベルを破棄してから管理者の記録を作成する
		if err := st.Records.DeleteByItem(ctx, item.ID); err != nil {
			return err
		}

		if err := st.Items.SetSensitiveFlag(ctx, item.ID, req.SensitiveFlag); err != nil {
			return err
		}
		if item.ReliabilityFlag {
			if err := st.Items.SetReliabilityFlag(ctx, item.ID, false); err != nil {
				return err
			}
		}

		rec := &model.LabelingRecord{
			ItemID:      item.ID,
			LabelID:     label.ID,
			CoderID:     req.AdminID,
			TrainingSet: project.CurrentTrainingSet,
			Reason:      reason,
		}
		if err := st.Records.Create(ctx, rec); err != nil {
			return err
		}

		if _, err := st.Queue.Dequeue(ctx, item.ID); err != nil {
			return err
		}
		if err := st.Items.MarkLabeled(ctx, item.ID); err != nil {
			return err
		}

		return s.prepareNotification(ctx, st, project, &notify)
	})
	if err != nil {
		return err
	}

	s.sendNotification(notify)
	return nil
}

// Discard はアイテムをリサイクルビンへ移す。管理者のみ実行できる。
// 全ラベル付け記録・投票ログ・信頼性チェックフラグは破棄される。
func (s *Service) Discard(ctx context.Context, itemID, coderID string) error {
	err := s.tx.RunInTx(ctx, func(st *repository.Stores) error {
		item, err := st.Items.FindByIDForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		if item == nil {
			return model.NewItemNotFoundError(itemID)
		}

		if err := s.requireAdmin(ctx, st, item.ProjectID, coderID); err != nil {
			return err
		}

		if err := st.Votes.DeleteByItem(ctx, item.ID); err != nil {
			return err
		}
		if err := st.Records.DeleteByItem(ctx, item.ID); err != nil {
			return err
		}
		if item.ReliabilityFlag {
			if err := st.Items.SetReliabilityFlag(ctx, item.ID, false); err != nil {
				return err
			}
		}

		return st.Recycle.Recycle(ctx, item.ID)
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordDiscard()
	}
	return nil
}

// Restore はリサイクルビンのアイテムをavailableへ戻す。管理者のみ実行できる。
func (s *Service) Restore(ctx context.Context, itemID, coderID string) error {
	err := s.tx.RunInTx(ctx, func(st *repository.Stores) error {
		item, err := st.Items.FindByIDForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		if item == nil {
			return model.NewItemNotFoundError(itemID)
		}

		if err := s.requireAdmin(ctx, st, item.ProjectID, coderID); err != nil {
			return err
		}

		if err := st.Recycle.Restore(ctx, item.ID); err != nil {
			if errors.Is(err, repository.ErrNotRecycled) {
				return model.NewInvalidRequestError("アイテムはリサイクルビンにありません")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordRestore()
	}
	return nil
}

// requireAdmin はコーダーが管理者レベルの権限を持つことを確認する。
func (s *Service) requireAdmin(ctx context.Context, st *repository.Stores, projectID, coderID string) error {
	level, err := st.Permissions.Level(ctx, projectID, coderID)
	if err != nil {
		return err
	}
	if !model.IsAdminLevel(level) {
		return model.NewPermissionDeniedError()
	}
	return nil
}

// findLabelPair は修正前後のラベルをまとめて取得する。
func (s *Service) findLabelPair(ctx context.Context, st *repository.Stores, oldLabelID, newLabelID string) (*model.Label, *model.Label, error) {
	oldLabel, err := st.Labels.FindByID(ctx, oldLabelID)
	if err != nil {
		return nil, nil, err
	}
	if oldLabel == nil {
		return nil, nil, model.NewLabelNotFoundError(oldLabelID)
	}

	newLabel, err := st.Labels.FindByID(ctx, newLabelID)
	if err != nil {
		return nil, nil, err
	}
	if newLabel == nil {
		return nil, nil, model.NewLabelNotFoundError(newLabelID)
	}

	return oldLabel, newLabel, nil
}

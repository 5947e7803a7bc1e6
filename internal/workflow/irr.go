package workflow

import (
	"context"

	"github.com/hitoshi/labelman/internal/model"
	"github.com/hitoshi/labelman/internal/repository"
)

// 信頼性チェックの解決ポリシー。
//
// required = プロジェクトの必要投票者数、history = 追記前の投票数として:
//   - history >= required のラベル票は遅延票。履歴に追記するだけで再判定しない。
//   - スキップ票は history <= required の間、票数に関わらず即座に
//     管理者キューへエスカレートする。スキップはコーダーが信頼性判定を
//     下せなかったことを意味するため、合意を待たない。
//   - required票目のラベル票で全ラベル票が一致すれば確定、不一致なら
//     管理者キューへエスカレートする。
//   - それ以外のラベル票は収集継続。アイテムはavailableに戻り、
//     未投票のコーダーにのみ再配布される。

// resolveLabelVote は信頼性チェック対象アイテムへのラベル票を処理する。
func (s *Service) resolveLabelVote(ctx context.Context, st *repository.Stores, item *model.Item, project *model.Project, req SubmitRequest, reason string, history int) error {
	required := project.RequiredVoters
	labelID := req.LabelID

	if history >= required {
		// 遅延票。履歴に追記するだけで再判定しない。
		vote := &model.ReliabilityVote{
			ItemID:  item.ID,
			CoderID: req.CoderID,
			LabelID: &labelID,
			Reason:  reason,
		}
		if err := st.Votes.Append(ctx, vote); err != nil {
			return err
		}
		return s.releaseAssignment(ctx, st, item.ID, req.CoderID)
	}

	vote := &model.ReliabilityVote{
		ItemID:  item.ID,
		CoderID: req.CoderID,
		LabelID: &labelID,
		Reason:  reason,
	}
	if err := st.Votes.Append(ctx, vote); err != nil {
		return err
	}

	rec := &model.LabelingRecord{
		ItemID:        item.ID,
		LabelID:       labelID,
		CoderID:       req.CoderID,
		TrainingSet:   project.CurrentTrainingSet,
		TimeToLabelMs: req.TimeToLabelMs,
		Reason:        reason,
	}
	if err := st.Records.Create(ctx, rec); err != nil {
		return err
	}

	if err := s.releaseAssignment(ctx, st, item.ID, req.CoderID); err != nil {
		return err
	}

	if history+1 < required {
		// 収集継続
		return nil
	}

	votes, err := st.Votes.ListByItem(ctx, item.ID)
	if err != nil {
		return err
	}

	if labelVotesAgree(votes) {
		if err := st.Items.MarkLabeled(ctx, item.ID); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordIRRFinalized()
		}
		return nil
	}

	if err := st.Queue.Enqueue(ctx, item.ID, model.ReasonIRR); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordIRREscalated()
	}
	return nil
}

// resolveSkipVote は信頼性チェック対象アイテムへのスキップ票を処理する。
func (s *Service) resolveSkipVote(ctx context.Context, st *repository.Stores, item *model.Item, req SkipRequest, reason string, history, required int) error {
	vote := &model.ReliabilityVote{
		ItemID:  item.ID,
		CoderID: req.CoderID,
		Reason:  reason,
	}
	if err := st.Votes.Append(ctx, vote); err != nil {
		return err
	}

	if err := s.releaseAssignment(ctx, st, item.ID, req.CoderID); err != nil {
		return err
	}

	if history > required {
		// 解決済みアイテムへの遅延スキップ。追記のみ。
		return nil
	}

	if err := st.Queue.Enqueue(ctx, item.ID, model.ReasonIRR); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordIRREscalated()
	}
	return nil
}

// labelVotesAgree は全ラベル票が同一ラベルを指しているかを返す。
// スキップ票（LabelIDがnil）は判定から除外する。
func labelVotesAgree(votes []model.ReliabilityVote) bool {
	first := ""
	for _, vote := range votes {
		if vote.LabelID == nil {
			continue
		}
		if first == "" {
			first = *vote.LabelID
			continue
		}
		if *vote.LabelID != first {
			return false
		}
	}
	return true
}

// purgeReliabilityState はアイテムの信頼性チェック状態を完全に破棄し、
// センシティブフラグを立てる。以降このアイテムは非信頼性経路で処理される。
// keepSkippedがtrueの場合はスキップ記録を残す（ラベル修正経由のフラグ指定）。
func (s *Service) purgeReliabilityState(ctx context.Context, st *repository.Stores, item *model.Item, keepSkipped bool) error {
	if err := st.Votes.DeleteByItem(ctx, item.ID); err != nil {
		return err
	}

	if keepSkipped {
		if err := st.Records.DeleteByItemExceptSkipped(ctx, item.ID); err != nil {
			return err
		}
	} else {
		if err := st.Records.DeleteByItem(ctx, item.ID); err != nil {
			return err
		}
	}

	if item.ReliabilityFlag {
		if err := st.Items.SetReliabilityFlag(ctx, item.ID, false); err != nil {
			return err
		}
		item.ReliabilityFlag = false
	}

	if err := st.Items.SetSensitiveFlag(ctx, item.ID, true); err != nil {
		return err
	}
	item.SensitiveFlag = true

	return nil
}

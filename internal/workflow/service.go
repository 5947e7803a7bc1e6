// Package workflow はアイテムのライフサイクルを統括するドメインロジックを提供する。
// バッチ配布、ラベル付け・スキップのサブミット、信頼性チェックの解決、
// 管理者操作、セッション管理を含む。
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/hitoshi/labelman/internal/metrics"
	"github.com/hitoshi/labelman/internal/model"
	"github.com/hitoshi/labelman/internal/repository"
	"github.com/hitoshi/labelman/internal/retrain"
	"github.com/hitoshi/labelman/internal/security"
)

// Service はワークフローのサービス層。
// すべての状態遷移は1つのトランザクション内で行われ、
// 対象アイテムの行ロックにより同一アイテムへの並行サブミットは直列化される。
type Service struct {
	tx               repository.TxRunner
	notifier         retrain.Notifier
	sanitizer        security.ReasonSanitizerService
	metrics          metrics.MetricsCollector
	logger           *slog.Logger
	defaultBatchSize int
}

// ServiceConfig はServiceの動作設定。
type ServiceConfig struct {
	// DefaultBatchSize はプロジェクトにバッチサイズが設定されていない場合の配布数。
	DefaultBatchSize int
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	tx repository.TxRunner,
	notifier retrain.Notifier,
	sanitizer security.ReasonSanitizerService,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg ServiceConfig,
) *Service {
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = 30
	}
	return &Service{
		tx:               tx,
		notifier:         notifier,
		sanitizer:        sanitizer,
		metrics:          collector,
		logger:           logger,
		defaultBatchSize: cfg.DefaultBatchSize,
	}
}

// Batch はコーダーに配布するアイテム一式。
type Batch struct {
	Labels   []*model.Label
	Items    []*model.Item
	Metadata map[string][]model.MetadataField
}

// SubmitRequest はラベル付けサブミットの入力。
type SubmitRequest struct {
	ItemID        string
	CoderID       string
	LabelID       string
	TimeToLabelMs *int64
	Reason        string
}

// SkipRequest はスキップサブミットの入力。
// ExplicitFlagが立っている場合、アイテムはセンシティブとして扱われ、
// 信頼性チェックの状態は完全に破棄される。
type SkipRequest struct {
	ItemID        string
	CoderID       string
	LabelID       string
	TimeToLabelMs *int64
	Reason        string
	ExplicitFlag  bool
}

// FetchBatch はコーダーにアイテムのバッチを配布する。
// 配布数はプロジェクトのバッチサイズをコーダー数で頭割りした値
// （ceil(batch_size / coder_count)）を上限とする。
// すでに割り当て済みのアイテムがあればそれを優先して返し、
// 不足分をavailableプールから取得する。
// 返却順はシャッフルされるが、取得対象の選択には影響しない。
func (s *Service) FetchBatch(ctx context.Context, projectID, coderID string) (*Batch, error) {
	var batch *Batch

	err := s.tx.RunInTx(ctx, func(st *repository.Stores) error {
		project, err := st.Projects.FindByID(ctx, projectID)
		if err != nil {
			return err
		}
		if project == nil {
			return model.NewProjectNotFoundError(projectID)
		}

		coderCount, err := st.Projects.CoderCount(ctx, projectID)
		if err != nil {
			return err
		}
		if coderCount < 1 {
			coderCount = 1
		}
		batchSize := project.BatchSize
		if batchSize <= 0 {
			batchSize = s.defaultBatchSize
		}
		coderSize := (batchSize + coderCount - 1) / coderCount

		// 既存の割り当てを優先して返す
		assigned, err := st.Items.ListByState(ctx, projectID, model.StateAssigned)
		if err != nil {
			return err
		}
		items := make([]*model.Item, 0, coderSize)
		for _, item := range assigned {
			if item.AssignedTo == coderID {
				items = append(items, item)
			}
		}

		if len(items) < coderSize {
			claimed, err := st.Items.ClaimAvailable(ctx, projectID, coderID, coderSize-len(items))
			if err != nil {
				return err
			}
			items = append(items, claimed...)
		}

		labels, err := st.Labels.ListByProject(ctx, projectID)
		if err != nil {
			return err
		}

		itemIDs := make([]string, len(items))
		for i, item := range items {
			itemIDs[i] = item.ID
		}
		metadata, err := st.Items.MetadataFor(ctx, itemIDs)
		if err != nil {
			return err
		}

		batch = &Batch{Labels: labels, Items: items, Metadata: metadata}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 提示順のみのシャッフル。取得対象の選択には影響しない。
	rand.Shuffle(len(batch.Items), func(i, j int) {
		batch.Items[i], batch.Items[j] = batch.Items[j], batch.Items[i]
	})

	if s.metrics != nil {
		s.metrics.RecordBatchFetchSize(len(batch.Items))
	}

	return batch, nil
}

// SubmitLabel はラベル付けサブミットを処理する。
// リサイクル済みアイテムへのサブミットは割り当て解除のみを行い、静かに破棄する。
// 信頼性チェック対象のアイテムは投票として記録され、解決ポリシーに従って
// 確定・エスカレーション・収集継続のいずれかに振り分けられる。
func (s *Service) SubmitLabel(ctx context.Context, req SubmitRequest) error {
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

		// リサイクル済みは割り当て解除のみ。記録は残さないが再学習通知は行う。
		if item.State == model.StateRecycled {
			if err := s.releaseAssignment(ctx, st, item.ID, req.CoderID); err != nil {
				return err
			}
			return s.prepareNotification(ctx, st, project, &notify)
		}

		history, err := st.Votes.CountByItem(ctx, item.ID)
		if err != nil {
			return err
		}

		if item.ReliabilityFlag || history > 0 {
			if err := s.resolveLabelVote(ctx, st, item, project, req, reason, history); err != nil {
				return err
			}
		} else {
			rec := &model.LabelingRecord{
				ItemID:        item.ID,
				LabelID:       label.ID,
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
			if err := st.Items.MarkLabeled(ctx, item.ID); err != nil {
				return err
			}
		}

		return s.prepareNotification(ctx, st, project, &notify)
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordLabelSubmission()
	}
	s.sendNotification(notify)

	return nil
}

// SubmitSkip はスキップサブミットを処理する。
// 信頼性チェック対象のアイテムではスキップ票は合意を待たず
// 即座に管理者キューへエスカレートする。
func (s *Service) SubmitSkip(ctx context.Context, req SkipRequest) error {
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

		project, err := st.Projects.FindByID(ctx, item.ProjectID)
		if err != nil {
			return err
		}
		if project == nil {
			return model.NewProjectNotFoundError(item.ProjectID)
		}

		history, err := st.Votes.CountByItem(ctx, item.ID)
		if err != nil {
			return err
		}

		switch {
		case item.State == model.StateRecycled:
			// リサイクル済みでもスキップ記録は必ず残す。キューには入れない。
			if err := s.recordSkip(ctx, st, item, project, req, reason); err != nil {
				return err
			}
			if err := s.releaseAssignment(ctx, st, item.ID, req.CoderID); err != nil {
				return err
			}

		case req.ExplicitFlag:
			if err := s.purgeReliabilityState(ctx, st, item, false); err != nil {
				return err
			}
			if err := s.recordSkip(ctx, st, item, project, req, reason); err != nil {
				return err
			}
			if err := s.releaseAssignment(ctx, st, item.ID, req.CoderID); err != nil {
				return err
			}
			if err := st.Queue.Enqueue(ctx, item.ID, model.ReasonSensitive); err != nil {
				return err
			}

		case item.ReliabilityFlag || history > 0:
			if err := s.resolveSkipVote(ctx, st, item, req, reason, history, project.RequiredVoters); err != nil {
				return err
			}
			if err := s.recordSkip(ctx, st, item, project, req, reason); err != nil {
				return err
			}

		default:
			if err := s.recordSkip(ctx, st, item, project, req, reason); err != nil {
				return err
			}
			if err := s.releaseAssignment(ctx, st, item.ID, req.CoderID); err != nil {
				return err
			}
			if err := st.Queue.Enqueue(ctx, item.ID, model.ReasonSkipped); err != nil {
				return err
			}
		}

		return s.prepareNotification(ctx, st, project, &notify)
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordSkipSubmission()
	}
	s.sendNotification(notify)

	return nil
}

// recordSkip はスキップのラベル付け記録を追加する。
func (s *Service) recordSkip(ctx context.Context, st *repository.Stores, item *model.Item, project *model.Project, req SkipRequest, reason string) error {
	rec := &model.LabelingRecord{
		ItemID:        item.ID,
		LabelID:       req.LabelID,
		CoderID:       req.CoderID,
		TrainingSet:   project.CurrentTrainingSet,
		TimeToLabelMs: req.TimeToLabelMs,
		WasSkipped:    true,
		Reason:        reason,
	}
	return st.Records.Create(ctx, rec)
}

// releaseAssignment はコーダーの割り当てを解除する。
// 割り当てが存在しない場合（状態遷移で既に解除済みなど）は何もしない。
func (s *Service) releaseAssignment(ctx context.Context, st *repository.Stores, itemID, coderID string) error {
	err := st.Assignments.Release(ctx, itemID, coderID)
	if errors.Is(err, repository.ErrNotAssigned) {
		return nil
	}
	return err
}

// notification はコミット後に送る再学習トリガー通知の内容。
type notification struct {
	projectID    string
	labeledCount int
}

// prepareNotification はトランザクション内で通知内容を確定する。
func (s *Service) prepareNotification(ctx context.Context, st *repository.Stores, project *model.Project, n *notification) error {
	count, err := st.Records.CountByProjectAndTrainingSet(ctx, project.ID, project.CurrentTrainingSet)
	if err != nil {
		return fmt.Errorf("通知用のラベル付け件数取得に失敗しました: %w", err)
	}
	n.projectID = project.ID
	n.labeledCount = count
	return nil
}

// sendNotification はコミット後に再学習トリガーへ通知する。
func (s *Service) sendNotification(n notification) {
	if n.projectID == "" {
		return
	}
	s.notifier.Notify(n.projectID, n.labeledCount)
}

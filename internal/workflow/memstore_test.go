package workflow

// テスト用のインメモリStores実装。
// PostgreSQL実装と同じ状態遷移の意味論（冪等なEnqueue、
// 投票済みコーダーへの再配布除外など）を持つ。

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/labelman/internal/model"
	"github.com/hitoshi/labelman/internal/repository"
)

type memDB struct {
	projects    map[string]*model.Project
	permissions map[string]map[string]int
	items       map[string]*model.Item
	itemOrder   []string
	labels      map[string]*model.Label
	records     []*model.LabelingRecord
	votes       []model.ReliabilityVote
	changeLog   []*model.ChangeLogEntry
	locks       map[string]*model.AdminLock
	seq         int
}

func newMemDB() *memDB {
	return &memDB{
		projects:    make(map[string]*model.Project),
		permissions: make(map[string]map[string]int),
		items:       make(map[string]*model.Item),
		labels:      make(map[string]*model.Label),
		locks:       make(map[string]*model.AdminLock),
	}
}

func (db *memDB) nextID(prefix string) string {
	db.seq++
	return fmt.Sprintf("%s-%d", prefix, db.seq)
}

func (db *memDB) addProject(p *model.Project) {
	db.projects[p.ID] = p
	if db.permissions[p.ID] == nil {
		db.permissions[p.ID] = make(map[string]int)
	}
}

func (db *memDB) addItem(projectID string, reliability bool) *model.Item {
	item := &model.Item{
		ID:              db.nextID("item"),
		ProjectID:       projectID,
		Text:            "text",
		ReliabilityFlag: reliability,
		State:           model.StateAvailable,
	}
	db.items[item.ID] = item
	db.itemOrder = append(db.itemOrder, item.ID)
	return item
}

func (db *memDB) addLabel(projectID, name string) *model.Label {
	label := &model.Label{ID: db.nextID("label"), ProjectID: projectID, Name: name}
	db.labels[label.ID] = label
	return label
}

func (db *memDB) stores() *repository.Stores {
	return &repository.Stores{
		Projects:    &memProjectRepo{db},
		Items:       &memItemRepo{db},
		Assignments: &memAssignmentRepo{db},
		Queue:       &memQueueRepo{db},
		Recycle:     &memRecycleRepo{db},
		Labels:      &memLabelRepo{db},
		Records:     &memRecordRepo{db},
		Votes:       &memVoteRepo{db},
		ChangeLog:   &memChangeLogRepo{db},
		AdminLocks:  &memAdminLockRepo{db},
		Permissions: &memPermissionRepo{db},
	}
}

// memTxRunner はロールバックなしでfnを実行するTxRunner。
// 単一ゴルーチンのテスト用であり、分離性は検証対象外。
type memTxRunner struct {
	db *memDB
}

func (r *memTxRunner) RunInTx(ctx context.Context, fn func(st *repository.Stores) error) error {
	return fn(r.db.stores())
}

type memProjectRepo struct{ db *memDB }

func (r *memProjectRepo) FindByID(ctx context.Context, id string) (*model.Project, error) {
	return r.db.projects[id], nil
}

func (r *memProjectRepo) CoderCount(ctx context.Context, projectID string) (int, error) {
	project := r.db.projects[projectID]
	count := 1
	for coderID := range r.db.permissions[projectID] {
		if project == nil || coderID != project.CreatorID {
			count++
		}
	}
	return count, nil
}

type memItemRepo struct{ db *memDB }

func (r *memItemRepo) FindByID(ctx context.Context, id string) (*model.Item, error) {
	return r.db.items[id], nil
}

func (r *memItemRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.Item, error) {
	return r.db.items[id], nil
}

func (r *memItemRepo) ClaimAvailable(ctx context.Context, projectID, coderID string, limit int) ([]*model.Item, error) {
	var claimed []*model.Item
	for _, id := range r.db.itemOrder {
		if len(claimed) >= limit {
			break
		}
		item := r.db.items[id]
		if item.ProjectID != projectID || item.State != model.StateAvailable {
			continue
		}
		if r.coderTouched(id, coderID) {
			continue
		}
		item.State = model.StateAssigned
		item.AssignedTo = coderID
		claimed = append(claimed, item)
	}
	return claimed, nil
}

func (r *memItemRepo) coderTouched(itemID, coderID string) bool {
	for _, rec := range r.db.records {
		if rec.ItemID == itemID && rec.CoderID == coderID {
			return true
		}
	}
	for _, vote := range r.db.votes {
		if vote.ItemID == itemID && vote.CoderID == coderID {
			return true
		}
	}
	return false
}

func (r *memItemRepo) MarkLabeled(ctx context.Context, itemID string) error {
	item := r.db.items[itemID]
	if item.State == model.StateRecycled {
		return nil
	}
	item.State = model.StateLabeled
	item.AssignedTo = ""
	item.QueueReason = ""
	return nil
}

func (r *memItemRepo) SetReliabilityFlag(ctx context.Context, itemID string, flag bool) error {
	r.db.items[itemID].ReliabilityFlag = flag
	return nil
}

func (r *memItemRepo) SetSensitiveFlag(ctx context.Context, itemID string, flag bool) error {
	r.db.items[itemID].SensitiveFlag = flag
	return nil
}

func (r *memItemRepo) ListByState(ctx context.Context, projectID string, state model.ItemState) ([]*model.Item, error) {
	var result []*model.Item
	for _, id := range r.db.itemOrder {
		item := r.db.items[id]
		if item.ProjectID == projectID && item.State == state {
			result = append(result, item)
		}
	}
	return result, nil
}

func (r *memItemRepo) MetadataFor(ctx context.Context, itemIDs []string) (map[string][]model.MetadataField, error) {
	return map[string][]model.MetadataField{}, nil
}

type memAssignmentRepo struct{ db *memDB }

func (r *memAssignmentRepo) Assign(ctx context.Context, itemID, coderID string) error {
	item := r.db.items[itemID]
	if item.State != model.StateAvailable {
		return repository.ErrAlreadyAssigned
	}
	item.State = model.StateAssigned
	item.AssignedTo = coderID
	return nil
}

func (r *memAssignmentRepo) Release(ctx context.Context, itemID, coderID string) error {
	item := r.db.items[itemID]
	if item.State != model.StateAssigned || item.AssignedTo != coderID {
		return repository.ErrNotAssigned
	}
	item.State = model.StateAvailable
	item.AssignedTo = ""
	return nil
}

func (r *memAssignmentRepo) ReleaseAll(ctx context.Context, coderID string) (int64, error) {
	var count int64
	for _, item := range r.db.items {
		if item.State == model.StateAssigned && item.AssignedTo == coderID {
			item.State = model.StateAvailable
			item.AssignedTo = ""
			count++
		}
	}
	return count, nil
}

type memQueueRepo struct{ db *memDB }

func (r *memQueueRepo) Enqueue(ctx context.Context, itemID string, reason model.QueueReason) error {
	item := r.db.items[itemID]
	if item.State == model.StateAdminQueued || item.State == model.StateRecycled {
		return nil
	}
	item.State = model.StateAdminQueued
	item.QueueReason = reason
	item.AssignedTo = ""
	return nil
}

func (r *memQueueRepo) Dequeue(ctx context.Context, itemID string) (bool, error) {
	item := r.db.items[itemID]
	if item.State != model.StateAdminQueued {
		return false, nil
	}
	item.State = model.StateAvailable
	item.QueueReason = ""
	return true, nil
}

func (r *memQueueRepo) ListAdmin(ctx context.Context, projectID string) ([]*model.Item, error) {
	var result []*model.Item
	for _, id := range r.db.itemOrder {
		item := r.db.items[id]
		if item.ProjectID == projectID && item.State == model.StateAdminQueued {
			result = append(result, item)
		}
	}
	return result, nil
}

func (r *memQueueRepo) CountsByReason(ctx context.Context, projectID string) (map[model.QueueReason]int, error) {
	counts := make(map[model.QueueReason]int)
	for _, item := range r.db.items {
		if item.ProjectID == projectID && item.State == model.StateAdminQueued {
			counts[item.QueueReason]++
		}
	}
	return counts, nil
}

type memRecycleRepo struct{ db *memDB }

func (r *memRecycleRepo) Recycle(ctx context.Context, itemID string) error {
	item := r.db.items[itemID]
	if item.State == model.StateRecycled {
		return nil
	}
	now := time.Now()
	item.State = model.StateRecycled
	item.AssignedTo = ""
	item.QueueReason = ""
	item.RecycledAt = &now
	return nil
}

func (r *memRecycleRepo) Restore(ctx context.Context, itemID string) error {
	item := r.db.items[itemID]
	if item.State != model.StateRecycled {
		return repository.ErrNotRecycled
	}
	item.State = model.StateAvailable
	item.RecycledAt = nil
	return nil
}

func (r *memRecycleRepo) ListByProject(ctx context.Context, projectID string) ([]*model.Item, error) {
	var result []*model.Item
	for _, id := range r.db.itemOrder {
		item := r.db.items[id]
		if item.ProjectID == projectID && item.State == model.StateRecycled {
			result = append(result, item)
		}
	}
	return result, nil
}

type memLabelRepo struct{ db *memDB }

func (r *memLabelRepo) FindByID(ctx context.Context, id string) (*model.Label, error) {
	return r.db.labels[id], nil
}

func (r *memLabelRepo) ListByProject(ctx context.Context, projectID string) ([]*model.Label, error) {
	var result []*model.Label
	for _, label := range r.db.labels {
		if label.ProjectID == projectID {
			result = append(result, label)
		}
	}
	return result, nil
}

type memRecordRepo struct{ db *memDB }

func (r *memRecordRepo) Create(ctx context.Context, rec *model.LabelingRecord) error {
	if rec.ID == "" {
		rec.ID = r.db.nextID("record")
	}
	rec.Timestamp = time.Now()
	r.db.records = append(r.db.records, rec)
	return nil
}

func (r *memRecordRepo) Replace(ctx context.Context, itemID, oldLabelID, newLabelID, coderID, reason string, markSkipped bool) (int64, error) {
	var affected int64
	zero := int64(0)
	for _, rec := range r.db.records {
		if rec.ItemID != itemID || rec.LabelID != oldLabelID {
			continue
		}
		if coderID != "" && rec.CoderID != coderID {
			continue
		}
		rec.LabelID = newLabelID
		rec.TimeToLabelMs = &zero
		rec.Reason = reason
		if markSkipped {
			rec.WasSkipped = true
		}
		affected++
	}
	return affected, nil
}

func (r *memRecordRepo) DeleteByItem(ctx context.Context, itemID string) error {
	kept := r.db.records[:0]
	for _, rec := range r.db.records {
		if rec.ItemID != itemID {
			kept = append(kept, rec)
		}
	}
	r.db.records = kept
	return nil
}

func (r *memRecordRepo) DeleteByItemExceptSkipped(ctx context.Context, itemID string) error {
	kept := r.db.records[:0]
	for _, rec := range r.db.records {
		if rec.ItemID != itemID || rec.WasSkipped {
			kept = append(kept, rec)
		}
	}
	r.db.records = kept
	return nil
}

func (r *memRecordRepo) FindSkippedByItem(ctx context.Context, itemID string) (*model.LabelingRecord, error) {
	for _, rec := range r.db.records {
		if rec.ItemID == itemID && rec.WasSkipped {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *memRecordRepo) CountByCoderAndLabel(ctx context.Context, coderID, labelID string) (int, error) {
	count := 0
	for _, rec := range r.db.records {
		if rec.CoderID == coderID && rec.LabelID == labelID {
			count++
		}
	}
	return count, nil
}

func (r *memRecordRepo) CountByProjectAndTrainingSet(ctx context.Context, projectID string, trainingSet int) (int, error) {
	count := 0
	for _, rec := range r.db.records {
		item := r.db.items[rec.ItemID]
		if item != nil && item.ProjectID == projectID && rec.TrainingSet == trainingSet && !rec.WasSkipped {
			count++
		}
	}
	return count, nil
}

func (r *memRecordRepo) ListHistoryByCoder(ctx context.Context, projectID, coderID string) ([]repository.HistoryRow, error) {
	var rows []repository.HistoryRow
	for _, rec := range r.db.records {
		item := r.db.items[rec.ItemID]
		if item == nil || item.ProjectID != projectID || rec.CoderID != coderID || rec.WasSkipped {
			continue
		}
		label := r.db.labels[rec.LabelID]
		rows = append(rows, repository.HistoryRow{
			ItemID:        rec.ItemID,
			Text:          item.Text,
			LabelID:       rec.LabelID,
			LabelName:     label.Name,
			Reason:        rec.Reason,
			Timestamp:     rec.Timestamp,
			SensitiveFlag: item.SensitiveFlag,
		})
	}
	return rows, nil
}

func (r *memRecordRepo) LabelCountsByCoder(ctx context.Context, projectID string) ([]repository.LabelCountRow, error) {
	type key struct{ coder, label string }
	counts := make(map[key]int)
	for _, rec := range r.db.records {
		item := r.db.items[rec.ItemID]
		if item == nil || item.ProjectID != projectID || rec.WasSkipped {
			continue
		}
		counts[key{rec.CoderID, r.db.labels[rec.LabelID].Name}]++
	}
	var rows []repository.LabelCountRow
	for k, count := range counts {
		rows = append(rows, repository.LabelCountRow{CoderID: k.coder, LabelName: k.label, Count: count})
	}
	return rows, nil
}

type memVoteRepo struct{ db *memDB }

func (r *memVoteRepo) Append(ctx context.Context, vote *model.ReliabilityVote) error {
	if vote.ID == "" {
		vote.ID = r.db.nextID("vote")
	}
	vote.Timestamp = time.Now()
	r.db.votes = append(r.db.votes, *vote)
	return nil
}

func (r *memVoteRepo) CountByItem(ctx context.Context, itemID string) (int, error) {
	count := 0
	for _, vote := range r.db.votes {
		if vote.ItemID == itemID {
			count++
		}
	}
	return count, nil
}

func (r *memVoteRepo) ListByItem(ctx context.Context, itemID string) ([]model.ReliabilityVote, error) {
	var result []model.ReliabilityVote
	for _, vote := range r.db.votes {
		if vote.ItemID == itemID {
			result = append(result, vote)
		}
	}
	return result, nil
}

func (r *memVoteRepo) HasVote(ctx context.Context, itemID, coderID string) (bool, error) {
	for _, vote := range r.db.votes {
		if vote.ItemID == itemID && vote.CoderID == coderID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memVoteRepo) DeleteByItem(ctx context.Context, itemID string) error {
	kept := r.db.votes[:0]
	for _, vote := range r.db.votes {
		if vote.ItemID != itemID {
			kept = append(kept, vote)
		}
	}
	r.db.votes = kept
	return nil
}

func (r *memVoteRepo) ListHistoryByCoder(ctx context.Context, projectID, coderID string) ([]repository.HistoryRow, error) {
	var rows []repository.HistoryRow
	for _, vote := range r.db.votes {
		item := r.db.items[vote.ItemID]
		if item == nil || item.ProjectID != projectID || vote.CoderID != coderID || vote.LabelID == nil {
			continue
		}
		label := r.db.labels[*vote.LabelID]
		rows = append(rows, repository.HistoryRow{
			ItemID:        vote.ItemID,
			Text:          item.Text,
			LabelID:       *vote.LabelID,
			LabelName:     label.Name,
			Reason:        vote.Reason,
			Timestamp:     vote.Timestamp,
			SensitiveFlag: item.SensitiveFlag,
		})
	}
	return rows, nil
}

type memChangeLogRepo struct{ db *memDB }

func (r *memChangeLogRepo) Append(ctx context.Context, entry *model.ChangeLogEntry) error {
	if entry.ID == "" {
		entry.ID = r.db.nextID("changelog")
	}
	entry.Timestamp = time.Now()
	r.db.changeLog = append(r.db.changeLog, entry)
	return nil
}

type memAdminLockRepo struct{ db *memDB }

func (r *memAdminLockRepo) Acquire(ctx context.Context, projectID, coderID string) (bool, error) {
	if _, held := r.db.locks[projectID]; held {
		return false, nil
	}
	r.db.locks[projectID] = &model.AdminLock{ProjectID: projectID, CoderID: coderID, Timestamp: time.Now()}
	return true, nil
}

func (r *memAdminLockRepo) Release(ctx context.Context, projectID, coderID string) (bool, error) {
	lock, held := r.db.locks[projectID]
	if !held || lock.CoderID != coderID {
		return false, nil
	}
	delete(r.db.locks, projectID)
	return true, nil
}

func (r *memAdminLockRepo) Find(ctx context.Context, projectID string) (*model.AdminLock, error) {
	return r.db.locks[projectID], nil
}

type memPermissionRepo struct{ db *memDB }

func (r *memPermissionRepo) Level(ctx context.Context, projectID, coderID string) (int, error) {
	project := r.db.projects[projectID]
	if project == nil {
		return model.PermissionNone, nil
	}
	if project.CreatorID == coderID {
		return model.PermissionCreator, nil
	}
	return r.db.permissions[projectID][coderID], nil
}

// compile-time interface checks
var (
	_ repository.TxRunner              = (*memTxRunner)(nil)
	_ repository.ProjectRepository     = (*memProjectRepo)(nil)
	_ repository.ItemRepository        = (*memItemRepo)(nil)
	_ repository.AssignmentRepository  = (*memAssignmentRepo)(nil)
	_ repository.QueueRepository       = (*memQueueRepo)(nil)
	_ repository.RecycleRepository     = (*memRecycleRepo)(nil)
	_ repository.LabelRepository       = (*memLabelRepo)(nil)
	_ repository.LabelRecordRepository = (*memRecordRepo)(nil)
	_ repository.VoteRepository        = (*memVoteRepo)(nil)
	_ repository.ChangeLogRepository   = (*memChangeLogRepo)(nil)
	_ repository.AdminLockRepository   = (*memAdminLockRepo)(nil)
	_ repository.PermissionRepository  = (*memPermissionRepo)(nil)
)

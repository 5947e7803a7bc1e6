package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// NewPostgresStores は指定されたDBTXに束縛された全ストアを生成する。
// dbtxに*sql.Txを渡すと全ストアが同一トランザクションで動作する。
func NewPostgresStores(dbtx DBTX) *Stores {
	return &Stores{
		Projects:    NewPostgresProjectRepo(dbtx),
		Items:       NewPostgresItemRepo(dbtx),
		Assignments: NewPostgresAssignmentRepo(dbtx),
		Queue:       NewPostgresQueueRepo(dbtx),
		Recycle:     NewPostgresRecycleRepo(dbtx),
		Labels:      NewPostgresLabelRepo(dbtx),
		Records:     NewPostgresLabelRecordRepo(dbtx),
		Votes:       NewPostgresVoteRepo(dbtx),
		ChangeLog:   NewPostgresChangeLogRepo(dbtx),
		AdminLocks:  NewPostgresAdminLockRepo(dbtx),
		Permissions: NewPostgresPermissionRepo(dbtx),
	}
}

// PostgresTxRunner は*sql.Txに束縛したStoresでfnを実行するTxRunner実装。
type PostgresTxRunner struct {
	db *sql.DB
}

// NewPostgresTxRunner はPostgresTxRunnerを生成する。
func NewPostgresTxRunner(db *sql.DB) *PostgresTxRunner {
	return &PostgresTxRunner{db: db}
}

// RunInTx はトランザクションを開始し、束縛済みStoresでfnを実行する。
// fnがエラーを返した場合はロールバックし、そのエラーをそのまま返す。
func (r *PostgresTxRunner) RunInTx(ctx context.Context, fn func(st *Stores) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(NewPostgresStores(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// compile-time interface check
var _ TxRunner = (*PostgresTxRunner)(nil)

// nullString は空文字列をNULLに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから値を取り出す。NULLの場合は空文字列。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

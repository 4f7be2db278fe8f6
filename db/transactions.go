package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/sprinkler-controller/internal/model"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

func InsertRun(db *sql.DB, run model.Run) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	if err := InsertRunWithTx(tx, run); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func InsertRunWithTx(tx *sql.Tx, run model.Run) error {
	outcome := run.Outcome
	if outcome == "" {
		outcome = model.OutcomeRunning
	}
	_, err := tx.Exec(`INSERT INTO runs (id, kind, target, started_at, outcome) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.Target, run.StartedAt.UTC().Format(timeFormat), string(outcome))
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun records how a run ended. Finishing an unknown run is an error.
func FinishRun(db *sql.DB, id string, finishedAt time.Time, outcome model.RunOutcome, runErr string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	res, err := tx.Exec(`UPDATE runs SET finished_at = ?, outcome = ?, error = ? WHERE id = ?`,
		finishedAt.UTC().Format(timeFormat), string(outcome), runErr, id)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return fmt.Errorf("finish run %s: %w", id, sql.ErrNoRows)
	}
	return tx.Commit()
}

// MarkInterruptedRuns closes every run still marked running. It is called
// at startup, when any such row belongs to a process that died.
func MarkInterruptedRuns(db *sql.DB, at time.Time) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("start transaction: %w", err)
	}
	res, err := tx.Exec(`UPDATE runs SET finished_at = ?, outcome = ? WHERE outcome = ?`,
		at.UTC().Format(timeFormat), string(model.OutcomeInterrupted), string(model.OutcomeRunning))
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("mark interrupted runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

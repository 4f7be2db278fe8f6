package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/sprinkler-controller/internal/model"
)

const runColumns = `id, kind, target, started_at, finished_at, outcome, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (model.Run, error) {
	var (
		r          model.Run
		startedAt  string
		finishedAt sql.NullString
		outcome    string
	)
	if err := s.Scan(&r.ID, &r.Kind, &r.Target, &startedAt, &finishedAt, &outcome, &r.Error); err != nil {
		return r, err
	}
	r.Outcome = model.RunOutcome(outcome)

	t, err := time.Parse(timeFormat, startedAt)
	if err != nil {
		return r, fmt.Errorf("bad started_at %q: %w", startedAt, err)
	}
	r.StartedAt = t

	if finishedAt.Valid {
		f, err := time.Parse(timeFormat, finishedAt.String)
		if err != nil {
			return r, fmt.Errorf("bad finished_at %q: %w", finishedAt.String, err)
		}
		r.FinishedAt = &f
	}
	return r, nil
}

// GetRun retrieves a single run by ID.
func GetRun(db *sql.DB, id string) (model.Run, error) {
	r, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		return r, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return r, nil
}

// GetRecentRuns returns up to limit runs, newest first.
func GetRecentRuns(db *sql.DB, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

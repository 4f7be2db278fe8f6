package db

import (
	"database/sql"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/clock"
	"github.com/thatsimonsguy/sprinkler-controller/internal/model"
	"github.com/thatsimonsguy/sprinkler-controller/internal/supervisor"
)

// Journal records run boundaries reported by the supervisor.
type Journal struct {
	db    *sql.DB
	clock clock.Clock
}

func NewJournal(db *sql.DB, clk clock.Clock) *Journal {
	return &Journal{db: db, clock: clk}
}

func (j *Journal) RunStarted(info supervisor.RunInfo) {
	err := InsertRun(j.db, model.Run{
		ID:        info.ID,
		Kind:      string(info.Kind),
		Target:    info.Target,
		StartedAt: info.StartedAt,
	})
	if err != nil {
		log.Warn().Err(err).Str("run_id", info.ID).Msg("Failed to journal run start")
	}
}

func (j *Journal) RunFinished(info supervisor.RunInfo, outcome supervisor.Outcome, runErr error) {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := FinishRun(j.db, info.ID, j.clock.Now(), model.RunOutcome(outcome), msg); err != nil {
		log.Warn().Err(err).Str("run_id", info.ID).Msg("Failed to journal run finish")
	}
}

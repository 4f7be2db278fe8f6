package model

import "time"

type RunOutcome string

const (
	OutcomeRunning     RunOutcome = "running"
	OutcomeCompleted   RunOutcome = "completed"
	OutcomeAborted     RunOutcome = "aborted"
	OutcomeFailed      RunOutcome = "failed"
	OutcomeInterrupted RunOutcome = "interrupted" // process died mid-run
)

// Run is one journalled plan or zone run.
type Run struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Target     string     `json:"target"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Outcome    RunOutcome `json:"outcome"`
	Error      string     `json:"error,omitempty"`
}

// Output is one slot of the output register with the role assigned to it
// in configuration.
type Output struct {
	Pin   int    `json:"pin"`
	On    bool   `json:"on"`
	Role  string `json:"role,omitempty"` // "zone", "pump" or empty when unassigned
	Label string `json:"label,omitempty"`
}

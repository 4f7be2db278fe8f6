package db

import (
	"fmt"
	"io"
	"time"

	"github.com/thatsimonsguy/sprinkler-controller/internal/model"
)

// PrintRecentRunsCLI writes the newest runs of the journal at dbPath as a
// plain table.
func PrintRecentRunsCLI(w io.Writer, dbPath string, limit int) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	runs, err := GetRecentRuns(conn, limit)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%-22s %-5s %-16s %-20s %-9s %-11s %s\n", "ID", "KIND", "TARGET", "STARTED", "DURATION", "OUTCOME", "ERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%-22s %-5s %-16s %-20s %-9s %-11s %s\n",
			r.ID, r.Kind, r.Target, r.StartedAt.Local().Format("2006-01-02 15:04:05"), runDuration(r), r.Outcome, r.Error)
	}
	return nil
}

func runDuration(r model.Run) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}

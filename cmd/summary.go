package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/lawdata-collector/internal/collector"
)

// renderSummary prints the outcome of one run as a table.
func renderSummary(w io.Writer, run collector.RunRecord) error {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("%s run %s", run.Job, run.RunID))
	t.AppendHeader(table.Row{"Collection", "Status", "Pages", "Collected", "Duplicates", "Failures", "Duration"})
	t.AppendRow(table.Row{
		run.CollectionID,
		string(run.Status),
		run.Stats.Pages,
		run.Stats.Collected,
		run.Stats.Duplicates,
		run.Stats.Failures,
		runDuration(run),
	})
	if run.ErrorMessage != nil {
		t.AppendFooter(table.Row{"error", *run.ErrorMessage})
	}
	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func runDuration(run collector.RunRecord) string {
	if run.FinishedAt == nil {
		return "-"
	}
	return run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}

// finishRun prints the summary and turns the run error into the command
// result. Item failures never fail the command and cancellation is reported
// but not treated as an error.
func finishRun(w io.Writer, run collector.RunRecord, runErr error) error {
	if run.RunID != "" {
		if err := renderSummary(w, run); err != nil {
			return err
		}
	}
	if runErr == nil || run.Status == collector.RunCanceled {
		return nil
	}
	var perr *collector.PersistenceError
	if errors.As(runErr, &perr) {
		return fmt.Errorf("run aborted: %w", runErr)
	}
	return runErr
}

package sync

import (
	"fmt"

	"github.com/mklimuk/tasksync/pkg/db"
)

// MultiNotifier fans a run summary out to several notifiers.
type MultiNotifier []Notifier

// NotifyRun implements Notifier.
func (m MultiNotifier) NotifyRun(run *db.SyncRun) {
	for _, n := range m {
		n.NotifyRun(run)
	}
}

// FormatRunSummary renders a run as a short human-readable message,
// shared by the chat integrations.
func FormatRunSummary(run *db.SyncRun) string {
	switch run.Status {
	case db.RunFailed:
		return fmt.Sprintf("Sync run #%d (%s) failed: %s", run.ID, run.Kind, run.ErrorMessage)
	case db.RunCancelled:
		return fmt.Sprintf("Sync run #%d (%s) was cancelled", run.ID, run.Kind)
	default:
		msg := fmt.Sprintf("Sync run #%d (%s) completed: %d created, %d updated, %d skipped",
			run.ID, run.Kind, run.TasksCreated, run.TasksUpdated, run.TasksSkipped)
		if run.ConflictsCount > 0 {
			msg += fmt.Sprintf(", %d conflicts need resolution", run.ConflictsCount)
		}
		return msg
	}
}

// FormatStatus renders the current sync state as a short message.
func FormatStatus(status *StatusInfo) string {
	if status.IsSyncing {
		return "A sync run is in progress."
	}
	msg := fmt.Sprintf("Idle. %d runs recorded, %d unresolved conflicts.",
		status.TotalRuns, status.UnresolvedConflicts)
	if status.LastRun != nil {
		msg += " Last run: " + FormatRunSummary(status.LastRun)
	}
	return msg
}

package job

import (
	"context"
	"log"
	"log/slog"
	"time"

	"github.com/publome/publishing-api/internal/service"
)

// cleanupCutoffAge is how old an object must be before the reconciler will
// consider it. Anything younger may belong to a post still in flight.
const cleanupCutoffAge = 24 * time.Hour

type CleanupJob struct {
	cs *service.MediaCleanupService
}

func NewCleanupJob(cs *service.MediaCleanupService) *CleanupJob {
	return &CleanupJob{cs: cs}
}

// Run reconciles the media bucket against the database, deleting orphans.
func (c *CleanupJob) Run() {
	ctx := context.Background()

	report, err := c.cs.Reconcile(ctx, cleanupCutoffAge, false)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	log.Printf("Media cleanup: scanned=%d protected=%d referenced=%d exempted=%d orphaned=%d deleted=%d failures=%d",
		report.Scanned, report.Protected, report.Referenced, report.Exempted,
		report.Orphaned, report.Deleted, report.DeleteFailures)
}

// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"time"

	"gold-accrual-engine/logger"
	"gold-accrual-engine/models"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

type SchedulerOptions struct {
	SnapshotEnabled  bool
	SnapshotInterval time.Duration
	BackupEnabled    bool
	BackupInterval   time.Duration
}

// StartAccrualScheduler registers the snapshot cycle and, when enabled, the
// daily gold backup. Both jobs run in singleton mode so a slow run is
// rescheduled instead of overlapping. The caller owns Shutdown.
func StartAccrualScheduler(ctx context.Context, runner *SnapshotRunner, backups *BackupService, opts SchedulerOptions) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	if opts.SnapshotEnabled {
		_, err = sched.NewJob(
			gocron.DurationJob(opts.SnapshotInterval),
			gocron.NewTask(func() {
				if _, err := runner.RunSnapshotCycle(ctx, models.TriggerScheduled); err != nil {
					logger.WithError(err).Error("❌ [Scheduler] Snapshot run failed")
				}
			}),
			gocron.WithName("gold-snapshot-cycle"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return nil, fmt.Errorf("register snapshot job: %w", err)
		}
	}

	if opts.BackupEnabled && backups != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(opts.BackupInterval),
			gocron.NewTask(func() {
				_, err := backups.CreateBackup(ctx, CreateBackupRequest{
					Type:        models.BackupAutoDaily,
					TriggeredBy: "scheduler",
				})
				if err != nil {
					logger.WithError(err).Error("❌ [Scheduler] Automatic gold backup failed")
				}
			}),
			gocron.WithName("gold-auto-backup"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("register backup job: %w", err)
		}
	}

	sched.Start()
	logger.WithFields(logrus.Fields{
		"snapshot_interval": opts.SnapshotInterval.String(),
		"backup_enabled":    opts.BackupEnabled,
	}).Info("⏰ [Scheduler] Accrual scheduler started")

	return sched, nil
}

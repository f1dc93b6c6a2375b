package app

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rakshanetra/core/internal/config"
	"github.com/rakshanetra/core/internal/modules/admin"
	"github.com/rakshanetra/core/internal/modules/storage/backup"
	"github.com/rakshanetra/core/internal/modules/token"
	pkgcron "github.com/rakshanetra/core/internal/pkg/cron"
	"github.com/rakshanetra/core/internal/pkg/session"
)

// registerCronJobs registers all scheduled background jobs.
func registerCronJobs(sched *pkgcron.Scheduler, db *gorm.DB, cfg *config.AppConfig, logger *zap.Logger,
	tokens *token.Service, adminSvc *admin.Service, backupSvc *backup.Service) {

	cronLogger := logger.Named("cron")

	statusPoll := time.Duration(cfg.Reconcile.StatusPollSeconds) * time.Second
	if statusPoll <= 0 {
		statusPoll = 15 * time.Second
	}
	requestsPoll := time.Duration(cfg.Reconcile.RequestsPollSeconds) * time.Second
	if requestsPoll <= 0 {
		requestsPoll = 10 * time.Second
	}

	sched.Register(pkgcron.Job{
		Name:        "poll_token_statuses",
		Description: "reconcile token statuses against the authorization service",
		Interval:    statusPoll,
		RunOnStart:  true,
		Fn: func(ctx context.Context) error {
			return adminSvc.PollStatuses(ctx)
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "poll_access_requests",
		Description: "refresh the pending access request queue",
		Interval:    requestsPoll,
		RunOnStart:  true,
		Fn: func(ctx context.Context) error {
			return adminSvc.PollRequests(ctx)
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "sweep_expired_tokens",
		Description: "mark overdue Active tokens as Expired",
		Interval:    time.Minute,
		Fn: func(ctx context.Context) error {
			n, err := tokens.SweepExpired(ctx, time.Now())
			if err != nil {
				cronLogger.Warn("token sweep failed", zap.Error(err))
				return err
			}
			if n > 0 {
				cronLogger.Info("swept expired tokens", zap.Int("count", n))
			}
			return nil
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "cleanup_sessions",
		Description: "delete expired sign-in sessions",
		Interval:    12 * time.Hour,
		Fn: func(ctx context.Context) error {
			n, err := session.CleanupExpired(db)
			if err != nil {
				cronLogger.Warn("session cleanup failed", zap.Error(err))
				return err
			}
			if n > 0 {
				cronLogger.Info("cleaned up sessions", zap.Int64("count", n))
			}
			return nil
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "auto_backup",
		Description: "archive the durable tables",
		Interval:    24 * time.Hour,
		Fn: func(ctx context.Context) error {
			name, err := backupSvc.Create(ctx)
			if err != nil {
				cronLogger.Warn("auto backup failed", zap.Error(err))
				return err
			}
			cronLogger.Info("auto backup done", zap.String("file", name))
			return nil
		},
	})
}

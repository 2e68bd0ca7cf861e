package background

import (
	"context"
	"strings"
	"sync"
	"time"

	"client-portal/internal/config"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// InvitationExpirer marks overdue invitations expired
type InvitationExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// SessionCleaner deletes long-expired sessions
type SessionCleaner interface {
	CleanupSessions(ctx context.Context, retention time.Duration) (int64, error)
}

// Runner manages scheduled maintenance jobs for invitations and sessions
type Runner struct {
	invitations InvitationExpirer
	sessions    SessionCleaner
	config      config.JobsConfig
	logger      *logrus.Entry
	cron        *cron.Cron
	mu          sync.Mutex
	running     bool
}

// NewRunner creates a new background runner
func NewRunner(invitations InvitationExpirer, sessions SessionCleaner, cfg config.JobsConfig, logger *logrus.Logger) *Runner {
	return &Runner{
		invitations: invitations,
		sessions:    sessions,
		config:      cfg,
		logger:      logger.WithField("component", "background"),
	}
}

// Start schedules the jobs. It is a no-op when jobs are disabled.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	if !r.config.Enabled {
		r.logger.Info("Background jobs are disabled")
		return nil
	}

	r.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	jobs := []struct {
		name     string
		schedule string
		fallback string
		run      func()
	}{
		{"invitation_expiry", r.config.InvitationExpirySchedule, "0 */15 * * * *", r.ExpireInvitations},
		{"session_cleanup", r.config.SessionCleanupSchedule, "0 30 3 * * *", r.CleanupSessions},
	}
	for _, job := range jobs {
		schedule := normalizeSchedule(job.schedule, job.fallback)
		if _, err := r.cron.AddFunc(schedule, job.run); err != nil {
			r.logger.WithError(err).WithField("job", job.name).Error("Failed to schedule job")
			return err
		}
		r.logger.WithFields(logrus.Fields{"job": job.name, "schedule": schedule}).Info("Job scheduled")
	}

	r.cron.Start()
	r.running = true
	r.logger.Info("Background job runner started")
	return nil
}

// Stop waits for running jobs and stops the scheduler
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running || r.cron == nil {
		return
	}

	ctx := r.cron.Stop()
	select {
	case <-ctx.Done():
		r.logger.Info("Background job runner stopped gracefully")
	case <-time.After(30 * time.Second):
		r.logger.Warn("Background job runner stop timeout - forcing shutdown")
	}
	r.running = false
}

// ExpireInvitations runs the invitation expiry job once
func (r *Runner) ExpireInvitations() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	count, err := r.invitations.ExpireStale(ctx)
	if err != nil {
		r.logger.WithError(err).Error("Invitation expiry job failed")
		return
	}
	if count > 0 {
		r.logger.WithField("expired", count).Info("Expired stale invitations")
	}
}

// CleanupSessions runs the session cleanup job once
func (r *Runner) CleanupSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	retention := time.Duration(r.config.SessionRetentionDays) * 24 * time.Hour
	count, err := r.sessions.CleanupSessions(ctx, retention)
	if err != nil {
		r.logger.WithError(err).Error("Session cleanup job failed")
		return
	}
	if count > 0 {
		r.logger.WithField("deleted", count).Info("Deleted expired sessions")
	}
}

// normalizeSchedule accepts 5-field cron specs by prefixing a seconds field
func normalizeSchedule(schedule, fallback string) string {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return fallback
	}
	if len(strings.Fields(schedule)) == 5 {
		return "0 " + schedule
	}
	return schedule
}

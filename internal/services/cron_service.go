package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// activeWallets lists wallet owners seen recently
type activeWallets interface {
	ActiveSince(since time.Time) []string
	Prune(cutoff time.Time) int
}

// CronConfig holds job schedules. Specs accept seconds and descriptors like "@every 5m".
type CronConfig struct {
	SweepSchedule      string
	ActiveWalletWindow time.Duration
	SessionTTL         time.Duration
}

// CronService manages scheduled background jobs
type CronService struct {
	cron       *cron.Cron
	reconciler *PendingTransactionReconciler
	sessions   *PaymentSessionManager
	wallets    activeWallets
	cfg        CronConfig
	logger     *logrus.Logger

	manual   sync.WaitGroup
	sweeping atomic.Bool
}

// NewCronService creates a new CronService
func NewCronService(reconciler *PendingTransactionReconciler, sessions *PaymentSessionManager, wallets activeWallets, cfg CronConfig, logger *logrus.Logger) *CronService {
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@every 5m"
	}
	if cfg.ActiveWalletWindow <= 0 {
		cfg.ActiveWalletWindow = 24 * time.Hour
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}

	return &CronService{
		cron:       cron.New(cron.WithSeconds()),
		reconciler: reconciler,
		sessions:   sessions,
		wallets:    wallets,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	// Job 1: sweep pending deposits of recently active wallets
	if _, err := s.cron.AddFunc(s.cfg.SweepSchedule, s.sweepActiveWalletsJob); err != nil {
		return fmt.Errorf("failed to schedule pending sweep job: %w", err)
	}
	s.logger.WithField("schedule", s.cfg.SweepSchedule).Info("✓ Scheduled: Sweep pending deposits")

	// Job 2: dismiss abandoned payment sessions every 10 minutes
	if _, err := s.cron.AddFunc("0 */10 * * * *", s.expireSessionsJob); err != nil {
		return fmt.Errorf("failed to schedule session expiry job: %w", err)
	}
	s.logger.Info("✓ Scheduled: Expire abandoned sessions (every 10 minutes)")

	// Job 3: forget credentials of wallets gone quiet, hourly
	if _, err := s.cron.AddFunc("0 0 * * * *", s.pruneCredentialsJob); err != nil {
		return fmt.Errorf("failed to schedule credential prune job: %w", err)
	}
	s.logger.Info("✓ Scheduled: Prune idle credentials (hourly)")

	s.cron.Start()
	s.logger.Info("✓ Cron service started successfully")
	return nil
}

// Stop stops all cron jobs and waits for running ones
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.manual.Wait()
	s.logger.Info("✓ Cron service stopped")
}

func (s *CronService) sweepActiveWalletsJob() {
	startTime := time.Now()
	users := s.wallets.ActiveSince(startTime.Add(-s.cfg.ActiveWalletWindow))
	if len(users) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	requested, err := s.reconciler.SweepUsers(ctx, users)
	if err != nil {
		s.logger.WithError(err).Error("[CRON ERROR] Pending sweep interrupted")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"wallets":     len(users),
		"requested":   requested,
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Info("[CRON] ✓ Pending sweep finished")
}

func (s *CronService) expireSessionsJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expired, err := s.sessions.ExpireStale(ctx, s.cfg.SessionTTL)
	if err != nil {
		s.logger.WithError(err).Error("[CRON ERROR] Failed to expire sessions")
		return
	}
	if expired > 0 {
		s.logger.WithField("expired", expired).Info("[CRON] ✓ Expired abandoned payment sessions")
	}
}

func (s *CronService) pruneCredentialsJob() {
	removed := s.wallets.Prune(time.Now().Add(-s.cfg.ActiveWalletWindow))
	if removed > 0 {
		s.logger.WithField("removed", removed).Info("[CRON] ✓ Pruned idle credentials")
	}
}

// RunSweepNow runs the pending sweep job immediately
func (s *CronService) RunSweepNow() {
	s.logger.Info("[MANUAL] Running pending sweep now...")
	s.sweepActiveWalletsJob()
}

// TriggerSweep starts the pending sweep in the background. It returns false
// when a manually triggered sweep is still running.
func (s *CronService) TriggerSweep() bool {
	if !s.sweeping.CompareAndSwap(false, true) {
		return false
	}
	s.manual.Add(1)
	go func() {
		defer s.manual.Done()
		defer s.sweeping.Store(false)
		s.RunSweepNow()
	}()
	return true
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}

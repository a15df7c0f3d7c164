package service

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/CristianBACSCol/ERP-BACS/pkg/storage"
)

// HousekeepingService purges stale downloads from the storage temp directory on a cron schedule.
type HousekeepingService struct {
	tempDir string
	ttl     time.Duration
	cron    *cron.Cron
	logger  *zap.Logger
	metrics *MetricsService
}

// NewHousekeepingService constructs the scheduler without starting it.
func NewHousekeepingService(tempDir string, ttl time.Duration, metrics *MetricsService, logger *zap.Logger) *HousekeepingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &HousekeepingService{
		tempDir: tempDir,
		ttl:     ttl,
		cron:    cron.New(),
		logger:  logger,
		metrics: metrics,
	}
}

// Start registers the cleanup job with the given cron spec and starts the scheduler.
func (s *HousekeepingService) Start(schedule string) error {
	if schedule == "" {
		schedule = "@every 30m"
	}
	if _, err := s.cron.AddFunc(schedule, func() { _, _ = s.CleanupTemp() }); err != nil {
		return fmt.Errorf("schedule temp cleanup %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("housekeeping scheduled", zap.String("schedule", schedule), zap.String("dir", s.tempDir))
	return nil
}

// Stop halts the scheduler and waits for a running cleanup to finish.
func (s *HousekeepingService) Stop() {
	<-s.cron.Stop().Done()
}

// CleanupTemp removes temp files older than the configured TTL.
func (s *HousekeepingService) CleanupTemp() ([]string, error) {
	deleted, err := storage.CleanupOlderThan(s.tempDir, s.ttl)
	if err != nil {
		s.logger.Warn("temp cleanup failed", zap.String("dir", s.tempDir), zap.Error(err))
		return nil, err
	}
	s.metrics.RecordTempCleanup(len(deleted))
	if len(deleted) > 0 {
		s.logger.Info("temp files removed", zap.Int("count", len(deleted)), zap.String("dir", s.tempDir))
	}
	return deleted, nil
}

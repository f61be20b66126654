// File: internal/sync/scheduler.go
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/homehub-io/catalog-sync/internal/models"
	"github.com/homehub-io/catalog-sync/pkg/utils"
)

// Scheduler triggers periodic sync runs at a fixed interval. A tick that
// arrives while a run is still active is skipped rather than queued.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	syncType models.SyncType
	logger   *logrus.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewScheduler creates a scheduler for periodic syncs
func NewScheduler(engine *Engine, interval time.Duration, syncType models.SyncType) *Scheduler {
	return &Scheduler{
		engine:   engine,
		interval: interval,
		syncType: syncType,
		logger:   utils.GetLogger(),
		stopChan: make(chan struct{}),
	}
}

// Start begins the scheduling loop. A zero or negative interval disables
// scheduling entirely.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.interval <= 0 {
		return
	}
	s.started = true

	s.logger.WithFields(logrus.Fields{
		"interval":  s.interval.String(),
		"sync_type": s.syncType,
	}).Info("Sync scheduler started")

	s.wg.Add(1)
	go s.loop()
}

// Stop terminates the scheduling loop and waits for it to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info("Sync scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) tick() {
	if s.engine.Running() {
		s.logger.Debug("Skipping scheduled sync, a run is already active")
		return
	}

	run, err := s.engine.TriggerSync(context.Background(), s.syncType, false)
	if err != nil {
		if utils.HasCode(err, utils.ErrCodeConflict) {
			s.logger.Debug("Skipping scheduled sync, a run is already active")
			return
		}
		s.logger.WithError(err).Error("Scheduled sync failed to start")
		return
	}

	s.logger.WithField("sync_id", run.ID).Info("Scheduled sync triggered")
}

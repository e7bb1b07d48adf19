package sync

import (
	"context"
	"errors"
	"log"
	stdsync "sync"
	"time"

	"github.com/mklimuk/tasksync/pkg/db"
)

// Scheduler triggers periodic imports. A tick that lands while a run
// is still active is skipped, not queued; the engine's single-flight
// claim guarantees the overlap is detected atomically.
type Scheduler struct {
	engine   *Engine
	interval time.Duration

	stop chan struct{}
	wg   stdsync.WaitGroup
}

// NewScheduler creates a scheduler ticking at the given interval.
func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the ticking loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop stops the loop and waits for shutdown.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run one immediate import on startup.
	s.runOnce()

	for {
		select {
		case <-ticker.C:
			s.runOnce()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) runOnce() {
	run, err := s.engine.Import(context.Background(), nil)
	if err != nil {
		if errors.Is(err, db.ErrSyncInProgress) {
			log.Printf("scheduler: sync still in progress, skipping tick")
			return
		}
		log.Printf("scheduler: import failed: %v", err)
		return
	}
	log.Printf("scheduler: import run %d finished: %d created, %d updated, %d skipped, %d conflicts",
		run.ID, run.TasksCreated, run.TasksUpdated, run.TasksSkipped, run.ConflictsCount)
}

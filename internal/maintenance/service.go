// Package maintenance periodically checkpoints simulated item positions to the database.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/synapse/internal/db"
	"github.com/thebtf/synapse/internal/physics"
	"github.com/thebtf/synapse/pkg/models"
)

// Service writes the registry's body states to storage on an interval.
// Only bodies whose state changed since the previous checkpoint are written.
type Service struct {
	log             zerolog.Logger
	lastRunTime     time.Time
	registry        *physics.Registry
	items           db.ItemStateWriter
	lastSaved       map[string]models.ItemState
	stopCh          chan struct{}
	doneCh          chan struct{}
	interval        time.Duration
	lastRunDuration time.Duration
	totalSaved      int64
	runs            int64
	failures        int64
	mu              sync.Mutex
	runMu           sync.Mutex
	started         bool
	running         bool
	stopped         bool
}

// Stats is a snapshot of checkpoint activity.
type Stats struct {
	LastRun        time.Time `json:"last_run"`
	LastDurationMs int64     `json:"last_duration_ms"`
	IntervalMs     int64     `json:"interval_ms"`
	TotalSaved     int64     `json:"total_saved"`
	Runs           int64     `json:"runs"`
	Failures       int64     `json:"failures"`
	Running        bool      `json:"running"`
}

// NewService creates a checkpoint service. A non-positive interval disables
// the loop; RunOnce still works.
func NewService(registry *physics.Registry, items db.ItemStateWriter, interval time.Duration, log zerolog.Logger) *Service {
	return &Service{
		registry:  registry,
		items:     items,
		interval:  interval,
		lastSaved: make(map[string]models.ItemState),
		log:       log.With().Str("component", "maintenance").Logger(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs the checkpoint loop until ctx is done or Stop is called.
// Only the first call has any effect.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
	}()

	if s.interval <= 0 {
		s.log.Info().Msg("Checkpointing disabled, not starting scheduler")
		return
	}

	s.log.Info().Dur("interval", s.interval).Msg("Starting checkpoint scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Checkpoint shutting down due to context cancellation")
			return
		case <-s.stopCh:
			s.log.Info().Msg("Checkpoint shutting down due to stop signal")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("Checkpoint failed")
			}
		}
	}
}

// Stop signals the loop to exit. Safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
}

// Wait blocks until a started loop has exited.
func (s *Service) Wait() {
	<-s.doneCh
}

// RunOnce writes every changed body state and returns the number of rows saved.
func (s *Service) RunOnce(ctx context.Context) (int64, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()
	changed := s.collectChanged()

	var saved int64
	var err error
	if len(changed) > 0 {
		saved, err = s.items.SaveItemStates(ctx, changed)
	}

	s.mu.Lock()
	s.lastRunTime = time.Now()
	s.lastRunDuration = time.Since(start)
	s.runs++
	s.totalSaved += saved
	if err != nil {
		s.failures++
	}
	s.mu.Unlock()

	if err != nil {
		return saved, fmt.Errorf("checkpoint %d states: %w", len(changed), err)
	}

	for _, st := range changed {
		s.lastSaved[st.ID] = st
	}
	if len(changed) > 0 {
		s.log.Debug().
			Int("changed", len(changed)).
			Int64("saved", saved).
			Dur("duration", time.Since(start)).
			Msg("Checkpoint completed")
	}
	return saved, nil
}

// collectChanged snapshots all engines and drops states already persisted.
// Entries for bodies that no longer exist are forgotten.
func (s *Service) collectChanged() []models.ItemState {
	var changed []models.ItemState
	seen := make(map[string]struct{}, len(s.lastSaved))

	for _, wsID := range s.registry.Workspaces() {
		engine, ok := s.registry.Lookup(wsID)
		if !ok {
			continue
		}
		for _, b := range engine.Snapshot() {
			st := models.ItemState{ID: b.ID, X: b.X, Y: b.Y, VX: b.VX, VY: b.VY}
			seen[b.ID] = struct{}{}
			if prev, ok := s.lastSaved[b.ID]; ok && prev == st {
				continue
			}
			changed = append(changed, st)
		}
	}

	for id := range s.lastSaved {
		if _, ok := seen[id]; !ok {
			delete(s.lastSaved, id)
		}
	}
	return changed
}

// Enabled reports whether periodic checkpointing is configured.
func (s *Service) Enabled() bool {
	return s.interval > 0
}

// Stats returns checkpoint statistics.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		LastRun:        s.lastRunTime,
		LastDurationMs: s.lastRunDuration.Milliseconds(),
		IntervalMs:     s.interval.Milliseconds(),
		TotalSaved:     s.totalSaved,
		Runs:           s.runs,
		Failures:       s.failures,
		Running:        s.running,
	}
}

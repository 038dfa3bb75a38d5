package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler wraps a single background cron engine behind an explicit
// lifecycle. Jobs register under their store id; at most one live entry
// exists per job. Constructed once by the entry point and injected wherever
// scheduling is needed.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context

	mu      sync.Mutex
	entries map[uint64]cron.EntryID
}

// Standard 5-field cron expressions.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

func NewScheduler(logger *zap.Logger, baseCtx context.Context) *Scheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithParser(cronParser)),
		logger:  logger,
		baseCtx: baseCtx,
		entries: map[uint64]cron.EntryID{},
	}
}

// ValidateSpec rejects malformed cron expressions before anything is stored.
func ValidateSpec(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	return nil
}

// Register installs (or replaces) the live entry for a job id.
func (s *Scheduler) Register(jobID uint64, spec string, job func(context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[jobID]; ok {
		s.cron.Remove(prev)
		delete(s.entries, jobID)
	}

	id, err := s.cron.AddFunc(spec, func() {
		job(s.baseCtx)
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	s.entries[jobID] = id
	if s.logger != nil {
		s.logger.Info("job scheduled", zap.Uint64("job_id", jobID), zap.String("schedule", spec))
	}
	return nil
}

// Remove drops the live entry for a job id. Reports whether one existed.
func (s *Scheduler) Remove(jobID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[jobID]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.entries, jobID)
	if s.logger != nil {
		s.logger.Info("job unscheduled", zap.Uint64("job_id", jobID))
	}
	return true
}

// NextRun returns the next firing time for a job id, or nil when the job has
// no live registration.
func (s *Scheduler) NextRun(jobID uint64) *time.Time {
	s.mu.Lock()
	id, ok := s.entries[jobID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() || entry.Next.IsZero() {
		return nil
	}
	next := entry.Next
	return &next
}

func (s *Scheduler) Start() {
	if s.logger != nil {
		s.logger.Info("scheduler started")
	}
	s.cron.Start()
}

// Shutdown stops future firings and waits for in-flight callbacks; running
// jobs are never interrupted mid-flight.
func (s *Scheduler) Shutdown() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	if s.logger != nil {
		s.logger.Info("scheduler stopped")
	}
}

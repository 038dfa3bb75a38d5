package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketpulse/internal/models"
	"marketpulse/internal/notify"
	"marketpulse/internal/output"
	"marketpulse/internal/ranking"
	"marketpulse/internal/repository"
	"marketpulse/internal/rules"
	"marketpulse/internal/source"
	"marketpulse/internal/upload"
)

var ErrJobNotFound = errors.New("cron job not found")

// Store is the slice of the repository the orchestrator needs.
type Store interface {
	InsertCronJob(ctx context.Context, item *models.CronJob) error
	GetCronJobByID(ctx context.Context, id uint64) (*models.CronJob, error)
	ListCronJobs(ctx context.Context) ([]models.CronJob, error)
	UpdateCronJob(ctx context.Context, item *models.CronJob) error
	DeleteCronJob(ctx context.Context, id uint64) error

	InsertExecutionLog(ctx context.Context, item *models.ExecutionLog) error
	ListExecutionLogs(ctx context.Context, params repository.ListExecutionLogsParams) ([]models.ExecutionLog, error)
	TrimExecutionLogs(ctx context.Context, keep int) (int64, error)
}

// Orchestrator sequences scheduled and manually triggered batches through
// rules, ranking and the output store as one unit, recording an execution
// log per run. Triggers for the same job are independent; runs are not
// mutually exclusive by design.
type Orchestrator struct {
	Store     Store
	Rules     *rules.Engine
	Ranking   *ranking.Engine
	Output    *output.Accumulator
	Uploads   *upload.Service
	Source    source.DataSource
	Notifier  notify.Notifier
	Scheduler *Scheduler
	Logger    *zap.Logger

	// GraceDelay separates an override run from the restoration of the
	// regular schedule. It only needs to outlast run startup.
	GraceDelay time.Duration
	LogKeep    int

	mu            sync.Mutex
	restoreTimers map[uint64]*time.Timer
}

const (
	defaultGraceDelay = 10 * time.Second
	defaultLogKeep    = 100
)

func (o *Orchestrator) graceDelay() time.Duration {
	if o.GraceDelay > 0 {
		return o.GraceDelay
	}
	return defaultGraceDelay
}

func (o *Orchestrator) logKeep() int {
	if o.LogKeep > 0 {
		return o.LogKeep
	}
	return defaultLogKeep
}

// InitFromStore registers every stored active job with the scheduler. Called
// once at startup, before Scheduler.Start.
func (o *Orchestrator) InitFromStore(ctx context.Context) error {
	jobs, err := o.Store.ListCronJobs(ctx)
	if err != nil {
		return err
	}
	registered := 0
	for i := range jobs {
		job := jobs[i]
		if !job.IsActive {
			continue
		}
		if err := o.registerJob(job); err != nil {
			if o.Logger != nil {
				o.Logger.Error("failed to register stored job",
					zap.Uint64("job_id", job.ID), zap.Error(err))
			}
			continue
		}
		registered++
	}
	if o.Logger != nil {
		o.Logger.Info("scheduler initialized", zap.Int("active_jobs", registered))
	}
	return nil
}

func (o *Orchestrator) registerJob(job models.CronJob) error {
	jobID := job.ID
	return o.Scheduler.Register(jobID, job.Schedule, func(ctx context.Context) {
		current, err := o.Store.GetCronJobByID(ctx, jobID)
		if err != nil {
			if o.Logger != nil {
				o.Logger.Error("scheduled fire: job lookup failed",
					zap.Uint64("job_id", jobID), zap.Error(err))
			}
			return
		}
		o.RunJob(ctx, *current, models.TriggerScheduled)
	})
}

// RunJob executes one full automation pass: drain the upload buffer and
// process each batch, then fetch, filter, rank and append the feed's rows.
// A single batch failure never aborts the run; an infrastructure failure on
// the main fetch/append path does.
func (o *Orchestrator) RunJob(ctx context.Context, job models.CronJob, triggeredBy string) *models.ExecutionLog {
	start := time.Now().UTC()
	entry := &models.ExecutionLog{
		RunID:       uuid.NewString(),
		JobID:       job.ID,
		JobName:     job.Name,
		TriggeredBy: triggeredBy,
		StartedAt:   start,
	}
	if o.Logger != nil {
		o.Logger.Info("automation run starting",
			zap.String("run_id", entry.RunID),
			zap.Uint64("job_id", job.ID),
			zap.String("triggered_by", triggeredBy))
	}

	err := o.runPipeline(ctx, entry)

	finished := time.Now().UTC()
	entry.FinishedAt = &finished
	entry.DurationSeconds = finished.Sub(start).Seconds()
	switch {
	case err != nil:
		entry.Status = models.RunStatusFailed
		entry.Error = err.Error()
		if o.Logger != nil {
			o.Logger.Error("automation run failed",
				zap.String("run_id", entry.RunID), zap.Error(err))
		}
	case entry.UploadsFailed > 0:
		entry.Status = models.RunStatusPartial
	default:
		entry.Status = models.RunStatusSuccess
	}

	if err == nil {
		o.sendReport(ctx, job, entry)
	}

	if err := o.Store.InsertExecutionLog(ctx, entry); err != nil && o.Logger != nil {
		o.Logger.Error("execution log write failed",
			zap.String("run_id", entry.RunID), zap.Error(err))
	}
	if _, err := o.Store.TrimExecutionLogs(ctx, o.logKeep()); err != nil && o.Logger != nil {
		o.Logger.Warn("execution log trim failed", zap.Error(err))
	}

	o.touchJob(ctx, job.ID, start)

	if o.Logger != nil {
		o.Logger.Info("automation run finished",
			zap.String("run_id", entry.RunID),
			zap.String("status", entry.Status),
			zap.Float64("duration_s", entry.DurationSeconds))
	}
	return entry
}

func (o *Orchestrator) runPipeline(ctx context.Context, entry *models.ExecutionLog) error {
	// Buffered manual uploads go first, each batch isolated.
	batches, err := o.Uploads.Drain(ctx)
	if err != nil {
		return fmt.Errorf("drain upload buffer: %w", err)
	}
	for i := range batches {
		batch := &batches[i]
		if err := o.processBatch(ctx, batch); err != nil {
			entry.UploadsFailed++
			if err := o.Uploads.MarkFailed(ctx, batch, err); err != nil && o.Logger != nil {
				o.Logger.Error("mark upload failed errored",
					zap.String("batch_ref", batch.BatchRef), zap.Error(err))
			}
			continue
		}
		entry.UploadsProcessed++
		if err := o.Uploads.MarkProcessed(ctx, batch); err != nil && o.Logger != nil {
			o.Logger.Error("mark upload processed errored",
				zap.String("batch_ref", batch.BatchRef), zap.Error(err))
		}
	}

	// Main feed pass.
	raw, err := o.Source.FetchAll(ctx, source.Filter{})
	if err != nil {
		return fmt.Errorf("fetch raw colors: %w", err)
	}
	entry.FetchedCount = len(raw)

	filtered, err := o.Rules.ApplyRules(ctx, raw, nil)
	if err != nil {
		return fmt.Errorf("apply rules: %w", err)
	}
	entry.ExcludedCount = filtered.ExcludedCount
	entry.RulesApplied = filtered.RulesApplied

	processed := o.Ranking.RunColors(filtered.Filtered)
	entry.RankedCount = len(processed)

	saved, err := o.Output.Append(ctx, processed, models.ProcessingAutomated)
	if err != nil {
		return fmt.Errorf("append output: %w", err)
	}
	entry.SavedCount = saved
	return nil
}

// processBatch runs one buffered upload through the same rules→ranking→
// output path as the feed, tagged as manual.
func (o *Orchestrator) processBatch(ctx context.Context, batch *models.BufferedUpload) error {
	rows, err := batch.DecodeRows()
	if err != nil {
		return fmt.Errorf("decode batch payload: %w", err)
	}
	if len(rows) == 0 {
		return errors.New("batch payload is empty")
	}

	filtered, err := o.Rules.ApplyRules(ctx, rows, nil)
	if err != nil {
		return fmt.Errorf("apply rules: %w", err)
	}
	processed := o.Ranking.RunColors(filtered.Filtered)
	if _, err := o.Output.Append(ctx, processed, models.ProcessingManual); err != nil {
		return fmt.Errorf("append output: %w", err)
	}
	return nil
}

func (o *Orchestrator) sendReport(ctx context.Context, job models.CronJob, entry *models.ExecutionLog) {
	if o.Notifier == nil {
		return
	}
	summary := notify.ReportSummary{
		JobName:          job.Name,
		RunID:            entry.RunID,
		Date:             entry.StartedAt.Format("2006-01-02"),
		TotalProcessed:   entry.SavedCount,
		TotalExcluded:    entry.ExcludedCount,
		RulesApplied:     entry.RulesApplied,
		UploadsProcessed: entry.UploadsProcessed,
		UploadsFailed:    entry.UploadsFailed,
		Duration:         time.Duration(entry.DurationSeconds * float64(time.Second)),
	}
	if err := o.Notifier.SendReport(ctx, summary); err != nil {
		entry.ReportSent = false
		if o.Logger != nil {
			o.Logger.Warn("run report not sent", zap.Error(err))
		}
		return
	}
	entry.ReportSent = true
}

func (o *Orchestrator) touchJob(ctx context.Context, jobID uint64, ranAt time.Time) {
	job, err := o.Store.GetCronJobByID(ctx, jobID)
	if err != nil {
		return
	}
	job.LastRun = &ranAt
	job.NextRun = o.Scheduler.NextRun(jobID)
	if err := o.Store.UpdateCronJob(ctx, job); err != nil && o.Logger != nil {
		o.Logger.Warn("job bookkeeping update failed",
			zap.Uint64("job_id", jobID), zap.Error(err))
	}
}

// --- job lifecycle ----------------------------------------------------------

func (o *Orchestrator) CreateJob(ctx context.Context, name, schedule string, isActive bool) (*models.CronJob, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("job name is required")
	}
	if err := ValidateSpec(schedule); err != nil {
		return nil, err
	}

	job := &models.CronJob{Name: name, Schedule: schedule, IsActive: isActive}
	if err := o.Store.InsertCronJob(ctx, job); err != nil {
		return nil, err
	}
	if isActive {
		if err := o.registerJob(*job); err != nil {
			return nil, err
		}
		job.NextRun = o.Scheduler.NextRun(job.ID)
		if err := o.Store.UpdateCronJob(ctx, job); err != nil {
			return nil, err
		}
	}
	return job, nil
}

// JobPatch carries optional job field updates.
type JobPatch struct {
	Name     *string
	Schedule *string
	IsActive *bool
}

func (o *Orchestrator) UpdateJob(ctx context.Context, id uint64, patch JobPatch) (*models.CronJob, error) {
	job, err := o.Store.GetCronJobByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	if patch.Name != nil && strings.TrimSpace(*patch.Name) != "" {
		job.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Schedule != nil {
		if err := ValidateSpec(*patch.Schedule); err != nil {
			return nil, err
		}
		job.Schedule = *patch.Schedule
	}
	if patch.IsActive != nil {
		job.IsActive = *patch.IsActive
	}
	job.UpdatedAt = time.Now().UTC()

	o.Scheduler.Remove(job.ID)
	if job.IsActive {
		if err := o.registerJob(*job); err != nil {
			return nil, err
		}
		job.NextRun = o.Scheduler.NextRun(job.ID)
	} else {
		job.NextRun = nil
	}

	if err := o.Store.UpdateCronJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (o *Orchestrator) DeleteJob(ctx context.Context, id uint64) error {
	if _, err := o.Store.GetCronJobByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrJobNotFound
		}
		return err
	}
	o.Scheduler.Remove(id)
	o.cancelRestore(id)
	return o.Store.DeleteCronJob(ctx, id)
}

func (o *Orchestrator) ToggleJob(ctx context.Context, id uint64) (*models.CronJob, error) {
	job, err := o.Store.GetCronJobByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	active := !job.IsActive
	return o.UpdateJob(ctx, id, JobPatch{IsActive: &active})
}

// TriggerResult reports how a manual trigger was dispatched.
type TriggerResult struct {
	Job      *models.CronJob `json:"job"`
	Override bool            `json:"override"`
	Message  string          `json:"message"`
}

// TriggerManually runs a job immediately. A plain trigger runs alongside the
// existing schedule. An override additionally suspends the job's schedule
// and restores it after the grace delay, so exactly one immediate run
// replaces the next scheduled firing.
func (o *Orchestrator) TriggerManually(ctx context.Context, jobID uint64, override bool) (*TriggerResult, error) {
	job, err := o.Store.GetCronJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	provenance := models.TriggerManual
	message := "job triggered (schedule maintained)"
	if override {
		provenance = models.TriggerManualOverride
		message = "job triggered with override"
		if job.IsActive && o.Scheduler.Remove(job.ID) {
			message = "job triggered with override (next scheduled run cancelled)"
			o.scheduleRestore(job.ID)
			job.NextRun = nil
			if err := o.Store.UpdateCronJob(ctx, job); err != nil && o.Logger != nil {
				o.Logger.Warn("override bookkeeping update failed", zap.Error(err))
			}
		}
	}

	run := *job
	go o.RunJob(o.baseContext(), run, provenance)

	if o.Logger != nil {
		o.Logger.Info("manual trigger dispatched",
			zap.Uint64("job_id", jobID), zap.Bool("override", override))
	}
	return &TriggerResult{Job: job, Override: override, Message: message}, nil
}

func (o *Orchestrator) baseContext() context.Context {
	if o.Scheduler != nil && o.Scheduler.baseCtx != nil {
		return o.Scheduler.baseCtx
	}
	return context.Background()
}

// scheduleRestore re-registers the job's cron schedule after the grace
// delay. The timer is owned here so a second override resets it instead of
// racing it, and a restore failure is logged as an operational error rather
// than vanishing.
func (o *Orchestrator) scheduleRestore(jobID uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.restoreTimers == nil {
		o.restoreTimers = map[uint64]*time.Timer{}
	}
	if prev, ok := o.restoreTimers[jobID]; ok {
		prev.Stop()
	}
	o.restoreTimers[jobID] = time.AfterFunc(o.graceDelay(), func() {
		o.mu.Lock()
		delete(o.restoreTimers, jobID)
		o.mu.Unlock()

		ctx := o.baseContext()
		job, err := o.Store.GetCronJobByID(ctx, jobID)
		if err != nil {
			if o.Logger != nil {
				o.Logger.Error("override restore: job lookup failed",
					zap.Uint64("job_id", jobID), zap.Error(err))
			}
			return
		}
		if !job.IsActive {
			return
		}
		if err := o.registerJob(*job); err != nil {
			if o.Logger != nil {
				o.Logger.Error("override restore: re-registration failed",
					zap.Uint64("job_id", jobID), zap.Error(err))
			}
			return
		}
		job.NextRun = o.Scheduler.NextRun(jobID)
		if err := o.Store.UpdateCronJob(ctx, job); err != nil && o.Logger != nil {
			o.Logger.Warn("override restore: bookkeeping update failed", zap.Error(err))
		}
		if o.Logger != nil {
			o.Logger.Info("schedule restored after override", zap.Uint64("job_id", jobID))
		}
	})
}

func (o *Orchestrator) cancelRestore(jobID uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.restoreTimers[jobID]; ok {
		t.Stop()
		delete(o.restoreTimers, jobID)
	}
}

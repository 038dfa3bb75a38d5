package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ReportSummary is the digest of one orchestrator run sent to the reporting
// collaborator.
type ReportSummary struct {
	JobName          string        `json:"job_name"`
	RunID            string        `json:"run_id"`
	Date             string        `json:"date"`
	TotalProcessed   int           `json:"total_processed"`
	TotalExcluded    int           `json:"total_excluded"`
	RulesApplied     int           `json:"rules_applied"`
	UploadsProcessed int           `json:"uploads_processed"`
	UploadsFailed    int           `json:"uploads_failed"`
	Duration         time.Duration `json:"duration"`
}

// Notifier delivers run reports. Delivery is best-effort: the orchestrator
// logs a failure and moves on.
type Notifier interface {
	SendReport(ctx context.Context, summary ReportSummary) error
}

// LogNotifier writes the report to the service log. It stands in where no
// delivery channel is configured.
type LogNotifier struct {
	Logger *zap.Logger
}

var _ Notifier = (*LogNotifier)(nil)

func (n *LogNotifier) SendReport(ctx context.Context, summary ReportSummary) error {
	if n == nil || n.Logger == nil {
		return nil
	}
	n.Logger.Info("run report",
		zap.String("job", summary.JobName),
		zap.String("run_id", summary.RunID),
		zap.Int("processed", summary.TotalProcessed),
		zap.Int("excluded", summary.TotalExcluded),
		zap.Int("rules_applied", summary.RulesApplied),
		zap.Int("uploads_processed", summary.UploadsProcessed),
		zap.Int("uploads_failed", summary.UploadsFailed),
		zap.Duration("duration", summary.Duration))
	return nil
}

package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"marketpulse/internal/models"
)

// ErrNotFound is returned by Get* methods when no row matches.
var ErrNotFound = errors.New("not found")

type ListRawColorsParams struct {
	Cusip  string
	Ticker string
	Since  *time.Time
	Limit  int
	Offset int
}

type ListProcessedParams struct {
	ProcessingType string
	Cusip          string
	Ticker         string
	MessageID      *uint64
	DateFrom       *time.Time
	DateTo         *time.Time
	Limit          int
	Offset         int
}

// ProcessedStats summarizes the output store by provenance and hierarchy.
type ProcessedStats struct {
	Total     int64 `json:"total"`
	Automated int64 `json:"automated"`
	Manual    int64 `json:"manual"`
	Parents   int64 `json:"parents"`
	Children  int64 `json:"children"`
}

type ListAuditLogsParams struct {
	Module string
	Limit  int
	Offset int
}

type ListExecutionLogsParams struct {
	JobID  *uint64
	Status string
	Limit  int
	Offset int
}

// Repository is the unified storage contract. Each logical operation is
// atomic with respect to concurrent callers; multi-step mutations go through
// InTx.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Raw color feed table (read side of the data source adapter).
	InsertRawColors(ctx context.Context, items []models.RawColor) error
	ListRawColors(ctx context.Context, params ListRawColorsParams) ([]models.RawColor, error)
	CountRawColors(ctx context.Context) (int64, error)

	// Exclusion rules.
	InsertRule(ctx context.Context, item *models.Rule) error
	GetRuleByID(ctx context.Context, id uint64) (*models.Rule, error)
	GetRuleByNameFold(ctx context.Context, name string) (*models.Rule, error)
	ListRules(ctx context.Context) ([]models.Rule, error)
	ListRulesByIDs(ctx context.Context, ids []uint64) ([]models.Rule, error)
	UpdateRule(ctx context.Context, item *models.Rule) error
	DeleteRule(ctx context.Context, id uint64) error

	// Audit trail.
	InsertAuditLog(ctx context.Context, item *models.AuditLog) error
	GetAuditLogByID(ctx context.Context, id uint64) (*models.AuditLog, error)
	ListAuditLogs(ctx context.Context, params ListAuditLogsParams) ([]models.AuditLog, error)
	MarkAuditLogReverted(ctx context.Context, id uint64) error

	// Cron jobs.
	InsertCronJob(ctx context.Context, item *models.CronJob) error
	GetCronJobByID(ctx context.Context, id uint64) (*models.CronJob, error)
	ListCronJobs(ctx context.Context) ([]models.CronJob, error)
	UpdateCronJob(ctx context.Context, item *models.CronJob) error
	DeleteCronJob(ctx context.Context, id uint64) error

	// Execution logs.
	InsertExecutionLog(ctx context.Context, item *models.ExecutionLog) error
	ListExecutionLogs(ctx context.Context, params ListExecutionLogsParams) ([]models.ExecutionLog, error)
	TrimExecutionLogs(ctx context.Context, keep int) (int64, error)

	// Buffered uploads.
	InsertBufferedUpload(ctx context.Context, item *models.BufferedUpload) error
	ClaimPendingUploads(ctx context.Context) ([]models.BufferedUpload, error)
	UpdateBufferedUpload(ctx context.Context, item *models.BufferedUpload) error
	ListBufferedUploads(ctx context.Context, limit int, offset int) ([]models.BufferedUpload, error)
	DeleteBufferedUpload(ctx context.Context, id uint64) error

	// Processed output store.
	InsertProcessedColors(ctx context.Context, items []models.ColorProcessed) error
	CountProcessedColors(ctx context.Context) (int64, error)
	TrimProcessedColors(ctx context.Context, keep int) (int64, error)
	ListProcessedColors(ctx context.Context, params ListProcessedParams) ([]models.ColorProcessed, error)
	GetProcessedStats(ctx context.Context) (ProcessedStats, error)
}

package models

import "time"

// Execution outcomes.
const (
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusFailed  = "failed"
)

// Trigger provenance.
const (
	TriggerScheduled      = "scheduled"
	TriggerManual         = "manual"
	TriggerManualOverride = "manual_override"
)

// ExecutionLog is the append-only record of one orchestrator run.
type ExecutionLog struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID       string `gorm:"type:varchar(36);not null;uniqueIndex" json:"run_id"`
	JobID       uint64 `gorm:"not null;index" json:"job_id"`
	JobName     string `gorm:"type:varchar(100)" json:"job_name"`
	TriggeredBy string `gorm:"type:varchar(20);not null" json:"triggered_by"`
	Status      string `gorm:"type:varchar(20);not null;index" json:"status"`

	StartedAt       time.Time  `gorm:"type:timestamptz;not null;index" json:"started_at"`
	FinishedAt      *time.Time `gorm:"type:timestamptz" json:"finished_at"`
	DurationSeconds float64    `json:"duration_seconds"`

	FetchedCount  int `gorm:"not null;default:0" json:"fetched_count"`
	ExcludedCount int `gorm:"not null;default:0" json:"excluded_count"`
	RankedCount   int `gorm:"not null;default:0" json:"ranked_count"`
	SavedCount    int `gorm:"not null;default:0" json:"saved_count"`
	RulesApplied  int `gorm:"not null;default:0" json:"rules_applied"`

	UploadsProcessed int `gorm:"not null;default:0" json:"uploads_processed"`
	UploadsFailed    int `gorm:"not null;default:0" json:"uploads_failed"`

	ReportSent bool   `gorm:"not null;default:false" json:"report_sent"`
	Error      string `gorm:"type:text" json:"error,omitempty"`
}

func (ExecutionLog) TableName() string {
	return "execution_logs"
}

package models

import "time"

// CronJob is one recurring automation run definition. At most one live
// scheduler registration exists per job; NextRun mirrors the scheduler's view
// and is null while the job is inactive or its schedule is suspended.
type CronJob struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Name     string `gorm:"type:varchar(100);not null" json:"name"`
	Schedule string `gorm:"type:varchar(50);not null" json:"schedule"`
	IsActive bool   `gorm:"not null;default:true;index" json:"is_active"`

	LastRun *time.Time `gorm:"type:timestamptz" json:"last_run"`
	NextRun *time.Time `gorm:"type:timestamptz" json:"next_run"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (CronJob) TableName() string {
	return "cron_jobs"
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records one reversible admin mutation. RevertData carries enough
// prior state to undo the action: a created entity stores its id for
// deletion, an update or delete stores the full prior record for restore.
type AuditLog struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Module      string `gorm:"type:varchar(30);not null;index" json:"module"`
	Action      string `gorm:"type:varchar(20);not null" json:"action"`
	Description string `gorm:"type:text" json:"description"`

	EntityID   uint64 `gorm:"index" json:"entity_id"`
	EntityName string `gorm:"type:varchar(100)" json:"entity_name"`

	CanRevert  bool           `gorm:"not null;default:false" json:"can_revert"`
	Reverted   bool           `gorm:"not null;default:false" json:"reverted"`
	RevertData datatypes.JSON `gorm:"type:jsonb" json:"revert_data,omitempty"`

	User      string    `gorm:"type:varchar(50)" json:"user"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

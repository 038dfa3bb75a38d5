package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Buffered upload lifecycle. Pending entries are claimed as one batch by the
// orchestrator at the start of a run; terminal rows stay behind as history.
const (
	UploadPending   = "pending"
	UploadClaimed   = "claimed"
	UploadProcessed = "processed"
	UploadFailed    = "failed"
)

// BufferedUpload holds a manually submitted batch until the next orchestrated
// run. Rows is the already-parsed batch payload; a batch that fails
// structural validation never gets this far.
type BufferedUpload struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	BatchRef   string `gorm:"type:varchar(36);not null;uniqueIndex" json:"batch_ref"`
	SourceFile string `gorm:"type:varchar(255)" json:"source_file"`
	UploadedBy string `gorm:"type:varchar(50);not null" json:"uploaded_by"`

	Rows     datatypes.JSON `gorm:"type:jsonb;not null" json:"-"`
	RowCount int            `gorm:"not null" json:"row_count"`

	Status string `gorm:"type:varchar(20);not null;index" json:"status"`
	Error  string `gorm:"type:text" json:"error,omitempty"`

	UploadedAt  time.Time  `gorm:"type:timestamptz;autoCreateTime;index" json:"uploaded_at"`
	ProcessedAt *time.Time `gorm:"type:timestamptz" json:"processed_at"`
}

func (BufferedUpload) TableName() string {
	return "buffered_uploads"
}

// DecodeRows unpacks the stored batch payload.
func (u *BufferedUpload) DecodeRows() ([]ColorRaw, error) {
	if u == nil || len(u.Rows) == 0 {
		return nil, nil
	}
	var rows []ColorRaw
	if err := json.Unmarshal(u.Rows, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// SetRows encodes the parsed batch payload.
func (u *BufferedUpload) SetRows(rows []ColorRaw) error {
	raw, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	u.Rows = datatypes.JSON(raw)
	u.RowCount = len(rows)
	return nil
}

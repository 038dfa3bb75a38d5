package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ColorRaw is one price/"color" observation for a structured-finance
// instrument as delivered by the upstream feed or a manual upload. The fixed
// fields mirror the feed schema; anything else the admin configures lands in
// Extra.
type ColorRaw struct {
	MessageID uint64    `gorm:"column:message_id;not null" json:"message_id"`
	Ticker    string    `gorm:"type:varchar(100);not null" json:"ticker"`
	Sector    string    `gorm:"type:varchar(50)" json:"sector"`
	Cusip     string    `gorm:"type:varchar(20);not null" json:"cusip"`
	Date      time.Time `gorm:"type:timestamptz;not null" json:"date"`

	Px  *decimal.Decimal `gorm:"type:numeric(20,6)" json:"px"`
	Bid *decimal.Decimal `gorm:"type:numeric(20,6)" json:"bid"`
	Ask *decimal.Decimal `gorm:"type:numeric(20,6)" json:"ask"`

	Source     string `gorm:"type:varchar(50)" json:"source"`
	Bias       string `gorm:"type:varchar(30)" json:"bias"`
	Rank       int    `gorm:"not null" json:"rank"`
	Confidence int    `json:"confidence"`

	Extra datatypes.JSON `gorm:"type:jsonb" json:"extra,omitempty"`
}

// Row flattens the color into a generic row for the rule engine. Keys use the
// upstream feed's column names; Extra entries are merged in as-is.
func (c ColorRaw) Row() map[string]any {
	row := map[string]any{
		"MESSAGE_ID": c.MessageID,
		"TICKER":     c.Ticker,
		"SECTOR":     c.Sector,
		"CUSIP":      c.Cusip,
		"DATE":       c.Date,
		"PX":         c.Px,
		"BID":        c.Bid,
		"ASK":        c.Ask,
		"SOURCE":     c.Source,
		"BIAS":       c.Bias,
		"RANK":       c.Rank,
		"CONFIDENCE": c.Confidence,
	}
	if len(c.Extra) > 0 {
		var extra map[string]any
		if err := json.Unmarshal(c.Extra, &extra); err == nil {
			for k, v := range extra {
				row[k] = v
			}
		}
	}
	return row
}

// RawColor is a row of the ingest table the upstream feed writes into. The
// database-backed data source reads from here.
type RawColor struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	ColorRaw   `gorm:"embedded"`
	IngestedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"ingested_at"`
}

func (RawColor) TableName() string {
	return "raw_colors"
}

// Processing provenance tags recorded on output rows.
const (
	ProcessingAutomated = "AUTOMATED"
	ProcessingManual    = "MANUAL"
)

// ColorProcessed is a ColorRaw placed in its parent/child hierarchy by the
// ranking engine. A fresh set is emitted per run; rows are never mutated
// after insert.
type ColorProcessed struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	ColorRaw `gorm:"embedded"`

	IsParent        bool    `gorm:"not null;index" json:"is_parent"`
	ParentMessageID *uint64 `json:"parent_message_id"`
	ChildrenCount   int     `gorm:"not null;default:0" json:"children_count"`

	ProcessingType string    `gorm:"type:varchar(20);not null;index" json:"processing_type"`
	ProcessedAt    time.Time `gorm:"type:timestamptz;index" json:"processed_at"`
}

func (ColorProcessed) TableName() string {
	return "processed_colors"
}

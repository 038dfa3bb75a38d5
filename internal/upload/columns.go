package upload

import "context"

// Column value kinds used for structural validation.
const (
	ColString = "string"
	ColInt    = "int"
	ColFloat  = "float"
	ColDate   = "date"
)

// ColumnSpec describes one admin-configured upload column.
type ColumnSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// ColumnProvider supplies the current column schema. Changes take effect on
// the next validation call; nothing is cached here.
type ColumnProvider interface {
	Columns(ctx context.Context) ([]ColumnSpec, error)
}

// StaticColumns is a fixed schema, the default when no admin configuration
// store is wired in.
type StaticColumns []ColumnSpec

func (s StaticColumns) Columns(ctx context.Context) ([]ColumnSpec, error) {
	return s, nil
}

// DefaultColumns mirrors the upstream feed's layout.
func DefaultColumns() StaticColumns {
	return StaticColumns{
		{Name: "MESSAGE_ID", Type: ColInt, Required: true},
		{Name: "TICKER", Type: ColString, Required: true},
		{Name: "SECTOR", Type: ColString},
		{Name: "CUSIP", Type: ColString, Required: true},
		{Name: "DATE", Type: ColDate, Required: true},
		{Name: "PX", Type: ColFloat, Required: true},
		{Name: "BID", Type: ColFloat},
		{Name: "ASK", Type: ColFloat},
		{Name: "SOURCE", Type: ColString, Required: true},
		{Name: "BIAS", Type: ColString},
		{Name: "RANK", Type: ColInt, Required: true},
		{Name: "CONFIDENCE", Type: ColInt},
	}
}

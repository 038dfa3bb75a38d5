package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Condition chain types. WHERE starts a fresh predicate chain; AND/OR combine
// with the running result.
const (
	ConditionWhere = "where"
	ConditionAnd   = "and"
	ConditionOr    = "or"
)

// Condition is one (column, operator, value) predicate inside a rule. Value2
// is only meaningful for the between operator. Values keep whatever JSON type
// the admin supplied; the evaluator compares on normalized representations.
type Condition struct {
	Type     string `json:"type"`
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
	Value2   any    `json:"value2,omitempty"`
}

// Rule is an admin-defined exclusion rule. A row matching the combined
// condition expression is removed from downstream processing.
type Rule struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string         `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	IsActive   bool           `gorm:"not null;default:true;index" json:"is_active"`
	Conditions datatypes.JSON `gorm:"type:jsonb;not null" json:"conditions"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Rule) TableName() string {
	return "exclusion_rules"
}

// ConditionList decodes the stored condition chain.
func (r *Rule) ConditionList() ([]Condition, error) {
	if r == nil || len(r.Conditions) == 0 {
		return nil, nil
	}
	var conds []Condition
	if err := json.Unmarshal(r.Conditions, &conds); err != nil {
		return nil, err
	}
	return conds, nil
}

// SetConditions encodes the condition chain onto the rule.
func (r *Rule) SetConditions(conds []Condition) error {
	raw, err := json.Marshal(conds)
	if err != nil {
		return err
	}
	r.Conditions = datatypes.JSON(raw)
	return nil
}

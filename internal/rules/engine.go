package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"marketpulse/internal/models"
	"marketpulse/internal/repository"
)

var (
	ErrRuleNotFound       = errors.New("rule not found")
	ErrDuplicateRuleName  = errors.New("rule name already exists")
	ErrEmptyRuleName      = errors.New("rule name is required")
	ErrAuditNotRevertable = errors.New("audit entry cannot be reverted")
)

const auditModule = "rules"

// Store is the slice of the repository the rule engine needs.
type Store interface {
	InsertRule(ctx context.Context, item *models.Rule) error
	GetRuleByID(ctx context.Context, id uint64) (*models.Rule, error)
	GetRuleByNameFold(ctx context.Context, name string) (*models.Rule, error)
	ListRules(ctx context.Context) ([]models.Rule, error)
	ListRulesByIDs(ctx context.Context, ids []uint64) ([]models.Rule, error)
	UpdateRule(ctx context.Context, item *models.Rule) error
	DeleteRule(ctx context.Context, id uint64) error

	InsertAuditLog(ctx context.Context, item *models.AuditLog) error
	GetAuditLogByID(ctx context.Context, id uint64) (*models.AuditLog, error)
	MarkAuditLogReverted(ctx context.Context, id uint64) error
}

// Engine evaluates exclusion rules and owns their lifecycle.
type Engine struct {
	Store  Store
	Logger *zap.Logger
}

// EvaluateCondition evaluates one predicate against one row. It never fails:
// unparsable comparisons and unknown operators resolve to false.
func (e *Engine) EvaluateCondition(row map[string]any, cond models.Condition) bool {
	matched, known := evalCondition(row, cond)
	if !known && e != nil && e.Logger != nil {
		e.Logger.Warn("unknown rule operator",
			zap.String("operator", cond.Operator),
			zap.String("column", cond.Column))
	}
	return matched
}

// EvaluateRule reports whether the row matches the rule's combined condition
// expression, i.e. whether the row should be excluded. Conditions chain left
// to right: WHERE resets the accumulator, AND/OR fold into it. Both operands
// are always evaluated; conditions are side-effect-free predicates so there
// is nothing to gain from short-circuiting inside a rule.
func (e *Engine) EvaluateRule(row map[string]any, rule models.Rule) bool {
	conds, err := rule.ConditionList()
	if err != nil {
		if e != nil && e.Logger != nil {
			e.Logger.Warn("rule has malformed conditions",
				zap.Uint64("rule_id", rule.ID), zap.Error(err))
		}
		return false
	}
	if len(conds) == 0 {
		return false
	}

	var result *bool
	for _, cond := range conds {
		matched := e.EvaluateCondition(row, cond)
		switch {
		case result == nil, strings.EqualFold(cond.Type, models.ConditionWhere):
			result = &matched
		case strings.EqualFold(cond.Type, models.ConditionAnd):
			v := *result && matched
			result = &v
		case strings.EqualFold(cond.Type, models.ConditionOr):
			v := *result || matched
			result = &v
		}
	}
	return result != nil && *result
}

// FilterResult is the outcome of applying a rule set to a batch.
type FilterResult struct {
	Filtered      []models.ColorRaw `json:"-"`
	OriginalCount int               `json:"original_count"`
	ExcludedCount int               `json:"excluded_count"`
	RulesApplied  int               `json:"rules_applied"`
}

// ApplyRules filters a batch through exclusion rules. With a nil id list it
// applies every active rule; an explicit list applies exactly those rules,
// active or not (ad-hoc previews). A row is excluded on its first matching
// rule; remaining rules are skipped for that row.
func (e *Engine) ApplyRules(ctx context.Context, colors []models.ColorRaw, ruleIDs []uint64) (*FilterResult, error) {
	rulesToApply, err := e.resolveRules(ctx, ruleIDs)
	if err != nil {
		return nil, err
	}

	result := &FilterResult{
		OriginalCount: len(colors),
		RulesApplied:  len(rulesToApply),
	}
	if len(rulesToApply) == 0 {
		result.Filtered = colors
		return result, nil
	}

	filtered := make([]models.ColorRaw, 0, len(colors))
	for _, color := range colors {
		row := color.Row()
		excluded := false
		for _, rule := range rulesToApply {
			if e.EvaluateRule(row, rule) {
				excluded = true
				break
			}
		}
		if excluded {
			result.ExcludedCount++
			continue
		}
		filtered = append(filtered, color)
	}
	result.Filtered = filtered

	if e.Logger != nil {
		e.Logger.Info("rules applied",
			zap.Int("rules", result.RulesApplied),
			zap.Int("original", result.OriginalCount),
			zap.Int("excluded", result.ExcludedCount),
			zap.Int("remaining", len(result.Filtered)))
	}
	return result, nil
}

// RowVerdict is one preview row with its exclusion outcome.
type RowVerdict struct {
	Row           map[string]any `json:"row"`
	Excluded      bool           `json:"excluded"`
	MatchedRuleID uint64         `json:"matched_rule_id,omitempty"`
}

// PreviewRows evaluates arbitrary rows against a rule set without touching
// any stored data. Used by the admin "test this rule set" endpoint.
func (e *Engine) PreviewRows(ctx context.Context, rows []map[string]any, ruleIDs []uint64) ([]RowVerdict, error) {
	rulesToApply, err := e.resolveRules(ctx, ruleIDs)
	if err != nil {
		return nil, err
	}
	verdicts := make([]RowVerdict, 0, len(rows))
	for _, row := range rows {
		verdict := RowVerdict{Row: row}
		for _, rule := range rulesToApply {
			if e.EvaluateRule(row, rule) {
				verdict.Excluded = true
				verdict.MatchedRuleID = rule.ID
				break
			}
		}
		verdicts = append(verdicts, verdict)
	}
	return verdicts, nil
}

func (e *Engine) resolveRules(ctx context.Context, ruleIDs []uint64) ([]models.Rule, error) {
	if ruleIDs != nil {
		return e.Store.ListRulesByIDs(ctx, ruleIDs)
	}
	all, err := e.Store.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]models.Rule, 0, len(all))
	for _, r := range all {
		if r.IsActive {
			active = append(active, r)
		}
	}
	return active, nil
}

// --- lifecycle --------------------------------------------------------------

// revertPayload is the state an audit entry carries to undo its mutation.
type revertPayload struct {
	Action string       `json:"action"` // delete | restore
	RuleID uint64       `json:"rule_id,omitempty"`
	Rule   *models.Rule `json:"rule,omitempty"`
}

// CreateRule validates and persists a new rule, recording a revertable audit
// entry. Names are unique case-insensitively.
func (e *Engine) CreateRule(ctx context.Context, name string, conds []models.Condition, isActive bool, user string) (*models.Rule, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyRuleName
	}
	existing, err := e.Store.GetRuleByNameFold(ctx, name)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateRuleName
	}

	rule := &models.Rule{Name: name, IsActive: isActive}
	if err := rule.SetConditions(conds); err != nil {
		return nil, err
	}
	if err := e.Store.InsertRule(ctx, rule); err != nil {
		return nil, err
	}

	e.audit(ctx, "create", rule.ID, rule.Name,
		fmt.Sprintf("Created rule: %s", rule.Name),
		revertPayload{Action: "delete", RuleID: rule.ID}, user)
	return rule, nil
}

// RulePatch carries optional field updates.
type RulePatch struct {
	Name       *string
	IsActive   *bool
	Conditions []models.Condition
}

func (e *Engine) UpdateRule(ctx context.Context, id uint64, patch RulePatch, user string) (*models.Rule, error) {
	rule, err := e.Store.GetRuleByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	prior := *rule

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, ErrEmptyRuleName
		}
		if !strings.EqualFold(name, rule.Name) {
			dup, err := e.Store.GetRuleByNameFold(ctx, name)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
			if dup != nil {
				return nil, ErrDuplicateRuleName
			}
		}
		rule.Name = name
	}
	if patch.IsActive != nil {
		rule.IsActive = *patch.IsActive
	}
	if patch.Conditions != nil {
		if err := rule.SetConditions(patch.Conditions); err != nil {
			return nil, err
		}
	}
	rule.UpdatedAt = time.Now().UTC()

	if err := e.Store.UpdateRule(ctx, rule); err != nil {
		return nil, err
	}

	e.audit(ctx, "update", rule.ID, rule.Name,
		fmt.Sprintf("Updated rule: %s", rule.Name),
		revertPayload{Action: "restore", Rule: &prior}, user)
	return rule, nil
}

func (e *Engine) DeleteRule(ctx context.Context, id uint64, user string) error {
	rule, err := e.Store.GetRuleByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRuleNotFound
		}
		return err
	}
	if err := e.Store.DeleteRule(ctx, id); err != nil {
		return err
	}

	e.audit(ctx, "delete", rule.ID, rule.Name,
		fmt.Sprintf("Deleted rule: %s", rule.Name),
		revertPayload{Action: "restore", Rule: rule}, user)
	return nil
}

func (e *Engine) ToggleRule(ctx context.Context, id uint64, user string) (*models.Rule, error) {
	rule, err := e.Store.GetRuleByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	active := !rule.IsActive
	return e.UpdateRule(ctx, id, RulePatch{IsActive: &active}, user)
}

// Revert undoes a previous rule mutation from its audit entry: a create is
// reverted by deleting the rule, an update or delete by restoring the prior
// record.
func (e *Engine) Revert(ctx context.Context, auditID uint64, user string) error {
	entry, err := e.Store.GetAuditLogByID(ctx, auditID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAuditNotRevertable
		}
		return err
	}
	if !entry.CanRevert || entry.Reverted || entry.Module != auditModule {
		return ErrAuditNotRevertable
	}

	var payload revertPayload
	if err := json.Unmarshal(entry.RevertData, &payload); err != nil {
		return err
	}

	switch payload.Action {
	case "delete":
		if err := e.Store.DeleteRule(ctx, payload.RuleID); err != nil {
			return err
		}
	case "restore":
		if payload.Rule == nil {
			return ErrAuditNotRevertable
		}
		restored := *payload.Rule
		restored.UpdatedAt = time.Now().UTC()
		if _, err := e.Store.GetRuleByID(ctx, restored.ID); errors.Is(err, repository.ErrNotFound) {
			if err := e.Store.InsertRule(ctx, &restored); err != nil {
				return err
			}
		} else if err != nil {
			return err
		} else if err := e.Store.UpdateRule(ctx, &restored); err != nil {
			return err
		}
	default:
		return ErrAuditNotRevertable
	}

	if err := e.Store.MarkAuditLogReverted(ctx, auditID); err != nil {
		return err
	}
	e.audit(ctx, "revert", entry.EntityID, entry.EntityName,
		fmt.Sprintf("Reverted %s of rule: %s", entry.Action, entry.EntityName), revertPayload{}, user)
	return nil
}

func (e *Engine) audit(ctx context.Context, action string, entityID uint64, entityName, description string, payload revertPayload, user string) {
	entry := &models.AuditLog{
		Module:      auditModule,
		Action:      action,
		Description: description,
		EntityID:    entityID,
		EntityName:  entityName,
		User:        user,
	}
	if payload.Action != "" {
		raw, err := json.Marshal(payload)
		if err == nil {
			entry.CanRevert = true
			entry.RevertData = datatypes.JSON(raw)
		}
	}
	if err := e.Store.InsertAuditLog(ctx, entry); err != nil && e.Logger != nil {
		e.Logger.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}
}

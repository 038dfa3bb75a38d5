package rules

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"marketpulse/internal/models"
	"marketpulse/internal/repository"
)

type fakeRuleStore struct {
	rules  map[uint64]models.Rule
	nextID uint64
	audits []models.AuditLog
}

func newFakeRuleStore() *fakeRuleStore {
	return &fakeRuleStore{rules: map[uint64]models.Rule{}}
}

func (s *fakeRuleStore) InsertRule(ctx context.Context, item *models.Rule) error {
	if item.ID == 0 {
		s.nextID++
		item.ID = s.nextID
	} else if item.ID > s.nextID {
		s.nextID = item.ID
	}
	s.rules[item.ID] = *item
	return nil
}

func (s *fakeRuleStore) GetRuleByID(ctx context.Context, id uint64) (*models.Rule, error) {
	r, ok := s.rules[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := r
	return &out, nil
}

func (s *fakeRuleStore) GetRuleByNameFold(ctx context.Context, name string) (*models.Rule, error) {
	for _, r := range s.rules {
		if strings.EqualFold(r.Name, name) {
			out := r
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeRuleStore) ListRules(ctx context.Context) ([]models.Rule, error) {
	out := make([]models.Rule, 0, len(s.rules))
	for id := uint64(1); id <= s.nextID; id++ {
		if r, ok := s.rules[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeRuleStore) ListRulesByIDs(ctx context.Context, ids []uint64) ([]models.Rule, error) {
	out := make([]models.Rule, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.rules[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeRuleStore) UpdateRule(ctx context.Context, item *models.Rule) error {
	if _, ok := s.rules[item.ID]; !ok {
		return repository.ErrNotFound
	}
	s.rules[item.ID] = *item
	return nil
}

func (s *fakeRuleStore) DeleteRule(ctx context.Context, id uint64) error {
	delete(s.rules, id)
	return nil
}

func (s *fakeRuleStore) InsertAuditLog(ctx context.Context, item *models.AuditLog) error {
	item.ID = uint64(len(s.audits) + 1)
	item.CreatedAt = time.Now().UTC()
	s.audits = append(s.audits, *item)
	return nil
}

func (s *fakeRuleStore) GetAuditLogByID(ctx context.Context, id uint64) (*models.AuditLog, error) {
	for _, a := range s.audits {
		if a.ID == id {
			out := a
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeRuleStore) MarkAuditLogReverted(ctx context.Context, id uint64) error {
	for i := range s.audits {
		if s.audits[i].ID == id {
			s.audits[i].Reverted = true
			return nil
		}
	}
	return repository.ErrNotFound
}

func mustRule(t *testing.T, name string, conds []models.Condition) models.Rule {
	t.Helper()
	r := models.Rule{Name: name, IsActive: true}
	if err := r.SetConditions(conds); err != nil {
		t.Fatalf("set conditions: %v", err)
	}
	return r
}

func TestEvaluateRuleChainLeftToRight(t *testing.T) {
	engine := &Engine{}

	// ((SECTOR == CLO) AND (RANK > 1)) OR (PX < 50)
	conds := []models.Condition{
		{Type: models.ConditionWhere, Column: "SECTOR", Operator: "equal to", Value: "CLO"},
		{Type: models.ConditionAnd, Column: "RANK", Operator: "greater than", Value: 1},
		{Type: models.ConditionOr, Column: "PX", Operator: "less than", Value: 50},
	}
	rule := mustRule(t, "chain", conds)

	tests := []struct {
		name string
		row  map[string]any
		want bool
	}{
		{"all true", map[string]any{"SECTOR": "CLO", "RANK": 2, "PX": 10}, true},
		{"and satisfied", map[string]any{"SECTOR": "CLO", "RANK": 2, "PX": 100}, true},
		{"or rescues", map[string]any{"SECTOR": "ABS", "RANK": 2, "PX": 10}, true},
		{"nothing matches", map[string]any{"SECTOR": "ABS", "RANK": 1, "PX": 100}, false},
		{"and fails, or fails", map[string]any{"SECTOR": "CLO", "RANK": 1, "PX": 100}, false},
	}
	for _, tt := range tests {
		if got := engine.EvaluateRule(tt.row, rule); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestEvaluateRuleFirstConditionTypeIgnored(t *testing.T) {
	engine := &Engine{}

	// A leading AND/OR behaves like WHERE; there is nothing to combine with.
	rule := mustRule(t, "lead", []models.Condition{
		{Type: models.ConditionAnd, Column: "SECTOR", Operator: "equal to", Value: "CLO"},
	})
	if !engine.EvaluateRule(map[string]any{"SECTOR": "CLO"}, rule) {
		t.Fatal("leading and-condition should seed the chain")
	}
}

func TestEvaluateRuleWhereResetsChain(t *testing.T) {
	engine := &Engine{}

	rule := mustRule(t, "reset", []models.Condition{
		{Type: models.ConditionWhere, Column: "SECTOR", Operator: "equal to", Value: "CLO"},
		{Type: models.ConditionWhere, Column: "RANK", Operator: "equal to", Value: 9},
	})
	// First condition matches, but the second WHERE discards that result.
	if engine.EvaluateRule(map[string]any{"SECTOR": "CLO", "RANK": 1}, rule) {
		t.Fatal("second where must reset the accumulated result")
	}
}

func TestEvaluateRuleNoConditions(t *testing.T) {
	engine := &Engine{}
	rule := models.Rule{Name: "empty", IsActive: true}
	if engine.EvaluateRule(map[string]any{"SECTOR": "CLO"}, rule) {
		t.Fatal("rule with no conditions must never match")
	}
}

func TestEvaluateRuleMalformedConditions(t *testing.T) {
	engine := &Engine{}
	rule := models.Rule{Name: "broken", Conditions: datatypes.JSON("{not json")}
	if engine.EvaluateRule(map[string]any{"SECTOR": "CLO"}, rule) {
		t.Fatal("malformed rule must never match")
	}
}

func testColor(msgID uint64, cusip, sector string, rank int, px float64) models.ColorRaw {
	d := decimal.NewFromFloat(px)
	return models.ColorRaw{
		MessageID: msgID,
		Ticker:    "TICK",
		Sector:    sector,
		Cusip:     cusip,
		Date:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Px:        &d,
		Source:    "DESK",
		Rank:      rank,
	}
}

func TestApplyRulesFirstMatchWins(t *testing.T) {
	store := newFakeRuleStore()
	engine := &Engine{Store: store}
	ctx := context.Background()

	r1 := mustRule(t, "drop clo", []models.Condition{
		{Type: models.ConditionWhere, Column: "SECTOR", Operator: "equal to", Value: "CLO"},
	})
	r2 := mustRule(t, "drop cheap", []models.Condition{
		{Type: models.ConditionWhere, Column: "PX", Operator: "less than", Value: 50},
	})
	if err := store.InsertRule(ctx, &r1); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertRule(ctx, &r2); err != nil {
		t.Fatal(err)
	}

	colors := []models.ColorRaw{
		testColor(1, "AAA111", "CLO", 1, 40), // matches both, counted once
		testColor(2, "BBB222", "ABS", 1, 40), // matches only r2
		testColor(3, "CCC333", "ABS", 1, 90), // survives
	}
	result, err := engine.ApplyRules(ctx, colors, nil)
	if err != nil {
		t.Fatalf("apply rules: %v", err)
	}
	if result.OriginalCount != 3 || result.ExcludedCount != 2 || result.RulesApplied != 2 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if len(result.Filtered) != 1 || result.Filtered[0].MessageID != 3 {
		t.Fatalf("unexpected survivors: %+v", result.Filtered)
	}
}

func TestApplyRulesSkipsInactiveByDefault(t *testing.T) {
	store := newFakeRuleStore()
	engine := &Engine{Store: store}
	ctx := context.Background()

	r := mustRule(t, "dormant", []models.Condition{
		{Type: models.ConditionWhere, Column: "SECTOR", Operator: "equal to", Value: "CLO"},
	})
	r.IsActive = false
	if err := store.InsertRule(ctx, &r); err != nil {
		t.Fatal(err)
	}

	colors := []models.ColorRaw{testColor(1, "AAA111", "CLO", 1, 90)}

	result, err := engine.ApplyRules(ctx, colors, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.ExcludedCount != 0 || result.RulesApplied != 0 {
		t.Fatalf("inactive rule applied: %+v", result)
	}

	// An explicit id list applies the rule even though it is inactive.
	result, err = engine.ApplyRules(ctx, colors, []uint64{r.ID})
	if err != nil {
		t.Fatal(err)
	}
	if result.ExcludedCount != 1 || result.RulesApplied != 1 {
		t.Fatalf("explicit inactive rule not applied: %+v", result)
	}
}

func TestApplyRulesEmptyIDListAppliesNothing(t *testing.T) {
	store := newFakeRuleStore()
	engine := &Engine{Store: store}
	ctx := context.Background()

	r := mustRule(t, "active", []models.Condition{
		{Type: models.ConditionWhere, Column: "SECTOR", Operator: "equal to", Value: "CLO"},
	})
	if err := store.InsertRule(ctx, &r); err != nil {
		t.Fatal(err)
	}

	result, err := engine.ApplyRules(ctx, []models.ColorRaw{testColor(1, "A", "CLO", 1, 1)}, []uint64{})
	if err != nil {
		t.Fatal(err)
	}
	if result.RulesApplied != 0 || result.ExcludedCount != 0 {
		t.Fatalf("empty explicit list must apply no rules: %+v", result)
	}
}

func TestCreateRuleRejectsDuplicateName(t *testing.T) {
	store := newFakeRuleStore()
	engine := &Engine{Store: store}
	ctx := context.Background()

	conds := []models.Condition{{Type: models.ConditionWhere, Column: "PX", Operator: "less than", Value: 1}}
	if _, err := engine.CreateRule(ctx, "Dupe", conds, true, "tester"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.CreateRule(ctx, "dupe", conds, true, "tester"); !errors.Is(err, ErrDuplicateRuleName) {
		t.Fatalf("want ErrDuplicateRuleName, got %v", err)
	}
	if _, err := engine.CreateRule(ctx, "  ", conds, true, "tester"); !errors.Is(err, ErrEmptyRuleName) {
		t.Fatalf("want ErrEmptyRuleName, got %v", err)
	}
}

func TestConditionRoundTripPreservesSemantics(t *testing.T) {
	engine := &Engine{}

	conds := []models.Condition{
		{Type: models.ConditionWhere, Column: "SECTOR", Operator: "is equal to", Value: "CLO"},
		{Type: models.ConditionAnd, Column: "PX", Operator: "between", Value: 90, Value2: 100.5},
		{Type: models.ConditionOr, Column: "TICKER", Operator: "contains", Value: "JPM"},
	}
	rule := mustRule(t, "roundtrip", conds)

	decoded, err := rule.ConditionList()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != len(conds) {
		t.Fatalf("lost conditions: %d != %d", len(decoded), len(conds))
	}

	rows := []map[string]any{
		{"SECTOR": "CLO", "PX": 95, "TICKER": "X"},
		{"SECTOR": "CLO", "PX": 100.5, "TICKER": "X"},
		{"SECTOR": "ABS", "PX": 10, "TICKER": "JPMCC"},
		{"SECTOR": "ABS", "PX": 10, "TICKER": "GSMS"},
	}
	var reencoded models.Rule
	reencoded.Name = rule.Name
	if err := reencoded.SetConditions(decoded); err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	for i, row := range rows {
		before := engine.EvaluateRule(row, rule)
		after := engine.EvaluateRule(row, reencoded)
		if before != after {
			t.Errorf("row %d: verdict changed across round trip (%v -> %v)", i, before, after)
		}
	}
}

func TestRevertCreateDeletesRule(t *testing.T) {
	store := newFakeRuleStore()
	engine := &Engine{Store: store}
	ctx := context.Background()

	rule, err := engine.CreateRule(ctx, "revertme", []models.Condition{
		{Type: models.ConditionWhere, Column: "PX", Operator: "less than", Value: 1},
	}, true, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(store.audits) != 1 {
		t.Fatalf("want 1 audit entry, got %d", len(store.audits))
	}

	if err := engine.Revert(ctx, store.audits[0].ID, "tester"); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if _, err := store.GetRuleByID(ctx, rule.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatal("reverting a create must delete the rule")
	}

	// The entry is consumed; a second revert is rejected.
	if err := engine.Revert(ctx, store.audits[0].ID, "tester"); !errors.Is(err, ErrAuditNotRevertable) {
		t.Fatalf("want ErrAuditNotRevertable, got %v", err)
	}
}

func TestRevertDeleteRestoresRule(t *testing.T) {
	store := newFakeRuleStore()
	engine := &Engine{Store: store}
	ctx := context.Background()

	rule, err := engine.CreateRule(ctx, "keeper", []models.Condition{
		{Type: models.ConditionWhere, Column: "SECTOR", Operator: "equal to", Value: "CLO"},
	}, true, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.DeleteRule(ctx, rule.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var deleteAudit *models.AuditLog
	for i := range store.audits {
		if store.audits[i].Action == "delete" {
			deleteAudit = &store.audits[i]
		}
	}
	if deleteAudit == nil {
		t.Fatal("no delete audit entry recorded")
	}

	if err := engine.Revert(ctx, deleteAudit.ID, "tester"); err != nil {
		t.Fatalf("revert: %v", err)
	}
	restored, err := store.GetRuleByID(ctx, rule.ID)
	if err != nil {
		t.Fatalf("restored rule missing: %v", err)
	}
	if restored.Name != "keeper" || !restored.IsActive {
		t.Fatalf("restored rule mangled: %+v", restored)
	}
}

func TestPreviewRowsReportsMatchedRule(t *testing.T) {
	store := newFakeRuleStore()
	engine := &Engine{Store: store}
	ctx := context.Background()

	r := mustRule(t, "clo only", []models.Condition{
		{Type: models.ConditionWhere, Column: "SECTOR", Operator: "equal to", Value: "CLO"},
	})
	if err := store.InsertRule(ctx, &r); err != nil {
		t.Fatal(err)
	}

	verdicts, err := engine.PreviewRows(ctx, []map[string]any{
		{"SECTOR": "CLO"},
		{"SECTOR": "ABS"},
	}, nil)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(verdicts) != 2 {
		t.Fatalf("want 2 verdicts, got %d", len(verdicts))
	}
	if !verdicts[0].Excluded || verdicts[0].MatchedRuleID != r.ID {
		t.Fatalf("first row verdict wrong: %+v", verdicts[0])
	}
	if verdicts[1].Excluded {
		t.Fatalf("second row should pass: %+v", verdicts[1])
	}
}

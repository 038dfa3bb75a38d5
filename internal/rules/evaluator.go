package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketpulse/internal/models"
)

// Canonical operators. Admin UIs send a handful of surface spellings; they
// all normalize to one of these before evaluation.
const (
	opEqualTo            = "equal_to"
	opNotEqualTo         = "not_equal_to"
	opLessThan           = "less_than"
	opGreaterThan        = "greater_than"
	opLessThanEqualTo    = "less_than_equal_to"
	opGreaterThanEqualTo = "greater_than_equal_to"
	opBetween            = "between"
	opContains           = "contains"
	opNotContains        = "not_contains"
	opStartsWith         = "starts_with"
	opEndsWith           = "ends_with"
)

var operatorAliases = map[string]string{
	"equal to":              opEqualTo,
	"not equal to":          opNotEqualTo,
	"less than":             opLessThan,
	"greater than":          opGreaterThan,
	"less than equal to":    opLessThanEqualTo,
	"greater than equal to": opGreaterThanEqualTo,
	"between":               opBetween,
	"contains":              opContains,
	"starts with":           opStartsWith,
	"ends with":             opEndsWith,

	// Legacy spellings still accepted from older rule payloads.
	"is equal to":      opEqualTo,
	"is not equal to":  opNotEqualTo,
	"is less than":     opLessThan,
	"is greater than":  opGreaterThan,
	"equals":           opEqualTo,
	"not_equals":       opNotEqualTo,
	"does not contain": opNotContains,
	"greater_or_equal": opGreaterThanEqualTo,
	"less_or_equal":    opLessThanEqualTo,
}

// NormalizeOperator maps any accepted spelling to its canonical form. Already
// canonical operators pass through unchanged; unknown ones are returned as-is
// for the caller to reject or warn on.
func NormalizeOperator(op string) string {
	key := strings.ToLower(strings.TrimSpace(op))
	if canonical, ok := operatorAliases[key]; ok {
		return canonical
	}
	return key
}

// rowValue does a case-insensitive column lookup. A missing column reads as
// the empty string so a misconfigured rule can never abort a batch.
func rowValue(row map[string]any, column string) string {
	for key, val := range row {
		if strings.EqualFold(key, column) {
			return stringify(val)
		}
	}
	return ""
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	case *time.Time:
		if x == nil {
			return ""
		}
		return x.Format("2006-01-02 15:04:05")
	case decimal.Decimal:
		return x.String()
	case *decimal.Decimal:
		if x == nil {
			return ""
		}
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}

// evalCondition evaluates one predicate against one row. The second return
// reports whether the operator was recognized; unknown operators evaluate to
// false so the caller can log and move on.
func evalCondition(row map[string]any, cond models.Condition) (bool, bool) {
	operator := NormalizeOperator(cond.Operator)
	rowVal := rowValue(row, cond.Column)
	cmpVal := stringify(cond.Value)

	switch operator {
	case opEqualTo:
		if a, b, ok := parsePair(rowVal, cmpVal); ok {
			return a == b, true
		}
		return strings.EqualFold(rowVal, cmpVal), true

	case opNotEqualTo:
		if a, b, ok := parsePair(rowVal, cmpVal); ok {
			return a != b, true
		}
		return !strings.EqualFold(rowVal, cmpVal), true

	case opContains:
		return strings.Contains(strings.ToLower(rowVal), strings.ToLower(cmpVal)), true

	case opNotContains:
		return !strings.Contains(strings.ToLower(rowVal), strings.ToLower(cmpVal)), true

	case opStartsWith:
		return strings.HasPrefix(strings.ToLower(rowVal), strings.ToLower(cmpVal)), true

	case opEndsWith:
		return strings.HasSuffix(strings.ToLower(rowVal), strings.ToLower(cmpVal)), true

	case opLessThan:
		a, b, ok := parsePair(rowVal, cmpVal)
		return ok && a < b, true

	case opGreaterThan:
		a, b, ok := parsePair(rowVal, cmpVal)
		return ok && a > b, true

	case opLessThanEqualTo:
		a, b, ok := parsePair(rowVal, cmpVal)
		return ok && a <= b, true

	case opGreaterThanEqualTo:
		a, b, ok := parsePair(rowVal, cmpVal)
		return ok && a >= b, true

	case opBetween:
		rowNum, err1 := strconv.ParseFloat(strings.TrimSpace(rowVal), 64)
		min, err2 := strconv.ParseFloat(strings.TrimSpace(cmpVal), 64)
		max, err3 := strconv.ParseFloat(strings.TrimSpace(stringify(cond.Value2)), 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return false, true
		}
		return min <= rowNum && rowNum <= max, true
	}

	return false, false
}

func parsePair(a, b string) (float64, float64, bool) {
	fa, err1 := strconv.ParseFloat(strings.TrimSpace(a), 64)
	fb, err2 := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return fa, fb, true
}

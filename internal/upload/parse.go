package upload

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"marketpulse/internal/models"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// ParseRow converts one generic uploaded row into a ColorRaw. Lookup is
// case-insensitive; unknown keys are preserved in Extra. A parse failure on
// any required column is an error — the batch is rejected before buffering.
func ParseRow(row map[string]any, cols []ColumnSpec) (models.ColorRaw, error) {
	var color models.ColorRaw
	consumed := map[string]struct{}{}

	get := func(name string) (any, bool) {
		for key, val := range row {
			if strings.EqualFold(key, name) {
				consumed[strings.ToUpper(key)] = struct{}{}
				return val, true
			}
		}
		return nil, false
	}

	for _, col := range cols {
		val, ok := get(col.Name)
		if !ok || val == nil || fmt.Sprint(val) == "" {
			if col.Required {
				return color, fmt.Errorf("missing required column %s", col.Name)
			}
			continue
		}
		if err := assign(&color, col, val); err != nil {
			return color, fmt.Errorf("column %s: %w", col.Name, err)
		}
	}

	extra := map[string]any{}
	for key, val := range row {
		if _, ok := consumed[strings.ToUpper(key)]; ok {
			continue
		}
		extra[key] = val
	}
	if len(extra) > 0 {
		raw, err := json.Marshal(extra)
		if err != nil {
			return color, err
		}
		color.Extra = datatypes.JSON(raw)
	}

	return color, nil
}

func assign(color *models.ColorRaw, col ColumnSpec, val any) error {
	switch strings.ToUpper(col.Name) {
	case "MESSAGE_ID":
		n, err := toUint(val)
		if err != nil {
			return err
		}
		color.MessageID = n
	case "TICKER":
		color.Ticker = strings.TrimSpace(fmt.Sprint(val))
	case "SECTOR":
		color.Sector = strings.TrimSpace(fmt.Sprint(val))
	case "CUSIP":
		color.Cusip = strings.ToUpper(strings.TrimSpace(fmt.Sprint(val)))
	case "DATE":
		t, err := toDate(val)
		if err != nil {
			return err
		}
		color.Date = t
	case "PX":
		d, err := toDecimal(val)
		if err != nil {
			return err
		}
		color.Px = d
	case "BID":
		d, err := toDecimal(val)
		if err != nil {
			return err
		}
		color.Bid = d
	case "ASK":
		d, err := toDecimal(val)
		if err != nil {
			return err
		}
		color.Ask = d
	case "SOURCE":
		color.Source = strings.TrimSpace(fmt.Sprint(val))
	case "BIAS":
		color.Bias = strings.TrimSpace(fmt.Sprint(val))
	case "RANK":
		n, err := toInt(val)
		if err != nil {
			return err
		}
		color.Rank = n
	case "CONFIDENCE":
		n, err := toInt(val)
		if err != nil {
			return err
		}
		color.Confidence = n
	default:
		// Typed but unmapped columns ride along in Extra via the caller.
		return nil
	}
	return nil
}

func toUint(val any) (uint64, error) {
	switch x := val.(type) {
	case float64:
		if x < 0 {
			return 0, fmt.Errorf("negative value %v", x)
		}
		return uint64(x), nil
	case int:
		return uint64(x), nil
	case int64:
		return uint64(x), nil
	case uint64:
		return x, nil
	case json.Number:
		return strconv.ParseUint(x.String(), 10, 64)
	case string:
		return strconv.ParseUint(strings.TrimSpace(x), 10, 64)
	default:
		return 0, fmt.Errorf("not an integer: %v", val)
	}
}

func toInt(val any) (int, error) {
	switch x := val.(type) {
	case float64:
		return int(x), nil
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case json.Number:
		n, err := strconv.ParseInt(x.String(), 10, 64)
		return int(n), err
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return int(n), err
	default:
		return 0, fmt.Errorf("not an integer: %v", val)
	}
}

func toDecimal(val any) (*decimal.Decimal, error) {
	switch x := val.(type) {
	case float64:
		d := decimal.NewFromFloat(x)
		return &d, nil
	case int:
		d := decimal.NewFromInt(int64(x))
		return &d, nil
	case int64:
		d := decimal.NewFromInt(x)
		return &d, nil
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return nil, err
		}
		return &d, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, err
		}
		return &d, nil
	default:
		return nil, fmt.Errorf("not numeric: %v", val)
	}
}

func toDate(val any) (time.Time, error) {
	switch x := val.(type) {
	case time.Time:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparsable date %q", s)
	default:
		return time.Time{}, fmt.Errorf("not a date: %v", val)
	}
}

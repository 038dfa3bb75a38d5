package ranking

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"marketpulse/internal/models"
)

func color(msgID uint64, cusip string, date time.Time, rank int, px *float64) models.ColorRaw {
	c := models.ColorRaw{
		MessageID: msgID,
		Ticker:    "TICK",
		Cusip:     cusip,
		Date:      date,
		Rank:      rank,
		Source:    "DESK",
	}
	if px != nil {
		d := decimal.NewFromFloat(*px)
		c.Px = &d
	}
	return c
}

func f(v float64) *float64 { return &v }

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestRunColorsPicksMostRecentDateAsParent(t *testing.T) {
	engine := &Engine{}

	colors := []models.ColorRaw{
		color(1, "AAA111", day(1), 2, f(100)),
		color(2, "AAA111", day(3), 1, f(50)),
		color(3, "AAA111", day(2), 1, f(90)),
	}
	out := engine.RunColors(colors)
	if len(out) != 3 {
		t.Fatalf("want 3 rows, got %d", len(out))
	}

	parent := out[0]
	if !parent.IsParent || parent.MessageID != 2 {
		t.Fatalf("parent should be message 2 (latest date), got %+v", parent)
	}
	if parent.ChildrenCount != 2 {
		t.Fatalf("parent children count: got %d, want 2", parent.ChildrenCount)
	}
	// Children follow by descending date.
	if out[1].MessageID != 3 || out[2].MessageID != 1 {
		t.Fatalf("children out of order: %d, %d", out[1].MessageID, out[2].MessageID)
	}
	for _, child := range out[1:] {
		if child.IsParent {
			t.Fatalf("child marked as parent: %+v", child)
		}
		if child.ParentMessageID == nil || *child.ParentMessageID != 2 {
			t.Fatalf("child not linked to parent: %+v", child)
		}
	}
}

func TestRunColorsDeterministicAcrossInputOrder(t *testing.T) {
	engine := &Engine{}

	base := []models.ColorRaw{
		color(1, "AAA111", day(1), 2, f(100)),
		color(2, "AAA111", day(3), 1, f(50)),
		color(3, "AAA111", day(2), 1, f(90)),
	}
	permutations := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}
	for _, perm := range permutations {
		input := make([]models.ColorRaw, 0, len(base))
		for _, idx := range perm {
			input = append(input, base[idx])
		}
		out := engine.RunColors(input)
		if len(out) != 3 {
			t.Fatalf("perm %v: want 3 rows, got %d", perm, len(out))
		}
		if !out[0].IsParent || out[0].MessageID != 2 {
			t.Fatalf("perm %v: parent should be message 2, got %d", perm, out[0].MessageID)
		}
	}
}

func TestRunColorsRankBreaksDateTies(t *testing.T) {
	engine := &Engine{}

	out := engine.RunColors([]models.ColorRaw{
		color(1, "AAA111", day(5), 2, f(50)),
		color(2, "AAA111", day(5), 1, f(100)),
	})
	if out[0].MessageID != 2 {
		t.Fatalf("lower rank should win date tie, parent is %d", out[0].MessageID)
	}
}

func TestRunColorsPriceBreaksRankTies(t *testing.T) {
	engine := &Engine{}

	out := engine.RunColors([]models.ColorRaw{
		color(1, "AAA111", day(5), 1, f(100)),
		color(2, "AAA111", day(5), 1, f(90)),
		color(3, "AAA111", day(5), 1, nil), // no price sorts last
	})
	if out[0].MessageID != 2 {
		t.Fatalf("lower price should win rank tie, parent is %d", out[0].MessageID)
	}
	if out[2].MessageID != 3 {
		t.Fatalf("priceless color should sort last, got %d", out[2].MessageID)
	}
}

func TestRunColorsSingletonGroup(t *testing.T) {
	engine := &Engine{}

	out := engine.RunColors([]models.ColorRaw{
		color(7, "ZZZ999", day(1), 1, f(99)),
	})
	if len(out) != 1 {
		t.Fatalf("want 1 row, got %d", len(out))
	}
	if !out[0].IsParent || out[0].ChildrenCount != 0 || out[0].ParentMessageID != nil {
		t.Fatalf("singleton must be a standalone parent: %+v", out[0])
	}
}

func TestRunColorsGroupsByCusipPreservingOrder(t *testing.T) {
	engine := &Engine{}

	out := engine.RunColors([]models.ColorRaw{
		color(1, "AAA111", day(1), 1, f(10)),
		color(2, "BBB222", day(1), 1, f(20)),
		color(3, "AAA111", day(2), 1, f(30)),
	})
	if len(out) != 3 {
		t.Fatalf("want 3 rows, got %d", len(out))
	}
	// First group is AAA111 (first seen), parent then child, then BBB222.
	if !out[0].IsParent || out[0].Cusip != "AAA111" || out[0].MessageID != 3 {
		t.Fatalf("first parent wrong: %+v", out[0])
	}
	if out[1].IsParent || out[1].MessageID != 1 {
		t.Fatalf("first child wrong: %+v", out[1])
	}
	if !out[2].IsParent || out[2].Cusip != "BBB222" {
		t.Fatalf("second parent wrong: %+v", out[2])
	}
}

func TestRunColorsEmptyBatch(t *testing.T) {
	engine := &Engine{}
	if out := engine.RunColors(nil); out != nil {
		t.Fatalf("empty batch must produce no output, got %d rows", len(out))
	}
}

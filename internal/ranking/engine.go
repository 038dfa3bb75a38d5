package ranking

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"marketpulse/internal/models"
)

// Engine builds the parent/child hierarchy for a batch of colors.
//
// Within each cusip group the precedence is: most recent date first, then
// lowest rank, then lowest price; ties keep their original relative order.
// The first row after sorting becomes the parent, the rest its children.
type Engine struct {
	Logger *zap.Logger
}

// RunColors groups raw colors by cusip and emits a fresh processed set.
// Output preserves group-local parent-then-children adjacency.
func (e *Engine) RunColors(raw []models.ColorRaw) []models.ColorProcessed {
	if len(raw) == 0 {
		if e != nil && e.Logger != nil {
			e.Logger.Warn("ranking engine called with empty batch")
		}
		return nil
	}

	grouped := make(map[string][]models.ColorRaw)
	order := make([]string, 0)
	for _, color := range raw {
		if _, ok := grouped[color.Cusip]; !ok {
			order = append(order, color.Cusip)
		}
		grouped[color.Cusip] = append(grouped[color.Cusip], color)
	}

	now := time.Now().UTC()
	result := make([]models.ColorProcessed, 0, len(raw))
	parents := 0
	for _, cusip := range order {
		group := grouped[cusip]
		result = append(result, processGroup(group, now)...)
		parents++
	}

	if e != nil && e.Logger != nil {
		e.Logger.Info("ranking complete",
			zap.Int("colors", len(raw)),
			zap.Int("groups", len(order)),
			zap.Int("parents", parents),
			zap.Int("children", len(result)-parents))
	}
	return result
}

func processGroup(group []models.ColorRaw, processedAt time.Time) []models.ColorProcessed {
	sorted := make([]models.ColorRaw, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		ki, kj := sortKey(sorted[i]), sortKey(sorted[j])
		if ki.negEpoch != kj.negEpoch {
			return ki.negEpoch < kj.negEpoch
		}
		if ki.rank != kj.rank {
			return ki.rank < kj.rank
		}
		return ki.px < kj.px
	})

	parent := sorted[0]
	out := make([]models.ColorProcessed, 0, len(sorted))
	out = append(out, models.ColorProcessed{
		ColorRaw:      parent,
		IsParent:      true,
		ChildrenCount: len(sorted) - 1,
		ProcessedAt:   processedAt,
	})
	for _, child := range sorted[1:] {
		parentID := parent.MessageID
		out = append(out, models.ColorProcessed{
			ColorRaw:        child,
			IsParent:        false,
			ParentMessageID: &parentID,
			ProcessedAt:     processedAt,
		})
	}
	return out
}

type groupKey struct {
	negEpoch int64
	rank     int
	px       float64
}

func sortKey(c models.ColorRaw) groupKey {
	px := math.Inf(1)
	if c.Px != nil {
		px, _ = c.Px.Float64()
	}
	return groupKey{
		negEpoch: -c.Date.Unix(),
		rank:     c.Rank,
		px:       px,
	}
}

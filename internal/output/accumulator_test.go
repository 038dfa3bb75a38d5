package output

import (
	"context"
	"testing"
	"time"

	"marketpulse/internal/models"
	"marketpulse/internal/repository"
)

// fakeProcessedStore keeps rows in insertion order with autoincrement ids,
// trimming away the oldest rows first like the real backend.
type fakeProcessedStore struct {
	rows   []models.ColorProcessed
	nextID uint64
}

func (s *fakeProcessedStore) InsertProcessedColors(ctx context.Context, items []models.ColorProcessed) error {
	for _, item := range items {
		s.nextID++
		item.ID = s.nextID
		s.rows = append(s.rows, item)
	}
	return nil
}

func (s *fakeProcessedStore) CountProcessedColors(ctx context.Context) (int64, error) {
	return int64(len(s.rows)), nil
}

func (s *fakeProcessedStore) TrimProcessedColors(ctx context.Context, keep int) (int64, error) {
	if len(s.rows) <= keep {
		return 0, nil
	}
	trimmed := len(s.rows) - keep
	s.rows = append([]models.ColorProcessed(nil), s.rows[trimmed:]...)
	return int64(trimmed), nil
}

func (s *fakeProcessedStore) ListProcessedColors(ctx context.Context, params repository.ListProcessedParams) ([]models.ColorProcessed, error) {
	return append([]models.ColorProcessed(nil), s.rows...), nil
}

func (s *fakeProcessedStore) GetProcessedStats(ctx context.Context) (repository.ProcessedStats, error) {
	stats := repository.ProcessedStats{Total: int64(len(s.rows))}
	for _, r := range s.rows {
		switch r.ProcessingType {
		case models.ProcessingAutomated:
			stats.Automated++
		case models.ProcessingManual:
			stats.Manual++
		}
		if r.IsParent {
			stats.Parents++
		} else {
			stats.Children++
		}
	}
	return stats, nil
}

func batch(n int, startMsgID uint64) []models.ColorProcessed {
	out := make([]models.ColorProcessed, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.ColorProcessed{
			ColorRaw: models.ColorRaw{
				MessageID: startMsgID + uint64(i),
				Ticker:    "TICK",
				Cusip:     "AAA111",
				Date:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				Rank:      1,
			},
			IsParent: i == 0,
		})
	}
	return out
}

func TestAppendEnforcesHardCap(t *testing.T) {
	store := &fakeProcessedStore{}
	acc := &Accumulator{Store: store, KeepOnAppend: 150, MaxTotal: 150}
	ctx := context.Background()

	if _, err := acc.Append(ctx, batch(149, 1), models.ProcessingAutomated); err != nil {
		t.Fatalf("preload: %v", err)
	}
	n, err := acc.Append(ctx, batch(11, 1000), models.ProcessingAutomated)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if n != 11 {
		t.Fatalf("appended count: got %d, want 11", n)
	}
	if len(store.rows) != 150 {
		t.Fatalf("store size after cap: got %d, want 150", len(store.rows))
	}
	// The 11 new rows all survive; the 10 oldest preloaded rows are gone.
	last := store.rows[len(store.rows)-1]
	if last.MessageID != 1010 {
		t.Fatalf("newest row lost: tail message id %d", last.MessageID)
	}
	if store.rows[0].MessageID != 11 {
		t.Fatalf("trim removed wrong rows: head message id %d", store.rows[0].MessageID)
	}
}

func TestAppendPreTrimsBeforeWriting(t *testing.T) {
	store := &fakeProcessedStore{}
	acc := &Accumulator{Store: store} // defaults: keep 100, cap 150
	ctx := context.Background()

	if _, err := acc.Append(ctx, batch(120, 1), models.ProcessingAutomated); err != nil {
		t.Fatalf("preload: %v", err)
	}
	if _, err := acc.Append(ctx, batch(10, 500), models.ProcessingAutomated); err != nil {
		t.Fatalf("append: %v", err)
	}
	// 120 rows trimmed down to 100 before the 10 new rows landed.
	if len(store.rows) != 110 {
		t.Fatalf("store size: got %d, want 110", len(store.rows))
	}
}

func TestAppendStampsProvenance(t *testing.T) {
	store := &fakeProcessedStore{}
	acc := &Accumulator{Store: store}
	ctx := context.Background()

	if _, err := acc.Append(ctx, batch(2, 1), "manual"); err != nil {
		t.Fatalf("append: %v", err)
	}
	for _, row := range store.rows {
		if row.ProcessingType != models.ProcessingManual {
			t.Fatalf("processing type not normalized: %q", row.ProcessingType)
		}
		if row.ProcessedAt.IsZero() {
			t.Fatal("processed_at not stamped")
		}
	}

	if _, err := acc.Append(ctx, batch(1, 10), ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	if got := store.rows[len(store.rows)-1].ProcessingType; got != models.ProcessingAutomated {
		t.Fatalf("empty provenance should default to automated, got %q", got)
	}
}

func TestAppendEmptyBatchIsNoop(t *testing.T) {
	store := &fakeProcessedStore{}
	acc := &Accumulator{Store: store}

	n, err := acc.Append(context.Background(), nil, models.ProcessingAutomated)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if n != 0 || len(store.rows) != 0 {
		t.Fatalf("empty batch wrote rows: n=%d size=%d", n, len(store.rows))
	}
}

func TestStatsSplitsByProvenanceAndHierarchy(t *testing.T) {
	store := &fakeProcessedStore{}
	acc := &Accumulator{Store: store}
	ctx := context.Background()

	if _, err := acc.Append(ctx, batch(3, 1), models.ProcessingAutomated); err != nil {
		t.Fatal(err)
	}
	if _, err := acc.Append(ctx, batch(2, 100), models.ProcessingManual); err != nil {
		t.Fatal(err)
	}

	stats, err := acc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 5 || stats.Automated != 3 || stats.Manual != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Parents != 2 || stats.Children != 3 {
		t.Fatalf("unexpected hierarchy stats: %+v", stats)
	}
}

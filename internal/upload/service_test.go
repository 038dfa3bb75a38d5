package upload

import (
	"context"
	"errors"
	"testing"

	"marketpulse/internal/models"
)

type fakeUploadStore struct {
	uploads map[uint64]models.BufferedUpload
	nextID  uint64
}

func newFakeUploadStore() *fakeUploadStore {
	return &fakeUploadStore{uploads: map[uint64]models.BufferedUpload{}}
}

func (s *fakeUploadStore) InsertBufferedUpload(ctx context.Context, item *models.BufferedUpload) error {
	s.nextID++
	item.ID = s.nextID
	s.uploads[item.ID] = *item
	return nil
}

func (s *fakeUploadStore) ClaimPendingUploads(ctx context.Context) ([]models.BufferedUpload, error) {
	var claimed []models.BufferedUpload
	for id := uint64(1); id <= s.nextID; id++ {
		u, ok := s.uploads[id]
		if !ok || u.Status != models.UploadPending {
			continue
		}
		u.Status = models.UploadClaimed
		s.uploads[id] = u
		claimed = append(claimed, u)
	}
	return claimed, nil
}

func (s *fakeUploadStore) UpdateBufferedUpload(ctx context.Context, item *models.BufferedUpload) error {
	s.uploads[item.ID] = *item
	return nil
}

func (s *fakeUploadStore) ListBufferedUploads(ctx context.Context, limit, offset int) ([]models.BufferedUpload, error) {
	var out []models.BufferedUpload
	for id := s.nextID; id >= 1; id-- {
		if u, ok := s.uploads[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeUploadStore) DeleteBufferedUpload(ctx context.Context, id uint64) error {
	delete(s.uploads, id)
	return nil
}

func serviceRows(n int) []map[string]any {
	rows := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]any{
			"MESSAGE_ID": 1000 + i,
			"TICKER":     "JPMCC 2021-B",
			"CUSIP":      "46647PBK1",
			"DATE":       "2024-03-15",
			"PX":         99.5,
			"SOURCE":     "DESK",
			"RANK":       1,
		})
	}
	return rows
}

func TestEnqueueBuffersValidBatch(t *testing.T) {
	store := newFakeUploadStore()
	svc := &Service{Store: store}
	ctx := context.Background()

	entry, err := svc.Enqueue(ctx, serviceRows(3), "desk.xlsx", "trader1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if entry.Status != models.UploadPending {
		t.Fatalf("status: %q", entry.Status)
	}
	if entry.BatchRef == "" {
		t.Fatal("batch ref not assigned")
	}
	if entry.RowCount != 3 {
		t.Fatalf("row count: %d", entry.RowCount)
	}
	rows, err := entry.DecodeRows()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 3 || rows[0].MessageID != 1000 {
		t.Fatalf("decoded rows wrong: %+v", rows)
	}
}

func TestEnqueueRejectsWholeBatchOnAnyBadRow(t *testing.T) {
	store := newFakeUploadStore()
	svc := &Service{Store: store}
	ctx := context.Background()

	rows := serviceRows(2)
	delete(rows[1], "CUSIP")

	_, err := svc.Enqueue(ctx, rows, "desk.xlsx", "trader1")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if len(vErr.Problems) != 1 {
		t.Fatalf("problems: %v", vErr.Problems)
	}
	if len(store.uploads) != 0 {
		t.Fatal("rejected batch must not be persisted")
	}
}

func TestEnqueueEmptyAndOversizedBatches(t *testing.T) {
	store := newFakeUploadStore()
	svc := &Service{Store: store, MaxRows: 2}
	ctx := context.Background()

	if _, err := svc.Enqueue(ctx, nil, "x", "y"); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("want ErrEmptyBatch, got %v", err)
	}

	var vErr *ValidationError
	if _, err := svc.Enqueue(ctx, serviceRows(3), "x", "y"); !errors.As(err, &vErr) {
		t.Fatalf("want ValidationError for oversized batch, got %v", err)
	}
}

func TestEnqueueDefaultsUploader(t *testing.T) {
	store := newFakeUploadStore()
	svc := &Service{Store: store}

	entry, err := svc.Enqueue(context.Background(), serviceRows(1), "desk.xlsx", "  ")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if entry.UploadedBy != "admin" {
		t.Fatalf("uploader default: %q", entry.UploadedBy)
	}
}

func TestDrainClaimsAtMostOnce(t *testing.T) {
	store := newFakeUploadStore()
	svc := &Service{Store: store}
	ctx := context.Background()

	if _, err := svc.Enqueue(ctx, serviceRows(1), "a.xlsx", "t"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Enqueue(ctx, serviceRows(2), "b.xlsx", "t"); err != nil {
		t.Fatal(err)
	}

	first, err := svc.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("first drain: got %d batches, want 2", len(first))
	}
	for _, b := range first {
		if b.Status != models.UploadClaimed {
			t.Fatalf("batch not claimed: %q", b.Status)
		}
	}

	second, err := svc.Drain(ctx)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second drain must be empty, got %d", len(second))
	}
}

func TestFailedBatchIsTerminal(t *testing.T) {
	store := newFakeUploadStore()
	svc := &Service{Store: store}
	ctx := context.Background()

	if _, err := svc.Enqueue(ctx, serviceRows(1), "a.xlsx", "t"); err != nil {
		t.Fatal(err)
	}
	claimed, err := svc.Drain(ctx)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("drain: %v (%d)", err, len(claimed))
	}

	if err := svc.MarkFailed(ctx, &claimed[0], errors.New("boom")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	stored := store.uploads[claimed[0].ID]
	if stored.Status != models.UploadFailed || stored.Error != "boom" {
		t.Fatalf("stored state: %+v", stored)
	}
	if stored.ProcessedAt == nil {
		t.Fatal("processed_at not stamped on failure")
	}

	// Failed batches never reappear in a later drain.
	again, err := svc.Drain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatal("failed batch was re-queued")
	}
}

func TestMarkProcessedClearsError(t *testing.T) {
	store := newFakeUploadStore()
	svc := &Service{Store: store}
	ctx := context.Background()

	if _, err := svc.Enqueue(ctx, serviceRows(1), "a.xlsx", "t"); err != nil {
		t.Fatal(err)
	}
	claimed, _ := svc.Drain(ctx)
	claimed[0].Error = "stale"

	if err := svc.MarkProcessed(ctx, &claimed[0]); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	stored := store.uploads[claimed[0].ID]
	if stored.Status != models.UploadProcessed || stored.Error != "" || stored.ProcessedAt == nil {
		t.Fatalf("stored state: %+v", stored)
	}
}

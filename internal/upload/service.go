package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketpulse/internal/models"
)

var ErrEmptyBatch = errors.New("upload batch has no rows")

// ValidationError rejects a structurally invalid batch before buffering.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "upload validation failed: " + strings.Join(e.Problems, "; ")
}

// Store is the slice of the repository the upload buffer needs.
type Store interface {
	InsertBufferedUpload(ctx context.Context, item *models.BufferedUpload) error
	ClaimPendingUploads(ctx context.Context) ([]models.BufferedUpload, error)
	UpdateBufferedUpload(ctx context.Context, item *models.BufferedUpload) error
	ListBufferedUploads(ctx context.Context, limit int, offset int) ([]models.BufferedUpload, error)
	DeleteBufferedUpload(ctx context.Context, id uint64) error
}

// Service queues manually submitted batches until the next orchestrated run.
// Batches are validated and parsed on the way in; only structurally sound
// payloads ever reach the buffer.
type Service struct {
	Store   Store
	Columns ColumnProvider
	Logger  *zap.Logger
	MaxRows int
}

func (s *Service) columns(ctx context.Context) ([]ColumnSpec, error) {
	if s.Columns != nil {
		return s.Columns.Columns(ctx)
	}
	return DefaultColumns().Columns(ctx)
}

// Enqueue validates, parses and buffers one batch. Structural failures
// (missing required columns, unparsable required fields) reject the whole
// batch synchronously; nothing is persisted for a rejected batch.
func (s *Service) Enqueue(ctx context.Context, rows []map[string]any, sourceFile, uploadedBy string) (*models.BufferedUpload, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyBatch
	}
	if s.MaxRows > 0 && len(rows) > s.MaxRows {
		return nil, &ValidationError{Problems: []string{
			fmt.Sprintf("batch of %d rows exceeds limit %d", len(rows), s.MaxRows),
		}}
	}

	cols, err := s.columns(ctx)
	if err != nil {
		return nil, err
	}

	var problems []string
	parsed := make([]models.ColorRaw, 0, len(rows))
	for i, row := range rows {
		color, err := ParseRow(row, cols)
		if err != nil {
			problems = append(problems, fmt.Sprintf("row %d: %v", i+1, err))
			continue
		}
		parsed = append(parsed, color)
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	entry := &models.BufferedUpload{
		BatchRef:   uuid.NewString(),
		SourceFile: strings.TrimSpace(sourceFile),
		UploadedBy: strings.TrimSpace(uploadedBy),
		Status:     models.UploadPending,
	}
	if entry.UploadedBy == "" {
		entry.UploadedBy = "admin"
	}
	if err := entry.SetRows(parsed); err != nil {
		return nil, err
	}
	if err := s.Store.InsertBufferedUpload(ctx, entry); err != nil {
		return nil, err
	}

	if s.Logger != nil {
		s.Logger.Info("upload buffered",
			zap.String("batch_ref", entry.BatchRef),
			zap.String("source_file", entry.SourceFile),
			zap.Int("rows", entry.RowCount))
	}
	return entry, nil
}

// Drain claims every pending batch for the current run. The handoff is
// at-most-once: a claimed batch is never returned to a second caller.
func (s *Service) Drain(ctx context.Context) ([]models.BufferedUpload, error) {
	return s.Store.ClaimPendingUploads(ctx)
}

// MarkProcessed records a successful batch outcome.
func (s *Service) MarkProcessed(ctx context.Context, entry *models.BufferedUpload) error {
	now := time.Now().UTC()
	entry.Status = models.UploadProcessed
	entry.Error = ""
	entry.ProcessedAt = &now
	return s.Store.UpdateBufferedUpload(ctx, entry)
}

// MarkFailed records a terminal failure. Failed batches are not re-queued;
// the operator resubmits.
func (s *Service) MarkFailed(ctx context.Context, entry *models.BufferedUpload, cause error) error {
	now := time.Now().UTC()
	entry.Status = models.UploadFailed
	entry.ProcessedAt = &now
	if cause != nil {
		entry.Error = cause.Error()
	}
	if s.Logger != nil {
		s.Logger.Error("buffered upload failed",
			zap.String("batch_ref", entry.BatchRef),
			zap.Error(cause))
	}
	return s.Store.UpdateBufferedUpload(ctx, entry)
}

// History lists buffered uploads, most recent first, including terminal rows.
func (s *Service) History(ctx context.Context, limit, offset int) ([]models.BufferedUpload, error) {
	return s.Store.ListBufferedUploads(ctx, limit, offset)
}

// Delete removes one history entry.
func (s *Service) Delete(ctx context.Context, id uint64) error {
	return s.Store.DeleteBufferedUpload(ctx, id)
}

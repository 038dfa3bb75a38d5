package output

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketpulse/internal/models"
	"marketpulse/internal/repository"
)

// Store is the slice of the repository the accumulator writes through. The
// accumulator is storage-agnostic; the physical backend lives behind this
// interface.
type Store interface {
	InsertProcessedColors(ctx context.Context, items []models.ColorProcessed) error
	CountProcessedColors(ctx context.Context) (int64, error)
	TrimProcessedColors(ctx context.Context, keep int) (int64, error)
	ListProcessedColors(ctx context.Context, params repository.ListProcessedParams) ([]models.ColorProcessed, error)
	GetProcessedStats(ctx context.Context) (repository.ProcessedStats, error)
}

// Accumulator is the append-only output sink with bounded retention. Append
// is not idempotent at the record level; the orchestrator calls it at most
// once per run per batch.
type Accumulator struct {
	Store  Store
	Logger *zap.Logger

	// KeepOnAppend trims existing rows down before an append once the store
	// exceeds it; MaxTotal is the hard cap enforced after the append.
	KeepOnAppend int
	MaxTotal     int
}

const (
	defaultKeepOnAppend = 100
	defaultMaxTotal     = 150
)

func (a *Accumulator) keep() int {
	if a.KeepOnAppend > 0 {
		return a.KeepOnAppend
	}
	return defaultKeepOnAppend
}

func (a *Accumulator) max() int {
	if a.MaxTotal > 0 {
		return a.MaxTotal
	}
	return defaultMaxTotal
}

// Append stamps provenance onto the batch and writes it, applying the
// retention policy on both sides of the write. Returns the number of records
// appended.
func (a *Accumulator) Append(ctx context.Context, colors []models.ColorProcessed, processingType string) (int, error) {
	if len(colors) == 0 {
		if a.Logger != nil {
			a.Logger.Warn("no colors to append")
		}
		return 0, nil
	}

	processingType = strings.ToUpper(strings.TrimSpace(processingType))
	if processingType == "" {
		processingType = models.ProcessingAutomated
	}
	now := time.Now().UTC()
	for i := range colors {
		colors[i].ProcessingType = processingType
		if colors[i].ProcessedAt.IsZero() {
			colors[i].ProcessedAt = now
		}
	}

	existing, err := a.Store.CountProcessedColors(ctx)
	if err != nil {
		return 0, err
	}
	if existing > int64(a.keep()) {
		trimmed, err := a.Store.TrimProcessedColors(ctx, a.keep())
		if err != nil {
			return 0, err
		}
		if a.Logger != nil && trimmed > 0 {
			a.Logger.Info("pre-append retention trim",
				zap.Int64("trimmed", trimmed), zap.Int("keep", a.keep()))
		}
	}

	if err := a.Store.InsertProcessedColors(ctx, colors); err != nil {
		return 0, err
	}

	total, err := a.Store.CountProcessedColors(ctx)
	if err != nil {
		return len(colors), err
	}
	if total > int64(a.max()) {
		trimmed, err := a.Store.TrimProcessedColors(ctx, a.max())
		if err != nil {
			return len(colors), err
		}
		if a.Logger != nil && trimmed > 0 {
			a.Logger.Info("post-append retention trim",
				zap.Int64("trimmed", trimmed), zap.Int("max", a.max()))
		}
	}

	if a.Logger != nil {
		a.Logger.Info("appended processed colors",
			zap.Int("count", len(colors)),
			zap.String("processing_type", processingType))
	}
	return len(colors), nil
}

// Read lists stored output rows, filtered per field and sorted by business
// date descending then processing time descending.
func (a *Accumulator) Read(ctx context.Context, params repository.ListProcessedParams) ([]models.ColorProcessed, error) {
	return a.Store.ListProcessedColors(ctx, params)
}

// Stats summarizes the output store.
func (a *Accumulator) Stats(ctx context.Context) (repository.ProcessedStats, error) {
	return a.Store.GetProcessedStats(ctx)
}

package source

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketpulse/internal/models"
	"marketpulse/internal/repository"
)

// Filter narrows a fetch. Zero value means everything.
type Filter struct {
	Cusip  string
	Ticker string
	Since  *time.Time
	Limit  int
}

// ConnectionStatus is the result of probing the upstream feed.
type ConnectionStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// DataSource is the upstream raw-color feed the orchestrator pulls from.
// Implementations must return rows with all required columns populated.
type DataSource interface {
	FetchAll(ctx context.Context, filter Filter) ([]models.ColorRaw, error)
	TestConnection(ctx context.Context) ConnectionStatus
}

// Store is the slice of the repository the database-backed source reads.
type Store interface {
	ListRawColors(ctx context.Context, params repository.ListRawColorsParams) ([]models.RawColor, error)
	CountRawColors(ctx context.Context) (int64, error)
}

// DatabaseSource reads the raw_colors ingest table the upstream feed writes
// into.
type DatabaseSource struct {
	Store  Store
	Logger *zap.Logger
}

var _ DataSource = (*DatabaseSource)(nil)

func (d *DatabaseSource) FetchAll(ctx context.Context, filter Filter) ([]models.ColorRaw, error) {
	rows, err := d.Store.ListRawColors(ctx, repository.ListRawColorsParams{
		Cusip:  filter.Cusip,
		Ticker: filter.Ticker,
		Since:  filter.Since,
		Limit:  filter.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch raw colors: %w", err)
	}
	colors := make([]models.ColorRaw, 0, len(rows))
	for _, row := range rows {
		colors = append(colors, row.ColorRaw)
	}
	if d.Logger != nil {
		d.Logger.Info("fetched raw colors", zap.Int("count", len(colors)))
	}
	return colors, nil
}

func (d *DatabaseSource) TestConnection(ctx context.Context) ConnectionStatus {
	n, err := d.Store.CountRawColors(ctx)
	if err != nil {
		return ConnectionStatus{OK: false, Message: err.Error()}
	}
	return ConnectionStatus{OK: true, Message: fmt.Sprintf("connected, %d raw colors available", n)}
}

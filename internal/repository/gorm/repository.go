package gormrepository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"marketpulse/internal/models"
	"marketpulse/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ repository.Repository = (*Store)(nil)

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- raw colors -------------------------------------------------------------

func (s *Store) InsertRawColors(ctx context.Context, items []models.RawColor) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(items, 200).Error
}

func (s *Store) ListRawColors(ctx context.Context, params repository.ListRawColorsParams) ([]models.RawColor, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.RawColor{})
	if strings.TrimSpace(params.Cusip) != "" {
		query = query.Where("cusip = ?", strings.ToUpper(strings.TrimSpace(params.Cusip)))
	}
	if strings.TrimSpace(params.Ticker) != "" {
		query = query.Where("ticker = ?", strings.TrimSpace(params.Ticker))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("date >= ?", *params.Since)
	}
	query = query.Order("date desc").Order("id desc")
	if params.Limit > 0 {
		query = query.Limit(params.Limit).Offset(normalizeOffset(params.Offset))
	}
	var items []models.RawColor
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountRawColors(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&models.RawColor{}).Count(&n).Error
	return n, err
}

// --- rules ------------------------------------------------------------------

func (s *Store) InsertRule(ctx context.Context, item *models.Rule) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetRuleByID(ctx context.Context, id uint64) (*models.Rule, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Rule
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetRuleByNameFold(ctx context.Context, name string) (*models.Rule, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Rule
	err := s.db.WithContext(ctx).
		Where("LOWER(name) = LOWER(?)", strings.TrimSpace(name)).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListRules(ctx context.Context) ([]models.Rule, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Rule
	if err := s.db.WithContext(ctx).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListRulesByIDs(ctx context.Context, ids []uint64) ([]models.Rule, error) {
	if s == nil || s.db == nil || len(ids) == 0 {
		return nil, nil
	}
	var items []models.Rule
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateRule(ctx context.Context, item *models.Rule) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) DeleteRule(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Delete(&models.Rule{}, "id = ?", id).Error
}

// --- audit logs -------------------------------------------------------------

func (s *Store) InsertAuditLog(ctx context.Context, item *models.AuditLog) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetAuditLogByID(ctx context.Context, id uint64) (*models.AuditLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.AuditLog
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListAuditLogs(ctx context.Context, params repository.ListAuditLogsParams) ([]models.AuditLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if strings.TrimSpace(params.Module) != "" {
		query = query.Where("module = ?", strings.TrimSpace(params.Module))
	}
	limit := normalizeLimit(params.Limit, 100)
	var items []models.AuditLog
	err := query.Order("id desc").Limit(limit).Offset(normalizeOffset(params.Offset)).Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkAuditLogReverted(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.AuditLog{}).
		Where("id = ?", id).
		Update("reverted", true).Error
}

// --- cron jobs --------------------------------------------------------------

func (s *Store) InsertCronJob(ctx context.Context, item *models.CronJob) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetCronJobByID(ctx context.Context, id uint64) (*models.CronJob, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.CronJob
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListCronJobs(ctx context.Context) ([]models.CronJob, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.CronJob
	if err := s.db.WithContext(ctx).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateCronJob(ctx context.Context, item *models.CronJob) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) DeleteCronJob(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Delete(&models.CronJob{}, "id = ?", id).Error
}

// --- execution logs ---------------------------------------------------------

func (s *Store) InsertExecutionLog(ctx context.Context, item *models.ExecutionLog) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListExecutionLogs(ctx context.Context, params repository.ListExecutionLogsParams) ([]models.ExecutionLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.ExecutionLog{})
	if params.JobID != nil {
		query = query.Where("job_id = ?", *params.JobID)
	}
	if strings.TrimSpace(params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(params.Status))
	}
	limit := normalizeLimit(params.Limit, 100)
	var items []models.ExecutionLog
	err := query.Order("started_at desc").Order("id desc").
		Limit(limit).Offset(normalizeOffset(params.Offset)).Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) TrimExecutionLogs(ctx context.Context, keep int) (int64, error) {
	if s == nil || s.db == nil || keep <= 0 {
		return 0, nil
	}
	sub := s.db.WithContext(ctx).Model(&models.ExecutionLog{}).
		Select("id").Order("started_at desc").Order("id desc").Limit(keep)
	res := s.db.WithContext(ctx).
		Where("id NOT IN (?)", sub).
		Delete(&models.ExecutionLog{})
	return res.RowsAffected, res.Error
}

// --- buffered uploads -------------------------------------------------------

func (s *Store) InsertBufferedUpload(ctx context.Context, item *models.BufferedUpload) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

// ClaimPendingUploads flips every pending entry to claimed inside one
// transaction so two concurrent runs can never hand the same batch to both.
func (s *Store) ClaimPendingUploads(ctx context.Context) ([]models.BufferedUpload, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var claimed []models.BufferedUpload
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("status = ?", models.UploadPending).
			Order("id asc").Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		ids := make([]uint64, 0, len(claimed))
		for i := range claimed {
			ids = append(ids, claimed[i].ID)
			claimed[i].Status = models.UploadClaimed
		}
		return tx.Model(&models.BufferedUpload{}).
			Where("id IN ? AND status = ?", ids, models.UploadPending).
			Update("status", models.UploadClaimed).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Store) UpdateBufferedUpload(ctx context.Context, item *models.BufferedUpload) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) ListBufferedUploads(ctx context.Context, limit int, offset int) ([]models.BufferedUpload, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.BufferedUpload
	err := s.db.WithContext(ctx).Order("id desc").
		Limit(normalizeLimit(limit, 100)).Offset(normalizeOffset(offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeleteBufferedUpload(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Delete(&models.BufferedUpload{}, "id = ?", id).Error
}

// --- processed output -------------------------------------------------------

func (s *Store) InsertProcessedColors(ctx context.Context, items []models.ColorProcessed) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(items, 200).Error
}

func (s *Store) CountProcessedColors(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&models.ColorProcessed{}).Count(&n).Error
	return n, err
}

// TrimProcessedColors drops everything but the most recently appended keep
// rows. Insert order (id) is the recency key so same-timestamp batches trim
// deterministically.
func (s *Store) TrimProcessedColors(ctx context.Context, keep int) (int64, error) {
	if s == nil || s.db == nil || keep <= 0 {
		return 0, nil
	}
	sub := s.db.WithContext(ctx).Model(&models.ColorProcessed{}).
		Select("id").Order("id desc").Limit(keep)
	res := s.db.WithContext(ctx).
		Where("id NOT IN (?)", sub).
		Delete(&models.ColorProcessed{})
	return res.RowsAffected, res.Error
}

func (s *Store) ListProcessedColors(ctx context.Context, params repository.ListProcessedParams) ([]models.ColorProcessed, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.ColorProcessed{})
	if strings.TrimSpace(params.ProcessingType) != "" {
		query = query.Where("processing_type = ?", strings.ToUpper(strings.TrimSpace(params.ProcessingType)))
	}
	if strings.TrimSpace(params.Cusip) != "" {
		query = query.Where("UPPER(cusip) = ?", strings.ToUpper(strings.TrimSpace(params.Cusip)))
	}
	if strings.TrimSpace(params.Ticker) != "" {
		query = query.Where("UPPER(ticker) = ?", strings.ToUpper(strings.TrimSpace(params.Ticker)))
	}
	if params.MessageID != nil {
		query = query.Where("message_id = ?", *params.MessageID)
	}
	if params.DateFrom != nil && !params.DateFrom.IsZero() {
		query = query.Where("date >= ?", *params.DateFrom)
	}
	if params.DateTo != nil && !params.DateTo.IsZero() {
		query = query.Where("date <= ?", *params.DateTo)
	}
	// Business date first, then processing recency.
	query = query.Order("date desc").Order("processed_at desc").Order("id desc")
	limit := normalizeLimit(params.Limit, 200)
	var items []models.ColorProcessed
	if err := query.Limit(limit).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetProcessedStats(ctx context.Context) (repository.ProcessedStats, error) {
	var stats repository.ProcessedStats
	if s == nil || s.db == nil {
		return stats, nil
	}
	base := func() *gorm.DB { return s.db.WithContext(ctx).Model(&models.ColorProcessed{}) }
	if err := base().Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	if err := base().Where("processing_type = ?", models.ProcessingAutomated).Count(&stats.Automated).Error; err != nil {
		return stats, err
	}
	if err := base().Where("processing_type = ?", models.ProcessingManual).Count(&stats.Manual).Error; err != nil {
		return stats, err
	}
	if err := base().Where("is_parent = ?", true).Count(&stats.Parents).Error; err != nil {
		return stats, err
	}
	if err := base().Where("is_parent = ?", false).Count(&stats.Children).Error; err != nil {
		return stats, err
	}
	return stats, nil
}

// --- helpers ----------------------------------------------------------------

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

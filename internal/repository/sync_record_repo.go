package repository

import (
	"context"

	"gorm.io/gorm"

	"inventree_bom_sync/internal/model"
)

// ==================== Interface ====================

// SyncRecordRepository persists the per-line journal of sync runs.
type SyncRecordRepository interface {
	Create(ctx context.Context, record *model.SyncRecord) error
	ListByRun(ctx context.Context, runID string) ([]model.SyncRecord, error)
	CountByStatus(ctx context.Context, runID string) (map[model.SyncStatus]int64, error)
	LatestRunID(ctx context.Context) (string, error)
	FindLastBySKU(ctx context.Context, sku string) (*model.SyncRecord, error)
}

// ==================== Implementation ====================

type syncRecordRepo struct {
	db *gorm.DB
}

// NewSyncRecordRepository creates the journal repository.
func NewSyncRecordRepository(db *gorm.DB) SyncRecordRepository {
	return &syncRecordRepo{db: db}
}

func (r *syncRecordRepo) Create(ctx context.Context, record *model.SyncRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *syncRecordRepo) ListByRun(ctx context.Context, runID string) ([]model.SyncRecord, error) {
	var records []model.SyncRecord
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&records).Error
	return records, err
}

func (r *syncRecordRepo) CountByStatus(ctx context.Context, runID string) (map[model.SyncStatus]int64, error) {
	var rows []struct {
		Status model.SyncStatus
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&model.SyncRecord{}).
		Where("run_id = ?", runID).
		Select("status, COUNT(*) as total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[model.SyncStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

func (r *syncRecordRepo) LatestRunID(ctx context.Context) (string, error) {
	var record model.SyncRecord
	err := r.db.WithContext(ctx).
		Order("id DESC").
		First(&record).Error
	if err != nil {
		return "", err
	}
	return record.RunID, nil
}

func (r *syncRecordRepo) FindLastBySKU(ctx context.Context, sku string) (*model.SyncRecord, error) {
	var record model.SyncRecord
	err := r.db.WithContext(ctx).
		Where("lcsc_sku = ? OR mouser_sku = ?", sku, sku).
		Order("id DESC").
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"custody_backend/models"
)

// BatchFilter фильтр списка передач
type BatchFilter struct {
	CourierID *uint
	Action    models.HandoverAction
	Pending   bool
	Limit     int
	Offset    int
}

// ListBatches возвращает передачи, новые первыми
func (hs *HandoverService) ListBatches(ctx context.Context, filter BatchFilter) ([]models.HandoverBatch, int64, error) {
	query := hs.DB.WithContext(ctx).Model(&models.HandoverBatch{})
	if filter.CourierID != nil {
		query = query.Where("courier_id = ?", *filter.CourierID)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.Pending {
		query = query.Where("document_path IS NULL")
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("ошибка при подсчете передач: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var batches []models.HandoverBatch
	if err := query.Preload("Courier").Preload("Dispatcher").
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(filter.Offset).
		Find(&batches).Error; err != nil {
		return nil, 0, fmt.Errorf("ошибка при получении передач: %w", err)
	}
	return batches, total, nil
}

// GetBatch возвращает передачу с журналом по устройствам
func (hs *HandoverService) GetBatch(ctx context.Context, id uint) (*models.HandoverBatch, error) {
	var batch models.HandoverBatch
	err := hs.DB.WithContext(ctx).
		Preload("Courier").
		Preload("Dispatcher").
		Preload("Logs.Device").
		First(&batch, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("ошибка при получении передачи: %w", err)
	}
	return &batch, nil
}

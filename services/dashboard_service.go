package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"custody_backend/models"
)

const dashboardCacheKey = "custody:dashboard:stats"

// CourierLoad число устройств на руках у курьера
type CourierLoad struct {
	CourierID uint   `json:"courier_id"`
	Name      string `json:"name"`
	Devices   int64  `json:"devices"`
}

// DashboardStats сводка по парку устройств
type DashboardStats struct {
	TotalDevices     int64                         `json:"total_devices"`
	ByStatus         map[models.DeviceStatus]int64 `json:"by_status"`
	ByType           map[models.DeviceType]int64   `json:"by_type"`
	Damaged          int64                         `json:"damaged"`
	Faulty           int64                         `json:"faulty"`
	PendingDocuments int64                         `json:"pending_documents"`
	HandoversToday   int64                         `json:"handovers_today"`
	Couriers         []CourierLoad                 `json:"couriers"`
	LastUpdated      time.Time                     `json:"last_updated"`
}

// DashboardService считает статистику и кэширует ее в Redis
type DashboardService struct {
	DB    *gorm.DB
	Cache *CacheService
}

// NewDashboardService создает сервис статистики
func NewDashboardService(db *gorm.DB, cache *CacheService) *DashboardService {
	return &DashboardService{DB: db, Cache: cache}
}

// Stats возвращает статистику, при наличии Redis из кэша
func (ds *DashboardService) Stats(ctx context.Context) (*DashboardStats, error) {
	var cached DashboardStats
	if err := ds.Cache.GetJSON(ctx, dashboardCacheKey, &cached); err == nil {
		return &cached, nil
	}

	stats, err := ds.compute(ctx)
	if err != nil {
		return nil, err
	}
	_ = ds.Cache.SetJSON(ctx, dashboardCacheKey, stats, CacheTTLShort)
	return stats, nil
}

// Invalidate сбрасывает кэш после изменений парка
func (ds *DashboardService) Invalidate(ctx context.Context) {
	_ = ds.Cache.Del(ctx, dashboardCacheKey)
}

func (ds *DashboardService) compute(ctx context.Context) (*DashboardStats, error) {
	db := ds.DB.WithContext(ctx)
	stats := &DashboardStats{
		ByStatus:    map[models.DeviceStatus]int64{},
		ByType:      map[models.DeviceType]int64{},
		Couriers:    []CourierLoad{},
		LastUpdated: time.Now(),
	}

	var byStatus []struct {
		Status models.DeviceStatus
		Count  int64
	}
	if err := db.Model(&models.Device{}).Select("status, COUNT(*) AS count").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("ошибка подсчета устройств по статусам: %w", err)
	}
	for _, row := range byStatus {
		stats.ByStatus[row.Status] = row.Count
		stats.TotalDevices += row.Count
	}

	var byType []struct {
		Type  models.DeviceType
		Count int64
	}
	if err := db.Model(&models.Device{}).Select("type, COUNT(*) AS count").Group("type").Scan(&byType).Error; err != nil {
		return nil, fmt.Errorf("ошибка подсчета устройств по типам: %w", err)
	}
	for _, row := range byType {
		stats.ByType[row.Type] = row.Count
	}

	if err := db.Model(&models.Device{}).Where("is_damaged = ?", true).Count(&stats.Damaged).Error; err != nil {
		return nil, fmt.Errorf("ошибка подсчета поврежденных устройств: %w", err)
	}
	if err := db.Model(&models.Device{}).Where("is_faulty = ?", true).Count(&stats.Faulty).Error; err != nil {
		return nil, fmt.Errorf("ошибка подсчета неисправных устройств: %w", err)
	}
	if err := db.Model(&models.HandoverBatch{}).Where("document_path IS NULL").Count(&stats.PendingDocuments).Error; err != nil {
		return nil, fmt.Errorf("ошибка подсчета передач без акта: %w", err)
	}

	y, m, d := time.Now().Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, time.Local)
	if err := db.Model(&models.HandoverBatch{}).Where("created_at >= ?", startOfDay).Count(&stats.HandoversToday).Error; err != nil {
		return nil, fmt.Errorf("ошибка подсчета передач за день: %w", err)
	}

	var loads []struct {
		CourierID uint
		Count     int64
	}
	if err := db.Model(&models.Device{}).
		Select("current_holder_id AS courier_id, COUNT(*) AS count").
		Where("status = ? AND current_holder_id IS NOT NULL", models.DeviceStatusIssued).
		Group("current_holder_id").
		Scan(&loads).Error; err != nil {
		return nil, fmt.Errorf("ошибка подсчета устройств у курьеров: %w", err)
	}
	if len(loads) > 0 {
		ids := make([]uint, len(loads))
		for i, l := range loads {
			ids[i] = l.CourierID
		}
		var persons []models.Person
		if err := db.Where("id IN ?", ids).Find(&persons).Error; err != nil {
			return nil, fmt.Errorf("ошибка при получении курьеров: %w", err)
		}
		names := make(map[uint]string, len(persons))
		for i := range persons {
			names[persons[i].ID] = persons[i].DisplayName()
		}
		for _, l := range loads {
			stats.Couriers = append(stats.Couriers, CourierLoad{CourierID: l.CourierID, Name: names[l.CourierID], Devices: l.Count})
		}
	}

	return stats, nil
}

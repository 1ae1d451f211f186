package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"custody_backend/models"
)

// FlagInput значение пользовательского признака, пришедшее от клиента
type FlagInput struct {
	FlagID uint   `json:"flag_id" binding:"required"`
	Value  bool   `json:"value"`
	Note   string `json:"note"`
}

// FlagService управляет определениями и значениями пользовательских признаков
type FlagService struct {
	DB      *gorm.DB
	History *HistoryService
}

// NewFlagService создает новый сервис признаков
func NewFlagService(db *gorm.DB, history *HistoryService) *FlagService {
	return &FlagService{DB: db, History: history}
}

// ListDefinitions возвращает все определения признаков
func (fs *FlagService) ListDefinitions(ctx context.Context) ([]models.FlagDefinition, error) {
	var defs []models.FlagDefinition
	if err := fs.DB.WithContext(ctx).Order("name ASC").Find(&defs).Error; err != nil {
		return nil, fmt.Errorf("ошибка при получении признаков: %w", err)
	}
	return defs, nil
}

// CreateDefinition создает новый признак с уникальным именем
func (fs *FlagService) CreateDefinition(ctx context.Context, name, description string) (*models.FlagDefinition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: имя признака обязательно", ErrInvalidInput)
	}

	var count int64
	if err := fs.DB.WithContext(ctx).Model(&models.FlagDefinition{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("ошибка при проверке признака: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: признак %q", ErrDuplicate, name)
	}

	def := models.FlagDefinition{Name: name, Description: strings.TrimSpace(description)}
	if err := fs.DB.WithContext(ctx).Create(&def).Error; err != nil {
		return nil, fmt.Errorf("ошибка при создании признака: %w", err)
	}
	return &def, nil
}

// GetDeviceFlags возвращает значения признаков устройства вместе с определениями
func (fs *FlagService) GetDeviceFlags(ctx context.Context, deviceID uint) ([]models.FlagValue, error) {
	return fs.loadValues(fs.DB.WithContext(ctx), []uint{deviceID})
}

// UpdateDeviceFlags сохраняет значения признаков устройства. Пустой список очищает все значения.
func (fs *FlagService) UpdateDeviceFlags(ctx context.Context, deviceID uint, flags []FlagInput, actorID *uint) error {
	db := fs.DB.WithContext(ctx)

	var device models.Device
	if err := db.Select("id").First(&device, deviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("ошибка при получении устройства: %w", err)
	}

	if missing, err := fs.MissingFlagIDs(db, flagIDs(flags)); err != nil {
		return err
	} else if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrFlagNotFound, missing)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if len(flags) == 0 {
			return fs.clearFlags(tx, deviceID, actorID)
		}
		return fs.UpsertFlags(tx, deviceID, flags, actorID)
	})
}

// MissingFlagIDs возвращает идентификаторы, для которых нет определения
func (fs *FlagService) MissingFlagIDs(tx *gorm.DB, ids []uint) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var existing []uint
	if err := tx.Model(&models.FlagDefinition{}).Where("id IN ?", ids).Pluck("id", &existing).Error; err != nil {
		return nil, fmt.Errorf("ошибка при проверке признаков: %w", err)
	}

	known := make(map[uint]bool, len(existing))
	for _, id := range existing {
		known[id] = true
	}

	var missing []uint
	for _, id := range ids {
		if !known[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// UpsertFlags записывает значения в рамках транзакции tx. Каждое изменение попадает в историю.
func (fs *FlagService) UpsertFlags(tx *gorm.DB, deviceID uint, flags []FlagInput, actorID *uint) error {
	current, err := fs.loadValues(tx, []uint{deviceID})
	if err != nil {
		return err
	}
	byFlag := make(map[uint]models.FlagValue, len(current))
	for _, v := range current {
		byFlag[v.FlagID] = v
	}

	now := time.Now()
	for _, in := range flags {
		note := strings.TrimSpace(in.Note)

		old, exists := byFlag[in.FlagID]
		if exists && old.Value == in.Value && old.Note == note {
			continue
		}

		row := models.FlagValue{
			DeviceID:  deviceID,
			FlagID:    in.FlagID,
			Value:     in.Value,
			Note:      note,
			UpdatedAt: now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}, {Name: "flag_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "note", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("ошибка при сохранении признака %d: %w", in.FlagID, err)
		}

		var oldPtr *models.FlagValue
		if exists {
			oldPtr = &old
		}
		if err := fs.History.RecordFlagChange(tx, deviceID, in.FlagID, actorID, oldPtr, in.Value, note); err != nil {
			return err
		}
		byFlag[in.FlagID] = row
	}

	return nil
}

func (fs *FlagService) clearFlags(tx *gorm.DB, deviceID uint, actorID *uint) error {
	current, err := fs.loadValues(tx, []uint{deviceID})
	if err != nil {
		return err
	}

	for i := range current {
		old := current[i]
		if old.Value || old.Note != "" {
			if err := fs.History.RecordFlagChange(tx, deviceID, old.FlagID, actorID, &old, false, ""); err != nil {
				return err
			}
		}
	}

	if err := tx.Where("device_id = ?", deviceID).Delete(&models.FlagValue{}).Error; err != nil {
		return fmt.Errorf("ошибка при очистке признаков: %w", err)
	}
	return nil
}

// loadValues читает значения признаков для набора устройств
func (fs *FlagService) loadValues(tx *gorm.DB, deviceIDs []uint) ([]models.FlagValue, error) {
	var values []models.FlagValue
	if err := tx.Preload("Definition").
		Where("device_id IN ?", deviceIDs).
		Find(&values).Error; err != nil {
		return nil, fmt.Errorf("ошибка при получении значений признаков: %w", err)
	}

	sort.SliceStable(values, func(i, j int) bool {
		if values[i].DeviceID != values[j].DeviceID {
			return values[i].DeviceID < values[j].DeviceID
		}
		return values[i].FlagID < values[j].FlagID
	})
	return values, nil
}

func flagIDs(flags []FlagInput) []uint {
	ids := make([]uint, 0, len(flags))
	seen := make(map[uint]bool, len(flags))
	for _, f := range flags {
		if !seen[f.FlagID] {
			seen[f.FlagID] = true
			ids = append(ids, f.FlagID)
		}
	}
	return ids
}

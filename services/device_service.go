package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"custody_backend/models"
)

// DeviceFilter фильтр списка устройств
type DeviceFilter struct {
	Status   models.DeviceStatus
	Type     models.DeviceType
	HolderID *uint
	Search   string
}

// CreateDeviceInput данные для создания устройства
type CreateDeviceInput struct {
	AssetTag    string              `json:"asset_tag" binding:"required"`
	Type        models.DeviceType   `json:"type" binding:"required"`
	Status      models.DeviceStatus `json:"status"`
	Description string              `json:"description"`
	SimCardID   string              `json:"sim_card_id"`
	PhoneNumber string              `json:"phone_number"`
	IsDamaged   bool                `json:"is_damaged"`
	DamageNote  string              `json:"damage_note"`
	IsFaulty    bool                `json:"is_faulty"`
	FaultNote   string              `json:"fault_note"`
}

// DevicePatch частичное обновление устройства, nil означает "не менять"
type DevicePatch struct {
	AssetTag    *string              `json:"asset_tag"`
	Type        *models.DeviceType   `json:"type"`
	Status      *models.DeviceStatus `json:"status"`
	Description *string              `json:"description"`
	SimCardID   *string              `json:"sim_card_id"`
	PhoneNumber *string              `json:"phone_number"`
	IsDamaged   *bool                `json:"is_damaged"`
	DamageNote  *string              `json:"damage_note"`
	IsFaulty    *bool                `json:"is_faulty"`
	FaultNote   *string              `json:"fault_note"`
	CustomFlags *[]FlagInput         `json:"custom_flags"`
}

// DeviceService предоставляет операции над устройствами вне передач
type DeviceService struct {
	DB      *gorm.DB
	History *HistoryService
	Flags   *FlagService
}

// NewDeviceService создает новый экземпляр DeviceService
func NewDeviceService(db *gorm.DB, history *HistoryService, flags *FlagService) *DeviceService {
	return &DeviceService{DB: db, History: history, Flags: flags}
}

// List возвращает устройства по фильтру
func (ds *DeviceService) List(ctx context.Context, filter DeviceFilter) ([]models.Device, error) {
	query := ds.DB.WithContext(ctx).Preload("CurrentHolder").Order("asset_tag ASC")

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.HolderID != nil {
		query = query.Where("current_holder_id = ?", *filter.HolderID)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		query = query.Where("LOWER(asset_tag) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}

	var devices []models.Device
	if err := query.Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("ошибка при получении устройств: %w", err)
	}
	return devices, nil
}

// Get возвращает устройство с держателем и значениями признаков
func (ds *DeviceService) Get(ctx context.Context, id uint) (*models.Device, error) {
	var device models.Device
	err := ds.DB.WithContext(ctx).
		Preload("CurrentHolder").
		Preload("FlagValues.Definition").
		First(&device, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("ошибка при получении устройства: %w", err)
	}
	return &device, nil
}

// Create создает устройство. Выдача курьеру возможна только через передачу.
func (ds *DeviceService) Create(ctx context.Context, in CreateDeviceInput, actorID *uint) (*models.Device, error) {
	device := models.Device{
		AssetTag:    strings.TrimSpace(in.AssetTag),
		Type:        in.Type,
		Status:      in.Status,
		Description: strings.TrimSpace(in.Description),
		SimCardID:   strings.TrimSpace(in.SimCardID),
		PhoneNumber: strings.TrimSpace(in.PhoneNumber),
	}
	if device.Status == "" {
		device.Status = models.DeviceStatusAvailable
	}
	device.ApplyCondition(models.Condition{
		IsDamaged:  in.IsDamaged,
		DamageNote: in.DamageNote,
		IsFaulty:   in.IsFaulty,
		FaultNote:  in.FaultNote,
	}.Normalize())

	if err := ds.validate(&device); err != nil {
		return nil, err
	}
	if err := ds.ensureUniqueTag(ctx, device.AssetTag, 0); err != nil {
		return nil, err
	}

	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&device).Error; err != nil {
			return fmt.Errorf("ошибка при создании устройства: %w", err)
		}
		return ds.History.RecordFieldChanges(tx, device.ID, actorID, DiffDevice(&models.Device{}, &device))
	})
	if err != nil {
		return nil, err
	}

	return &device, nil
}

// Update применяет частичное обновление. Флаг состояния без заметки отклоняется.
func (ds *DeviceService) Update(ctx context.Context, id uint, patch DevicePatch, actorID *uint) (*models.Device, error) {
	var before models.Device
	if err := ds.DB.WithContext(ctx).First(&before, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("ошибка при получении устройства: %w", err)
	}

	after := before
	if patch.AssetTag != nil {
		after.AssetTag = strings.TrimSpace(*patch.AssetTag)
	}
	if patch.Type != nil {
		after.Type = *patch.Type
	}
	if patch.Description != nil {
		after.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.SimCardID != nil {
		after.SimCardID = strings.TrimSpace(*patch.SimCardID)
	}
	if patch.PhoneNumber != nil {
		after.PhoneNumber = strings.TrimSpace(*patch.PhoneNumber)
	}
	if patch.Status != nil && *patch.Status != before.Status {
		if *patch.Status == models.DeviceStatusIssued {
			return nil, fmt.Errorf("%w: статус ISSUED устанавливается только передачей", ErrInvalidInput)
		}
		after.Status = *patch.Status
		// уход из ISSUED снимает закрепление за курьером
		after.CurrentHolderID = nil
	}

	cond := before.Condition()
	if patch.IsDamaged != nil {
		cond.IsDamaged = *patch.IsDamaged
	}
	if patch.DamageNote != nil {
		cond.DamageNote = *patch.DamageNote
	}
	if patch.IsFaulty != nil {
		cond.IsFaulty = *patch.IsFaulty
	}
	if patch.FaultNote != nil {
		cond.FaultNote = *patch.FaultNote
	}
	after.ApplyCondition(cond.Normalize())

	if err := ds.validate(&after); err != nil {
		return nil, err
	}
	if after.AssetTag != before.AssetTag {
		if err := ds.ensureUniqueTag(ctx, after.AssetTag, id); err != nil {
			return nil, err
		}
	}

	if patch.CustomFlags != nil {
		missing, err := ds.Flags.MissingFlagIDs(ds.DB.WithContext(ctx), flagIDs(*patch.CustomFlags))
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrFlagNotFound, missing)
		}
	}

	changes := DiffDevice(&before, &after)
	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(changes) > 0 {
			// запись проходит, только если передача не успела сменить статус или держателя
			res := whereCustodyUnchanged(tx.Model(&models.Device{}), &before).Updates(changedColumns(&after, changes))
			if res.Error != nil {
				return fmt.Errorf("ошибка при обновлении устройства: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrDeviceChanged
			}
			if err := ds.History.RecordFieldChanges(tx, id, actorID, changes); err != nil {
				return err
			}
		}
		if patch.CustomFlags != nil {
			return ds.Flags.UpsertFlags(tx, id, *patch.CustomFlags, actorID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ds.Get(ctx, id)
}

// whereCustodyUnchanged ограничивает запись прочитанными статусом и держателем
func whereCustodyUnchanged(db *gorm.DB, before *models.Device) *gorm.DB {
	db = db.Where("id = ? AND status = ?", before.ID, before.Status)
	if before.CurrentHolderID == nil {
		return db.Where("current_holder_id IS NULL")
	}
	return db.Where("current_holder_id = ?", *before.CurrentHolderID)
}

func (ds *DeviceService) validate(d *models.Device) error {
	if d.AssetTag == "" {
		return fmt.Errorf("%w: инвентарный номер обязателен", ErrInvalidInput)
	}
	if !d.Type.IsValid() {
		return fmt.Errorf("%w: неизвестный тип устройства %q", ErrInvalidInput, d.Type)
	}
	if !d.Status.IsValid() {
		return fmt.Errorf("%w: неизвестный статус %q", ErrInvalidInput, d.Status)
	}
	if d.Status == models.DeviceStatusIssued && d.CurrentHolderID == nil {
		return fmt.Errorf("%w: статус ISSUED устанавливается только передачей", ErrInvalidInput)
	}
	if err := d.Condition().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConditionNoteRequired, err)
	}
	return nil
}

func (ds *DeviceService) ensureUniqueTag(ctx context.Context, tag string, exceptID uint) error {
	var count int64
	if err := ds.DB.WithContext(ctx).Model(&models.Device{}).
		Where("asset_tag = ? AND id <> ?", tag, exceptID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("ошибка при проверке инвентарного номера: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: инвентарный номер %s", ErrDuplicate, tag)
	}
	return nil
}

// changedColumns возвращает только изменившиеся колонки, включая нулевые значения
func changedColumns(d *models.Device, changes []FieldChange) map[string]interface{} {
	all := map[string]interface{}{
		"asset_tag":         d.AssetTag,
		"type":              d.Type,
		"status":            d.Status,
		"description":       d.Description,
		"sim_card_id":       d.SimCardID,
		"phone_number":      d.PhoneNumber,
		"current_holder_id": d.CurrentHolderID,
		"is_damaged":        d.IsDamaged,
		"damage_note":       d.DamageNote,
		"is_faulty":         d.IsFaulty,
		"fault_note":        d.FaultNote,
	}

	columns := make(map[string]interface{}, len(changes))
	for _, ch := range changes {
		columns[ch.Field] = all[ch.Field]
	}
	return columns
}

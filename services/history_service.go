package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"gorm.io/gorm"

	"custody_backend/models"
)

// FieldChange изменение одного скалярного поля устройства
type FieldChange struct {
	Field    string
	OldValue string
	NewValue string
}

// HistoryService пишет журнал изменений устройств и признаков.
// Журнал только дополняется и не участвует в принятии решений.
type HistoryService struct {
	db *gorm.DB
}

// NewHistoryService создает новый сервис истории
func NewHistoryService(db *gorm.DB) *HistoryService {
	return &HistoryService{db: db}
}

func (hs *HistoryService) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return hs.db
}

// RecordFieldChanges добавляет по одной записи на каждое изменившееся поле
func (hs *HistoryService) RecordFieldChanges(tx *gorm.DB, deviceID uint, actorID *uint, changes []FieldChange) error {
	if len(changes) == 0 {
		return nil
	}

	entries := make([]models.DeviceHistory, 0, len(changes))
	for _, ch := range changes {
		entries = append(entries, models.DeviceHistory{
			DeviceID:  deviceID,
			FieldName: ch.Field,
			OldValue:  ch.OldValue,
			NewValue:  ch.NewValue,
			ActorID:   actorID,
		})
	}

	if err := hs.conn(tx).Create(&entries).Error; err != nil {
		return fmt.Errorf("ошибка записи истории устройства: %w", err)
	}
	return nil
}

// RecordFlagChange добавляет запись об изменении признака. old == nil, если значения не было.
func (hs *HistoryService) RecordFlagChange(tx *gorm.DB, deviceID, flagID uint, actorID *uint, old *models.FlagValue, newValue bool, newNote string) error {
	entry := models.FlagHistory{
		DeviceID: deviceID,
		FlagID:   flagID,
		NewValue: newValue,
		NewNote:  newNote,
		ActorID:  actorID,
	}
	if old != nil {
		oldValue := old.Value
		entry.OldValue = &oldValue
		entry.OldNote = old.Note
	}

	if err := hs.conn(tx).Create(&entry).Error; err != nil {
		return fmt.Errorf("ошибка записи истории признака: %w", err)
	}
	return nil
}

// DiffDevice сравнивает редактируемые поля устройства
func DiffDevice(before, after *models.Device) []FieldChange {
	var changes []FieldChange
	add := func(field, oldValue, newValue string) {
		if oldValue != newValue {
			changes = append(changes, FieldChange{Field: field, OldValue: oldValue, NewValue: newValue})
		}
	}

	add("asset_tag", before.AssetTag, after.AssetTag)
	add("type", string(before.Type), string(after.Type))
	add("status", string(before.Status), string(after.Status))
	add("description", before.Description, after.Description)
	add("sim_card_id", before.SimCardID, after.SimCardID)
	add("phone_number", before.PhoneNumber, after.PhoneNumber)
	add("current_holder_id", formatHolder(before.CurrentHolderID), formatHolder(after.CurrentHolderID))
	add("is_damaged", strconv.FormatBool(before.IsDamaged), strconv.FormatBool(after.IsDamaged))
	add("damage_note", before.DamageNote, after.DamageNote)
	add("is_faulty", strconv.FormatBool(before.IsFaulty), strconv.FormatBool(after.IsFaulty))
	add("fault_note", before.FaultNote, after.FaultNote)

	return changes
}

func formatHolder(id *uint) string {
	if id == nil {
		return ""
	}
	return strconv.FormatUint(uint64(*id), 10)
}

// TimelineKind тип записи в хронологии устройства
type TimelineKind string

const (
	TimelineHandover TimelineKind = "handover"
	TimelineField    TimelineKind = "field"
	TimelineFlag     TimelineKind = "flag"
)

// TimelineEntry одна запись хронологии устройства
type TimelineEntry struct {
	Kind     TimelineKind `json:"kind"`
	At       time.Time    `json:"at"`
	Actor    string       `json:"actor"`
	Subject  string       `json:"subject"`
	OldValue string       `json:"old_value"`
	NewValue string       `json:"new_value"`
	BatchID  *uint        `json:"batch_id,omitempty"`
}

// DeviceTimeline собирает передачи, изменения полей и признаков устройства, новые сверху
func (hs *HistoryService) DeviceTimeline(ctx context.Context, deviceID uint) ([]TimelineEntry, error) {
	db := hs.db.WithContext(ctx)

	var logs []models.HandoverLog
	if err := db.Preload("FromPerson").Preload("ToPerson").
		Where("device_id = ?", deviceID).
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("ошибка при получении журнала передач: %w", err)
	}

	var fields []models.DeviceHistory
	if err := db.Preload("Actor").Where("device_id = ?", deviceID).Find(&fields).Error; err != nil {
		return nil, fmt.Errorf("ошибка при получении истории полей: %w", err)
	}

	var flags []models.FlagHistory
	if err := db.Preload("Actor").Preload("Flag").Where("device_id = ?", deviceID).Find(&flags).Error; err != nil {
		return nil, fmt.Errorf("ошибка при получении истории признаков: %w", err)
	}

	entries := make([]TimelineEntry, 0, len(logs)+len(fields)+len(flags))
	for _, l := range logs {
		batchID := l.BatchID
		entries = append(entries, TimelineEntry{
			Kind:     TimelineHandover,
			At:       l.CreatedAt,
			Subject:  string(l.Action),
			OldValue: personName(l.FromPerson),
			NewValue: personName(l.ToPerson),
			BatchID:  &batchID,
		})
	}
	for _, f := range fields {
		entries = append(entries, TimelineEntry{
			Kind:     TimelineField,
			At:       f.CreatedAt,
			Actor:    personName(f.Actor),
			Subject:  f.FieldName,
			OldValue: f.OldValue,
			NewValue: f.NewValue,
		})
	}
	for _, f := range flags {
		subject := fmt.Sprintf("flag #%d", f.FlagID)
		if f.Flag != nil {
			subject = f.Flag.Name
		}
		oldValue := ""
		if f.OldValue != nil {
			oldValue = flagText(*f.OldValue, f.OldNote)
		}
		entries = append(entries, TimelineEntry{
			Kind:     TimelineFlag,
			At:       f.CreatedAt,
			Actor:    personName(f.Actor),
			Subject:  subject,
			OldValue: oldValue,
			NewValue: flagText(f.NewValue, f.NewNote),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].At.After(entries[j].At)
	})

	return entries, nil
}

func personName(p *models.Person) string {
	if p == nil {
		return ""
	}
	return p.DisplayName()
}

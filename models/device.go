package models

import (
	"errors"
	"strings"
	"time"
)

// DeviceType тип устройства
type DeviceType string

const (
	DeviceTypePDA           DeviceType = "PDA"
	DeviceTypeMobilePrinter DeviceType = "MOBILE_PRINTER"
)

// IsValid проверяет тип устройства
func (t DeviceType) IsValid() bool {
	return t == DeviceTypePDA || t == DeviceTypeMobilePrinter
}

// DeviceStatus статус устройства
type DeviceStatus string

const (
	DeviceStatusAvailable DeviceStatus = "AVAILABLE"
	DeviceStatusIssued    DeviceStatus = "ISSUED"
	DeviceStatusLost      DeviceStatus = "LOST"
	DeviceStatusBroken    DeviceStatus = "BROKEN"
	DeviceStatusInService DeviceStatus = "IN_SERVICE"
)

// IsValid проверяет статус устройства
func (s DeviceStatus) IsValid() bool {
	switch s {
	case DeviceStatusAvailable, DeviceStatusIssued, DeviceStatusLost, DeviceStatusBroken, DeviceStatusInService:
		return true
	}
	return false
}

var (
	ErrDamageNoteRequired = errors.New("damage note is required when device is damaged")
	ErrFaultNoteRequired  = errors.New("fault note is required when device is faulty")
)

// Device физическое устройство (PDA или мобильный принтер)
type Device struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	AssetTag    string       `json:"asset_tag" gorm:"uniqueIndex;not null;type:varchar(100)"`
	Type        DeviceType   `json:"type" gorm:"not null;type:varchar(20)"`
	Status      DeviceStatus `json:"status" gorm:"not null;default:'AVAILABLE';type:varchar(20);index"`
	Description string       `json:"description" gorm:"type:text"`

	// nil означает "на складе"
	CurrentHolderID *uint   `json:"current_holder_id" gorm:"index"`
	CurrentHolder   *Person `json:"current_holder,omitempty" gorm:"foreignKey:CurrentHolderID"`

	// Имеют смысл только для PDA
	SimCardID   string `json:"sim_card_id" gorm:"type:varchar(50)"`
	PhoneNumber string `json:"phone_number" gorm:"type:varchar(30)"`

	// Встроенные флаги состояния
	IsDamaged  bool   `json:"is_damaged" gorm:"not null;default:false"`
	DamageNote string `json:"damage_note" gorm:"type:text"`
	IsFaulty   bool   `json:"is_faulty" gorm:"not null;default:false"`
	FaultNote  string `json:"fault_note" gorm:"type:text"`

	FlagValues []FlagValue `json:"flag_values,omitempty" gorm:"foreignKey:DeviceID"`
}

// TableName задает имя таблицы для модели Device
func (Device) TableName() string {
	return "devices"
}

// Condition встроенные флаги состояния устройства
type Condition struct {
	IsDamaged  bool   `json:"is_damaged"`
	DamageNote string `json:"damage_note"`
	IsFaulty   bool   `json:"is_faulty"`
	FaultNote  string `json:"fault_note"`
}

// Normalize обрезает пробелы в заметках
func (c Condition) Normalize() Condition {
	c.DamageNote = strings.TrimSpace(c.DamageNote)
	c.FaultNote = strings.TrimSpace(c.FaultNote)
	return c
}

// Validate проверяет, что у выставленного флага есть заметка
func (c Condition) Validate() error {
	if c.IsDamaged && strings.TrimSpace(c.DamageNote) == "" {
		return ErrDamageNoteRequired
	}
	if c.IsFaulty && strings.TrimSpace(c.FaultNote) == "" {
		return ErrFaultNoteRequired
	}
	return nil
}

// Condition возвращает текущее состояние устройства
func (d *Device) Condition() Condition {
	return Condition{
		IsDamaged:  d.IsDamaged,
		DamageNote: d.DamageNote,
		IsFaulty:   d.IsFaulty,
		FaultNote:  d.FaultNote,
	}
}

// ApplyCondition переносит состояние на устройство
func (d *Device) ApplyCondition(c Condition) {
	d.IsDamaged = c.IsDamaged
	d.DamageNote = c.DamageNote
	d.IsFaulty = c.IsFaulty
	d.FaultNote = c.FaultNote
}

// IsInStock проверяет, что устройство не закреплено ни за кем
func (d *Device) IsInStock() bool {
	return d.CurrentHolderID == nil
}

// IsHeldBy проверяет, что устройство выдано указанному сотруднику
func (d *Device) IsHeldBy(personID uint) bool {
	return d.Status == DeviceStatusIssued && d.CurrentHolderID != nil && *d.CurrentHolderID == personID
}

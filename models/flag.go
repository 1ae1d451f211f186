package models

import "time"

// FlagDefinition пользовательский логический признак устройства ("Чехол в комплекте" и т.п.)
type FlagDefinition struct {
	ID          uint      `json:"id" gorm:"primarykey"`
	CreatedAt   time.Time `json:"created_at"`
	Name        string    `json:"name" gorm:"uniqueIndex;not null;type:varchar(100)"`
	Description string    `json:"description" gorm:"type:text"`
}

// TableName задает имя таблицы для модели FlagDefinition
func (FlagDefinition) TableName() string {
	return "device_flag_definitions"
}

// FlagValue значение признака для конкретного устройства, одна строка на пару (device, flag)
type FlagValue struct {
	DeviceID  uint      `json:"device_id" gorm:"primaryKey;autoIncrement:false"`
	FlagID    uint      `json:"flag_id" gorm:"primaryKey;autoIncrement:false"`
	Value     bool      `json:"value" gorm:"not null;default:false"`
	Note      string    `json:"note" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at"`

	Definition *FlagDefinition `json:"definition,omitempty" gorm:"foreignKey:FlagID"`
}

// TableName задает имя таблицы для модели FlagValue
func (FlagValue) TableName() string {
	return "device_flag_values"
}

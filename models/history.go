package models

import "time"

// DeviceHistory запись об изменении скалярного поля устройства
type DeviceHistory struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`

	DeviceID  uint    `json:"device_id" gorm:"not null;index"`
	FieldName string  `json:"field_name" gorm:"not null;type:varchar(50)"`
	OldValue  string  `json:"old_value" gorm:"type:text"`
	NewValue  string  `json:"new_value" gorm:"type:text"`
	ActorID   *uint   `json:"actor_id" gorm:"index"`
	Actor     *Person `json:"actor,omitempty" gorm:"foreignKey:ActorID"`
}

// TableName задает имя таблицы для модели DeviceHistory
func (DeviceHistory) TableName() string {
	return "device_history"
}

// FlagHistory запись об изменении значения пользовательского признака
type FlagHistory struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`

	DeviceID uint            `json:"device_id" gorm:"not null;index"`
	FlagID   uint            `json:"flag_id" gorm:"not null;index"`
	Flag     *FlagDefinition `json:"flag,omitempty" gorm:"foreignKey:FlagID"`
	OldValue *bool           `json:"old_value"`
	NewValue bool            `json:"new_value"`
	OldNote  string          `json:"old_note" gorm:"type:text"`
	NewNote  string          `json:"new_note" gorm:"type:text"`
	ActorID  *uint           `json:"actor_id" gorm:"index"`
	Actor    *Person         `json:"actor,omitempty" gorm:"foreignKey:ActorID"`
}

// TableName задает имя таблицы для модели FlagHistory
func (FlagHistory) TableName() string {
	return "device_flag_history"
}

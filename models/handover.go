package models

import (
	"time"

	"gorm.io/datatypes"
)

// HandoverAction тип передачи
type HandoverAction string

const (
	HandoverIssue  HandoverAction = "ISSUE"
	HandoverReturn HandoverAction = "RETURN"
)

// IsValid проверяет тип передачи
func (a HandoverAction) IsValid() bool {
	return a == HandoverIssue || a == HandoverReturn
}

// HandoverBatch одна транзакция выдачи или возврата
type HandoverBatch struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`

	Action       HandoverAction `json:"action" gorm:"not null;type:varchar(10);index"`
	CourierID    uint           `json:"courier_id" gorm:"not null;index"`
	Courier      *Person        `json:"courier,omitempty" gorm:"foreignKey:CourierID"`
	DispatcherID uint           `json:"dispatcher_id" gorm:"not null;index"`
	Dispatcher   *Person        `json:"dispatcher,omitempty" gorm:"foreignKey:DispatcherID"`

	CourierSignature    string `json:"courier_signature" gorm:"not null;type:varchar(255)"`
	DispatcherSignature string `json:"dispatcher_signature" gorm:"not null;type:varchar(255)"`
	Notes               string `json:"notes" gorm:"type:text"`

	// Заполняются после формирования акта
	DocumentPath     *string        `json:"document_path" gorm:"type:varchar(255)"`
	DocumentPayload  datatypes.JSON `json:"-"`
	DocumentError    string         `json:"document_error,omitempty" gorm:"type:text"`
	DocumentAttempts int            `json:"document_attempts" gorm:"not null;default:0"`

	Logs []HandoverLog `json:"logs,omitempty" gorm:"foreignKey:BatchID"`
}

// TableName задает имя таблицы для модели HandoverBatch
func (HandoverBatch) TableName() string {
	return "handover_batches"
}

// HasDocument проверяет, сформирован ли акт
func (b *HandoverBatch) HasDocument() bool {
	return b.DocumentPath != nil && *b.DocumentPath != ""
}

// HandoverLog участие одного устройства в передаче
type HandoverLog struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`

	BatchID      uint           `json:"batch_id" gorm:"not null;index"`
	DeviceID     uint           `json:"device_id" gorm:"not null;index"`
	Device       *Device        `json:"device,omitempty" gorm:"foreignKey:DeviceID"`
	Action       HandoverAction `json:"action" gorm:"not null;type:varchar(10)"`
	FromPersonID *uint          `json:"from_person_id"`
	FromPerson   *Person        `json:"from_person,omitempty" gorm:"foreignKey:FromPersonID"`
	ToPersonID   *uint          `json:"to_person_id"`
	ToPerson     *Person        `json:"to_person,omitempty" gorm:"foreignKey:ToPersonID"`
}

// TableName задает имя таблицы для модели HandoverLog
func (HandoverLog) TableName() string {
	return "handover_logs"
}

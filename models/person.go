package models

import (
	"strings"
	"time"
)

// PersonRole роль сотрудника
type PersonRole string

const (
	RoleAdmin   PersonRole = "ADMIN"
	RoleCourier PersonRole = "COURIER"
	// RoleDispatcher присутствует в перечислении, но диспетчером всегда выступает активный ADMIN
	RoleDispatcher PersonRole = "DISPATCHER"
)

// IsValid проверяет, что роль входит в перечисление
func (r PersonRole) IsValid() bool {
	switch r {
	case RoleAdmin, RoleCourier, RoleDispatcher:
		return true
	}
	return false
}

// Person представляет сотрудника: администратора (диспетчера) или курьера
type Person struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Email    string     `json:"email" gorm:"uniqueIndex;not null;type:varchar(255)"`
	FullName string     `json:"full_name" gorm:"type:varchar(255)"`
	Role     PersonRole `json:"role" gorm:"not null;type:varchar(20);index"`
	Active   bool       `json:"active" gorm:"not null"`

	PasswordHash string  `json:"-" gorm:"type:varchar(255)"` // только для ADMIN
	PinHash      *string `json:"-" gorm:"type:varchar(255)"` // только для COURIER
}

// TableName задает имя таблицы для модели Person
func (Person) TableName() string {
	return "persons"
}

// DisplayName возвращает имя для документов и интерфейса
func (p *Person) DisplayName() string {
	if name := strings.TrimSpace(p.FullName); name != "" {
		return name
	}
	if p.Email != "" {
		return p.Email
	}
	return "Unknown"
}

// IsActiveCourier проверяет, может ли сотрудник участвовать в передаче как курьер
func (p *Person) IsActiveCourier() bool {
	return p.Active && p.Role == RoleCourier
}

// IsActiveAdmin проверяет, может ли сотрудник выступать диспетчером
func (p *Person) IsActiveAdmin() bool {
	return p.Active && p.Role == RoleAdmin
}

package services

import (
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

var pinPattern = regexp.MustCompile(`^\d{4,6}$`)

// ValidPinFormat проверяет синтаксис PIN без обращения к хэшу
func ValidPinFormat(pin string) bool {
	return pinPattern.MatchString(pin)
}

// CredentialService хэширует и проверяет PIN курьеров и пароли администраторов
type CredentialService struct {
	cost int
}

// NewCredentialService создает сервис с указанной стоимостью bcrypt
func NewCredentialService(cost int) *CredentialService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &CredentialService{cost: cost}
}

// Hash возвращает новый соленый хэш. Используется при создании сотрудника и сбросе PIN.
func (cs *CredentialService) Hash(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cs.cost)
	if err != nil {
		return "", fmt.Errorf("ошибка хэширования: %w", err)
	}
	return string(hash), nil
}

// HashPin проверяет формат PIN и хэширует его
func (cs *CredentialService) HashPin(pin string) (string, error) {
	if !ValidPinFormat(pin) {
		return "", ErrInvalidPin
	}
	return cs.Hash(pin)
}

// Verify сравнивает секрет с хэшем. При отсутствии хэша возвращает false.
func (cs *CredentialService) Verify(secret string, storedHash *string) bool {
	if storedHash == nil || *storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*storedHash), []byte(secret)) == nil
}

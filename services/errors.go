package services

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceNotFound  = errors.New("устройство не найдено")
	ErrPersonNotFound  = errors.New("сотрудник не найден")
	ErrFlagNotFound    = errors.New("признак не найден")
	ErrBatchNotFound   = errors.New("передача не найдена")
	ErrInvalidPin      = errors.New("PIN должен состоять из 4-6 цифр")
	ErrInvalidInput    = errors.New("некорректные данные")
	ErrDuplicate       = errors.New("запись уже существует")
	ErrInvalidLogin    = errors.New("неверный email или пароль")
	ErrDocumentMissing = errors.New("снимок акта отсутствует")
	ErrDeviceChanged   = errors.New("устройство изменено другой операцией, повторите запрос")
)

// ErrConditionNoteRequired возвращается, когда флаг состояния выставлен без заметки
var ErrConditionNoteRequired = errors.New("для выставленного флага состояния требуется заметка")

// HandoverErrorKind категория отказа в передаче
type HandoverErrorKind string

const (
	KindInvalidInput       HandoverErrorKind = "InvalidInput"
	KindCourierInvalid     HandoverErrorKind = "CourierInvalid"
	KindUnauthorized       HandoverErrorKind = "Unauthorized"
	KindPreconditionFailed HandoverErrorKind = "PreconditionFailed"
	KindValidationFailed   HandoverErrorKind = "ValidationFailed"
	KindStorageFailure     HandoverErrorKind = "StorageFailure"
)

// HandoverError ошибка передачи. Возвращается только до фиксации транзакции.
type HandoverError struct {
	Kind      HandoverErrorKind
	Message   string
	DeviceIDs []uint
	Err       error
}

func (e *HandoverError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *HandoverError) Unwrap() error {
	return e.Err
}

// IsHandoverError проверяет, что err является HandoverError указанной категории
func IsHandoverError(err error, kind HandoverErrorKind) bool {
	var he *HandoverError
	return errors.As(err, &he) && he.Kind == kind
}

func newHandoverError(kind HandoverErrorKind, message string, deviceIDs ...uint) *HandoverError {
	return &HandoverError{Kind: kind, Message: message, DeviceIDs: deviceIDs}
}

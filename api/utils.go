package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"custody_backend/middleware"
	"custody_backend/models"
	"custody_backend/services"
)

// parseID читает положительный идентификатор из параметра пути
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Некорректный идентификатор"})
		return 0, false
	}
	return uint(id), true
}

// currentPerson возвращает администратора, загруженного middleware
func currentPerson(c *gin.Context) (*models.Person, bool) {
	person, ok := middleware.GetCurrentPerson(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "Требуется авторизация"})
		return nil, false
	}
	return person, true
}

// respondError переводит ошибку сервиса в HTTP ответ
func respondError(c *gin.Context, err error) {
	var he *services.HandoverError
	if errors.As(err, &he) {
		respondHandoverError(c, he)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrDeviceNotFound),
		errors.Is(err, services.ErrPersonNotFound),
		errors.Is(err, services.ErrBatchNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrFlagNotFound),
		errors.Is(err, services.ErrConditionNoteRequired):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrInvalidPin):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrDuplicate),
		errors.Is(err, services.ErrDeviceChanged):
		status = http.StatusConflict
	case errors.Is(err, services.ErrInvalidLogin):
		status = http.StatusUnauthorized
	case errors.Is(err, services.ErrDocumentMissing):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		c.JSON(status, gin.H{"status": "error", "error": "Внутренняя ошибка сервера"})
		return
	}
	c.JSON(status, gin.H{"status": "error", "error": err.Error()})
}

// handoverStatus HTTP статус для категории отказа в передаче
func handoverStatus(kind services.HandoverErrorKind) int {
	switch kind {
	case services.KindInvalidInput:
		return http.StatusBadRequest
	case services.KindCourierInvalid, services.KindUnauthorized:
		return http.StatusUnauthorized
	case services.KindPreconditionFailed:
		return http.StatusConflict
	case services.KindValidationFailed:
		return http.StatusUnprocessableEntity
	case services.KindStorageFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondHandoverError(c *gin.Context, he *services.HandoverError) {
	status := handoverStatus(he.Kind)
	if status >= http.StatusInternalServerError {
		_ = c.Error(he)
	}

	body := gin.H{
		"status": "error",
		"kind":   he.Kind,
		"error":  he.Message,
	}
	if len(he.DeviceIDs) > 0 {
		body["device_ids"] = he.DeviceIDs
	}
	c.JSON(status, body)
}

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"custody_backend/models"
	"custody_backend/services"
)

// HandoverAPI выдача и возврат устройств, журнал передач и акты
type HandoverAPI struct {
	Handover  *services.HandoverService
	Documents *services.DocumentService
	Dashboard *services.DashboardService
}

// NewHandoverAPI создает новый экземпляр HandoverAPI
func NewHandoverAPI(handover *services.HandoverService, documents *services.DocumentService, dashboard *services.DashboardService) *HandoverAPI {
	return &HandoverAPI{Handover: handover, Documents: documents, Dashboard: dashboard}
}

// maxHandoverBody предел тела запроса: две подписи в base64 и обновления состояния
const maxHandoverBody = 4 << 20

// HandoverRequest тело запроса выдачи или возврата
type HandoverRequest struct {
	CourierID           uint                             `json:"courier_id"`
	DeviceIDs           []uint                           `json:"device_ids"`
	Pin                 string                           `json:"pin"`
	CourierSignature    string                           `json:"courier_signature"`
	DispatcherSignature string                           `json:"dispatcher_signature"`
	Notes               string                           `json:"notes"`
	DeviceUpdates       []services.DeviceConditionUpdate `json:"device_updates"`
}

// IssueDevices выдает партию устройств курьеру
func (api *HandoverAPI) IssueDevices(c *gin.Context) {
	api.perform(c, models.HandoverIssue)
}

// ReturnDevices принимает партию устройств от курьера
func (api *HandoverAPI) ReturnDevices(c *gin.Context) {
	api.perform(c, models.HandoverReturn)
}

func (api *HandoverAPI) perform(c *gin.Context, action models.HandoverAction) {
	dispatcher, ok := currentPerson(c)
	if !ok {
		return
	}

	// обязательные поля проверяет движок, чтобы отказ имел единый формат
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxHandoverBody)
	var req HandoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"status": "error",
				"kind":   services.KindInvalidInput,
				"error":  "Слишком большой запрос",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"kind":   services.KindInvalidInput,
			"error":  "Некорректные данные: " + err.Error(),
		})
		return
	}

	result, err := api.Handover.PerformHandover(c.Request.Context(), services.HandoverRequest{
		Action:              action,
		CourierID:           req.CourierID,
		DeviceIDs:           req.DeviceIDs,
		Pin:                 req.Pin,
		CourierSignature:    req.CourierSignature,
		DispatcherSignature: req.DispatcherSignature,
		Notes:               req.Notes,
		DeviceUpdates:       req.DeviceUpdates,
		Dispatcher:          dispatcher,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	invalidateDashboard(c, api.Dashboard)

	status := http.StatusCreated
	if result.Outcome == services.OutcomeDocumentPending {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"status": "success", "data": result})
}

// GetBatches возвращает журнал передач: courier_id, action, pending, limit, offset
func (api *HandoverAPI) GetBatches(c *gin.Context) {
	filter := services.BatchFilter{
		Action:  models.HandoverAction(c.Query("action")),
		Pending: c.Query("pending") == "true",
	}
	if filter.Action != "" && !filter.Action.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Неизвестное действие"})
		return
	}
	if raw := c.Query("courier_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Некорректный courier_id"})
			return
		}
		courierID := uint(id)
		filter.CourierID = &courierID
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	batches, total, err := api.Handover.ListBatches(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": batches, "total": total})
}

// GetBatch возвращает передачу с журналом по устройствам
func (api *HandoverAPI) GetBatch(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	batch, err := api.Handover.GetBatch(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	data := gin.H{"batch": batch}
	if batch.HasDocument() {
		data["document_url"] = api.Documents.Store.URL(*batch.DocumentPath)
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": data})
}

// RegenerateDocument повторно формирует акт передачи
func (api *HandoverAPI) RegenerateDocument(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	batch, err := api.Documents.Regenerate(c.Request.Context(), id)
	if err != nil {
		if batch != nil {
			// снимок есть, но рендер или хранилище снова не справились
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "error",
				"error":  "Не удалось сформировать акт",
				"data":   batch,
			})
			return
		}
		respondError(c, err)
		return
	}
	invalidateDashboard(c, api.Dashboard)

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"batch":        batch,
			"document_url": api.Documents.Store.URL(*batch.DocumentPath),
		},
	})
}

package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"custody_backend/models"
	"custody_backend/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// DeviceAPI устройства, их признаки, история и выгрузки
type DeviceAPI struct {
	Devices   *services.DeviceService
	Flags     *services.FlagService
	History   *services.HistoryService
	Exports   *services.ExportService
	Dashboard *services.DashboardService
}

// NewDeviceAPI создает новый экземпляр DeviceAPI
func NewDeviceAPI(devices *services.DeviceService, flags *services.FlagService, history *services.HistoryService, exports *services.ExportService, dashboard *services.DashboardService) *DeviceAPI {
	return &DeviceAPI{Devices: devices, Flags: flags, History: history, Exports: exports, Dashboard: dashboard}
}

// deviceFilter читает фильтр из query: status, type, holder_id, search
func deviceFilter(c *gin.Context) (services.DeviceFilter, bool) {
	filter := services.DeviceFilter{
		Status: models.DeviceStatus(c.Query("status")),
		Type:   models.DeviceType(c.Query("type")),
		Search: c.Query("search"),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Неизвестный статус"})
		return filter, false
	}
	if filter.Type != "" && !filter.Type.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Неизвестный тип устройства"})
		return filter, false
	}
	if raw := c.Query("holder_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Некорректный holder_id"})
			return filter, false
		}
		holderID := uint(id)
		filter.HolderID = &holderID
	}
	return filter, true
}

// GetDevices возвращает список устройств
func (api *DeviceAPI) GetDevices(c *gin.Context) {
	filter, ok := deviceFilter(c)
	if !ok {
		return
	}

	devices, err := api.Devices.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": devices, "total": len(devices)})
}

// GetDevice возвращает устройство с держателем и признаками
func (api *DeviceAPI) GetDevice(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	device, err := api.Devices.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": device})
}

// CreateDevice создает устройство
func (api *DeviceAPI) CreateDevice(c *gin.Context) {
	person, ok := currentPerson(c)
	if !ok {
		return
	}

	var in services.CreateDeviceInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Некорректные данные: " + err.Error()})
		return
	}

	device, err := api.Devices.Create(c.Request.Context(), in, &person.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	invalidateDashboard(c, api.Dashboard)
	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": device})
}

// UpdateDevice частично обновляет устройство
func (api *DeviceAPI) UpdateDevice(c *gin.Context) {
	person, ok := currentPerson(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var patch services.DevicePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Некорректные данные: " + err.Error()})
		return
	}

	device, err := api.Devices.Update(c.Request.Context(), id, patch, &person.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	invalidateDashboard(c, api.Dashboard)
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": device})
}

// GetDeviceFlags возвращает значения признаков устройства
func (api *DeviceAPI) GetDeviceFlags(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if _, err := api.Devices.Get(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	values, err := api.Flags.GetDeviceFlags(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": values})
}

type updateFlagsRequest struct {
	Flags []services.FlagInput `json:"flags"`
}

// UpdateDeviceFlags сохраняет значения признаков. Пустой список очищает все значения.
func (api *DeviceAPI) UpdateDeviceFlags(c *gin.Context) {
	person, ok := currentPerson(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req updateFlagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Некорректные данные: " + err.Error()})
		return
	}

	if err := api.Flags.UpdateDeviceFlags(c.Request.Context(), id, req.Flags, &person.ID); err != nil {
		respondError(c, err)
		return
	}

	values, err := api.Flags.GetDeviceFlags(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": values})
}

// GetDeviceHistory возвращает хронологию устройства
func (api *DeviceAPI) GetDeviceHistory(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if _, err := api.Devices.Get(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	entries, err := api.History.DeviceTimeline(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": entries})
}

// ExportDeviceHistory выгружает хронологию устройства в Excel
func (api *DeviceAPI) ExportDeviceHistory(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	data, filename, err := api.Exports.DeviceHistoryWorkbook(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// ExportInventory выгружает список устройств по фильтру в Excel
func (api *DeviceAPI) ExportInventory(c *gin.Context) {
	filter, ok := deviceFilter(c)
	if !ok {
		return
	}

	data, err := api.Exports.InventoryWorkbook(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="inventory.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, data)
}

func invalidateDashboard(c *gin.Context, dashboard *services.DashboardService) {
	if dashboard != nil {
		dashboard.Invalidate(c.Request.Context())
	}
}

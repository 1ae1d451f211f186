package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"custody_backend/services"
)

// DashboardAPI сводка по парку устройств
type DashboardAPI struct {
	Dashboard *services.DashboardService
}

// NewDashboardAPI создает новый экземпляр DashboardAPI
func NewDashboardAPI(dashboard *services.DashboardService) *DashboardAPI {
	return &DashboardAPI{Dashboard: dashboard}
}

// GetDashboardStats получает общую статистику для dashboard
func (api *DashboardAPI) GetDashboardStats(c *gin.Context) {
	stats, err := api.Dashboard.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": stats})
}

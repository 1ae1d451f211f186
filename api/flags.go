package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"custody_backend/services"
)

// FlagAPI определения пользовательских признаков
type FlagAPI struct {
	Flags *services.FlagService
}

// NewFlagAPI создает новый экземпляр FlagAPI
func NewFlagAPI(flags *services.FlagService) *FlagAPI {
	return &FlagAPI{Flags: flags}
}

type createFlagRequest struct {
	Name        string `json:"name" binding:"required,max=100"`
	Description string `json:"description"`
}

// GetFlagDefinitions возвращает все определения признаков
func (api *FlagAPI) GetFlagDefinitions(c *gin.Context) {
	defs, err := api.Flags.ListDefinitions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": defs})
}

// CreateFlagDefinition создает определение признака
func (api *FlagAPI) CreateFlagDefinition(c *gin.Context) {
	var req createFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Некорректные данные: " + err.Error()})
		return
	}

	def, err := api.Flags.CreateDefinition(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": def})
}

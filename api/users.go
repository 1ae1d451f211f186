package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"custody_backend/models"
	"custody_backend/services"
)

// PersonAPI управление сотрудниками: администраторы и курьеры
type PersonAPI struct {
	Persons *services.PersonService
}

// NewPersonAPI создает новый экземпляр PersonAPI
func NewPersonAPI(persons *services.PersonService) *PersonAPI {
	return &PersonAPI{Persons: persons}
}

// GetPersons возвращает сотрудников, ?role=COURIER ограничивает роль
func (api *PersonAPI) GetPersons(c *gin.Context) {
	role := models.PersonRole(c.Query("role"))
	if role != "" && !role.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Неизвестная роль"})
		return
	}

	persons, err := api.Persons.List(c.Request.Context(), role)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": persons, "total": len(persons)})
}

// GetPerson возвращает сотрудника
func (api *PersonAPI) GetPerson(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	person, err := api.Persons.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": person})
}

// CreatePerson создает сотрудника
func (api *PersonAPI) CreatePerson(c *gin.Context) {
	var in services.CreatePersonInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Некорректные данные: " + err.Error()})
		return
	}

	person, err := api.Persons.Create(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": person})
}

// UpdatePerson частично обновляет сотрудника, включая сброс PIN и деактивацию
func (api *PersonAPI) UpdatePerson(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var patch services.PersonPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Некорректные данные: " + err.Error()})
		return
	}

	person, err := api.Persons.Update(c.Request.Context(), id, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": person})
}

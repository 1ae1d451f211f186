package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"custody_backend/logger"
	"custody_backend/services"
)

type LoginRequest struct {
	Email    string `json:"email" binding:"required,max=254"`
	Password string `json:"password" binding:"required,min=3,max=128"`
}

// AuthAPI вход администраторов
type AuthAPI struct {
	Persons *services.PersonService
	Auth    *services.AuthService
}

// NewAuthAPI создает новый экземпляр AuthAPI
func NewAuthAPI(persons *services.PersonService, auth *services.AuthService) *AuthAPI {
	return &AuthAPI{Persons: persons, Auth: auth}
}

// Login проверяет email и пароль и выдает токен сессии
func (api *AuthAPI) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Invalid email or password"})
		return
	}

	person, err := api.Persons.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		logger.Logger.Info("неудачная попытка входа",
			zap.String("email", req.Email),
			zap.String("ip_address", c.ClientIP()))
		respondError(c, err)
		return
	}

	token, expiresAt, err := api.Auth.IssueToken(person)
	if err != nil {
		respondError(c, err)
		return
	}

	logger.Logger.Info("успешный вход", zap.Uint("person_id", person.ID))
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"token":      token,
			"expires_at": expiresAt,
			"person":     person,
		},
	})
}

// Me возвращает текущего администратора
func (api *AuthAPI) Me(c *gin.Context) {
	person, ok := currentPerson(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": person})
}

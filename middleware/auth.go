package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"custody_backend/models"
	"custody_backend/services"
)

const currentPersonKey = "person"

// AuthMiddleware проверяет токен сессии и загружает сотрудника
type AuthMiddleware struct {
	db   *gorm.DB
	auth *services.AuthService
}

// NewAuthMiddleware создает новый экземпляр AuthMiddleware
func NewAuthMiddleware(db *gorm.DB, auth *services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{db: db, auth: auth}
}

// RequireAdmin пропускает только активных администраторов
func (am *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  "Authorization header is required",
			})
			c.Abort()
			return
		}

		personID, _, err := am.auth.ParseToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  "Invalid or expired token",
			})
			c.Abort()
			return
		}

		// роль и активность читаются из базы, а не из токена
		var person models.Person
		if err := am.db.WithContext(c.Request.Context()).First(&person, personID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusUnauthorized, gin.H{
					"status": "error",
					"error":  "Invalid or expired token",
				})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{
					"status": "error",
					"error":  "Failed to load session",
				})
			}
			c.Abort()
			return
		}

		if !person.IsActiveAdmin() {
			c.JSON(http.StatusForbidden, gin.H{
				"status": "error",
				"error":  "Active administrator role required",
			})
			c.Abort()
			return
		}

		c.Set(currentPersonKey, &person)
		c.Next()
	}
}

// GetCurrentPerson возвращает сотрудника, загруженного RequireAdmin
func GetCurrentPerson(c *gin.Context) (*models.Person, bool) {
	value, exists := c.Get(currentPersonKey)
	if !exists {
		return nil, false
	}
	person, ok := value.(*models.Person)
	return person, ok && person != nil
}

// bearerToken извлекает токен из заголовка Authorization
func bearerToken(c *gin.Context) string {
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader == "" {
		return ""
	}

	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	if strings.HasPrefix(authHeader, "Token ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Token "))
	}
	return authHeader
}

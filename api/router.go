package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"custody_backend/config"
	"custody_backend/middleware"
	"custody_backend/services"
	"custody_backend/storage"
)

// Dependencies все, что нужно маршрутизатору. Собирается в main.
type Dependencies struct {
	Config    *config.Config
	DB        *gorm.DB
	Redis     *redis.Client // может быть nil
	Store     storage.ObjectStore
	Gatherer  prometheus.Gatherer
	Auth      *services.AuthService
	Persons   *services.PersonService
	Devices   *services.DeviceService
	Flags     *services.FlagService
	History   *services.HistoryService
	Handover  *services.HandoverService
	Documents *services.DocumentService
	Exports   *services.ExportService
	Dashboard *services.DashboardService
}

// SetupRouter регистрирует middleware и все маршруты API
func SetupRouter(deps Dependencies) *gin.Engine {
	cfg := deps.Config

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger())
	r.Use(cors.New(corsConfig(cfg.CORS)))

	// Базовые роуты
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": "pong",
		})
	})
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	authAPI := NewAuthAPI(deps.Persons, deps.Auth)
	personAPI := NewPersonAPI(deps.Persons)
	deviceAPI := NewDeviceAPI(deps.Devices, deps.Flags, deps.History, deps.Exports, deps.Dashboard)
	flagAPI := NewFlagAPI(deps.Flags)
	handoverAPI := NewHandoverAPI(deps.Handover, deps.Documents, deps.Dashboard)
	fileAPI := NewFileAPI(deps.Store)
	dashboardAPI := NewDashboardAPI(deps.Dashboard)

	requireAdmin := middleware.NewAuthMiddleware(deps.DB, deps.Auth).RequireAdmin()

	apiGroup := r.Group("/api")
	apiGroup.Use(middleware.RateLimit(deps.Redis, cfg.Security.RateLimitRequests, cfg.Security.RateLimitWindow))

	apiGroup.POST("/auth/login",
		middleware.AuthRateLimit(deps.Redis, cfg.Security.PinAttempts, cfg.Security.PinWindow),
		authAPI.Login)

	protected := apiGroup.Group("")
	protected.Use(requireAdmin)
	{
		protected.GET("/auth/me", authAPI.Me)
		protected.GET("/dashboard/stats", dashboardAPI.GetDashboardStats)

		// Сотрудники
		protected.GET("/persons", personAPI.GetPersons)
		protected.POST("/persons", personAPI.CreatePerson)
		protected.GET("/persons/:id", personAPI.GetPerson)
		protected.PATCH("/persons/:id", personAPI.UpdatePerson)

		// Устройства
		protected.GET("/devices", deviceAPI.GetDevices)
		protected.POST("/devices", deviceAPI.CreateDevice)
		protected.GET("/devices/export", deviceAPI.ExportInventory)
		protected.GET("/devices/:id", deviceAPI.GetDevice)
		protected.PATCH("/devices/:id", deviceAPI.UpdateDevice)
		protected.GET("/devices/:id/flags", deviceAPI.GetDeviceFlags)
		protected.PUT("/devices/:id/flags", deviceAPI.UpdateDeviceFlags)
		protected.GET("/devices/:id/history", deviceAPI.GetDeviceHistory)
		protected.GET("/devices/:id/history/export", deviceAPI.ExportDeviceHistory)

		// Признаки
		protected.GET("/flags", flagAPI.GetFlagDefinitions)
		protected.POST("/flags", flagAPI.CreateFlagDefinition)

		// Передачи
		pinLimit := middleware.PinRateLimit(deps.Redis, cfg.Security.PinAttempts, cfg.Security.PinWindow)
		protected.POST("/handovers/issue", pinLimit, handoverAPI.IssueDevices)
		protected.POST("/handovers/return", pinLimit, handoverAPI.ReturnDevices)
		protected.GET("/handovers", handoverAPI.GetBatches)
		protected.GET("/handovers/:id", handoverAPI.GetBatch)
		protected.POST("/handovers/:id/document", handoverAPI.RegenerateDocument)
	}

	// Подписи и акты
	r.GET("/files/*ref", requireAdmin, fileAPI.GetFile)

	return r
}

// corsConfig пустой список или "*" разрешает все источники
func corsConfig(c config.CORSConfig) cors.Config {
	result := cors.Config{
		AllowMethods:     c.AllowedMethods,
		AllowHeaders:     c.AllowedHeaders,
		ExposeHeaders:    []string{middleware.RequestIDHeader, "Content-Disposition"},
		AllowCredentials: c.AllowCredentials,
		MaxAge:           time.Duration(c.MaxAge) * time.Second,
	}

	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			result.AllowAllOrigins = true
			// браузеры не принимают credentials вместе с Access-Control-Allow-Origin: *
			result.AllowCredentials = false
			return result
		}
	}
	if len(c.AllowedOrigins) == 0 {
		result.AllowAllOrigins = true
		result.AllowCredentials = false
		return result
	}
	result.AllowOrigins = c.AllowedOrigins
	return result
}

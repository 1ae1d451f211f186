package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"custody_backend/api"
	"custody_backend/config"
	"custody_backend/database"
	"custody_backend/logger"
	"custody_backend/services"
	"custody_backend/storage"
)

// initDB инициализирует подключение к базе данных
func initDB(cfg *config.Config) *gorm.DB {
	log.Println("🔧 Инициализация базы данных...")

	// Создаем базу данных, если она не существует
	if err := database.CreateDatabaseIfNotExists(cfg.Database); err != nil {
		log.Fatal("❌ Ошибка при создании базы данных:", err)
	}

	db, err := database.ConnectDatabase(cfg)
	if err != nil {
		log.Fatal("❌ Ошибка подключения к базе данных:", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		log.Fatal("❌ Ошибка миграции:", err)
	}

	log.Println("✅ База данных успешно инициализирована")
	return db
}

// initRedis подключает Redis, если он включен. Без Redis лимиты и кэш работают в памяти.
func initRedis(cfg *config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		log.Println("ℹ️  Redis отключен, используется in-memory rate limiting")
		return nil
	}

	client, err := database.InitRedis(context.Background(), cfg.Redis)
	if err != nil {
		log.Printf("⚠️  Redis недоступен, продолжаем без него: %v", err)
		return nil
	}
	log.Println("✅ Redis подключен")
	return client
}

// initNotifier выбирает канал оповещений о несформированных актах
func initNotifier(cfg *config.Config, zl *zap.Logger) services.Notifier {
	if cfg.External.TelegramBotToken == "" || cfg.External.TelegramChatID == "" {
		return services.NewLogNotifier(zl)
	}

	notifier, err := services.NewTelegramNotifier(cfg.External.TelegramBotToken, cfg.External.TelegramChatID, zl)
	if err != nil {
		log.Printf("⚠️  Telegram недоступен, оповещения только в лог: %v", err)
		return services.NewLogNotifier(zl)
	}
	return notifier
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("❌ Ошибка конфигурации:", err)
	}
	cfg.LogConfig()

	zl, err := logger.Init(cfg.App.Env, cfg.Logging.Level)
	if err != nil {
		log.Fatal("❌ Ошибка инициализации логгера:", err)
	}
	defer logger.Sync()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db := initDB(cfg)
	defer database.Close(db)

	redisClient := initRedis(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	store, err := storage.NewBoltStore(cfg.Storage.BoltPath, cfg.Storage.PublicBaseURL)
	if err != nil {
		log.Fatal("❌ Ошибка открытия хранилища файлов:", err)
	}
	defer store.Close()
	log.Printf("✅ Хранилище файлов открыто: %s", cfg.Storage.BoltPath)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)

	credentials := services.NewCredentialService(cfg.Handover.PinHashCost)
	persons := services.NewPersonService(db, credentials)
	history := services.NewHistoryService(db)
	flags := services.NewFlagService(db, history)
	devices := services.NewDeviceService(db, history, flags)
	notifier := initNotifier(cfg, zl)
	if tn, ok := notifier.(*services.TelegramNotifier); ok {
		defer tn.Wait()
	}
	documents := services.NewDocumentService(db, store, services.NewPDFRenderer(), notifier,
		metrics, zl.Named("documents"), cfg.Storage.DocumentBucket)
	handover := services.NewHandoverService(db, store, credentials, history, flags, documents, metrics,
		zl.Named("handover"), services.HandoverOptions{
			SignatureBucket: cfg.Storage.SignatureBucket,
			Location:        cfg.Handover.PDFLocation,
		})

	if cfg.Security.AdminEmail != "" {
		created, err := persons.EnsureAdmin(context.Background(), cfg.Security.AdminEmail, cfg.Security.AdminPassword)
		if err != nil {
			log.Fatal("❌ Ошибка создания администратора:", err)
		}
		if created {
			log.Printf("👤 Создан администратор %s", cfg.Security.AdminEmail)
		}
	}

	if cfg.Handover.DocumentRetryOn {
		scheduler := services.NewDocumentRetryScheduler(documents, cfg.Handover.DocumentRetryCron,
			cfg.Handover.DocumentRetryLimit, zl.Named("document-retry"))
		if err := scheduler.Start(); err != nil {
			log.Fatal("❌ Ошибка запуска планировщика актов:", err)
		}
		defer scheduler.Stop()
		log.Printf("⏰ Повторная генерация актов: %s", cfg.Handover.DocumentRetryCron)
	}

	router := api.SetupRouter(api.Dependencies{
		Config:    cfg,
		DB:        db,
		Redis:     redisClient,
		Store:     store,
		Gatherer:  registry,
		Auth:      services.NewAuthService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.ExpiresIn),
		Persons:   persons,
		Devices:   devices,
		Flags:     flags,
		History:   history,
		Handover:  handover,
		Documents: documents,
		Exports:   services.NewExportService(devices, history),
		Dashboard: services.NewDashboardService(db, services.NewCacheService(redisClient)),
	})

	srv := &http.Server{
		Addr:              cfg.App.Host + ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("🚀 Сервер запущен на порту %s", cfg.App.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("❌ Ошибка сервера:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Остановка сервера...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zl.Error("сервер остановлен с ошибкой", zap.Error(err))
	}
	log.Println("👋 Сервер остановлен")
}

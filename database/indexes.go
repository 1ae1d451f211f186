package database

import (
	"fmt"
	"log"
	"strings"

	"gorm.io/gorm"
)

// DatabaseIndex представляет составной индекс базы данных
type DatabaseIndex struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
	Where   string // частичный индекс, поддерживается postgres и sqlite
}

// PerformanceIndexes индексы для частых запросов журнала и списков
var PerformanceIndexes = []DatabaseIndex{
	{
		Name:    "idx_devices_status_type",
		Table:   "devices",
		Columns: []string{"status", "type"},
	},
	{
		Name:    "idx_devices_holder_status",
		Table:   "devices",
		Columns: []string{"current_holder_id", "status"},
	},
	{
		Name:    "idx_handover_logs_device_created",
		Table:   "handover_logs",
		Columns: []string{"device_id", "created_at"},
	},
	{
		Name:    "idx_handover_batches_courier_created",
		Table:   "handover_batches",
		Columns: []string{"courier_id", "created_at"},
	},
	{
		Name:    "idx_handover_batches_pending_document",
		Table:   "handover_batches",
		Columns: []string{"created_at"},
		Where:   "document_path IS NULL",
	},
	{
		Name:    "idx_device_history_device_created",
		Table:   "device_history",
		Columns: []string{"device_id", "created_at"},
	},
	{
		Name:    "idx_device_flag_history_device_created",
		Table:   "device_flag_history",
		Columns: []string{"device_id", "created_at"},
	},
}

// CreatePerformanceIndexes создает индексы для оптимизации производительности
func CreatePerformanceIndexes(db *gorm.DB) error {
	for _, index := range PerformanceIndexes {
		if err := CreateIndex(db, index); err != nil {
			log.Printf("⚠️ Не удалось создать индекс %s: %v", index.Name, err)
			// Продолжаем создание других индексов даже если один упал
			continue
		}
	}

	log.Println("✅ Индексы созданы")
	return nil
}

// CreateIndex создает отдельный индекс
func CreateIndex(db *gorm.DB, index DatabaseIndex) error {
	uniqueStr := ""
	if index.Unique {
		uniqueStr = "UNIQUE "
	}

	sql := fmt.Sprintf(
		"CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		uniqueStr, index.Name, index.Table, strings.Join(index.Columns, ", "),
	)
	if index.Where != "" {
		sql += " WHERE " + index.Where
	}

	return db.Exec(sql).Error
}

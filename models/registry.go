package models

// AllModels возвращает список моделей для миграции
func AllModels() []interface{} {
	return []interface{}{
		&Person{},
		&Device{},
		&FlagDefinition{},
		&FlagValue{},
		&HandoverBatch{},
		&HandoverLog{},
		&DeviceHistory{},
		&FlagHistory{},
	}
}

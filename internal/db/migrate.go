package db

import (
	"marketpulse/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.RawColor{},
		&models.ColorProcessed{},
		&models.Rule{},
		&models.AuditLog{},
		&models.CronJob{},
		&models.ExecutionLog{},
		&models.BufferedUpload{},
	)
}

package initializers

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/basit/fileshare-workspaces/models"
)

// ConnectToDatabase opens the configured database and migrates the schema.
func ConnectToDatabase(cfg *Config, log logrus.FieldLogger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DBURL)
	default:
		dialector = postgres.New(postgres.Config{
			DSN:                  cfg.DBURL,
			PreferSimpleProtocol: true,
		})
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	if cfg.DBDriver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	}

	if err := models.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}
	log.WithField("driver", cfg.DBDriver).Info("database connected and migrated")
	return db, nil
}

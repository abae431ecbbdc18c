// Package gormstore provides the GORM-backed implementations of the
// SyncRepository and EntityStore interfaces, covering SQLite, PostgreSQL
// and MySQL.
package gormstore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	config "github.com/rookline/chessync/internal/config"
	logger "github.com/rookline/chessync/internal/support/logger"
)

// NewDialector builds a gorm.Dialector from a database configuration.
func NewDialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.Database == "" {
			return nil, fmt.Errorf("sqlite database path cannot be empty")
		}
		return sqlite.Open(cfg.Database), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.Sslmode)
		return postgres.Open(dsn), nil
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// Open establishes a GORM connection for the configured sync database.
// GORM's own logging is kept silent; chessync logs queries itself where
// they matter.
func Open(cfg *config.Config) (*gorm.DB, error) {
	dbCfg, ok := cfg.SyncDatabase()
	if !ok {
		return nil, fmt.Errorf("database configuration '%s' not found", cfg.Chessync.Infrastructure.SyncDBRef)
	}

	dialector, err := NewDialector(dbCfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}

	logger.Infof("Established DB connection '%s' (%s).", cfg.Chessync.Infrastructure.SyncDBRef, dbCfg.Type)
	return db, nil
}

// Package migration applies the embedded schema migrations on startup using
// golang-migrate with per-dialect SQL sources.
package migration

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	config "github.com/rookline/chessync/internal/config"
	exception "github.com/rookline/chessync/internal/support/exception"
	logger "github.com/rookline/chessync/internal/support/logger"
)

const moduleName = "migration"

// migrationsTable names the schema version bookkeeping table.
const migrationsTable = "chessync_schema_migrations"

//go:embed migrations/sqlite/* migrations/postgres/* migrations/mysql/*
var migrationFS embed.FS

// Migrator applies the embedded migrations to the sync database.
type Migrator struct {
	db     *gorm.DB
	dbType string
}

// NewMigrator creates a Migrator for the configured sync database.
func NewMigrator(db *gorm.DB, cfg *config.Config) (*Migrator, error) {
	dbCfg, ok := cfg.SyncDatabase()
	if !ok {
		return nil, fmt.Errorf("database configuration '%s' not found", cfg.Chessync.Infrastructure.SyncDBRef)
	}
	return &Migrator{db: db, dbType: dbCfg.Type}, nil
}

// databaseDriver builds a migrate/v4 database.Driver for the dialect.
func (m *Migrator) databaseDriver(sqlDB *sql.DB) (database.Driver, error) {
	switch m.dbType {
	case "postgres":
		return migratepostgres.WithInstance(sqlDB, &migratepostgres.Config{
			MigrationsTable: migrationsTable,
		})
	case "mysql":
		return migratemysql.WithInstance(sqlDB, &migratemysql.Config{
			MigrationsTable: migrationsTable,
		})
	case "sqlite":
		return migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{
			MigrationsTable: migrationsTable,
		})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

// Up applies all pending migrations. A schema already at the latest version
// is not an error.
func (m *Migrator) Up() error {
	logger.Infof("Applying schema migrations (dialect: %s).", m.dbType)

	sqlDB, err := m.db.DB()
	if err != nil {
		return exception.NewPermanentError(moduleName, "failed to get underlying sql.DB", err)
	}

	sourceDriver, err := iofs.New(migrationFS, "migrations/"+m.dbType)
	if err != nil {
		return exception.NewPermanentError(moduleName, "failed to create iofs source driver", err)
	}

	dbDriver, err := m.databaseDriver(sqlDB)
	if err != nil {
		return exception.NewPermanentError(moduleName, "failed to create database driver", err)
	}

	instance, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		return exception.NewPermanentError(moduleName, "failed to create migrate instance", err)
	}

	if err := instance.Up(); err != nil && err != migrate.ErrNoChange {
		return exception.NewPermanentError(moduleName,
			fmt.Sprintf("migration failed (dialect: %s)", m.dbType), err)
	}

	logger.Infof("Schema migrations applied.")
	return nil
}

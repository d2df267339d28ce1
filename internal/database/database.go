package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/reviewhub/internal/catalog"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/reviews"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	errMissingPath = errors.New("database path is required")
	errMissingDSN  = errors.New("database dsn is required")

	migrateSchema = Migrate
)

// Options selects and locates the backing store.
type Options struct {
	Driver string
	Path   string
	DSN    string
	Logger *zap.Logger
}

// Open establishes a connection for the configured driver and performs schema migrations.
func Open(options Options) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(options.Driver)) {
	case "", DriverSQLite:
		db, err = openSQLite(options.Path)
	case DriverPostgres:
		db, err = openPostgres(options.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := migrateSchema(db, options.Logger); err != nil {
		_ = Close(db)
		return nil, err
	}

	if options.Logger != nil {
		options.Logger.Info("database initialized", zap.String("driver", db.Dialector.Name()))
	}
	return db, nil
}

// Close releases the connection pool behind db.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates or updates the schema and applies named data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&catalog.Product{}, &reviews.RawSnapshot{}, &reviews.Review{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

func openSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, errMissingPath
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func openPostgres(dsn string) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errMissingDSN
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}

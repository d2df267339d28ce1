package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/reviewhub/internal/catalog"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeProductGTINs = "2026-03-01_normalize_product_gtins"
	migrationClearEmptyProductGTIN = "2026-03-01_clear_empty_product_gtins"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeProductGTINs, apply: normalizeProductGTINs},
		{name: migrationClearEmptyProductGTIN, apply: clearEmptyProductGTINs},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Catalog imports sometimes carry GTINs formatted with dashes or spaces.
func normalizeProductGTINs(db *gorm.DB) error {
	return db.Model(&catalog.Product{}).
		Where("gtin LIKE ? OR gtin LIKE ?", "%-%", "% %").
		Update("gtin", gorm.Expr("REPLACE(REPLACE(gtin, '-', ''), ' ', '')")).Error
}

func clearEmptyProductGTINs(db *gorm.DB) error {
	return db.Model(&catalog.Product{}).
		Where("gtin = ?", "").
		Update("gtin", nil).Error
}

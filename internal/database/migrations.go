package database

import (
	"errors"
	"time"

	"github.com/dcruzimoveis/leadmatch/internal/leads"
	"github.com/dcruzimoveis/leadmatch/internal/listings"
	"github.com/dcruzimoveis/leadmatch/internal/phone"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeLeadPhones   = "2026-03-01_normalize_lead_phones"
	migrationBackfillPropertySlugs = "2026-03-01_backfill_property_slugs"
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
		{name: migrationNormalizeLeadPhones, apply: normalizeLeadPhones},
		{name: migrationBackfillPropertySlugs, apply: backfillPropertySlugs},
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

// normalizeLeadPhones rewrites stored phones to the 55+DDD+number form used by the
// dispatcher, so recipient keys derived from phones line up with new leads.
func normalizeLeadPhones(db *gorm.DB) error {
	var stored []leads.Lead
	if err := db.Select("id", "phone").Where("phone IS NOT NULL AND phone <> ''").Find(&stored).Error; err != nil {
		return err
	}
	for _, lead := range stored {
		normalized := phone.Normalize(lead.Phone)
		if normalized == "" || normalized == lead.Phone {
			continue
		}
		if err := db.Model(&leads.Lead{}).Where("id = ?", lead.ID).Update("phone", normalized).Error; err != nil {
			return err
		}
	}
	return nil
}

func backfillPropertySlugs(db *gorm.DB) error {
	var stored []listings.Property
	if err := db.Select("id", "title", "slug").Where("slug IS NULL OR slug = ''").Find(&stored).Error; err != nil {
		return err
	}
	for _, property := range stored {
		property.EnsureSlug()
		if err := db.Model(&listings.Property{}).Where("id = ?", property.ID).Update("slug", property.Slug).Error; err != nil {
			return err
		}
	}
	return nil
}

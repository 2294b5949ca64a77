package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/steam-widget/internal/hits"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillHitPurpose = "2026-08-20_backfill_hit_purpose"

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
		{name: migrationBackfillHitPurpose, apply: backfillHitPurpose},
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

// Rows written before the purpose default was enforced carry NULL or empty
// purposes; fold them into the default label so purpose-filtered counts add up.
func backfillHitPurpose(db *gorm.DB) error {
	return db.Model(&hits.Hit{}).
		Where("purpose IS NULL OR purpose = ''").
		Update("purpose", hits.DefaultPurpose).Error
}

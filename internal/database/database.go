package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/config"
	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/pkg/utils"
)

func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if err := seedAdminUser(db); err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.LinkedAccount{},
		&models.MFAConfig{},
		&models.APIToken{},
		&models.Workspace{},
		&models.Member{},
		&models.Invitation{},
		&models.Project{},
		&models.Issue{},
		&models.Document{},
		&models.Page{},
		&models.Share{},
		&models.Attachment{},
		&models.AuditLog{},
		&models.AuditExportCursor{},
	); err != nil {
		return err
	}

	// A partial unique index cannot be expressed through gorm struct
	// tags: uniqueness must apply to ACTIVE shares only, so revoking
	// and re-granting the same (resource, user) pair keeps working.
	constraint := `
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1
    FROM pg_indexes
    WHERE indexname = 'idx_shares_active_unique'
  ) THEN
    CREATE UNIQUE INDEX idx_shares_active_unique
    ON shares (resource_kind, resource_id, user_id)
    WHERE deleted_at IS NULL;
  END IF;
END $$;`

	return db.Exec(constraint).Error
}

func seedAdminUser(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}

	if count > 0 {
		return nil
	}

	hash, err := utils.HashPassword("admin123")
	if err != nil {
		return err
	}

	admin := models.User{
		Email:        "admin@trellis.local",
		PasswordHash: hash,
		FirstName:    "System",
		LastName:     "Admin",
		Role:         models.UserRoleAdmin,
	}

	return db.Create(&admin).Error
}

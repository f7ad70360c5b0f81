package db

import (
	"fmt"

	"github.com/fimai/fimai-chat/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates every table the application uses.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.User{},
		&models.UserPermission{},
		&models.UserSettings{},
		&models.Provider{},
		&models.Model{},
		&models.Conversation{},
		&models.Message{},
		&models.TokenUsage{},
		&models.InviteCode{},
		&models.AccessCode{},
		&models.SystemSetting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}

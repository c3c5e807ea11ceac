// Package db provides GORM-based database operations for roost.
package db

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Accounts (User, AuthToken)
		{
			ID: "001_accounts",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&User{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&AuthToken{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("users", "auth_tokens")
			},
		},

		// Migration 002: Bot records
		{
			ID: "002_bots",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Bot{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("bots")
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("run gormigrate migrations: %w", err)
	}

	return nil
}

// Package db provides GORM-based database operations for roost.
package db

import (
	"time"

	"gorm.io/gorm"

	"github.com/roosthq/roost/pkg/models"
)

// GORM Models

// Bot is the durable record of a registered bot.
type Bot struct {
	ID             string             `gorm:"primaryKey;type:text"`
	Name           string             `gorm:"not null"`
	Credential     string             `gorm:"not null"`
	Category       models.BotCategory `gorm:"type:text;check:category IN ('music', 'moderation', 'fun', 'utility');not null"`
	OwnerID        string             `gorm:"index;not null"`
	Status         models.BotStatus   `gorm:"type:text;check:status IN ('offline', 'online', 'error');default:'offline';index"`
	StatusSeq      int64              `gorm:"default:0;not null"`
	CreatedAt      string             `gorm:"not null"`
	CreatedAtEpoch int64              `gorm:"index:idx_bots_created,sort:desc;not null"`
}

func (Bot) TableName() string { return "bots" }

// BeforeCreate hook to ensure timestamps are set.
func (b *Bot) BeforeCreate(tx *gorm.DB) error {
	if b.CreatedAtEpoch == 0 {
		b.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if b.CreatedAt == "" {
		b.CreatedAt = time.Now().Format(time.RFC3339)
	}
	if b.Status == "" {
		b.Status = models.BotStatusOffline
	}
	return nil
}

// toModel converts the row into the domain representation.
func (b *Bot) toModel() *models.BotRecord {
	return &models.BotRecord{
		ID:             b.ID,
		Name:           b.Name,
		Credential:     b.Credential,
		Category:       b.Category,
		OwnerID:        b.OwnerID,
		Status:         b.Status,
		StatusSeq:      b.StatusSeq,
		CreatedAt:      b.CreatedAt,
		CreatedAtEpoch: b.CreatedAtEpoch,
	}
}

// User is a registered account.
type User struct {
	ID             string `gorm:"primaryKey;type:text"`
	Username       string `gorm:"uniqueIndex;not null"`
	PasswordHash   string `gorm:"not null"`
	CreatedAt      string `gorm:"not null"`
	CreatedAtEpoch int64  `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// BeforeCreate hook to ensure timestamps are set.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.CreatedAtEpoch == 0 {
		u.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if u.CreatedAt == "" {
		u.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

func (u *User) toModel() *models.User {
	return &models.User{
		ID:             u.ID,
		Username:       u.Username,
		PasswordHash:   u.PasswordHash,
		CreatedAt:      u.CreatedAt,
		CreatedAtEpoch: u.CreatedAtEpoch,
	}
}

// AuthToken is an opaque bearer token issued at login.
type AuthToken struct {
	Token          string `gorm:"primaryKey;type:text"`
	UserID         string `gorm:"index;not null"`
	CreatedAt      string `gorm:"not null"`
	CreatedAtEpoch int64  `gorm:"not null"`
}

func (AuthToken) TableName() string { return "auth_tokens" }

// BeforeCreate hook to ensure timestamps are set.
func (t *AuthToken) BeforeCreate(tx *gorm.DB) error {
	if t.CreatedAtEpoch == 0 {
		t.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if t.CreatedAt == "" {
		t.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

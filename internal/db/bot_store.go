// Package db provides GORM-based database operations for roost.
package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/roosthq/roost/pkg/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// BotStore provides bot-record database operations.
type BotStore struct {
	store *Store
}

// NewBotStore creates a new bot store.
func NewBotStore(store *Store) *BotStore {
	return &BotStore{store: store}
}

// CreateBot persists a new bot record with status offline and returns it.
// The credential is stored write-once; no update path exists for it.
func (s *BotStore) CreateBot(ctx context.Context, name, credential string, category models.BotCategory, ownerID string) (*models.BotRecord, error) {
	row := &Bot{
		ID:         uuid.NewString(),
		Name:       name,
		Credential: credential,
		Category:   category,
		OwnerID:    ownerID,
		Status:     models.BotStatusOffline,
	}
	if err := s.store.DB.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// GetBot returns a single bot record, credential included. Callers that
// serialize outward must go through BotRecord.ToResponse.
func (s *BotStore) GetBot(ctx context.Context, id string) (*models.BotRecord, error) {
	var row Bot
	err := s.store.DB.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// ListBotsByOwner returns the owner's bot records ordered newest first.
// Credentials are redacted at this boundary; no read API returns them.
func (s *BotStore) ListBotsByOwner(ctx context.Context, ownerID string) ([]*models.BotRecord, error) {
	var rows []Bot
	err := s.store.DB.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at_epoch DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	bots := make([]*models.BotRecord, 0, len(rows))
	for i := range rows {
		bot := rows[i].toModel()
		bot.Credential = ""
		bots = append(bots, bot)
	}
	return bots, nil
}

// SetStatus applies a status transition for exactly one bot id. The write is
// guarded by the per-id monotonic sequence: a write whose sequence is behind
// the persisted one is dropped, so a late "starting" write cannot overwrite a
// "ready" that already landed. Returns whether the write was applied.
func (s *BotStore) SetStatus(ctx context.Context, id string, status models.BotStatus, seq int64) (bool, error) {
	res := s.store.DB.WithContext(ctx).Model(&Bot{}).
		Where("id = ? AND status_seq <= ?", id, seq).
		Updates(map[string]interface{}{"status": status, "status_seq": seq})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// Zero rows: either a stale write (record holds a newer sequence) or the
	// record is gone. Only the latter is an error.
	var count int64
	if err := s.store.DB.WithContext(ctx).Model(&Bot{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

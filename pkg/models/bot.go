// Package models contains domain models for roost.
package models

// BotStatus represents the last persisted session status of a bot.
type BotStatus string

const (
	BotStatusOffline BotStatus = "offline"
	BotStatusOnline  BotStatus = "online"
	BotStatusError   BotStatus = "error"
)

// BotCategory declares what a bot does. The gateway capability set a session
// requests is derived from it, so the category is part of the security surface,
// not a display hint.
type BotCategory string

const (
	BotCategoryMusic      BotCategory = "music"
	BotCategoryModeration BotCategory = "moderation"
	BotCategoryFun        BotCategory = "fun"
	BotCategoryUtility    BotCategory = "utility"
)

// ValidCategory reports whether c is a member of the closed category set.
func ValidCategory(c BotCategory) bool {
	switch c {
	case BotCategoryMusic, BotCategoryModeration, BotCategoryFun, BotCategoryUtility:
		return true
	}
	return false
}

// BotRecord is the durable description of a bot a user has registered.
// Credential is write-once at creation and must never leave the process
// through a read API; serialize BotResponse instead.
type BotRecord struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Credential     string      `json:"-"`
	Category       BotCategory `json:"category"`
	OwnerID        string      `json:"owner_id"`
	Status         BotStatus   `json:"status"`
	StatusSeq      int64       `json:"-"`
	CreatedAt      string      `json:"created_at"`
	CreatedAtEpoch int64       `json:"created_at_epoch"`
}

// BotResponse is the read-API shape of a BotRecord with the credential redacted.
type BotResponse struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Category  BotCategory `json:"category"`
	OwnerID   string      `json:"owner_id"`
	Status    BotStatus   `json:"status"`
	CreatedAt string      `json:"created_at"`
}

// ToResponse converts a BotRecord into its redacted API representation.
func (b *BotRecord) ToResponse() BotResponse {
	return BotResponse{
		ID:        b.ID,
		Name:      b.Name,
		Category:  b.Category,
		OwnerID:   b.OwnerID,
		Status:    b.Status,
		CreatedAt: b.CreatedAt,
	}
}

package gateway

import "github.com/roosthq/roost/pkg/models"

// Capability is a gateway permission a session requests at identify time.
type Capability string

const (
	CapMessages   Capability = "messages"
	CapVoice      Capability = "voice"
	CapModeration Capability = "moderation"
	CapReactions  Capability = "reactions"
)

// CapabilitiesFor maps a bot category to the minimal capability set its
// sessions request. This is a least-privilege policy: a moderation bot never
// asks for voice, a music bot never asks for moderation.
func CapabilitiesFor(category models.BotCategory) []Capability {
	switch category {
	case models.BotCategoryMusic:
		return []Capability{CapMessages, CapVoice}
	case models.BotCategoryModeration:
		return []Capability{CapMessages, CapModeration}
	case models.BotCategoryFun:
		return []Capability{CapMessages, CapReactions}
	default:
		return []Capability{CapMessages}
	}
}

// Package notify fans bot status transitions out to interested consumers:
// connected SSE dashboards and, when configured, a Redis channel.
package notify

import "github.com/roosthq/roost/pkg/models"

// StatusChange describes one persisted status transition.
type StatusChange struct {
	BotID  string           `json:"bot_id"`
	Status models.BotStatus `json:"status"`
	Reason string           `json:"reason,omitempty"`
	At     int64            `json:"at"` // epoch millis
}

// Notifier receives status transitions. Implementations must not block the
// caller for long and must never return the failure to it; delivery is
// best-effort by contract.
type Notifier interface {
	StatusChanged(change StatusChange)
}

// Fanout delivers each change to every registered notifier in order.
type Fanout []Notifier

func (f Fanout) StatusChanged(change StatusChange) {
	for _, n := range f {
		if n != nil {
			n.StatusChanged(change)
		}
	}
}

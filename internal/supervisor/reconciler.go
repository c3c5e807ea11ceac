package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/roosthq/roost/internal/notify"
	"github.com/roosthq/roost/pkg/models"
)

// StatusStore is the slice of durable storage the reconciler needs: a per-id
// atomic, sequence-guarded status write. Implemented by db.BotStore.
type StatusStore interface {
	SetStatus(ctx context.Context, id string, status models.BotStatus, seq int64) (applied bool, err error)
}

// Reconciler is the single write path for persisted bot status. Writes for
// one id are serialized; writes for different ids proceed concurrently. A
// storage failure is logged and swallowed: the registry may then diverge from
// durable status until the next successful write, which is an accepted
// eventual-consistency gap, not a crash.
type Reconciler struct {
	store    StatusStore
	notifier notify.Notifier

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewReconciler creates a reconciler. notifier may be nil.
func NewReconciler(store StatusStore, notifier notify.Notifier) *Reconciler {
	return &Reconciler{
		store:    store,
		notifier: notifier,
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetStatus persists a status transition for one bot. seq orders writes per
// id: a write carrying an older sequence than the persisted one is dropped,
// so a stale transition arriving late cannot overwrite a newer one.
func (r *Reconciler) SetStatus(ctx context.Context, botID string, status models.BotStatus, seq int64, reason string) {
	lock := r.lockFor(botID)
	lock.Lock()
	defer lock.Unlock()

	applied, err := r.store.SetStatus(ctx, botID, status, seq)
	if err != nil {
		log.Error().Err(err).
			Str("botId", botID).
			Str("status", string(status)).
			Msg("Status reconciliation failed, durable state lags")
		return
	}
	if !applied {
		log.Debug().
			Str("botId", botID).
			Str("status", string(status)).
			Int64("seq", seq).
			Msg("Stale status write dropped")
		return
	}

	log.Info().
		Str("botId", botID).
		Str("status", string(status)).
		Str("reason", reason).
		Msg("Bot status reconciled")

	if r.notifier != nil {
		r.notifier.StatusChanged(notify.StatusChange{
			BotID:  botID,
			Status: status,
			Reason: reason,
			At:     time.Now().UnixMilli(),
		})
	}
}

func (r *Reconciler) lockFor(botID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[botID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[botID] = lock
	}
	return lock
}

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"

	"github.com/roosthq/roost/internal/gateway"
	"github.com/roosthq/roost/pkg/models"
)

var (
	// ErrNoSession is returned when stopping a bot with no live session.
	ErrNoSession = errors.New("no live session for bot")
	// ErrUnknownCategory is returned for a bot whose category is outside the
	// closed set; no capability scope can be derived for it.
	ErrUnknownCategory = errors.New("unknown bot category")
)

type sessionEntry struct {
	token suture.ServiceToken
	sess  *session
}

// Supervisor creates, tracks, and tears down live bot sessions. Each session
// runs as its own service under a suture tree, so a failing session is
// isolated from every other session and from the supervisor itself.
//
// Sessions are never restarted automatically: a terminated session stays
// terminated until a new StartSession call. Services encode that by returning
// suture.ErrDoNotRestart when their connection ends.
type Supervisor struct {
	registry   *Registry
	reconciler *Reconciler
	dialer     gateway.Dialer
	tree       *suture.Supervisor
	metrics    *sessionMetrics

	mu      sync.Mutex
	entries map[string]*sessionEntry

	cancel context.CancelFunc
	done   <-chan error
}

// New creates a Supervisor.
func New(dialer gateway.Dialer, reconciler *Reconciler) *Supervisor {
	s := &Supervisor{
		registry:   NewRegistry(),
		reconciler: reconciler,
		dialer:     dialer,
		metrics:    newSessionMetrics(),
		entries:    make(map[string]*sessionEntry),
	}
	s.tree = suture.New("sessions", suture.Spec{
		EventHook: func(ev suture.Event) {
			log.Debug().Str("event", ev.String()).Msg("Session tree event")
		},
	})
	return s
}

// Start launches the supervision tree. It must be called once before any
// StartSession.
func (s *Supervisor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = s.tree.ServeBackground(runCtx)
}

// Registry exposes the live-session registry for read-side callers.
func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// ActiveCount returns the number of sessions currently registered as live.
func (s *Supervisor) ActiveCount() int {
	return s.registry.Len()
}

// StartSession initiates a live session for a persisted bot record. The
// returned error covers initiation only: a nil return means the credential
// passed the local shape check and the connection setup was accepted; whether
// the remote actually admits the session is reported later through lifecycle
// events and lands in durable status, not here.
func (s *Supervisor) StartSession(ctx context.Context, bot *models.BotRecord) error {
	if !models.ValidCategory(bot.Category) {
		return fmt.Errorf("bot %s: %w", bot.ID, ErrUnknownCategory)
	}

	caps := gateway.CapabilitiesFor(bot.Category)
	conn, err := s.dialer.Dial(ctx, bot.Credential, caps)
	if err != nil {
		s.metrics.recordInitFailed(ctx)
		return fmt.Errorf("initiate session for bot %s: %w", bot.ID, err)
	}

	sess := &session{sup: s, botID: bot.ID, botName: bot.Name, conn: conn}

	s.mu.Lock()
	if prev, ok := s.entries[bot.ID]; ok {
		// At most one live session per bot id: displace the running one.
		// Its service unwinds on its own and skips the status write once it
		// sees it no longer owns the registry entry.
		delete(s.entries, bot.ID)
		go func() { _ = s.tree.Remove(prev.token) }()
	}
	token := s.tree.Add(sess)
	s.entries[bot.ID] = &sessionEntry{token: token, sess: sess}
	s.mu.Unlock()

	s.metrics.recordStart(ctx)
	log.Info().
		Str("botId", bot.ID).
		Str("botName", bot.Name).
		Str("category", string(bot.Category)).
		Msg("Session initiated")
	return nil
}

// Stop terminates the live session for a bot id. The session reconciles its
// status to offline as it unwinds.
func (s *Supervisor) Stop(botID string) error {
	s.mu.Lock()
	entry, ok := s.entries[botID]
	if ok {
		delete(s.entries, botID)
	}
	s.mu.Unlock()

	if !ok {
		return ErrNoSession
	}
	return s.tree.Remove(entry.token)
}

// ShutdownAll stops every live session and waits for the tree to drain or
// ctx to expire. Each session reconciles to offline on the way out.
func (s *Supervisor) ShutdownAll(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done == nil {
		return
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		log.Warn().Msg("Session drain timed out")
	}
}

// forget clears the supervisor's entry for a session that terminated on its
// own. Guarded by identity so a displaced session cannot evict its successor.
func (s *Supervisor) forget(botID string, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[botID]; ok && e.sess == sess {
		delete(s.entries, botID)
	}
}

// session is one live bot connection driven by its event stream. It
// implements suture.Service; all event handling for a session happens on its
// own goroutine, so one session's failures cannot block another's.
type session struct {
	sup     *Supervisor
	botID   string
	botName string
	conn    gateway.Conn

	handle     *Handle
	registered bool
}

func (s *session) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.finish(ctx, models.BotStatusOffline, "session stopped")
			return ctx.Err()

		case ev, ok := <-s.conn.Events():
			if !ok {
				s.finish(ctx, models.BotStatusOffline, "connection ended")
				return suture.ErrDoNotRestart
			}

			switch ev.Type {
			case gateway.EventReady:
				s.handleReady(ctx, ev)
			case gateway.EventError:
				s.sup.metrics.recordError(ctx)
				s.finish(ctx, models.BotStatusError, ev.Reason)
				return suture.ErrDoNotRestart
			case gateway.EventClosed:
				s.finish(ctx, models.BotStatusOffline, ev.Reason)
				return suture.ErrDoNotRestart
			}
		}
	}
}

// handleReady registers the session and reconciles status to online. A
// duplicate ready for the same connection reuses the existing registry entry
// and re-applies the same status value, which is a benign overwrite.
func (s *session) handleReady(ctx context.Context, ev gateway.Event) {
	if !s.registered {
		s.handle = &Handle{BotID: s.botID, SessionID: ev.SessionID, conn: s.conn}
		if displaced := s.sup.registry.Put(s.handle); displaced != nil {
			log.Warn().
				Str("botId", s.botID).
				Str("oldSessionId", displaced.SessionID).
				Msg("Displacing stale session handle")
			_ = displaced.Close()
		}
		s.registered = true
		s.sup.metrics.recordUp(ctx)
	}
	s.sup.reconciler.SetStatus(ctx, s.botID, models.BotStatusOnline, eventSeq(), "session ready")
}

// finish unwinds the session: unregister, close the connection, and persist
// the terminal status. If a newer session for the same bot already owns the
// registry entry, the status write is skipped; it is no longer this
// session's to make.
func (s *session) finish(ctx context.Context, status models.BotStatus, reason string) {
	// Stamp the terminal event before giving up ownership. A successor can
	// register and reconcile the moment this session releases its handle, and
	// its ready must always carry the later sequence. Stamping after the
	// blocking Close below would hand this write a newer stamp than the
	// successor's.
	seq := eventSeq()

	owned := true
	if s.registered {
		owned = s.sup.registry.Release(s.handle)
		s.registered = false
		s.sup.metrics.recordDown(ctx)
	}
	_ = s.conn.Close()
	s.sup.forget(s.botID, s)

	if !owned {
		log.Debug().Str("botId", s.botID).Msg("Session displaced, skipping terminal status write")
		return
	}

	// The serve context is usually already canceled here; the terminal write
	// gets its own deadline so shutdown still reconciles.
	wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.sup.reconciler.SetStatus(wctx, s.botID, status, seq, reason)
}

// eventSeq stamps a lifecycle event for the per-id ordering guard. Wall-clock
// nanoseconds are monotonic enough across the sessions of one bot id that a
// stale transition always carries a smaller stamp than the one that
// superseded it.
func eventSeq() int64 {
	return time.Now().UnixNano()
}

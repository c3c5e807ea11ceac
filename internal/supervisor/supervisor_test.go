package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/roosthq/roost/internal/gateway"
	"github.com/roosthq/roost/internal/notify"
	"github.com/roosthq/roost/pkg/models"
)

// fakeConn is a scripted gateway connection driven by the test. closeDelay
// makes Close block, mimicking a connection whose teardown is slow; closing
// is closed the moment Close is entered.
type fakeConn struct {
	events     chan gateway.Event
	endOnce    sync.Once
	closeOnce  sync.Once
	closed     atomic.Bool
	closing    chan struct{}
	closeDelay time.Duration
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events:  make(chan gateway.Event, 8),
		closing: make(chan struct{}),
	}
}

func (c *fakeConn) Events() <-chan gateway.Event { return c.events }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	if c.closeDelay > 0 {
		time.Sleep(c.closeDelay)
	}
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) push(ev gateway.Event) { c.events <- ev }

func (c *fakeConn) end() { c.endOnce.Do(func() { close(c.events) }) }

// fakeDialer hands out fakeConns and records what each dial requested.
type fakeDialer struct {
	mu         sync.Mutex
	err        error
	conns      []*fakeConn
	caps       [][]gateway.Capability
	closeDelay time.Duration
}

func (d *fakeDialer) Dial(ctx context.Context, credential string, caps []gateway.Capability) (gateway.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	c.closeDelay = d.closeDelay
	d.conns = append(d.conns, c)
	d.caps = append(d.caps, caps)
	return c, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// memStatusStore mirrors the sequence guard of the durable store.
type memStatusStore struct {
	mu       sync.Mutex
	err      error
	seqs     map[string]int64
	statuses map[string]models.BotStatus
	writes   int
}

func newMemStatusStore() *memStatusStore {
	return &memStatusStore{
		seqs:     make(map[string]int64),
		statuses: make(map[string]models.BotStatus),
	}
}

func (s *memStatusStore) SetStatus(ctx context.Context, id string, status models.BotStatus, seq int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if last, ok := s.seqs[id]; ok && seq < last {
		return false, nil
	}
	s.seqs[id] = seq
	s.statuses[id] = status
	s.writes++
	return true, nil
}

func (s *memStatusStore) status(id string) models.BotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[id]
}

func (s *memStatusStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// changeRecorder captures notifier fan-out.
type changeRecorder struct {
	mu      sync.Mutex
	changes []notify.StatusChange
}

func (r *changeRecorder) StatusChanged(c notify.StatusChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *changeRecorder) last() (notify.StatusChange, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.changes) == 0 {
		return notify.StatusChange{}, false
	}
	return r.changes[len(r.changes)-1], true
}

func makeBot(id string, category models.BotCategory) *models.BotRecord {
	return &models.BotRecord{
		ID:         id,
		Name:       "bot " + id,
		Credential: "tok-" + id,
		Category:   category,
		Status:     models.BotStatusOffline,
	}
}

type SupervisorSuite struct {
	suite.Suite
	dialer  *fakeDialer
	store   *memStatusStore
	changes *changeRecorder
	sup     *Supervisor
	cancel  context.CancelFunc
}

func (s *SupervisorSuite) SetupTest() {
	s.dialer = &fakeDialer{}
	s.store = newMemStatusStore()
	s.changes = &changeRecorder{}
	s.sup = New(s.dialer, NewReconciler(s.store, s.changes))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.sup.Start(ctx)
}

func (s *SupervisorSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.sup.ShutdownAll(ctx)
	s.cancel()
}

func (s *SupervisorSuite) eventually(cond func() bool, msg string) {
	require.Eventually(s.T(), cond, 2*time.Second, 5*time.Millisecond, msg)
}

func (s *SupervisorSuite) TestSessionGoesOnline() {
	bot := makeBot("bot-1", models.BotCategoryUtility)
	require.NoError(s.T(), s.sup.StartSession(context.Background(), bot))

	s.dialer.conn(0).push(gateway.Event{Type: gateway.EventReady, SessionID: "sess-1"})

	s.eventually(func() bool {
		return s.store.status("bot-1") == models.BotStatusOnline
	}, "status should reconcile to online")

	h, ok := s.sup.Registry().Get("bot-1")
	require.True(s.T(), ok)
	assert.Equal(s.T(), "sess-1", h.SessionID)
	assert.Equal(s.T(), 1, s.sup.ActiveCount())

	change, ok := s.changes.last()
	require.True(s.T(), ok)
	assert.Equal(s.T(), "bot-1", change.BotID)
	assert.Equal(s.T(), models.BotStatusOnline, change.Status)
}

func (s *SupervisorSuite) TestDuplicateReadyIsBenign() {
	bot := makeBot("bot-1", models.BotCategoryUtility)
	require.NoError(s.T(), s.sup.StartSession(context.Background(), bot))

	conn := s.dialer.conn(0)
	conn.push(gateway.Event{Type: gateway.EventReady, SessionID: "sess-1"})
	conn.push(gateway.Event{Type: gateway.EventReady, SessionID: "sess-1"})

	s.eventually(func() bool {
		return s.store.status("bot-1") == models.BotStatusOnline
	}, "status should reconcile to online")

	// A duplicate ready re-applies the same value; it never double-registers.
	assert.Equal(s.T(), 1, s.sup.ActiveCount())
	h, ok := s.sup.Registry().Get("bot-1")
	require.True(s.T(), ok)
	assert.Equal(s.T(), "sess-1", h.SessionID)
}

func (s *SupervisorSuite) TestSessionFailureIsIsolated() {
	botA := makeBot("bot-a", models.BotCategoryMusic)
	botB := makeBot("bot-b", models.BotCategoryFun)
	require.NoError(s.T(), s.sup.StartSession(context.Background(), botA))
	require.NoError(s.T(), s.sup.StartSession(context.Background(), botB))

	s.dialer.conn(0).push(gateway.Event{Type: gateway.EventReady, SessionID: "sess-a"})
	s.dialer.conn(1).push(gateway.Event{Type: gateway.EventReady, SessionID: "sess-b"})

	s.eventually(func() bool {
		return s.store.status("bot-a") == models.BotStatusOnline &&
			s.store.status("bot-b") == models.BotStatusOnline
	}, "both sessions should come online")

	s.dialer.conn(0).push(gateway.Event{Type: gateway.EventError, Reason: "forced disconnect"})

	s.eventually(func() bool {
		return s.store.status("bot-a") == models.BotStatusError
	}, "failed session should reconcile to error")

	// The other session is untouched.
	assert.Equal(s.T(), models.BotStatusOnline, s.store.status("bot-b"))
	_, ok := s.sup.Registry().Get("bot-a")
	assert.False(s.T(), ok)
	_, ok = s.sup.Registry().Get("bot-b")
	assert.True(s.T(), ok)
	assert.Equal(s.T(), 1, s.sup.ActiveCount())
	assert.True(s.T(), s.dialer.conn(0).closed.Load())
}

func (s *SupervisorSuite) TestNoAutomaticReconnect() {
	bot := makeBot("bot-1", models.BotCategoryUtility)
	require.NoError(s.T(), s.sup.StartSession(context.Background(), bot))

	conn := s.dialer.conn(0)
	conn.push(gateway.Event{Type: gateway.EventReady, SessionID: "sess-1"})

	s.eventually(func() bool {
		return s.store.status("bot-1") == models.BotStatusOnline
	}, "session should come online")

	conn.push(gateway.Event{Type: gateway.EventClosed, Reason: "gateway closed"})

	s.eventually(func() bool {
		return s.store.status("bot-1") == models.BotStatusOffline
	}, "closed session should reconcile to offline")

	// The session stays terminated; no new connection is dialed.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(s.T(), 1, s.dialer.dialCount())
	assert.Equal(s.T(), 0, s.sup.ActiveCount())
}

func (s *SupervisorSuite) TestConnectionEndReconcilesOffline() {
	bot := makeBot("bot-1", models.BotCategoryUtility)
	require.NoError(s.T(), s.sup.StartSession(context.Background(), bot))

	conn := s.dialer.conn(0)
	conn.push(gateway.Event{Type: gateway.EventReady, SessionID: "sess-1"})

	s.eventually(func() bool {
		return s.sup.ActiveCount() == 1
	}, "session should register")

	conn.end()

	s.eventually(func() bool {
		return s.store.status("bot-1") == models.BotStatusOffline && s.sup.ActiveCount() == 0
	}, "ended connection should reconcile to offline")
}

func (s *SupervisorSuite) TestInitiationFailure() {
	s.dialer.err = errors.New("gateway unreachable")

	bot := makeBot("bot-1", models.BotCategoryUtility)
	err := s.sup.StartSession(context.Background(), bot)
	require.Error(s.T(), err)

	// Nothing registered, nothing written: the bot keeps its stored status.
	assert.Equal(s.T(), 0, s.sup.ActiveCount())
	assert.Equal(s.T(), 0, s.store.writeCount())
}

func (s *SupervisorSuite) TestUnknownCategory() {
	bot := makeBot("bot-1", "gardening")
	err := s.sup.StartSession(context.Background(), bot)
	require.ErrorIs(s.T(), err, ErrUnknownCategory)
	assert.Equal(s.T(), 0, s.dialer.dialCount())
}

func (s *SupervisorSuite) TestStopSession() {
	bot := makeBot("bot-1", models.BotCategoryUtility)
	require.NoError(s.T(), s.sup.StartSession(context.Background(), bot))
	s.dialer.conn(0).push(gateway.Event{Type: gateway.EventReady, SessionID: "sess-1"})

	s.eventually(func() bool {
		return s.store.status("bot-1") == models.BotStatusOnline
	}, "session should come online")

	require.NoError(s.T(), s.sup.Stop("bot-1"))

	s.eventually(func() bool {
		return s.store.status("bot-1") == models.BotStatusOffline && s.sup.ActiveCount() == 0
	}, "stopped session should reconcile to offline")

	assert.True(s.T(), s.dialer.conn(0).closed.Load())
	require.ErrorIs(s.T(), s.sup.Stop("bot-1"), ErrNoSession)
}

func (s *SupervisorSuite) TestRestartDisplacesOldSession() {
	bot := makeBot("bot-1", models.BotCategoryUtility)
	require.NoError(s.T(), s.sup.StartSession(context.Background(), bot))
	s.dialer.conn(0).push(gateway.Event{Type: gateway.EventReady, SessionID: "sess-1"})

	s.eventually(func() bool {
		return s.store.status("bot-1") == models.BotStatusOnline
	}, "first session should come online")

	require.NoError(s.T(), s.sup.StartSession(context.Background(), bot))
	s.dialer.conn(1).push(gateway.Event{Type: gateway.EventReady, SessionID: "sess-2"})

	s.eventually(func() bool {
		h, ok := s.sup.Registry().Get("bot-1")
		return ok && h.SessionID == "sess-2"
	}, "registry should hold the new session")

	// However the old session unwinds, it must not clobber the new one.
	s.eventually(func() bool {
		return s.dialer.conn(0).closed.Load()
	}, "old connection should be closed")
	s.eventually(func() bool {
		return s.store.status("bot-1") == models.BotStatusOnline
	}, "status should settle on online")
	assert.Equal(s.T(), 1, s.sup.ActiveCount())
}

func (s *SupervisorSuite) TestSlowDisplacedTeardownCannotClobberSuccessor() {
	s.dialer.closeDelay = 300 * time.Millisecond

	bot := makeBot("bot-1", models.BotCategoryUtility)
	require.NoError(s.T(), s.sup.StartSession(context.Background(), bot))
	s.dialer.conn(0).push(gateway.Event{Type: gateway.EventReady, SessionID: "sess-1"})

	s.eventually(func() bool {
		return s.store.status("bot-1") == models.BotStatusOnline
	}, "first session should come online")

	// Displace the first session and let it get stuck in its slow Close
	// after it has released the registry entry.
	require.NoError(s.T(), s.sup.StartSession(context.Background(), bot))
	select {
	case <-s.dialer.conn(0).closing:
	case <-time.After(2 * time.Second):
		s.T().Fatal("old connection never started closing")
	}

	// The successor goes ready while the old teardown is still in flight.
	s.dialer.conn(1).push(gateway.Event{Type: gateway.EventReady, SessionID: "sess-2"})

	s.eventually(func() bool {
		h, ok := s.sup.Registry().Get("bot-1")
		return ok && h.SessionID == "sess-2" && s.store.status("bot-1") == models.BotStatusOnline
	}, "successor should register and come online")

	// Once the old session's terminal write lands it must lose to the
	// successor's ready, however late it arrives.
	s.eventually(func() bool {
		return s.dialer.conn(0).closed.Load()
	}, "old connection should finish closing")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(s.T(), models.BotStatusOnline, s.store.status("bot-1"))
	assert.Equal(s.T(), 1, s.sup.ActiveCount())
}

func (s *SupervisorSuite) TestShutdownAllDrainsSessions() {
	for _, id := range []string{"bot-1", "bot-2", "bot-3"} {
		require.NoError(s.T(), s.sup.StartSession(context.Background(), makeBot(id, models.BotCategoryUtility)))
	}
	for i := 0; i < 3; i++ {
		s.dialer.conn(i).push(gateway.Event{Type: gateway.EventReady, SessionID: "sess"})
	}

	s.eventually(func() bool {
		return s.sup.ActiveCount() == 3
	}, "all sessions should register")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.sup.ShutdownAll(ctx)

	s.eventually(func() bool {
		return s.sup.ActiveCount() == 0 &&
			s.store.status("bot-1") == models.BotStatusOffline &&
			s.store.status("bot-2") == models.BotStatusOffline &&
			s.store.status("bot-3") == models.BotStatusOffline
	}, "all sessions should drain to offline")
}

func (s *SupervisorSuite) TestCapabilityScope() {
	require.NoError(s.T(), s.sup.StartSession(context.Background(), makeBot("bot-1", models.BotCategoryMusic)))

	s.dialer.mu.Lock()
	caps := s.dialer.caps[0]
	s.dialer.mu.Unlock()
	assert.Equal(s.T(), []gateway.Capability{gateway.CapMessages, gateway.CapVoice}, caps)
}

func TestSupervisorSuite(t *testing.T) {
	suite.Run(t, new(SupervisorSuite))
}

func TestReconcilerDropsStaleWrites(t *testing.T) {
	store := newMemStatusStore()
	rec := &changeRecorder{}
	r := NewReconciler(store, rec)

	r.SetStatus(context.Background(), "bot-1", models.BotStatusOnline, 200, "session ready")
	r.SetStatus(context.Background(), "bot-1", models.BotStatusOffline, 100, "stale close")

	assert.Equal(t, models.BotStatusOnline, store.status("bot-1"))
	assert.Equal(t, 1, store.writeCount())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.changes, 1)
	assert.Equal(t, models.BotStatusOnline, rec.changes[0].Status)
}

func TestReconcilerEqualSeqApplies(t *testing.T) {
	store := newMemStatusStore()
	r := NewReconciler(store, nil)

	r.SetStatus(context.Background(), "bot-1", models.BotStatusOnline, 100, "session ready")
	r.SetStatus(context.Background(), "bot-1", models.BotStatusOnline, 100, "session ready")

	assert.Equal(t, models.BotStatusOnline, store.status("bot-1"))
	assert.Equal(t, 2, store.writeCount())
}

func TestReconcilerSwallowsStorageErrors(t *testing.T) {
	store := newMemStatusStore()
	store.err = errors.New("disk on fire")
	rec := &changeRecorder{}
	r := NewReconciler(store, rec)

	r.SetStatus(context.Background(), "bot-1", models.BotStatusOnline, 100, "session ready")

	_, notified := rec.last()
	assert.False(t, notified)
}

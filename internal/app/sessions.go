package app

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Callbridge/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	id           domain.SessionID
	createdAt    time.Time
	participants map[domain.UserID]struct{}
}

func (e *sessionEntry) snapshot() domain.CallSession {
	ps := make([]domain.UserID, 0, len(e.participants))
	for uid := range e.participants {
		ps = append(ps, uid)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
	return domain.CallSession{ID: e.id, Participants: ps, CreatedAt: e.createdAt}
}

// SessionTracker tracks which identity pairs are in a call. A session lives
// from the answer until its participant set is empty. Every mutator is
// idempotent because explicit call-end and disconnect cleanup race.
type SessionTracker struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*sessionEntry
	byUser   map[domain.UserID]map[domain.SessionID]struct{}
	now      func() time.Time
}

func NewSessionTracker() *SessionTracker {
	return &SessionTracker{
		sessions: make(map[domain.SessionID]*sessionEntry),
		byUser:   make(map[domain.UserID]map[domain.SessionID]struct{}),
		now:      time.Now,
	}
}

// Open creates or fetches the session of the pair and inserts both
// participants. Empty ids are skipped: cleanup matters more than validation.
func (t *SessionTracker) Open(answerer, caller domain.UserID) (domain.CallSession, bool) {
	id := domain.SessionIDFor(answerer, caller)

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.sessions[id]
	created := !ok
	if created {
		e = &sessionEntry{
			id:           id,
			createdAt:    t.now(),
			participants: make(map[domain.UserID]struct{}, 2),
		}
		t.sessions[id] = e
	}
	for _, uid := range []domain.UserID{answerer, caller} {
		if uid == "" {
			continue
		}
		e.participants[uid] = struct{}{}
		set, ok := t.byUser[uid]
		if !ok {
			set = make(map[domain.SessionID]struct{})
			t.byUser[uid] = set
		}
		set[id] = struct{}{}
	}
	log.Info().Str("module", "app.sessions").Str("session", string(id)).Bool("created", created).Msg("session opened")
	return e.snapshot(), created
}

// EndParticipant removes uid from the session. The session is deleted as
// soon as it is empty; removed reports that this call deleted it. Missing
// sessions or participants are a no-op.
func (t *SessionTracker) EndParticipant(id domain.SessionID, uid domain.UserID) (remaining []domain.UserID, removed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.sessions[id]
	if !ok {
		return nil, false
	}
	if _, in := e.participants[uid]; in {
		delete(e.participants, uid)
		t.forget(uid, id)
		log.Info().Str("module", "app.sessions").Str("session", string(id)).Str("user", string(uid)).Msg("participant left")
	}
	if len(e.participants) == 0 {
		delete(t.sessions, id)
		log.Info().Str("module", "app.sessions").Str("session", string(id)).Msg("session closed")
		return nil, true
	}
	return e.snapshot().Participants, false
}

// EndByUserPair ends both participants of the pair's session.
func (t *SessionTracker) EndByUserPair(a, b domain.UserID) (domain.SessionID, bool) {
	id := domain.SessionIDFor(a, b)
	_, removedA := t.EndParticipant(id, a)
	_, removedB := t.EndParticipant(id, b)
	return id, removedA || removedB
}

func (t *SessionTracker) forget(uid domain.UserID, id domain.SessionID) {
	set, ok := t.byUser[uid]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(t.byUser, uid)
	}
}

// SessionsOf lists the sessions uid currently participates in.
func (t *SessionTracker) SessionsOf(uid domain.UserID) []domain.SessionID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := t.byUser[uid]
	out := make([]domain.SessionID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t *SessionTracker) Get(id domain.SessionID) (domain.CallSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.sessions[id]
	if !ok {
		return domain.CallSession{}, false
	}
	return e.snapshot(), true
}

func (t *SessionTracker) List() []domain.CallSession {
	t.mu.RLock()
	out := make([]domain.CallSession, 0, len(t.sessions))
	for _, e := range t.sessions {
		out = append(out, e.snapshot())
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *SessionTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

package app

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/Callbridge/internal/core"
	"github.com/dkeye/Callbridge/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrIdentityMismatch = errors.New("connection already registered as another user")

type connEntry struct {
	Conn   core.SignalConnection
	Cancel context.CancelFunc
	// User is the reverse binding; nil until the connection registers or
	// after a newer connection superseded it.
	User *domain.User
}

// Registry is the connection registry: userId -> connectionId and back.
type Registry struct {
	mu     sync.RWMutex
	conns  map[domain.ConnectionID]*connEntry
	byUser map[domain.UserID]domain.ConnectionID
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[domain.ConnectionID]*connEntry),
		byUser: make(map[domain.UserID]domain.ConnectionID),
	}
}

// Attach records a live transport connection that has not registered yet.
func (r *Registry) Attach(cid domain.ConnectionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[cid] = &connEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("attached connection")
}

// Detach forgets the transport connection. It reports whether the
// connection was still attached, so callers can run cleanup exactly once.
func (r *Registry) Detach(cid domain.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok {
		return false
	}
	if e.User != nil && r.byUser[e.User.ID] == cid {
		delete(r.byUser, e.User.ID)
	}
	delete(r.conns, cid)
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("detached connection")
	return true
}

// Register binds user to cid. A previous binding of the same user to another
// connection loses its reverse entry first, so the stale connection never
// resolves again. prev is that superseded connection, if any.
func (r *Registry) Register(cid domain.ConnectionID, user domain.User) (prev domain.ConnectionID, superseded bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[cid]
	if !ok {
		e = &connEntry{}
		r.conns[cid] = e
	}
	if e.User != nil && e.User.ID != user.ID {
		return "", false, ErrIdentityMismatch
	}

	if old, ok := r.byUser[user.ID]; ok && old != cid {
		if oe, ok := r.conns[old]; ok {
			oe.User = nil
		}
		prev, superseded = old, true
	}

	u := user
	e.User = &u
	r.byUser[user.ID] = cid

	ev := log.Info().Str("module", "app.registry").Str("cid", string(cid)).Str("user", string(user.ID))
	if superseded {
		ev = ev.Str("superseded", string(prev))
	}
	ev.Msg("registered user")
	return prev, superseded, nil
}

// Resolve returns the connection currently bound to uid.
func (r *Registry) Resolve(uid domain.UserID) (domain.ConnectionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cid, ok := r.byUser[uid]
	return cid, ok
}

// Lookup returns the user bound to cid.
func (r *Registry) Lookup(cid domain.ConnectionID) (domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[cid]
	if !ok || e.User == nil {
		return domain.User{}, false
	}
	return *e.User, true
}

// Conn returns the transport endpoint of cid.
func (r *Registry) Conn(cid domain.ConnectionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[cid]
	if !ok || e.Conn == nil {
		return nil, false
	}
	return e.Conn, true
}

// Unbind drops the reverse entry of cid and the forward entry if it still
// points to cid. current reports whether cid was the live binding of user.
// Unknown or already unbound connections are a no-op.
func (r *Registry) Unbind(cid domain.ConnectionID) (user domain.User, current bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok || e.User == nil {
		return domain.User{}, false
	}
	user = *e.User
	e.User = nil
	if r.byUser[user.ID] == cid {
		delete(r.byUser, user.ID)
		current = true
	}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Str("user", string(user.ID)).Bool("current", current).Msg("unbind connection")
	return user, current
}

func (r *Registry) Cancel(cid domain.ConnectionID) bool {
	r.mu.RLock()
	e, ok := r.conns[cid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("canceled connection")
	return true
}

// OnlineUsers is a snapshot of bound identities ordered by id.
func (r *Registry) OnlineUsers() []domain.User {
	r.mu.RLock()
	out := make([]domain.User, 0, len(r.byUser))
	for _, cid := range r.byUser {
		if e, ok := r.conns[cid]; ok && e.User != nil {
			out = append(out, *e.User)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type connSnap struct {
	CID  domain.ConnectionID
	Conn core.SignalConnection
}

// Bound is a snapshot of the connections that are the live binding of some
// user. Unregistered and superseded connections are left out.
func (r *Registry) Bound() []connSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]connSnap, 0, len(r.byUser))
	for _, cid := range r.byUser {
		e, ok := r.conns[cid]
		if !ok || e.Conn == nil {
			continue
		}
		out = append(out, connSnap{CID: cid, Conn: e.Conn})
	}
	return out
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

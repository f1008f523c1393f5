package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/Callbridge/internal/core"
	"github.com/dkeye/Callbridge/internal/domain"
	"github.com/dkeye/Callbridge/internal/peer"
	"github.com/dkeye/Callbridge/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrBusy        = errors.New("already in a call with this user")
	ErrUnknownPeer = errors.New("no call with this user")
)

// Transport is what the Agent needs from a signaling connection.
type Transport interface {
	Send(msg any) error
	Incoming() <-chan []byte
	Close()
}

// Identity is what the agent registers as.
type Identity struct {
	UserID      string
	DisplayName string
	AvatarRef   string
}

// Hooks let the caller observe and steer the agent. All are optional.
type Hooks struct {
	OnRegistered func(protocol.Registered)
	// OnPresence receives the full online view after every change.
	OnPresence func([]protocol.PresenceUser)
	// OnIncoming decides about a ringing call by calling Answer or Decline on
	// p. Without it incoming calls are declined.
	OnIncoming  func(p *peer.Peer, msg protocol.CallIncoming)
	OnPeerState func(remoteUserID string, from, to peer.State)
	OnError     func(protocol.Error)
}

// Agent is one registered client with at most one peer per remote user.
type Agent struct {
	tr       Transport
	self     Identity
	newMedia func(remoteUserID string) (core.MediaConnection, error)
	tracks   func() ([]peer.MediaTrack, error)
	hooks    Hooks

	mu           sync.Mutex
	ctx          context.Context
	connectionID string
	presence     map[string]protocol.PresenceUser
	peers        map[string]*peer.Peer
}

type Option func(*Agent)

// WithHooks sets the agent callbacks.
func WithHooks(h Hooks) Option {
	return func(a *Agent) { a.hooks = h }
}

// WithLocalTracks provides the local media attached to every new peer.
func WithLocalTracks(fn func() ([]peer.MediaTrack, error)) Option {
	return func(a *Agent) { a.tracks = fn }
}

func NewAgent(tr Transport, self Identity, newMedia func(remoteUserID string) (core.MediaConnection, error), opts ...Option) *Agent {
	a := &Agent{
		tr:       tr,
		self:     self,
		newMedia: newMedia,
		ctx:      context.Background(),
		presence: make(map[string]protocol.PresenceUser),
		peers:    make(map[string]*peer.Peer),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) ConnectionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectionID
}

// Online is the current presence view ordered by user id.
func (a *Agent) Online() []protocol.PresenceUser {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.onlineLocked()
}

func (a *Agent) onlineLocked() []protocol.PresenceUser {
	out := make([]protocol.PresenceUser, 0, len(a.presence))
	for _, u := range a.presence {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Peer returns the live peer for remoteUserID.
func (a *Agent) Peer(remoteUserID string) (*peer.Peer, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.peers[remoteUserID]
	return p, ok
}

// Run registers and dispatches server messages until ctx ends or the
// transport closes. Live calls are hung up on ctx cancel and torn down when
// the transport is lost.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	err := a.tr.Send(protocol.Register{
		Type:        protocol.TypeRegister,
		UserID:      a.self.UserID,
		DisplayName: a.self.DisplayName,
		AvatarRef:   a.self.AvatarRef,
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	in := a.tr.Incoming()
	for {
		select {
		case <-ctx.Done():
			a.HangupAll()
			a.tr.Close()
			return ctx.Err()
		case data, ok := <-in:
			if !ok {
				a.teardownAll()
				return ErrClosed
			}
			a.dispatch(data)
		}
	}
}

// Call places a call to remoteUserID.
func (a *Agent) Call(remoteUserID string, isVideo bool) (*peer.Peer, error) {
	p, err := a.newPeer(remoteUserID)
	if err != nil {
		return nil, err
	}
	if err := p.Call(isVideo, a.self.DisplayName); err != nil {
		return nil, err
	}
	return p, nil
}

// Hangup ends the call with remoteUserID.
func (a *Agent) Hangup(remoteUserID string) error {
	p, ok := a.Peer(remoteUserID)
	if !ok {
		return ErrUnknownPeer
	}
	return p.Hangup()
}

func (a *Agent) HangupAll() {
	for _, p := range a.snapshotPeers() {
		if err := p.Hangup(); err != nil {
			log.Warn().Err(err).Str("module", "client").Str("remote", p.RemoteUserID()).Msg("hangup")
		}
	}
}

func (a *Agent) teardownAll() {
	for _, p := range a.snapshotPeers() {
		p.Teardown()
	}
}

func (a *Agent) snapshotPeers() []*peer.Peer {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*peer.Peer, 0, len(a.peers))
	for _, p := range a.peers {
		out = append(out, p)
	}
	return out
}

func (a *Agent) newPeer(remote string) (*peer.Peer, error) {
	a.mu.Lock()
	if p, ok := a.peers[remote]; ok && p.State() != peer.StateClosed {
		a.mu.Unlock()
		return nil, ErrBusy
	}
	ctx := a.ctx
	a.mu.Unlock()

	media, err := a.newMedia(remote)
	if err != nil {
		return nil, fmt.Errorf("create media connection: %w", err)
	}
	p, err := peer.New(ctx, media, a.tr, remote)
	if err != nil {
		media.Close()
		return nil, err
	}
	if a.tracks != nil {
		tracks, err := a.tracks()
		if err != nil {
			p.Teardown()
			return nil, fmt.Errorf("local tracks: %w", err)
		}
		for _, t := range tracks {
			if err := p.AttachLocal(t); err != nil {
				p.Teardown()
				return nil, err
			}
		}
	}

	p.OnStateChange(func(from, to peer.State) {
		log.Info().Str("module", "client").Str("remote", remote).Str("from", from.String()).Str("to", to.String()).Msg("peer state")
		if to == peer.StateClosed {
			a.mu.Lock()
			if a.peers[remote] == p {
				delete(a.peers, remote)
			}
			a.mu.Unlock()
		}
		if a.hooks.OnPeerState != nil {
			a.hooks.OnPeerState(remote, from, to)
		}
	})

	a.mu.Lock()
	a.peers[remote] = p
	a.mu.Unlock()
	return p, nil
}

func (a *Agent) dispatch(data []byte) {
	t, err := protocol.PeekType(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("bad server message")
		return
	}

	switch t {
	case protocol.TypeRegistered:
		var m protocol.Registered
		if decode(data, &m) {
			a.mu.Lock()
			a.connectionID = m.ConnectionID
			a.mu.Unlock()
			if a.hooks.OnRegistered != nil {
				a.hooks.OnRegistered(m)
			}
		}
	case protocol.TypePresenceSnapshot:
		var m protocol.PresenceSnapshot
		if decode(data, &m) {
			a.mu.Lock()
			a.presence = make(map[string]protocol.PresenceUser, len(m.Users))
			for _, u := range m.Users {
				a.presence[u.UserID] = u
			}
			a.mu.Unlock()
			a.presenceChanged()
		}
	case protocol.TypePresenceOnline:
		var m protocol.Presence
		if decode(data, &m) && m.UserID != a.self.UserID {
			a.mu.Lock()
			a.presence[m.UserID] = m.PresenceUser
			a.mu.Unlock()
			a.presenceChanged()
		}
	case protocol.TypePresenceOffline:
		var m protocol.Presence
		if decode(data, &m) {
			a.mu.Lock()
			delete(a.presence, m.UserID)
			a.mu.Unlock()
			a.teardown(m.UserID)
			a.presenceChanged()
		}
	case protocol.TypeCallIncoming:
		var m protocol.CallIncoming
		if decode(data, &m) {
			a.handleIncoming(m)
		}
	case protocol.TypeCallAnswered:
		var m protocol.CallAnswered
		if decode(data, &m) {
			if _, ok := a.Peer(m.ResponderID); !ok {
				a.refuseAnswer(m)
				return
			}
			a.withPeer(m.ResponderID, func(p *peer.Peer) error { return p.HandleAnswered(m) })
		}
	case protocol.TypeCallDeclined:
		var m protocol.CallDeclined
		if decode(data, &m) {
			log.Info().Str("module", "client").Str("remote", m.ResponderID).Msg("call declined")
			a.teardown(m.ResponderID)
		}
	case protocol.TypeCallEnded:
		var m protocol.CallEnded
		if decode(data, &m) {
			log.Info().Str("module", "client").Str("remote", m.UserID).Str("reason", m.Reason).Msg("call ended")
			switch {
			case m.UserID == "":
				a.teardownSession(m.SessionID)
			case m.Reason == protocol.EndReasonCancel:
				a.cancelled(m.UserID)
			default:
				a.leave(m.UserID)
			}
		}
	case protocol.TypeUserDisconnected:
		var m protocol.UserDisconnected
		if decode(data, &m) {
			a.leave(m.UserID)
		}
	case protocol.TypeSignal:
		var m protocol.Signal
		if decode(data, &m) {
			a.withPeer(m.SenderID, func(p *peer.Peer) error { return p.HandleSignal(m) })
		}
	case protocol.TypeError:
		var m protocol.Error
		if decode(data, &m) {
			log.Warn().Str("module", "client").Str("for", string(m.For)).Str("target", m.TargetUserID).Msg(m.Message)
			if m.For == protocol.TypeCallInitiate && m.TargetUserID != "" {
				a.teardown(m.TargetUserID)
			}
			if a.hooks.OnError != nil {
				a.hooks.OnError(m)
			}
		}
	case protocol.TypePong:
	default:
		log.Debug().Str("module", "client").Str("type", string(t)).Msg("ignored message")
	}
}

func (a *Agent) handleIncoming(m protocol.CallIncoming) {
	p, err := a.newPeer(m.CallerID)
	if err != nil {
		log.Warn().Err(err).Str("module", "client").Str("caller", m.CallerID).Msg("cannot take call")
		_ = a.tr.Send(protocol.CallDecline{Type: protocol.TypeCallDecline, CallerConnectionID: m.CallerConnectionID})
		return
	}
	if err := p.HandleIncoming(m); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("caller", m.CallerID).Msg("bad offer")
		_ = p.Decline()
		return
	}
	if a.hooks.OnIncoming == nil {
		_ = p.Decline()
		return
	}
	a.hooks.OnIncoming(p, m)
}

func (a *Agent) withPeer(remote string, fn func(*peer.Peer) error) {
	p, ok := a.Peer(remote)
	if !ok {
		log.Debug().Str("module", "client").Str("remote", remote).Msg("message for unknown peer dropped")
		return
	}
	if err := fn(p); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("remote", remote).Msg("peer rejected message")
	}
}

// leave answers the other side ending the call with our own call-end, which
// takes us out of the server session too.
func (a *Agent) leave(remote string) {
	if p, ok := a.Peer(remote); ok {
		if err := p.Hangup(); err != nil {
			log.Debug().Err(err).Str("module", "client").Str("remote", remote).Msg("leave")
		}
	}
}

// cancelled handles the caller giving up. A ring just stops; a call we
// already answered is left properly so the server session empties.
func (a *Agent) cancelled(remote string) {
	p, ok := a.Peer(remote)
	if !ok {
		return
	}
	if p.State() == peer.StateConnected {
		a.leave(remote)
		return
	}
	p.Teardown()
}

// refuseAnswer ends a call answered after we hung up; the answer already
// opened a session on the server.
func (a *Agent) refuseAnswer(m protocol.CallAnswered) {
	log.Info().Str("module", "client").Str("remote", m.ResponderID).Msg("answer for a call we left")
	err := a.tr.Send(protocol.CallEnd{
		Type:               protocol.TypeCallEnd,
		TargetConnectionID: m.ResponderConnectionID,
		TargetUserID:       m.ResponderID,
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "client").Str("remote", m.ResponderID).Msg("refuse answer")
	}
}

func (a *Agent) teardown(remote string) {
	if p, ok := a.Peer(remote); ok {
		p.Teardown()
	}
}

// teardownSession closes the peer whose pair forms sid.
func (a *Agent) teardownSession(sid string) {
	self := domain.UserID(a.self.UserID)
	for _, p := range a.snapshotPeers() {
		if string(domain.SessionIDFor(self, domain.UserID(p.RemoteUserID()))) == sid {
			p.Teardown()
		}
	}
}

func (a *Agent) presenceChanged() {
	if a.hooks.OnPresence != nil {
		a.hooks.OnPresence(a.Online())
	}
}

func decode(data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("bad payload")
		return false
	}
	return true
}

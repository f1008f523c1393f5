package app

import (
	"github.com/dkeye/Callbridge/internal/domain"
	"github.com/dkeye/Callbridge/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Presence announces availability to registered users. Broadcasts are
// fire-and-forget: a missed announcement heals with the next snapshot.
type Presence struct {
	Registry *Registry
	Router   *SignalRouter
}

func presenceUser(u domain.User) protocol.PresenceUser {
	return protocol.PresenceUser{UserID: string(u.ID), DisplayName: u.DisplayName, AvatarRef: u.AvatarRef}
}

// AnnounceOnline tells every connection except the registering one.
func (p *Presence) AnnounceOnline(u domain.User, except domain.ConnectionID) {
	p.broadcast(protocol.Presence{Type: protocol.TypePresenceOnline, PresenceUser: presenceUser(u)}, except)
}

// AnnounceOffline tells every remaining user.
func (p *Presence) AnnounceOffline(u domain.User) {
	p.broadcast(protocol.Presence{
		Type:         protocol.TypePresenceOffline,
		PresenceUser: protocol.PresenceUser{UserID: string(u.ID), DisplayName: u.DisplayName},
	}, "")
}

func (p *Presence) broadcast(msg protocol.Presence, except domain.ConnectionID) {
	sent := 0
	for _, snap := range p.Registry.Bound() {
		if snap.CID == except {
			continue
		}
		if err := p.Router.Send(snap.CID, msg); err != nil {
			continue
		}
		sent++
	}
	log.Debug().Str("module", "app.presence").Str("type", string(msg.Type)).Str("user", msg.UserID).Int("sent_to", sent).Msg("presence broadcast")
}

// Snapshot lists online users other than self.
func (p *Presence) Snapshot(self domain.UserID) []protocol.PresenceUser {
	users := p.Registry.OnlineUsers()
	out := make([]protocol.PresenceUser, 0, len(users))
	for _, u := range users {
		if u.ID == self {
			continue
		}
		out = append(out, presenceUser(u))
	}
	return out
}

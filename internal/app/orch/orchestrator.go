package orch

import (
	"context"
	"time"

	"github.com/dkeye/Callbridge/internal/app"
	"github.com/dkeye/Callbridge/internal/core"
	"github.com/dkeye/Callbridge/internal/domain"
	"github.com/dkeye/Callbridge/internal/metrics"
	"github.com/dkeye/Callbridge/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Orchestrator owns the per-connection lifecycle. It is the only writer of
// the registry and the session tracker.
type Orchestrator struct {
	Registry *app.Registry
	Sessions *app.SessionTracker
	Router   *app.SignalRouter
	Presence *app.Presence
	Recorder core.CallRecorder
	Metrics  *metrics.Metrics
}

func New(policy app.Policy, recorder core.CallRecorder, m *metrics.Metrics) *Orchestrator {
	reg := app.NewRegistry()
	router := &app.SignalRouter{Registry: reg, Policy: policy, Metrics: m}
	if recorder == nil {
		recorder = core.NopRecorder{}
	}
	return &Orchestrator{
		Registry: reg,
		Sessions: app.NewSessionTracker(),
		Router:   router,
		Presence: &app.Presence{Registry: reg, Router: router},
		Recorder: recorder,
		Metrics:  m,
	}
}

func (o *Orchestrator) refreshGauges() {
	o.Metrics.SetConnections(o.Registry.ConnectionCount())
	o.Metrics.SetRegisteredUsers(o.Registry.UserCount())
	o.Metrics.SetActiveSessions(o.Sessions.Count())
}

// Connect attaches a fresh transport connection.
func (o *Orchestrator) Connect(cid domain.ConnectionID, conn core.SignalConnection, cancel context.CancelFunc) {
	o.Registry.Attach(cid, conn, cancel)
	o.refreshGauges()
}

// Register binds the identity, acknowledges it, announces it and hands the
// new connection its initial presence view.
func (o *Orchestrator) Register(cid domain.ConnectionID, user domain.User) error {
	prev, superseded, err := o.Registry.Register(cid, user)
	if err != nil {
		return err
	}
	if superseded {
		log.Info().Str("module", "orch").Str("user", string(user.ID)).Str("stale_cid", string(prev)).Str("cid", string(cid)).Msg("binding superseded")
	}
	o.refreshGauges()

	_ = o.Router.Send(cid, protocol.Registered{
		Type:         protocol.TypeRegistered,
		ConnectionID: string(cid),
		UserID:       string(user.ID),
	})
	o.Presence.AnnounceOnline(user, cid)
	_ = o.Router.Send(cid, protocol.PresenceSnapshot{
		Type:  protocol.TypePresenceSnapshot,
		Users: o.Presence.Snapshot(user.ID),
	})
	return nil
}

// Disconnect runs the cleanup of one connection. It tolerates being called
// again and never assumes a call-end preceded it.
func (o *Orchestrator) Disconnect(cid domain.ConnectionID) {
	user, current := o.Registry.Unbind(cid)
	if !o.Registry.Detach(cid) {
		return
	}
	defer o.refreshGauges()
	if !current {
		log.Info().Str("module", "orch").Str("cid", string(cid)).Msg("disconnect without live binding")
		return
	}

	for _, sid := range o.Sessions.SessionsOf(user.ID) {
		remaining := o.leaveSession(sid, user.ID, protocol.EndReasonDisconnect)
		for _, uid := range remaining {
			peerCID, ok := o.Registry.Resolve(uid)
			if !ok {
				continue
			}
			_ = o.Router.Send(peerCID, protocol.CallEnded{
				Type:      protocol.TypeCallEnded,
				SessionID: string(sid),
				UserID:    string(user.ID),
				Reason:    protocol.EndReasonDisconnect,
			})
			_ = o.Router.Send(peerCID, protocol.UserDisconnected{
				Type:        protocol.TypeUserDisconnected,
				UserID:      string(user.ID),
				DisplayName: user.DisplayName,
			})
		}
	}
	o.Presence.AnnounceOffline(user)
	log.Info().Str("module", "orch").Str("cid", string(cid)).Str("user", string(user.ID)).Msg("disconnected")
}

// leaveSession removes uid and records the end of the call when the session
// disappears. It returns the participants still in the session.
func (o *Orchestrator) leaveSession(sid domain.SessionID, uid domain.UserID, reason string) []domain.UserID {
	remaining, removed := o.Sessions.EndParticipant(sid, uid)
	if removed {
		o.recordEnd(sid, reason)
	}
	o.refreshGauges()
	return remaining
}

func (o *Orchestrator) recordEnd(sid domain.SessionID, reason string) {
	o.Metrics.SessionClosed()
	if err := o.Recorder.CallEnded(context.Background(), sid, time.Now(), reason); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("session", string(sid)).Msg("record call end")
	}
}

// OnlineUsers is the presence view for the REST API.
func (o *Orchestrator) OnlineUsers() []protocol.PresenceUser {
	return o.Presence.Snapshot("")
}

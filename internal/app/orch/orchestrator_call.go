package orch

import (
	"context"
	"errors"
	"slices"

	"github.com/dkeye/Callbridge/internal/app"
	"github.com/dkeye/Callbridge/internal/core"
	"github.com/dkeye/Callbridge/internal/domain"
	"github.com/dkeye/Callbridge/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrCallerGone = errors.New("caller is no longer connected")

// InitiateCall forwards the offer to the target as call-incoming.
func (o *Orchestrator) InitiateCall(cid domain.ConnectionID, p protocol.CallInitiate) error {
	msg := &protocol.CallIncoming{
		Offer:      p.Offer,
		CallerName: p.CallerName,
		IsVideo:    p.IsVideo,
	}
	return o.Router.Relay(cid, domain.UserID(p.TargetUserID), msg)
}

// AnswerCall opens the session of the pair and relays the answer, together
// with the session id, to the caller connection.
func (o *Orchestrator) AnswerCall(cid domain.ConnectionID, p protocol.CallAnswer) (domain.SessionID, error) {
	answerer, ok := o.Registry.Lookup(cid)
	if !ok {
		o.Router.SendError(cid, protocol.TypeCallAnswer, "", "register before signaling")
		return "", app.ErrNotRegistered
	}
	callerCID := domain.ConnectionID(p.CallerConnectionID)
	caller, ok := o.Registry.Lookup(callerCID)
	if !ok {
		o.Router.SendError(cid, protocol.TypeCallAnswer, "", ErrCallerGone.Error())
		return "", ErrCallerGone
	}

	sess, created := o.Sessions.Open(answerer.ID, caller.ID)
	if created {
		o.Metrics.SessionOpened()
		rec := core.CallRecord{
			SessionID: sess.ID,
			Caller:    caller.ID,
			Answerer:  answerer.ID,
			StartedAt: sess.CreatedAt,
		}
		if err := o.Recorder.CallStarted(context.Background(), rec); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("session", string(sess.ID)).Msg("record call start")
		}
	}
	o.refreshGauges()

	msg := &protocol.CallAnswered{Answer: p.Answer, SessionID: string(sess.ID)}
	if err := o.Router.RelayToConnection(cid, callerCID, msg); err != nil {
		return sess.ID, err
	}
	return sess.ID, nil
}

// DeclineCall tells the caller; no session was ever opened.
func (o *Orchestrator) DeclineCall(cid domain.ConnectionID, p protocol.CallDecline) error {
	return o.Router.RelayToConnection(cid, domain.ConnectionID(p.CallerConnectionID), &protocol.CallDeclined{})
}

// EndCall removes the sender from the pair's session and notifies the peer.
// Without a session it is a cancel of a ringing call and is relayed as
// call-ended with reason cancel. Repeating it is a no-op.
func (o *Orchestrator) EndCall(cid domain.ConnectionID, p protocol.CallEnd) error {
	sender, ok := o.Registry.Lookup(cid)
	if !ok {
		o.Router.SendError(cid, protocol.TypeCallEnd, "", "register before signaling")
		return app.ErrNotRegistered
	}

	peerID, targetCID, ok := o.endTarget(p)
	if !ok {
		o.leaveAll(sender)
		return nil
	}
	if peerID == sender.ID {
		return nil
	}

	sid := domain.SessionIDFor(sender.ID, peerID)
	msg := &protocol.CallEnded{Reason: protocol.EndReasonCancel}
	if sess, found := o.Sessions.Get(sid); found {
		if !slices.Contains(sess.Participants, sender.ID) {
			return nil
		}
		o.leaveSession(sid, sender.ID, protocol.EndReasonHangup)
		msg = &protocol.CallEnded{SessionID: string(sid), Reason: protocol.EndReasonHangup}
	}
	if targetCID == "" {
		return nil
	}
	if err := o.Router.RelayToConnection(cid, targetCID, msg); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("session", string(sid)).Msg("call-end not delivered")
	}
	return nil
}

// endTarget finds the other side of a call-end. The connection wins while it
// is still bound; a superseded or closed one falls back to the user id, which
// then routes to that user's current connection, if any.
func (o *Orchestrator) endTarget(p protocol.CallEnd) (domain.UserID, domain.ConnectionID, bool) {
	if p.TargetConnectionID != "" {
		cid := domain.ConnectionID(p.TargetConnectionID)
		if u, ok := o.Registry.Lookup(cid); ok {
			return u.ID, cid, true
		}
	}
	if p.TargetUserID == "" {
		return "", "", false
	}
	uid := domain.UserID(p.TargetUserID)
	cid, _ := o.Registry.Resolve(uid)
	return uid, cid, true
}

// leaveAll takes sender out of every session it is in, for a call-end whose
// target can no longer be identified. Remaining participants are told.
func (o *Orchestrator) leaveAll(sender domain.User) {
	for _, sid := range o.Sessions.SessionsOf(sender.ID) {
		for _, uid := range o.leaveSession(sid, sender.ID, protocol.EndReasonHangup) {
			peerCID, ok := o.Registry.Resolve(uid)
			if !ok {
				continue
			}
			_ = o.Router.Send(peerCID, protocol.CallEnded{
				Type:      protocol.TypeCallEnded,
				SessionID: string(sid),
				UserID:    string(sender.ID),
				Reason:    protocol.EndReasonHangup,
			})
		}
	}
}

// RelaySignal forwards ICE candidates and renegotiation payloads.
func (o *Orchestrator) RelaySignal(cid domain.ConnectionID, p protocol.Signal) error {
	msg := p
	return o.Router.Relay(cid, domain.UserID(p.TargetUserID), &msg)
}

// ForceEnd tears down the pair's session from outside the call, notifying
// both participants that are still online.
func (o *Orchestrator) ForceEnd(a, b domain.UserID) (domain.SessionID, bool) {
	sid, removed := o.Sessions.EndByUserPair(a, b)
	if !removed {
		return sid, false
	}
	o.recordEnd(sid, protocol.EndReasonForced)
	o.refreshGauges()
	for _, uid := range []domain.UserID{a, b} {
		cid, ok := o.Registry.Resolve(uid)
		if !ok {
			continue
		}
		_ = o.Router.Send(cid, protocol.CallEnded{
			Type:      protocol.TypeCallEnded,
			SessionID: string(sid),
			Reason:    protocol.EndReasonForced,
		})
	}
	log.Info().Str("module", "orch").Str("session", string(sid)).Msg("forced end")
	return sid, true
}

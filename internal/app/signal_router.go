package app

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Callbridge/internal/core"
	"github.com/dkeye/Callbridge/internal/domain"
	"github.com/dkeye/Callbridge/internal/metrics"
	"github.com/dkeye/Callbridge/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrTargetOffline = errors.New("target is offline")
	ErrNotRegistered = errors.New("sender is not registered")
)

// SignalRouter delivers messages to connections. It only reads the registry.
type SignalRouter struct {
	Registry *Registry
	Policy   Policy
	Metrics  *metrics.Metrics
}

// Send encodes v and queues it on cid without waiting for the network.
func (r *SignalRouter) Send(cid domain.ConnectionID, v any) error {
	conn, ok := r.Registry.Conn(cid)
	if !ok {
		return core.ErrConnectionClosed
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	err = conn.TrySend(b)
	if errors.Is(err, core.ErrBackpressure) {
		r.onBackpressure(cid)
	}
	return err
}

func (r *SignalRouter) onBackpressure(cid domain.ConnectionID) {
	r.Metrics.RelayFailed("backpressure")
	if r.Policy == nil {
		return
	}
	switch r.Policy.OnBackPressure(cid) {
	case KickMember:
		log.Warn().Str("module", "app.router").Str("cid", string(cid)).Msg("slow consumer, disconnecting")
		r.Registry.Cancel(cid)
	case DropFrame, NoAction:
		log.Debug().Str("module", "app.router").Str("cid", string(cid)).Msg("slow consumer, frame dropped")
	}
}

// SendError reports a failure to one connection only.
func (r *SignalRouter) SendError(cid domain.ConnectionID, forType protocol.Type, target domain.UserID, msg string) {
	_ = r.Send(cid, protocol.Error{
		Type:         protocol.TypeError,
		Message:      msg,
		TargetUserID: string(target),
		For:          forType,
	})
}

func (r *SignalRouter) sender(from domain.ConnectionID) (protocol.Sender, error) {
	u, ok := r.Registry.Lookup(from)
	if !ok {
		return protocol.Sender{}, ErrNotRegistered
	}
	return protocol.Sender{UserID: string(u.ID), DisplayName: u.DisplayName, ConnectionID: string(from)}, nil
}

// Relay stamps msg with the sender binding and delivers it to the connection
// bound to target at this moment. An unresolved target is reported back to
// the sender as an error event and returned as ErrTargetOffline.
func (r *SignalRouter) Relay(from domain.ConnectionID, target domain.UserID, msg protocol.Relayable) error {
	s, err := r.sender(from)
	if err != nil {
		r.SendError(from, msg.MessageType(), target, "register before signaling")
		return err
	}
	cid, ok := r.Registry.Resolve(target)
	if !ok {
		r.Metrics.RelayFailed("offline")
		log.Info().Str("module", "app.router").Str("from", s.UserID).Str("target", string(target)).Str("msg", string(msg.MessageType())).Msg("target offline")
		r.SendError(from, msg.MessageType(), target, "user is offline")
		return ErrTargetOffline
	}
	return r.deliver(from, cid, target, s, msg)
}

// RelayToConnection delivers msg to targetCID only while it is still the
// live binding of some identity.
func (r *SignalRouter) RelayToConnection(from, targetCID domain.ConnectionID, msg protocol.Relayable) error {
	s, err := r.sender(from)
	if err != nil {
		r.SendError(from, msg.MessageType(), "", "register before signaling")
		return err
	}
	u, ok := r.Registry.Lookup(targetCID)
	if !ok {
		r.Metrics.RelayFailed("offline")
		log.Info().Str("module", "app.router").Str("from", s.UserID).Str("target_cid", string(targetCID)).Str("msg", string(msg.MessageType())).Msg("target connection gone")
		r.SendError(from, msg.MessageType(), "", "user is offline")
		return ErrTargetOffline
	}
	return r.deliver(from, targetCID, u.ID, s, msg)
}

func (r *SignalRouter) deliver(from, cid domain.ConnectionID, target domain.UserID, s protocol.Sender, msg protocol.Relayable) error {
	msg.StampSender(s)
	if err := r.Send(cid, msg); err != nil {
		if !errors.Is(err, core.ErrBackpressure) {
			r.Metrics.RelayFailed("closed")
		}
		log.Warn().Err(err).Str("module", "app.router").Str("from", s.UserID).Str("target", string(target)).Str("msg", string(msg.MessageType())).Msg("delivery failed")
		r.SendError(from, msg.MessageType(), target, "delivery failed")
		return fmt.Errorf("relay %s: %w", msg.MessageType(), err)
	}
	r.Metrics.SignalRelayed(string(msg.MessageType()))
	log.Debug().Str("module", "app.router").Str("from", s.UserID).Str("target", string(target)).Str("msg", string(msg.MessageType())).Msg("relayed")
	return nil
}

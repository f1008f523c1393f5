// Package peer drives one WebRTC peer connection through a call:
// idle, offering or answering, connected, closed.
package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/Callbridge/internal/core"
	"github.com/dkeye/Callbridge/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Signaler sends one protocol message to the signaling server.
type Signaler interface {
	Send(msg any) error
}

// MediaTrack is a local capture source. The peer stops it when the call ends
// or when another track replaces it.
type MediaTrack interface {
	Track() webrtc.TrackLocal
	Stop()
}

type Peer struct {
	conn   core.MediaConnection
	sig    Signaler
	remote string

	mu        sync.Mutex
	state     State
	remoteCID string
	sessionID string

	remoteSet bool
	pending   []webrtc.ICECandidateInit

	// Local candidates wait here until our offer or answer went out.
	outReady bool
	outQueue []webrtc.ICECandidateInit

	local   map[webrtc.RTPCodecType]MediaTrack
	onState func(from, to State)
}

// New wires a peer for the call with remoteUserID. conn must not be started.
func New(ctx context.Context, conn core.MediaConnection, sig Signaler, remoteUserID string) (*Peer, error) {
	p := &Peer{
		conn:   conn,
		sig:    sig,
		remote: remoteUserID,
		local:  make(map[webrtc.RTPCodecType]MediaTrack),
	}
	conn.OnICECandidate(p.onLocalCandidate)
	conn.OnClosed(p.Teardown)
	if err := conn.Start(ctx); err != nil {
		return nil, newError("start", StateIdle, err)
	}
	return p, nil
}

func (p *Peer) RemoteUserID() string { return p.remote }

func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// RemoteConnectionID is the server connection of the other side, known once
// an offer or answer arrived from it.
func (p *Peer) RemoteConnectionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteCID
}

func (p *Peer) OnStateChange(fn func(from, to State)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

// setStateLocked must run under p.mu; the returned func notifies outside it.
func (p *Peer) setStateLocked(to State) func() {
	from := p.state
	p.state = to
	fn := p.onState
	if fn == nil || from == to {
		return func() {}
	}
	return func() { fn(from, to) }
}

// Call creates the offer and sends call-initiate.
func (p *Peer) Call(isVideo bool, callerName string) error {
	p.mu.Lock()
	if p.state != StateIdle {
		st := p.state
		p.mu.Unlock()
		return newError("call", st, ErrInvalidState)
	}
	kinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}
	if isVideo {
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	for _, k := range kinds {
		if err := p.conn.AddRecvOnly(k); err != nil {
			p.mu.Unlock()
			return newError("call", StateIdle, err)
		}
	}
	offer, err := p.conn.CreateAndSetOffer()
	if err != nil {
		p.mu.Unlock()
		return newError("call", StateIdle, err)
	}
	notify := p.setStateLocked(StateOffering)
	p.mu.Unlock()
	notify()

	raw, err := json.Marshal(offer)
	if err != nil {
		p.Teardown()
		return newError("call", StateOffering, err)
	}
	err = p.sig.Send(protocol.CallInitiate{
		Type:         protocol.TypeCallInitiate,
		TargetUserID: p.remote,
		Offer:        raw,
		CallerName:   callerName,
		IsVideo:      isVideo,
	})
	if err != nil {
		p.Teardown()
		return newError("call", StateOffering, err)
	}
	p.releaseOutbound()
	return nil
}

// HandleIncoming applies the caller's offer. The call waits in answering
// until Answer or Decline.
func (p *Peer) HandleIncoming(msg protocol.CallIncoming) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(msg.Offer, &offer); err != nil {
		return newError("incoming", p.State(), fmt.Errorf("decode offer: %w", err))
	}

	p.mu.Lock()
	if p.state != StateIdle {
		st := p.state
		p.mu.Unlock()
		return newError("incoming", st, ErrInvalidState)
	}
	if err := p.conn.SetRemoteDescription(offer); err != nil {
		p.mu.Unlock()
		return newError("incoming", StateIdle, err)
	}
	p.remoteCID = msg.CallerConnectionID
	notify := p.setStateLocked(StateAnswering)
	err := p.remoteDescriptionSetLocked()
	p.mu.Unlock()
	notify()
	return err
}

// Answer sends call-answer for the pending offer.
func (p *Peer) Answer() error {
	p.mu.Lock()
	if p.state != StateAnswering {
		st := p.state
		p.mu.Unlock()
		return newError("answer", st, ErrInvalidState)
	}
	answer, err := p.conn.CreateAndSetAnswer()
	if err != nil {
		p.mu.Unlock()
		return newError("answer", StateAnswering, err)
	}
	callerCID := p.remoteCID
	notify := p.setStateLocked(StateConnected)
	p.mu.Unlock()
	notify()

	raw, err := json.Marshal(answer)
	if err != nil {
		p.Teardown()
		return newError("answer", StateConnected, err)
	}
	err = p.sig.Send(protocol.CallAnswer{
		Type:               protocol.TypeCallAnswer,
		CallerConnectionID: callerCID,
		Answer:             raw,
	})
	if err != nil {
		p.Teardown()
		return newError("answer", StateConnected, err)
	}
	p.releaseOutbound()
	return nil
}

// Decline rejects the pending offer and closes the peer.
func (p *Peer) Decline() error {
	p.mu.Lock()
	if p.state != StateAnswering {
		st := p.state
		p.mu.Unlock()
		return newError("decline", st, ErrInvalidState)
	}
	callerCID := p.remoteCID
	p.mu.Unlock()

	err := p.sig.Send(protocol.CallDecline{
		Type:               protocol.TypeCallDecline,
		CallerConnectionID: callerCID,
	})
	p.Teardown()
	if err != nil {
		return newError("decline", StateAnswering, err)
	}
	return nil
}

// HandleAnswered applies the callee's answer.
func (p *Peer) HandleAnswered(msg protocol.CallAnswered) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(msg.Answer, &answer); err != nil {
		return newError("answered", p.State(), fmt.Errorf("decode answer: %w", err))
	}

	p.mu.Lock()
	if p.state != StateOffering {
		st := p.state
		p.mu.Unlock()
		return newError("answered", st, ErrInvalidState)
	}
	if err := p.conn.SetRemoteDescription(answer); err != nil {
		p.mu.Unlock()
		return newError("answered", StateOffering, err)
	}
	p.remoteCID = msg.ResponderConnectionID
	p.sessionID = msg.SessionID
	notify := p.setStateLocked(StateConnected)
	err := p.remoteDescriptionSetLocked()
	p.mu.Unlock()
	notify()
	return err
}

// HandleSignal dispatches a relayed signal message.
func (p *Peer) HandleSignal(msg protocol.Signal) error {
	switch msg.SignalType {
	case protocol.SignalCandidate:
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(msg.Signal, &c); err != nil {
			return newError("signal", p.State(), fmt.Errorf("decode candidate: %w", err))
		}
		return p.HandleCandidate(c)
	case protocol.SignalOffer:
		return p.handleRenegotiateOffer(msg.Signal)
	case protocol.SignalAnswer:
		return p.handleRenegotiateAnswer(msg.Signal)
	default:
		return newError("signal", p.State(), fmt.Errorf("%w: %q", ErrUnexpectedSignal, msg.SignalType))
	}
}

// HandleCandidate applies a remote candidate, or keeps it until the remote
// description is in place.
func (p *Peer) HandleCandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return newError("candidate", StateClosed, ErrClosed)
	}
	if !p.remoteSet {
		p.pending = append(p.pending, c)
		log.Debug().Str("module", "peer").Str("remote", p.remote).Int("buffered", len(p.pending)).Msg("candidate buffered")
		return nil
	}
	if err := p.conn.AddICECandidate(c); err != nil {
		return newError("candidate", p.state, err)
	}
	return nil
}

// remoteDescriptionSetLocked flushes buffered candidates; p.mu must be held.
func (p *Peer) remoteDescriptionSetLocked() error {
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	var firstErr error
	for _, c := range pending {
		if err := p.conn.AddICECandidate(c); err != nil && firstErr == nil {
			firstErr = newError("candidate", p.state, err)
		}
	}
	if len(pending) > 0 {
		log.Debug().Str("module", "peer").Str("remote", p.remote).Int("applied", len(pending)).Msg("buffered candidates applied")
	}
	return firstErr
}

func (p *Peer) onLocalCandidate(c webrtc.ICECandidateInit) {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	if !p.outReady {
		p.outQueue = append(p.outQueue, c)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.sendCandidate(c)
}

func (p *Peer) releaseOutbound() {
	p.mu.Lock()
	p.outReady = true
	queued := p.outQueue
	p.outQueue = nil
	p.mu.Unlock()
	for _, c := range queued {
		p.sendCandidate(c)
	}
}

func (p *Peer) sendCandidate(c webrtc.ICECandidateInit) {
	if err := p.sendSignal(protocol.SignalCandidate, c); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("remote", p.remote).Msg("send candidate")
	}
}

func (p *Peer) sendSignal(kind string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.sig.Send(protocol.Signal{
		Type:         protocol.TypeSignal,
		TargetUserID: p.remote,
		SignalType:   kind,
		Signal:       raw,
	})
}

// Renegotiate sends a fresh offer over the signal channel. Only needed when a
// new kind of track joins the call; same-kind swaps use ReplaceTrack.
func (p *Peer) Renegotiate() error {
	p.mu.Lock()
	if p.state != StateConnected {
		st := p.state
		p.mu.Unlock()
		return newError("renegotiate", st, ErrInvalidState)
	}
	offer, err := p.conn.CreateAndSetOffer()
	p.mu.Unlock()
	if err != nil {
		return newError("renegotiate", StateConnected, err)
	}
	return p.sendSignal(protocol.SignalOffer, offer)
}

func (p *Peer) handleRenegotiateOffer(raw json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return newError("renegotiate", p.State(), fmt.Errorf("decode offer: %w", err))
	}
	p.mu.Lock()
	if p.state != StateConnected {
		st := p.state
		p.mu.Unlock()
		return newError("renegotiate", st, ErrInvalidState)
	}
	if err := p.conn.SetRemoteDescription(offer); err != nil {
		p.mu.Unlock()
		return newError("renegotiate", StateConnected, err)
	}
	answer, err := p.conn.CreateAndSetAnswer()
	p.mu.Unlock()
	if err != nil {
		return newError("renegotiate", StateConnected, err)
	}
	return p.sendSignal(protocol.SignalAnswer, answer)
}

func (p *Peer) handleRenegotiateAnswer(raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return newError("renegotiate", p.State(), fmt.Errorf("decode answer: %w", err))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateConnected {
		return newError("renegotiate", p.state, ErrInvalidState)
	}
	if err := p.conn.SetRemoteDescription(answer); err != nil {
		return newError("renegotiate", StateConnected, err)
	}
	return nil
}

// AttachLocal adds a local track before the offer or answer is created.
func (p *Peer) AttachLocal(t MediaTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return newError("attach", StateClosed, ErrClosed)
	}
	kind := t.Track().Kind()
	if _, err := p.conn.AddLocalTrack(t.Track()); err != nil {
		return newError("attach", p.state, err)
	}
	if old, ok := p.local[kind]; ok {
		old.Stop()
	}
	p.local[kind] = t
	return nil
}

// ReplaceTrack swaps the outgoing track of kind on the existing sender,
// e.g. camera to screen share, without another offer/answer round.
func (p *Peer) ReplaceTrack(kind webrtc.RTPCodecType, t MediaTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return newError("replace", StateClosed, ErrClosed)
	}
	if err := p.conn.ReplaceTrack(kind, t.Track()); err != nil {
		return newError("replace", p.state, err)
	}
	if old, ok := p.local[kind]; ok && old != t {
		old.Stop()
	}
	p.local[kind] = t
	return nil
}

// Hangup tells the other side through call-end, then tears down. A call
// still ringing is cancelled by user id since the callee connection is not
// known yet. Repeated calls are no-ops.
func (p *Peer) Hangup() error {
	p.mu.Lock()
	st := p.state
	target := p.remoteCID
	p.mu.Unlock()
	if st == StateClosed {
		return nil
	}

	var err error
	if st != StateIdle {
		err = p.sig.Send(protocol.CallEnd{
			Type:               protocol.TypeCallEnd,
			TargetConnectionID: target,
			TargetUserID:       p.remote,
		})
	}
	p.Teardown()
	if err != nil {
		return newError("hangup", StateClosed, err)
	}
	return nil
}

// Teardown closes media without sending anything; used when the other side
// or the server already ended the call. Safe to call any number of times.
func (p *Peer) Teardown() {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	notify := p.setStateLocked(StateClosed)
	local := p.local
	p.local = make(map[webrtc.RTPCodecType]MediaTrack)
	p.pending = nil
	p.outQueue = nil
	p.mu.Unlock()

	for _, t := range local {
		t.Stop()
	}
	p.conn.Close()
	log.Info().Str("module", "peer").Str("remote", p.remote).Msg("peer closed")
	notify()
}

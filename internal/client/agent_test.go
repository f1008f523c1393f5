package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Callbridge/internal/core"
	"github.com/dkeye/Callbridge/internal/peer"
	"github.com/dkeye/Callbridge/internal/protocol"
	"github.com/pion/webrtc/v4"
)

type fakeTransport struct {
	mu     sync.Mutex
	sent   []any
	in     chan []byte
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 16)}
}

func (f *fakeTransport) Send(msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Incoming() <-chan []byte { return f.in }

func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeTransport) messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

func (f *fakeTransport) last() any {
	msgs := f.messages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// stubMedia is the smallest MediaConnection the peer state machine accepts.
type stubMedia struct {
	mu       sync.Mutex
	closed   bool
	onClosed func()
}

var _ core.MediaConnection = (*stubMedia)(nil)

func (s *stubMedia) Start(context.Context) error { return nil }
func (s *stubMedia) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
func (s *stubMedia) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cb := s.onClosed
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}
func (s *stubMedia) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}, nil
}
func (s *stubMedia) CreateAndSetAnswer() (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}, nil
}
func (s *stubMedia) SetRemoteDescription(webrtc.SessionDescription) error { return nil }
func (s *stubMedia) AddICECandidate(webrtc.ICECandidateInit) error { return nil }
func (s *stubMedia) OnICECandidate(func(webrtc.ICECandidateInit)) {}
func (s *stubMedia) OnTrack(func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {
}
func (s *stubMedia) AddLocalTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) { return nil, nil }
func (s *stubMedia) AddRecvOnly(webrtc.RTPCodecType) error { return nil }
func (s *stubMedia) ReplaceTrack(webrtc.RTPCodecType, webrtc.TrackLocal) error { return nil }
func (s *stubMedia) OnClosed(fn func()) { s.onClosed = fn }

func newTestAgent(t *testing.T, self string, hooks Hooks) (*Agent, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	a := NewAgent(tr, Identity{UserID: self, DisplayName: self + "-name"},
		func(string) (core.MediaConnection, error) { return &stubMedia{}, nil },
		WithHooks(hooks))
	return a, tr
}

func raw(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func sdp(t *testing.T, typ webrtc.SDPType) json.RawMessage {
	return raw(t, webrtc.SessionDescription{Type: typ, SDP: "v=0"})
}

func TestAgentPresence(t *testing.T) {
	var views [][]protocol.PresenceUser
	a, _ := newTestAgent(t, "alice", Hooks{OnPresence: func(u []protocol.PresenceUser) { views = append(views, u) }})

	a.dispatch(raw(t, protocol.PresenceSnapshot{Type: protocol.TypePresenceSnapshot, Users: []protocol.PresenceUser{{UserID: "carol"}}}))
	a.dispatch(raw(t, protocol.Presence{Type: protocol.TypePresenceOnline, PresenceUser: protocol.PresenceUser{UserID: "bob"}}))
	a.dispatch(raw(t, protocol.Presence{Type: protocol.TypePresenceOnline, PresenceUser: protocol.PresenceUser{UserID: "alice"}}))

	online := a.Online()
	if len(online) != 2 || online[0].UserID != "bob" || online[1].UserID != "carol" {
		t.Fatalf("online = %v", online)
	}

	a.dispatch(raw(t, protocol.Presence{Type: protocol.TypePresenceOffline, PresenceUser: protocol.PresenceUser{UserID: "carol"}}))
	if online := a.Online(); len(online) != 1 {
		t.Fatalf("online after offline = %v", online)
	}
	if len(views) != 3 {
		t.Fatalf("presence hook calls = %d", len(views))
	}
}

func connectedCall(t *testing.T, a *Agent, tr *fakeTransport) *peer.Peer {
	t.Helper()
	p, err := a.Call("bob", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.last().(protocol.CallInitiate); !ok {
		t.Fatalf("sent = %#v", tr.last())
	}
	a.dispatch(raw(t, protocol.CallAnswered{
		Type:                  protocol.TypeCallAnswered,
		Answer:                sdp(t, webrtc.SDPTypeAnswer),
		ResponderID:           "bob",
		ResponderConnectionID: "c-bob",
		SessionID:             "alice#bob",
	}))
	if p.State() != peer.StateConnected {
		t.Fatalf("state = %s", p.State())
	}
	return p
}

func TestAgentRemoteEndRepliesWithCallEnd(t *testing.T) {
	a, tr := newTestAgent(t, "alice", Hooks{})
	p := connectedCall(t, a, tr)

	a.dispatch(raw(t, protocol.CallEnded{Type: protocol.TypeCallEnded, SessionID: "alice#bob", UserID: "bob", Reason: protocol.EndReasonHangup}))

	end, ok := tr.last().(protocol.CallEnd)
	if !ok || end.TargetConnectionID != "c-bob" {
		t.Fatalf("sent = %#v", tr.last())
	}
	if p.State() != peer.StateClosed {
		t.Fatal("peer still open")
	}
	if _, ok := a.Peer("bob"); ok {
		t.Fatal("closed peer still tracked")
	}
}

func TestAgentForcedEndTearsDownSilently(t *testing.T) {
	a, tr := newTestAgent(t, "alice", Hooks{})
	p := connectedCall(t, a, tr)
	before := len(tr.messages())

	a.dispatch(raw(t, protocol.CallEnded{Type: protocol.TypeCallEnded, SessionID: "alice#bob", Reason: protocol.EndReasonForced}))

	if p.State() != peer.StateClosed {
		t.Fatal("forced end did not close the peer")
	}
	if len(tr.messages()) != before {
		t.Fatalf("forced end sent %#v", tr.last())
	}
}

func TestAgentUserDisconnected(t *testing.T) {
	a, tr := newTestAgent(t, "alice", Hooks{})
	p := connectedCall(t, a, tr)

	a.dispatch(raw(t, protocol.UserDisconnected{Type: protocol.TypeUserDisconnected, UserID: "bob"}))
	if p.State() != peer.StateClosed {
		t.Fatal("peer still open")
	}
	if _, ok := tr.last().(protocol.CallEnd); !ok {
		t.Fatalf("sent = %#v", tr.last())
	}
}

func TestAgentBusy(t *testing.T) {
	a, _ := newTestAgent(t, "alice", Hooks{})
	if _, err := a.Call("bob", false); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Call("bob", false); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v", err)
	}
	if err := a.Hangup("carol"); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("err = %v", err)
	}
}

func TestAgentOfflineTargetClosesPeer(t *testing.T) {
	a, _ := newTestAgent(t, "alice", Hooks{})
	p, _ := a.Call("bob", false)

	a.dispatch(raw(t, protocol.Error{Type: protocol.TypeError, For: protocol.TypeCallInitiate, TargetUserID: "bob", Message: "user is offline"}))
	if p.State() != peer.StateClosed {
		t.Fatal("peer still open")
	}
}

func TestAgentDeclinedClosesPeer(t *testing.T) {
	a, _ := newTestAgent(t, "alice", Hooks{})
	p, _ := a.Call("bob", false)

	a.dispatch(raw(t, protocol.CallDeclined{Type: protocol.TypeCallDeclined, ResponderID: "bob"}))
	if p.State() != peer.StateClosed {
		t.Fatal("peer still open")
	}
}

func incoming(t *testing.T) []byte {
	return raw(t, protocol.CallIncoming{
		Type:               protocol.TypeCallIncoming,
		Offer:              sdp(t, webrtc.SDPTypeOffer),
		CallerID:           "bob",
		CallerName:         "Bob",
		CallerConnectionID: "c-bob",
	})
}

func TestAgentIncomingWithoutHookDeclines(t *testing.T) {
	a, tr := newTestAgent(t, "alice", Hooks{})
	a.dispatch(incoming(t))

	d, ok := tr.last().(protocol.CallDecline)
	if !ok || d.CallerConnectionID != "c-bob" {
		t.Fatalf("sent = %#v", tr.last())
	}
	if _, ok := a.Peer("bob"); ok {
		t.Fatal("declined peer still tracked")
	}
}

func TestAgentIncomingAnswered(t *testing.T) {
	var states []peer.State
	a, tr := newTestAgent(t, "alice", Hooks{
		OnIncoming: func(p *peer.Peer, msg protocol.CallIncoming) {
			if msg.CallerName != "Bob" {
				t.Errorf("caller name = %q", msg.CallerName)
			}
			if err := p.Answer(); err != nil {
				t.Errorf("answer: %v", err)
			}
		},
		OnPeerState: func(_ string, _, to peer.State) { states = append(states, to) },
	})
	a.dispatch(incoming(t))

	ans, ok := tr.last().(protocol.CallAnswer)
	if !ok || ans.CallerConnectionID != "c-bob" {
		t.Fatalf("sent = %#v", tr.last())
	}
	p, ok := a.Peer("bob")
	if !ok || p.State() != peer.StateConnected {
		t.Fatal("answered peer not connected")
	}

	// a second ring from the same user while connected is refused
	a.dispatch(incoming(t))
	if _, ok := tr.last().(protocol.CallDecline); !ok {
		t.Fatalf("sent = %#v", tr.last())
	}
	if p.State() != peer.StateConnected {
		t.Fatal("existing call disturbed")
	}
	if len(states) == 0 || states[len(states)-1] != peer.StateConnected {
		t.Fatalf("states = %v", states)
	}
}

func TestAgentRun(t *testing.T) {
	registered := make(chan protocol.Registered, 1)
	a, tr := newTestAgent(t, "alice", Hooks{OnRegistered: func(m protocol.Registered) { registered <- m }})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	tr.in <- raw(t, protocol.Registered{Type: protocol.TypeRegistered, ConnectionID: "c-alice", UserID: "alice"})
	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("registered hook not called")
	}
	if a.ConnectionID() != "c-alice" {
		t.Fatalf("connection id = %q", a.ConnectionID())
	}
	if reg, ok := tr.messages()[0].(protocol.Register); !ok || reg.UserID != "alice" || reg.DisplayName != "alice-name" {
		t.Fatalf("first message = %#v", tr.messages()[0])
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	tr.mu.Lock()
	closed := tr.closed
	tr.mu.Unlock()
	if !closed {
		t.Fatal("transport not closed")
	}
}

func TestAgentRunTransportLost(t *testing.T) {
	a, tr := newTestAgent(t, "alice", Hooks{})
	p, _ := a.Call("bob", false)

	close(tr.in)
	if err := a.Run(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("run = %v", err)
	}
	if p.State() != peer.StateClosed {
		t.Fatal("peer survived the lost transport")
	}
}

func TestAgentCancelStopsRinging(t *testing.T) {
	var ringing *peer.Peer
	a, tr := newTestAgent(t, "alice", Hooks{
		OnIncoming: func(p *peer.Peer, _ protocol.CallIncoming) { ringing = p },
	})
	a.dispatch(incoming(t))
	if ringing == nil || ringing.State() != peer.StateAnswering {
		t.Fatal("call not ringing")
	}
	before := len(tr.messages())

	a.dispatch(raw(t, protocol.CallEnded{Type: protocol.TypeCallEnded, UserID: "bob", Reason: protocol.EndReasonCancel}))

	if ringing.State() != peer.StateClosed {
		t.Fatal("ring not stopped")
	}
	if len(tr.messages()) != before {
		t.Fatalf("cancel answered with %#v", tr.last())
	}
	if _, ok := a.Peer("bob"); ok {
		t.Fatal("cancelled peer still tracked")
	}
}

func TestAgentCancelAfterAnswerLeavesSession(t *testing.T) {
	a, tr := newTestAgent(t, "alice", Hooks{
		OnIncoming: func(p *peer.Peer, _ protocol.CallIncoming) { _ = p.Answer() },
	})
	a.dispatch(incoming(t))

	a.dispatch(raw(t, protocol.CallEnded{Type: protocol.TypeCallEnded, UserID: "bob", Reason: protocol.EndReasonCancel}))

	end, ok := tr.last().(protocol.CallEnd)
	if !ok || end.TargetConnectionID != "c-bob" {
		t.Fatalf("sent = %#v", tr.last())
	}
}

func TestAgentHangupWhileRingingThenLateAnswer(t *testing.T) {
	a, tr := newTestAgent(t, "alice", Hooks{})
	if _, err := a.Call("bob", false); err != nil {
		t.Fatal(err)
	}
	if err := a.Hangup("bob"); err != nil {
		t.Fatal(err)
	}
	cancel, ok := tr.last().(protocol.CallEnd)
	if !ok || cancel.TargetUserID != "bob" {
		t.Fatalf("sent = %#v", tr.last())
	}

	a.dispatch(raw(t, protocol.CallAnswered{
		Type:                  protocol.TypeCallAnswered,
		Answer:                sdp(t, webrtc.SDPTypeAnswer),
		ResponderID:           "bob",
		ResponderConnectionID: "c-bob",
		SessionID:             "alice#bob",
	}))

	end, ok := tr.last().(protocol.CallEnd)
	if !ok || end.TargetConnectionID != "c-bob" || end.TargetUserID != "bob" {
		t.Fatalf("late answer not refused: %#v", tr.last())
	}
	if _, ok := a.Peer("bob"); ok {
		t.Fatal("late answer revived the peer")
	}
}

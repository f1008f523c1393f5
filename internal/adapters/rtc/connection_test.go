package rtc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Callbridge/internal/core"
	"github.com/pion/webrtc/v4"
)

func opusTrack(t *testing.T, id string) *webrtc.TrackLocalStaticSample {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, id, "test")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample: %v", err)
	}
	return track
}

func newStarted(t *testing.T, ctx context.Context, label string) (*WebRTCConnection, chan webrtc.ICECandidateInit) {
	t.Helper()
	c, err := NewWebRTCConnection(webrtc.Configuration{}, label)
	if err != nil {
		t.Fatalf("NewWebRTCConnection(%s): %v", label, err)
	}
	t.Cleanup(c.Close)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start(%s): %v", label, err)
	}
	cands := make(chan webrtc.ICECandidateInit, 64)
	c.OnICECandidate(func(ci webrtc.ICECandidateInit) { cands <- ci })
	return c, cands
}

// trickle feeds candidates gathered on one side to the other until ctx ends.
func trickle(ctx context.Context, cands <-chan webrtc.ICECandidateInit, to *WebRTCConnection) {
	for {
		select {
		case <-ctx.Done():
			return
		case ci := <-cands:
			_ = to.AddICECandidate(ci)
		}
	}
}

func waitState(t *testing.T, c *WebRTCConnection, want webrtc.PeerConnectionState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.pc.ConnectionState() != want {
		if time.Now().After(deadline) {
			t.Fatalf("%s: state = %s, want %s", c.label, c.pc.ConnectionState(), want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// connectedPair returns a sending audio to b over loopback, candidates
// exchanged after the descriptions the way signaling trickles them.
func connectedPair(t *testing.T) (a, b *WebRTCConnection) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	a, aCands := newStarted(t, ctx, "a")
	b, bCands := newStarted(t, ctx, "b")

	if _, err := a.AddLocalTrack(opusTrack(t, "audio")); err != nil {
		t.Fatalf("AddLocalTrack: %v", err)
	}
	offer, err := a.CreateAndSetOffer()
	if err != nil {
		t.Fatalf("CreateAndSetOffer: %v", err)
	}
	if err := b.SetRemoteDescription(*offer); err != nil {
		t.Fatalf("b.SetRemoteDescription: %v", err)
	}
	answer, err := b.CreateAndSetAnswer()
	if err != nil {
		t.Fatalf("CreateAndSetAnswer: %v", err)
	}
	if err := a.SetRemoteDescription(*answer); err != nil {
		t.Fatalf("a.SetRemoteDescription: %v", err)
	}

	go trickle(ctx, aCands, b)
	go trickle(ctx, bCands, a)

	waitState(t, a, webrtc.PeerConnectionStateConnected)
	waitState(t, b, webrtc.PeerConnectionStateConnected)
	return a, b
}

func TestTrickledCandidatesConnect(t *testing.T) {
	_, b := connectedPair(t)

	before := len(b.pc.GetTransceivers())
	if err := b.AddRecvOnly(webrtc.RTPCodecTypeAudio); err != nil {
		t.Fatalf("AddRecvOnly: %v", err)
	}
	if got := len(b.pc.GetTransceivers()); got != before {
		t.Fatalf("transceivers = %d, want %d", got, before)
	}
}

func TestReplaceTrackKeepsNegotiation(t *testing.T) {
	a, _ := connectedPair(t)
	sdp := a.pc.LocalDescription().SDP

	next := opusTrack(t, "audio-2")
	if err := a.ReplaceTrack(webrtc.RTPCodecTypeAudio, next); err != nil {
		t.Fatalf("ReplaceTrack: %v", err)
	}

	senders := a.pc.GetSenders()
	if len(senders) != 1 || senders[0].Track() != next {
		t.Fatalf("sender track not swapped")
	}
	if s := a.pc.SignalingState(); s != webrtc.SignalingStateStable {
		t.Fatalf("signaling state = %s", s)
	}
	if a.pc.LocalDescription().SDP != sdp {
		t.Fatal("replace produced a new local description")
	}
	if err := a.ReplaceTrack(webrtc.RTPCodecTypeVideo, next); !errors.Is(err, core.ErrNoSender) {
		t.Fatalf("video replace err = %v", err)
	}
}

func TestCloseFiresOnClosedOnce(t *testing.T) {
	a, _ := connectedPair(t)

	var fired atomic.Int32
	a.OnClosed(func() { fired.Add(1) })

	a.Close()
	a.Close()
	// the closed state change arrives on pion's goroutine
	time.Sleep(200 * time.Millisecond)

	if n := fired.Load(); n != 1 {
		t.Fatalf("OnClosed fired %d times", n)
	}
	if !a.IsClosed() {
		t.Fatal("IsClosed = false")
	}
}

func TestContextCancelCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, _ := newStarted(t, ctx, "solo")

	done := make(chan struct{})
	c.OnClosed(func() { close(done) })
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for close")
	}
	if !c.IsClosed() {
		t.Fatal("IsClosed = false")
	}
}

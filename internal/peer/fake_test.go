package peer

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dkeye/Callbridge/internal/core"
	"github.com/pion/webrtc/v4"
)

type fakeMedia struct {
	mu          sync.Mutex
	closed      bool
	remote      []webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	recvOnly    []webrtc.RTPCodecType
	senders     map[webrtc.RTPCodecType]webrtc.TrackLocal
	onCandidate func(webrtc.ICECandidateInit)
	onClosed    func()
}

var _ core.MediaConnection = (*fakeMedia)(nil)

func newFakeMedia() *fakeMedia {
	return &fakeMedia{senders: make(map[webrtc.RTPCodecType]webrtc.TrackLocal)}
}

func (f *fakeMedia) Start(context.Context) error { return nil }

func (f *fakeMedia) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	cb := f.onClosed
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (f *fakeMedia) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeMedia) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeMedia) CreateAndSetAnswer() (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeMedia) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = append(f.remote, d)
	return nil
}

func (f *fakeMedia) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeMedia) OnICECandidate(fn func(webrtc.ICECandidateInit)) { f.onCandidate = fn }

func (f *fakeMedia) OnTrack(func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (f *fakeMedia) AddLocalTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.senders[t.Kind()] = t
	return nil, nil
}

func (f *fakeMedia) AddRecvOnly(kind webrtc.RTPCodecType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recvOnly = append(f.recvOnly, kind)
	return nil
}

func (f *fakeMedia) ReplaceTrack(kind webrtc.RTPCodecType, t webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.senders[kind]; !ok {
		return core.ErrNoSender
	}
	f.senders[kind] = t
	return nil
}

func (f *fakeMedia) OnClosed(fn func()) { f.onClosed = fn }

// emit plays a locally gathered candidate, as pion does from its own goroutine.
func (f *fakeMedia) emit(c webrtc.ICECandidateInit) { f.onCandidate(c) }

func (f *fakeMedia) applied() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.candidates...)
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []any
}

func (s *fakeSignaler) Send(msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSignaler) messages() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.sent...)
}

type fakeTrack struct {
	track   webrtc.TrackLocal
	stopped bool
}

func newFakeTrack(kind webrtc.RTPCodecType, id string) *fakeTrack {
	mime := webrtc.MimeTypeOpus
	if kind == webrtc.RTPCodecTypeVideo {
		mime = webrtc.MimeTypeVP8
	}
	t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "test")
	if err != nil {
		panic(err)
	}
	return &fakeTrack{track: t}
}

func (t *fakeTrack) Track() webrtc.TrackLocal { return t.track }
func (t *fakeTrack) Stop() { t.stopped = true }

func candidate(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func sdpJSON(typ webrtc.SDPType) json.RawMessage {
	b, _ := json.Marshal(webrtc.SessionDescription{Type: typ, SDP: "v=0 " + typ.String()})
	return b
}

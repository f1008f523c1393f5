package core

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrNoSender is returned by ReplaceTrack when nothing sends that kind yet.
var ErrNoSender = errors.New("no sender for track kind")

// MediaConnection is the opaque peer-connection handle driven by the client
// call state machine. Media capture and codecs stay behind it.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
	// CreateAndSetOffer creates an offer and applies it as local description.
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// CreateAndSetAnswer answers the already applied remote offer.
	CreateAndSetAnswer() (*webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// AddLocalTrack attaches a local track to the underlying PeerConnection.
	AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	// AddRecvOnly makes sure the offer asks for kind even without a local
	// track of that kind.
	AddRecvOnly(kind webrtc.RTPCodecType) error
	// ReplaceTrack swaps the track on the existing sender of the same kind
	// without renegotiation.
	ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error
	// OnClosed sets a callback for cleanup media session.
	OnClosed(func())
}

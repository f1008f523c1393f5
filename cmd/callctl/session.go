package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dkeye/Callbridge/internal/adapters/rtc"
	"github.com/dkeye/Callbridge/internal/client"
	"github.com/dkeye/Callbridge/internal/core"
	"github.com/dkeye/Callbridge/internal/peer"
	"github.com/dkeye/Callbridge/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// connect dials the server and builds an agent with pion media.
func connect(ctx context.Context, hooks client.Hooks) (*client.Agent, error) {
	c, err := client.Dial(ctx, flagServer, nil)
	if err != nil {
		return nil, err
	}

	var stun []string
	if flagSTUN != "" {
		stun = []string{flagSTUN}
	}
	cfg := rtc.ConfigWithSTUN(stun...)

	newMedia := func(remote string) (core.MediaConnection, error) {
		conn, err := rtc.NewWebRTCConnection(cfg, remote)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	self := client.Identity{UserID: flagUser, DisplayName: flagName}
	return client.NewAgent(c, self, newMedia,
		client.WithHooks(hooks),
		client.WithLocalTracks(localTracks),
	), nil
}

func printPresence(users []protocol.PresenceUser) {
	if len(users) == 0 {
		fmt.Println("nobody else is online")
		return
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, fmt.Sprintf("%s (%s)", u.UserID, u.DisplayName))
	}
	fmt.Println("online:", strings.Join(names, ", "))
}

func printState(remote string, from, to peer.State) {
	fmt.Printf("%s: %s -> %s\n", remote, from, to)
}

// silentTrack is a local track that never carries samples. It lets the
// offer negotiate a sendrecv media section without a capture device.
type silentTrack struct {
	track *webrtc.TrackLocalStaticSample
}

func (t *silentTrack) Track() webrtc.TrackLocal { return t.track }

func (t *silentTrack) Stop() {
	log.Debug().Str("module", "callctl").Str("track", t.track.ID()).Msg("local track stopped")
}

func localTracks() ([]peer.MediaTrack, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "callctl-"+flagUser)
	if err != nil {
		return nil, err
	}
	tracks := []peer.MediaTrack{&silentTrack{track: audio}}
	if flagVideo {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "callctl-"+flagUser)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, &silentTrack{track: video})
	}
	return tracks, nil
}

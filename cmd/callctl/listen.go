package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkeye/Callbridge/internal/client"
	"github.com/dkeye/Callbridge/internal/peer"
	"github.com/dkeye/Callbridge/internal/protocol"
	"github.com/spf13/cobra"
)

var flagDecline bool

var listenCmd = &cobra.Command{
	Use:     "listen",
	Aliases: []string{"l"},
	Short:   "Stay online, print presence and answer incoming calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return listen(ctx)
	},
}

func init() {
	listenCmd.Flags().BoolVar(&flagDecline, "decline", false, "decline incoming calls instead of answering")
}

func listen(ctx context.Context) error {
	hooks := client.Hooks{
		OnRegistered: func(m protocol.Registered) {
			fmt.Printf("registered as %s (connection %s)\n", m.UserID, m.ConnectionID)
		},
		OnPresence:  printPresence,
		OnPeerState: printState,
		OnIncoming: func(p *peer.Peer, m protocol.CallIncoming) {
			kind := "audio"
			if m.IsVideo {
				kind = "video"
			}
			fmt.Printf("incoming %s call from %s (%s)\n", kind, m.CallerID, m.CallerName)
			var err error
			if flagDecline {
				err = p.Decline()
			} else {
				err = p.Answer()
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, "call:", err)
			}
		},
		OnError: func(m protocol.Error) {
			fmt.Fprintln(os.Stderr, "server:", m.Message)
		},
	}

	agent, err := connect(ctx, hooks)
	if err != nil {
		return err
	}
	err = agent.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

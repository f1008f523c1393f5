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

var callCmd = &cobra.Command{
	Use:   "call <userId>",
	Short: "Call a user and stay in the call until either side hangs up",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return call(ctx, args[0])
	},
}

func call(ctx context.Context, target string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	registered := make(chan struct{})
	hooks := client.Hooks{
		OnRegistered: func(m protocol.Registered) {
			fmt.Printf("registered as %s (connection %s)\n", m.UserID, m.ConnectionID)
			close(registered)
		},
		OnPeerState: func(remote string, from, to peer.State) {
			printState(remote, from, to)
			if remote == target && to == peer.StateClosed {
				cancel()
			}
		},
		OnIncoming: func(p *peer.Peer, m protocol.CallIncoming) {
			fmt.Printf("busy, declining call from %s\n", m.CallerID)
			_ = p.Decline()
		},
		OnError: func(m protocol.Error) {
			fmt.Fprintln(os.Stderr, "server:", m.Message)
		},
	}

	agent, err := connect(ctx, hooks)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	select {
	case <-registered:
	case err := <-done:
		return err
	}

	fmt.Printf("calling %s...\n", target)
	if _, err := agent.Call(target, flagVideo); err != nil {
		cancel()
		<-done
		return err
	}

	err = <-done
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	flagServer  string
	flagUser    string
	flagName    string
	flagSTUN    string
	flagVideo   bool
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "callctl",
	Short: "Command-line client of the Callbridge signaling server",
	Long: `callctl registers with a Callbridge signaling server, shows who is online and
places or answers calls with a real WebRTC peer connection.

Examples:
  callctl listen --user bob
  callctl call alice --user bob --video`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagVerbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
		if flagUser == "" {
			return fmt.Errorf("--user is required")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "ws://localhost:8080/api/ws/signal", "signaling server websocket url")
	rootCmd.PersistentFlags().StringVarP(&flagUser, "user", "u", "", "user id to register as")
	rootCmd.PersistentFlags().StringVarP(&flagName, "name", "n", "", "display name (defaults to the user id)")
	rootCmd.PersistentFlags().StringVar(&flagSTUN, "stun", "stun:stun.l.google.com:19302", "STUN server url, empty for host candidates only")
	rootCmd.PersistentFlags().BoolVar(&flagVideo, "video", false, "offer video as well as audio")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(listenCmd, callCmd)
}

func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

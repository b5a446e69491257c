package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "voicehub",
	Short: "Real-time voice rooms, screen sharing and call signaling over WebSockets",
	Long: `voicehub relays audio and screen frames between members of named rooms and
routes WebRTC call signaling between registered users.

Running voicehub without a subcommand starts the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	addServeFlags(rootCmd)
	rootCmd.AddCommand(serveCmd, roomsCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

package cmd

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/peerline/peerline/internal/ui"
	"github.com/peerline/peerline/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "peerline",
	Short:   "Peer matchmaking and WebRTC session tool for two-player games",
	Long:    `Peerline pairs two players and negotiates a direct WebRTC connection between them. Matches can be brokered through the peerline relay server or, for same-host experiments, through a shared broadcast store with leader election. Once connected the peers exchange game traffic over reliable and unreliable data channels.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		os.Exit(0)
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/peerline/peerline/internal/config"
	"github.com/peerline/peerline/internal/matchmaking"
	"github.com/peerline/peerline/internal/peer"
	"github.com/peerline/peerline/internal/session"
	"github.com/peerline/peerline/internal/signaling"
	"github.com/peerline/peerline/internal/ui"
)

var (
	flagServer string
	flagSTUN   []string
)

var playCmd = &cobra.Command{
	Use:     "play",
	Aliases: []string{"p"},
	Short:   "Find an opponent through the relay server and connect",
	Long: `Connect to the relay server, wait for an opponent, and negotiate a
direct WebRTC connection. Once the data channels open, lines typed on
stdin are sent to the opponent over the reliable channel.

Examples:
  peerline play
  peerline play --server ws://relay.example.com/ws
  peerline play --stun stun:stun.example.com:3478`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return play()
	},
}

func play() error {
	cfg, err := config.Load(config.Options{
		ServerURL:   flagServer,
		STUNServers: flagSTUN,
	})
	if err != nil {
		return err
	}

	logger := slog.Default()

	connSpinner := ui.NewConnectionSpinner("Connecting to relay server...")
	connSpinner.Start()
	transport := signaling.NewRelayTransport(cfg.ServerURL, logger)
	if err := transport.Connect(); err != nil {
		connSpinner.Error("Could not reach relay server")
		return err
	}
	connSpinner.Success("Connected to relay server")

	matcher := matchmaking.NewRelayMatcher(transport, logger)
	p := peer.New(transport, matcher, "", session.Config{
		ICEServers: cfg.ICEServers(),
	}, logger)
	defer p.Close()

	channelOpen := make(chan struct{})
	connectionLost := make(chan struct{})
	p.OnChannelOpen(func() {
		close(channelOpen)
	})
	p.OnConnectionLost(func() {
		close(connectionLost)
	})
	p.OnData(func(payload []byte, channel session.Channel) {
		msg, err := session.ParseMessage(payload)
		if err != nil {
			logger.Warn("dropping undecodable message", "error", err)
			return
		}
		if msg.Type != "chat" {
			return
		}
		var text string
		if err := msg.DecodePayload(&text); err != nil {
			logger.Warn("dropping malformed chat payload", "error", err)
			return
		}
		fmt.Printf("%s %s\n", ui.BoldStyle.Render("peer>"), text)
	})

	waitSpinner := ui.NewWaitingSpinner("Waiting for an opponent...")
	waitSpinner.Start()
	result, err := p.Connect(context.Background())
	if err != nil {
		waitSpinner.Error("Matchmaking failed")
		return err
	}
	waitSpinner.Stop()

	ui.RenderMatchSummary(ui.IconGame+" Match Found", ui.MatchSummary{
		RoomID:   result.RoomID,
		Role:     result.Role,
		SelfID:   matcher.ClientID(),
		Opponent: result.OpponentID,
	})

	fmt.Println()
	openSpinner := ui.NewSimpleSpinner("Negotiating connection...")
	openSpinner.Start()
	select {
	case <-channelOpen:
		openSpinner.Success("Data channels open")
	case <-connectionLost:
		openSpinner.Error("Opponent disconnected during negotiation")
		return fmt.Errorf("connection lost")
	case <-time.After(30 * time.Second):
		openSpinner.Error("Negotiation timed out")
		return fmt.Errorf("negotiation timed out")
	}

	ui.PrintInfo("Type a line and press enter to send. Ctrl+D to quit.")
	return chatLoop(p, connectionLost)
}

func chatLoop(p *peer.Peer, connectionLost <-chan struct{}) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-connectionLost:
			ui.PrintWarning("Opponent disconnected")
			return nil

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			msg, err := session.NewMessage("chat", line)
			if err != nil {
				return err
			}
			if !p.SendMessage(msg, true) {
				ui.PrintWarning("Message not sent, channel is not open")
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().StringVarP(&flagServer, "server", "s", "", "Relay server websocket URL")
	playCmd.Flags().StringSliceVar(&flagSTUN, "stun", nil, "STUN server URLs")
}

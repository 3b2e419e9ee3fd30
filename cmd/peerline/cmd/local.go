package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/peerline/peerline/internal/kvstore"
	"github.com/peerline/peerline/internal/matchmaking"
	"github.com/peerline/peerline/internal/peer"
	"github.com/peerline/peerline/internal/session"
	"github.com/peerline/peerline/internal/signaling"
	"github.com/peerline/peerline/internal/ui"
)

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Run a same-host matchmaking demo with two in-process peers",
	Long: `Start two peers inside one process that discover each other through a
shared broadcast store, elect roles, and connect over loopback WebRTC.
Useful for verifying the election and negotiation pipeline without a
relay server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLocal()
	},
}

func runLocal() error {
	logger := slog.Default()
	store := kvstore.NewMemoryStore()

	cfg := matchmaking.Config{
		LivenessWindow: 5 * time.Second,
		VerifyDelay:    50 * time.Millisecond,
		PollInterval:   50 * time.Millisecond,
	}

	spinner := ui.NewSimpleSpinner("Electing roles and negotiating...")
	spinner.Start()

	type outcome struct {
		name   string
		result *matchmaking.Result
		err    error
	}
	results := make(chan outcome, 2)
	received := make(chan string, 2)

	launch := func(name string) *peer.Peer {
		selfID := uuid.NewString()
		transport := signaling.NewBroadcastTransport(store, selfID, logger.With("peer", name))
		matcher := matchmaking.NewBroadcastMatcher(store, transport, selfID, cfg, logger.With("peer", name))
		p := peer.New(transport, matcher, selfID, session.Config{
			IncludeLoopback: true,
		}, logger.With("peer", name))

		p.OnData(func(payload []byte, channel session.Channel) {
			msg, err := session.ParseMessage(payload)
			if err != nil {
				return
			}
			var text string
			if msg.Type == "ping" && msg.DecodePayload(&text) == nil {
				received <- fmt.Sprintf("%s got %q on the %s channel", name, text, channel)
			}
		})
		p.OnChannelOpen(func() {
			msg, err := session.NewMessage("ping", "hello from "+name)
			if err != nil {
				return
			}
			p.SendMessage(msg, true)
		})

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			result, err := p.Connect(ctx)
			results <- outcome{name: name, result: result, err: err}
		}()
		return p
	}

	alpha := launch("alpha")
	defer alpha.Close()
	// Small stagger so both arrival orders get exercised across runs.
	time.Sleep(10 * time.Millisecond)
	beta := launch("beta")
	defer beta.Close()

	for i := 0; i < 2; i++ {
		out := <-results
		if out.err != nil {
			spinner.Error("Matchmaking failed")
			return fmt.Errorf("%s: %w", out.name, out.err)
		}
		spinner.Stop()
		ui.PrintSuccessf("%s matched as %s (room %s)", out.name, out.result.Role, out.result.RoomID)
	}

	for i := 0; i < 2; i++ {
		select {
		case line := <-received:
			ui.PrintSuccess(line)
		case <-time.After(30 * time.Second):
			return fmt.Errorf("timed out waiting for data channel traffic")
		}
	}

	ui.PrintSuccess("Local demo complete")
	return nil
}

func init() {
	rootCmd.AddCommand(localCmd)
}

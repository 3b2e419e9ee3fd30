package config

import (
	"testing"
	"time"

	"github.com/peerline/peerline/internal/matchmaking"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ServerURL != DefaultServerURL {
		t.Errorf("ServerURL = %q, want %q", cfg.ServerURL, DefaultServerURL)
	}
	if len(cfg.STUNServers) != 1 || cfg.STUNServers[0] != DefaultSTUN {
		t.Errorf("STUNServers = %v, want [%s]", cfg.STUNServers, DefaultSTUN)
	}
	if cfg.LivenessWindow != matchmaking.DefaultLivenessWindow {
		t.Errorf("LivenessWindow = %v, want %v", cfg.LivenessWindow, matchmaking.DefaultLivenessWindow)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("PEERLINE_SERVER", "ws://relay.example.com/ws")
	t.Setenv("STUN_SERVERS", "stun:a.example.com:3478,stun:b.example.com:3478")
	t.Setenv("PEERLINE_VERIFY_DELAY", "250ms")

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ServerURL != "ws://relay.example.com/ws" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if len(cfg.STUNServers) != 2 {
		t.Errorf("STUNServers = %v, want two entries", cfg.STUNServers)
	}
	if cfg.VerifyDelay != 250*time.Millisecond {
		t.Errorf("VerifyDelay = %v, want 250ms", cfg.VerifyDelay)
	}
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("PEERLINE_SERVER", "ws://env.example.com/ws")
	t.Setenv("PEERLINE_POLL_INTERVAL", "1s")

	cfg, err := Load(Options{
		ServerURL:    "ws://flag.example.com/ws",
		PollInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ServerURL != "ws://flag.example.com/ws" {
		t.Errorf("ServerURL = %q, flag should win over env", cfg.ServerURL)
	}
	if cfg.PollInterval != 50*time.Millisecond {
		t.Errorf("PollInterval = %v, flag should win over env", cfg.PollInterval)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("PEERLINE_LIVENESS_WINDOW", "soon")

	if _, err := Load(Options{}); err == nil {
		t.Fatal("Load accepted an unparseable duration")
	}
}

func TestICEServersWireForm(t *testing.T) {
	cfg, err := Load(Options{STUNServers: []string{"stun:a.example.com:3478"}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	servers := cfg.ICEServers()
	if len(servers) != 1 || len(servers[0].URLs) != 1 || servers[0].URLs[0] != "stun:a.example.com:3478" {
		t.Fatalf("ICEServers = %+v", servers)
	}

	mc := cfg.MatchConfig()
	if len(mc.ICEServers) != 1 {
		t.Fatalf("MatchConfig.ICEServers = %+v", mc.ICEServers)
	}
}

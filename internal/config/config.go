package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/peerline/peerline/internal/matchmaking"
	"github.com/peerline/peerline/internal/protocol"
)

// Default configuration values.
const (
	DefaultServerURL = "ws://localhost:8080/ws"
	DefaultSTUN      = "stun:stun.l.google.com:19302"
)

// Config holds application configuration.
type Config struct {
	// ServerURL is the relay server websocket endpoint.
	ServerURL string

	// STUNServers is the ICE server list, STUN-only with no credentials.
	STUNServers []string

	// Matchmaking timing knobs.
	LivenessWindow time.Duration
	VerifyDelay    time.Duration
	PollInterval   time.Duration
}

// Options for loading config with CLI flag overrides.
type Options struct {
	ServerURL      string
	STUNServers    []string
	LivenessWindow time.Duration
	VerifyDelay    time.Duration
	PollInterval   time.Duration
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	serverURL := opts.ServerURL
	if serverURL == "" {
		serverURL = os.Getenv("PEERLINE_SERVER")
	}
	if serverURL == "" {
		serverURL = DefaultServerURL
	}

	stunServers := opts.STUNServers
	if len(stunServers) == 0 {
		if env := os.Getenv("STUN_SERVERS"); env != "" {
			stunServers = strings.Split(env, ",")
		}
	}
	if len(stunServers) == 0 {
		stunServers = []string{DefaultSTUN}
	}

	livenessWindow, err := durationSetting(opts.LivenessWindow, "PEERLINE_LIVENESS_WINDOW", matchmaking.DefaultLivenessWindow)
	if err != nil {
		return nil, err
	}
	verifyDelay, err := durationSetting(opts.VerifyDelay, "PEERLINE_VERIFY_DELAY", matchmaking.DefaultVerifyDelay)
	if err != nil {
		return nil, err
	}
	pollInterval, err := durationSetting(opts.PollInterval, "PEERLINE_POLL_INTERVAL", matchmaking.DefaultPollInterval)
	if err != nil {
		return nil, err
	}

	return &Config{
		ServerURL:      serverURL,
		STUNServers:    stunServers,
		LivenessWindow: livenessWindow,
		VerifyDelay:    verifyDelay,
		PollInterval:   pollInterval,
	}, nil
}

func durationSetting(flag time.Duration, envKey string, fallback time.Duration) (time.Duration, error) {
	if flag != 0 {
		return flag, nil
	}
	if env := os.Getenv(envKey); env != "" {
		d, err := time.ParseDuration(env)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", envKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

// ICEServers returns the STUN list in wire form.
func (c *Config) ICEServers() []protocol.ICEServer {
	return []protocol.ICEServer{{URLs: c.STUNServers}}
}

// MatchConfig returns the matchmaking parameters.
func (c *Config) MatchConfig() matchmaking.Config {
	return matchmaking.Config{
		LivenessWindow: c.LivenessWindow,
		VerifyDelay:    c.VerifyDelay,
		PollInterval:   c.PollInterval,
		ICEServers:     c.ICEServers(),
	}
}

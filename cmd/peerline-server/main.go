package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/peerline/peerline/internal/config"
	"github.com/peerline/peerline/internal/logging"
	"github.com/peerline/peerline/internal/protocol"
	"github.com/peerline/peerline/internal/relay"
	"github.com/peerline/peerline/internal/server"
)

// Health Check endpoint
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Relay server is healthy."))
}

func main() {
	logging.Init()

	addr := flag.String("addr", "", "listen address (default :8080)")
	stun := flag.String("stun", "", "comma-separated STUN servers handed to matched peers")
	flag.Parse()

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = os.Getenv("PEERLINE_ADDR")
	}
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	stunServers := []string{config.DefaultSTUN}
	if *stun != "" {
		stunServers = strings.Split(*stun, ",")
	} else if env := os.Getenv("STUN_SERVERS"); env != "" {
		stunServers = strings.Split(env, ",")
	}

	logger := slog.Default()

	relayServer := relay.New(relay.Config{
		ICEServers: []protocol.ICEServer{{URLs: stunServers}},
	}, logger)
	go relayServer.Run()

	http.HandleFunc("/health", healthCheckHandler)
	http.HandleFunc("/ws", server.ServeWs(relayServer, logger))

	logger.Info("starting relay server", "addr", listenAddr)
	if err := http.ListenAndServe(listenAddr, nil); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

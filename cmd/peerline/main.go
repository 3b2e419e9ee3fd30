package main

import (
	"github.com/peerline/peerline/cmd/peerline/cmd"
	"github.com/peerline/peerline/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cmd.Execute()
}

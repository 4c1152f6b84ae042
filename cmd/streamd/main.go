// Package main is the entry point for the streamd daemon.
// streamd resolves catalog tracks to playable stream URLs, plays them through
// a single audio device and exposes the playback session to local clients
// over IPC and to the OS media session.
package main

import (
	"fmt"
	"os"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "status":
		err = handleStatus(ctx, args)
	case "start", "stop":
		err = handlePower(ctx, command, args)
	case "reload":
		err = handleReload(ctx, args)
	case "ratelimit":
		err = handleRateLimit(ctx, args)
	case "pending":
		err = handlePending(ctx, args)
	case "sessions":
		err = handleSessions(ctx, args)
	case "history":
		err = handleHistory(ctx, args)
	case "validate-config":
		err = handleValidateConfig(args)
	case "version":
		fmt.Printf("wakegate-admin version %s (commit: %s, built at: %s)\n", version, commit, date)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`wakegate Admin Tool

Usage:
  wakegate-admin <command> [options]

Commands:
  status            List managed backends, or show one with --server
  start             Send a start signal to a backend
  stop              Send a stop signal to a backend
  reload            Re-read the configuration file on the running service
  ratelimit         Show the last seen panel rate limit
  pending           List players waiting for a backend to come up
  sessions          List players currently attached to a backend
  history           Show recent power events from the audit store
  validate-config   Load and validate a configuration file locally
  version           Show version information
  help              Show this help message

Common options:
  --config string   Path to configuration file (default: wakegate.toml)
  --addr string     API address, overrides http_api.addr
  --key string      API key, overrides http_api.api_key

Examples:
  wakegate-admin status
  wakegate-admin status --server survival
  wakegate-admin start --server survival
  wakegate-admin history --server lobby --limit 20
  wakegate-admin validate-config --config /etc/wakegate/wakegate.toml

Use 'wakegate-admin <command> --help' for more information about a command.
`)
}

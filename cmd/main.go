package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `devlink - remote debug and control service for connected devices

Usage:
  devlink <command> [options]

Commands:
  serve                      Run the host (debug service, relay, monitor)
  start                      Write a default config if missing, then serve
  devices list               List known devices
  devices block <ip>         Block a device from connecting
  devices unblock <ip>       Allow a blocked device again
  devices rename <ip> <name> Set a device's display name
  devices history <ip>       Show a device's chat history
  devices delete <ip>        Forget a device and its history
  sessions                   Show recent debug sessions
  relay <request> [arg]      Send a control request to a host's UDP relay
  discover                   Browse the LAN for devlink hosts
  version                    Print the version
Run 'devlink <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "serve":
		return runServe(args[2:], stdout, stderr)
	case "start":
		return runStart(args[2:], stdout, stderr)
	case "devices":
		return runDevices(args[2:], stdout, stderr)
	case "sessions":
		return runSessions(args[2:], stdout, stderr)
	case "relay":
		return runRelay(args[2:], stdout, stderr)
	case "discover":
		return runDiscover(args[2:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "devlink %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	flag "github.com/spf13/pflag"

	"github.com/devlink/host/internal/relay"
)

const relayUsage = `Usage: devlink relay --addr <host:port> <request> [argument]

Send one control request to a host's UDP relay and print the confirmation.

Requests:
  Ping            check that the relay answers
  Start           start the debug service
  Stop            stop the debug service and close its sessions
  Block <ip>      block a device
  Unblock <ip>    unblock a device

Options:
`

// runRelay implements "devlink relay <request> [argument]".
func runRelay(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	fs.SetOutput(stderr)

	addr := fs.StringP("addr", "a", "", "Relay address host:port (required)")
	timeout := fs.Duration("timeout", relay.DefaultTimeout, "How long to wait for the confirmation")

	fs.Usage = func() {
		fmt.Fprint(stderr, relayUsage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if *addr == "" || fs.NArg() < 1 || fs.NArg() > 2 {
		fs.Usage()
		return 1
	}

	name := fs.Arg(0)
	argument := ""
	if fs.NArg() == 2 {
		argument = fs.Arg(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	reply, err := relay.Send(ctx, *addr, name, argument)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, reply)

	if reply != relay.FormatConfirm(name, argument) {
		fmt.Fprintf(stderr, "Warning: unexpected reply from %s\n", *addr)
		return 1
	}
	return 0
}

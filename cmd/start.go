package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/devlink/host/internal/config"
)

// runStart implements "devlink start": a convenience wrapper that
//  1. Creates ~/.devlink/config.toml with LAN-ready defaults if missing
//  2. Serves with the same options as "devlink serve"
func runStart(args []string, stdout, stderr io.Writer) int {
	cfg, err := parseServeFlags("start", args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	configPath, err := config.DefaultConfigPath()
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to determine config path: %v\n", err)
		return 1
	}
	if err := ensureDefaultConfig(configPath, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: failed to create config file: %v\n", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	return serve(cfg, sigCh, stdout, stderr)
}

// ensureDefaultConfig writes the default config at path unless a file is
// already there.
func ensureDefaultConfig(path string, stdout io.Writer) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(stdout, "Using config: %s\n", path)
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Created config: %s\n", path)
	return nil
}

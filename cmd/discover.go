package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/devlink/host/internal/mdns"
)

// runDiscover implements "devlink discover".
func runDiscover(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(stderr)

	wait := fs.DurationP("timeout", "t", 3*time.Second, "How long to browse")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: devlink discover [options]\n\nBrowse the LAN for devlink hosts advertised over mDNS.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *wait)
	defer cancel()

	hosts, err := mdns.Discover(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	writeDiscoveredHosts(stdout, hosts)
	return 0
}

func writeDiscoveredHosts(w io.Writer, hosts []mdns.DiscoveredHost) {
	if len(hosts) == 0 {
		fmt.Fprintln(w, "No devlink hosts found.")
		return
	}

	sort.Slice(hosts, func(i, j int) bool {
		return hosts[i].Name < hosts[j].Name
	})

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tVERSION\tRELAY")
	for _, h := range hosts {
		relayPort := "-"
		if h.RelayPort != 0 {
			relayPort = fmt.Sprintf("udp/%d", h.RelayPort)
		}
		version := h.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.Name, h.Addr(), version, relayPort)
	}
	tw.Flush()
}

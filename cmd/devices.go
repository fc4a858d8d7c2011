package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/devlink/host/internal/config"
	"github.com/devlink/host/internal/device"
	"github.com/devlink/host/internal/ipc"
	"github.com/devlink/host/internal/storage"
)

const devicesUsage = `Usage: devlink devices <command> [options]

Commands:
  list                  List known devices
  block <ip>            Block a device from connecting
  unblock <ip>          Allow a blocked device again
  rename <ip> <name>    Set a device's display name
  history <ip>          Show a device's chat history
  delete <ip>           Forget a device and its history
`

// DevicesConfig holds the options shared by the devices subcommands.
type DevicesConfig struct {
	Config      string
	StorePath   string
	AdminSocket string
}

func runDevices(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprint(stdout, devicesUsage)
		return 1
	}

	switch args[0] {
	case "list":
		return runDevicesList(args[1:], stdout, stderr)
	case "block":
		return runDevicesBlock(args[1:], true, stdout, stderr)
	case "unblock":
		return runDevicesBlock(args[1:], false, stdout, stderr)
	case "rename":
		return runDevicesRename(args[1:], stdout, stderr)
	case "history":
		return runDevicesHistory(args[1:], stdout, stderr)
	case "delete":
		return runDevicesDelete(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stdout, "Unknown devices command: %s\n", args[0])
		fmt.Fprint(stdout, devicesUsage)
		return 1
	}
}

// newDevicesFlagSet registers the shared options on a new flag set.
func newDevicesFlagSet(name, synopsis string, cfg *DevicesConfig, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Config, "config", "", "Path to config file (default: ~/.devlink/config.toml)")
	fs.StringVar(&cfg.StorePath, "store", "", "Path to device store (default: ~/.devlink/devlink.db)")
	fs.StringVar(&cfg.AdminSocket, "admin-socket", "", "Path to admin socket (default: ~/.devlink/admin.sock)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: devlink %s\n\nOptions:\n", synopsis)
		fs.PrintDefaults()
	}
	return fs
}

// resolve fills StorePath and AdminSocket from the config file and defaults.
func (c *DevicesConfig) resolve() error {
	fileCfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	if c.StorePath != "" {
		fileCfg.StorePath = c.StorePath
	}
	if c.AdminSocket != "" {
		fileCfg.AdminSocket = c.AdminSocket
	}
	if err := fileCfg.ApplyDefaults(); err != nil {
		return err
	}
	c.StorePath = fileCfg.StorePath
	c.AdminSocket = fileCfg.AdminSocket
	return nil
}

func (c *DevicesConfig) openStore() (*storage.SQLiteStore, error) {
	if c.StorePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(c.StorePath), 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStore(c.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}
	return store, nil
}

// parseDevicesArgs parses args and checks the positional count.
func parseDevicesArgs(fs *flag.FlagSet, cfg *DevicesConfig, args []string, want int, stderr io.Writer) ([]string, int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, 0, false
		}
		return nil, 1, false
	}
	if fs.NArg() != want {
		fs.Usage()
		return nil, 1, false
	}
	if err := cfg.resolve(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 1, false
	}
	return fs.Args(), 0, true
}

// formatDuration formats a duration in a human-readable way.
// Examples: "just now", "5m ago", "2h ago", "3d ago"
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "in the future"
	}
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

func runDevicesList(args []string, stdout, stderr io.Writer) int {
	cfg := &DevicesConfig{}
	fs := newDevicesFlagSet("devices list", "devices list [options]", cfg, stderr)
	if _, code, ok := parseDevicesArgs(fs, cfg, args, 0, stderr); !ok {
		return code
	}

	store, err := cfg.openStore()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	devices, err := store.ListDevices()
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to list devices: %v\n", err)
		return 1
	}

	if len(devices) == 0 {
		fmt.Fprintln(stdout, "No devices have connected yet.")
		return 0
	}

	writeDevicesTable(stdout, devices, time.Now())
	return 0
}

func writeDevicesTable(w io.Writer, devices []*storage.Device, now time.Time) {
	blocked := color.New(color.FgRed).SprintFunc()
	allowed := color.New(color.FgGreen).SprintFunc()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IP\tNAME\tSTATUS\tLAST SEEN\tFIRST SEEN")
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "-"
		}
		status := allowed("allowed")
		if d.Blocked {
			status = blocked("blocked")
		}
		lastSeen := "never"
		if !d.LastSeen.IsZero() {
			lastSeen = formatDuration(now.Sub(d.LastSeen))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			d.IP, name, status, lastSeen, d.CreatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d device(s)\n", len(devices))
}

// runDevicesBlock changes the block flag through the running host when
// there is one, so its in-memory list stays current. Without a host the
// store is updated directly and the change applies at the next start.
func runDevicesBlock(args []string, block bool, stdout, stderr io.Writer) int {
	verb := "unblock"
	if block {
		verb = "block"
	}

	cfg := &DevicesConfig{}
	fs := newDevicesFlagSet("devices "+verb, "devices "+verb+" <ip> [options]", cfg, stderr)
	rest, code, ok := parseDevicesArgs(fs, cfg, args, 1, stderr)
	if !ok {
		return code
	}

	ip := rest[0]
	if net.ParseIP(ip) == nil {
		fmt.Fprintf(stderr, "Error: invalid IP address %q\n", ip)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client := ipc.NewClient(cfg.AdminSocket)
	var err error
	if block {
		err = client.Block(ctx, ip)
	} else {
		err = client.Unblock(ctx, ip)
	}

	switch {
	case err == nil:
		if block {
			fmt.Fprintf(stdout, "Blocked %s. Live sessions stay connected until they disconnect.\n", ip)
		} else {
			fmt.Fprintf(stdout, "Unblocked %s.\n", ip)
		}
		return 0
	case !errors.Is(err, ipc.ErrHostNotRunning):
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	store, err := cfg.openStore()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	blocks := device.NewBlockList(store)
	if block {
		err = blocks.Block(ip)
	} else {
		err = blocks.Unblock(ip)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to %s %s: %v\n", verb, ip, err)
		return 1
	}

	if block {
		fmt.Fprintf(stdout, "Blocked %s (host not running; applies at next start).\n", ip)
	} else {
		fmt.Fprintf(stdout, "Unblocked %s (host not running; applies at next start).\n", ip)
	}
	return 0
}

func runDevicesRename(args []string, stdout, stderr io.Writer) int {
	cfg := &DevicesConfig{}
	fs := newDevicesFlagSet("devices rename", "devices rename <ip> <name> [options]", cfg, stderr)
	rest, code, ok := parseDevicesArgs(fs, cfg, args, 2, stderr)
	if !ok {
		return code
	}

	ip, name := rest[0], rest[1]
	if err := device.ValidateName(name); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	store, err := cfg.openStore()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	if err := store.SetProperty(ip, storage.PropName, name); err != nil {
		fmt.Fprintf(stderr, "Error: failed to rename %s: %v\n", ip, err)
		return 1
	}
	fmt.Fprintf(stdout, "Renamed %s to %s.\n", ip, name)
	return 0
}

func runDevicesHistory(args []string, stdout, stderr io.Writer) int {
	cfg := &DevicesConfig{}
	fs := newDevicesFlagSet("devices history", "devices history <ip> [options]", cfg, stderr)
	limit := fs.IntP("lines", "n", 20, "Number of most recent lines to show (0 for all)")
	rest, code, ok := parseDevicesArgs(fs, cfg, args, 1, stderr)
	if !ok {
		return code
	}

	store, err := cfg.openStore()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	entries, err := store.ChatHistory(rest[0], *limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to read history: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintf(stdout, "No chat history for %s.\n", rest[0])
		return 0
	}
	for _, e := range entries {
		fmt.Fprintf(stdout, "[%s] %s\n", e.At.Format("2006-01-02 15:04:05"), e.Line)
	}
	return 0
}

func runDevicesDelete(args []string, stdout, stderr io.Writer) int {
	cfg := &DevicesConfig{}
	fs := newDevicesFlagSet("devices delete", "devices delete <ip> [options]", cfg, stderr)
	rest, code, ok := parseDevicesArgs(fs, cfg, args, 1, stderr)
	if !ok {
		return code
	}
	ip := rest[0]

	store, err := cfg.openStore()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	existing, err := store.GetDevice(ip)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to look up device: %v\n", err)
		return 1
	}
	if existing == nil {
		fmt.Fprintf(stderr, "Error: device not found: %s\n", ip)
		return 1
	}

	if err := store.DeleteDevice(ip); err != nil {
		fmt.Fprintf(stderr, "Error: failed to delete device: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Deleted %s and its chat history.\n", ip)
	return 0
}

package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/skip2/go-qrcode"
	flag "github.com/spf13/pflag"

	"github.com/devlink/host/internal/config"
)

// ServeConfig holds the command line values of "devlink serve".
// Zero values mean "not given" and fall back to the config file.
type ServeConfig struct {
	Config        string
	Port          int
	ListenHost    string
	AutoStart     bool
	MessageFormat string
	MirrorChat    bool
	StorePath     string
	LogFile       string
	MdnsEnabled   bool
	MonitorAddr   string
	RelayPort     int
	AdminSocket   string
	QR            bool
}

func runServe(args []string, stdout, stderr io.Writer) int {
	cfg, err := parseServeFlags("serve", args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	return serve(cfg, sigCh, stdout, stderr)
}

// parseServeFlags parses the serve options, loads the config file and
// merges the two. CLI flags always win; boolean flags only override the
// file when given explicitly.
func parseServeFlags(name string, args []string, stderr io.Writer) (*config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)

	sc := &ServeConfig{}
	fs.StringVar(&sc.Config, "config", "", "Path to config file (default: ~/.devlink/config.toml)")
	fs.IntVarP(&sc.Port, "port", "p", 0, fmt.Sprintf("TCP port of the debug service (default: %d)", config.DefaultPort))
	fs.StringVar(&sc.ListenHost, "listen-host", "", fmt.Sprintf("Interface to bind (default: %s)", config.DefaultListenHost))
	fs.BoolVar(&sc.AutoStart, "auto-start", true, "Start the debug service immediately (otherwise wait for a relay Start)")
	fs.StringVar(&sc.MessageFormat, "message-format", "", "Chat line template: {name}, {text}, {ip}, {time}")
	fs.BoolVar(&sc.MirrorChat, "mirror-chat", false, "Copy chat lines into the host log")
	fs.StringVar(&sc.StorePath, "store", "", "Path to device store (default: ~/.devlink/devlink.db)")
	fs.StringVar(&sc.LogFile, "log-file", "", "Write logs to this file instead of stderr")
	fs.BoolVar(&sc.MdnsEnabled, "mdns", false, "Advertise the debug service over mDNS/Bonjour")
	fs.StringVar(&sc.MonitorAddr, "monitor-addr", "", fmt.Sprintf("Operator monitor address, \"off\" to disable (default: %s)", config.DefaultMonitorAddr))
	fs.IntVar(&sc.RelayPort, "relay-port", 0, "UDP port of the control relay (default: disabled)")
	fs.StringVar(&sc.AdminSocket, "admin-socket", "", "Path to admin socket (default: ~/.devlink/admin.sock)")
	fs.BoolVar(&sc.QR, "qr", false, "Print the connect address as a QR code")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: devlink %s [options]\n\nOptions:\n", name)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	explicitFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicitFlags[f.Name] = true
	})

	fileCfg, err := config.Load(sc.Config)
	if err != nil {
		return nil, err
	}

	cfg := mergeServeConfig(sc, fileCfg, explicitFlags)
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeServeConfig(sc *ServeConfig, fileCfg *config.Config, explicitFlags map[string]bool) *config.Config {
	cfg := *fileCfg

	if sc.Port != 0 {
		cfg.Port = sc.Port
	}
	if sc.ListenHost != "" {
		cfg.ListenHost = sc.ListenHost
	}
	if sc.MessageFormat != "" {
		cfg.MessageFormat = sc.MessageFormat
	}
	if sc.StorePath != "" {
		cfg.StorePath = sc.StorePath
	}
	if sc.LogFile != "" {
		cfg.LogFile = sc.LogFile
	}
	if sc.MonitorAddr != "" {
		cfg.MonitorAddr = sc.MonitorAddr
	}
	if sc.RelayPort != 0 {
		cfg.RelayPort = sc.RelayPort
	}
	if sc.AdminSocket != "" {
		cfg.AdminSocket = sc.AdminSocket
	}
	if explicitFlags["auto-start"] {
		autoStart := sc.AutoStart
		cfg.AutoStart = &autoStart
	}
	if explicitFlags["mirror-chat"] {
		cfg.MirrorChat = sc.MirrorChat
	}
	if explicitFlags["mdns"] {
		cfg.MdnsEnabled = sc.MdnsEnabled
	}
	if explicitFlags["qr"] {
		cfg.QR = sc.QR
	}
	return &cfg
}

// serve runs the host until a signal arrives on sigCh.
func serve(cfg *config.Config, sigCh <-chan os.Signal, stdout, stderr io.Writer) int {
	logOut := stderr
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
			fmt.Fprintf(stderr, "Error: failed to create log directory: %v\n", err)
			return 1
		}
		logFile, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to open log file: %v\n", err)
			return 1
		}
		defer logFile.Close()
		logOut = logFile
		prev := log.Writer()
		log.SetOutput(logFile)
		defer log.SetOutput(prev)
		fmt.Fprintf(stdout, "Logging to: %s\n", cfg.LogFile)
	}
	logger := log.New(logOut, "", log.LstdFlags)

	h, err := newHost(cfg, Version, logger)
	if err != nil {
		fmt.Fprintf(stderr, "FATAL: %v\n", err)
		return 1
	}
	defer h.close()

	h.start(stdout, stderr)

	if h.server.Running() {
		addr := connectAddress(cfg.ListenHost, h.server.Port())
		fmt.Fprintf(stdout, "Devices connect to: %s\n", addr)
		if cfg.QR {
			displayConnectQR(stdout, addr)
		}
	}
	fmt.Fprintln(stdout, "devlink host running. Press Ctrl+C to stop.")

	sig := <-sigCh
	fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)
	return 0
}

// displayConnectQR prints addr as a QR code with a plain-text fallback.
func displayConnectQR(w io.Writer, addr string) {
	qr, err := qrcode.New(addr, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         SCAN TO CONNECT")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
	fmt.Fprint(w, qr.ToSmallString(false))
	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintf(w, "  Address: %s\n", addr)
	fmt.Fprintln(w, "-------------------------------------------")
}

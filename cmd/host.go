package main

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/devlink/host/internal/command"
	"github.com/devlink/host/internal/config"
	"github.com/devlink/host/internal/device"
	apperrors "github.com/devlink/host/internal/errors"
	"github.com/devlink/host/internal/ipc"
	"github.com/devlink/host/internal/mdns"
	"github.com/devlink/host/internal/monitor"
	"github.com/devlink/host/internal/relay"
	"github.com/devlink/host/internal/server"
	"github.com/devlink/host/internal/storage"
)

// host owns every component of a running devlink host.
// It is the relay's Controller and the admin socket's Admin.
type host struct {
	cfg    *config.Config
	logger *log.Logger

	store   *storage.SQLiteStore
	devices *device.Registry
	blocks  *device.BlockList
	server  *server.Server

	monitor    *monitor.Monitor
	relay      *relay.Server
	admin      *ipc.SocketServer
	advertiser *mdns.Advertiser

	// relayAddr is where the relay binds; empty disables it.
	relayAddr string
}

// newHost opens the device store and builds the debug service. Nothing is
// bound until start.
func newHost(cfg *config.Config, version string, logger *log.Logger) (*host, error) {
	if cfg.StorePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	store, err := storage.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "failed to open device store", err)
	}

	devices := device.NewRegistry(store, logger)
	n, err := devices.Load(store)
	if err != nil {
		store.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "failed to load devices", err)
	}

	blocked, err := store.ListBlocked()
	if err != nil {
		store.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "failed to load block list", err)
	}
	blocks := device.NewBlockList(store)
	blocks.Load(blocked)
	logger.Printf("host: loaded %d devices, %d blocked", n, len(blocked))

	if abandoned, err := store.AbandonOpenSessions(time.Now()); err != nil {
		logger.Printf("host: failed to close stale sessions: %v", err)
	} else if abandoned > 0 {
		logger.Printf("host: marked %d stale sessions abandoned", abandoned)
	}

	srv := server.NewServer(server.Options{
		Host:          cfg.ListenHost,
		Version:       version,
		MessageFormat: cfg.MessageFormat,
		MirrorChat:    cfg.MirrorChat,
		Logger:        logger,
	}, devices, blocks, nil)
	srv.SetExecutor(command.NewExecutor(srv, devices, blocks, logger))

	h := &host{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		devices: devices,
		blocks:  blocks,
		server:  srv,
	}

	observers := server.Observers{&sessionRecorder{store: store, logger: logger}}
	if cfg.MonitorEnabled() {
		h.monitor = monitor.New(srv, store, logger)
		observers = append(observers, h.monitor)
	}
	srv.SetObserver(observers)
	if cfg.RelayPort != 0 {
		h.relayAddr = net.JoinHostPort(cfg.ListenHost, strconv.Itoa(cfg.RelayPort))
	}
	return h, nil
}

// start brings up the listener and the optional components. A component
// that fails to start is reported and the others keep running.
func (h *host) start(stdout, stderr io.Writer) {
	if h.cfg.EffectiveAutoStart() {
		if err := h.server.Start(h.cfg.Port); err != nil {
			if apperrors.IsFatal(err) {
				fmt.Fprintf(stderr, "FATAL: %v\n", err)
			} else {
				fmt.Fprintf(stderr, "Error: %v\n", err)
			}
		} else {
			fmt.Fprintf(stdout, "Debug service: listening on %s\n", h.server.Addr())
		}
	} else {
		fmt.Fprintln(stdout, "Debug service: waiting for a relay Start request")
	}

	if h.monitor != nil {
		if err := h.monitor.Start(h.cfg.MonitorAddr); err != nil {
			fmt.Fprintf(stderr, "Warning: failed to start monitor: %v\n", err)
		} else {
			fmt.Fprintf(stdout, "Monitor: http://%s/status\n", h.monitor.Addr())
		}
	}

	if h.relayAddr != "" {
		h.relay = relay.NewServer(relay.ControlHandlers(h), h.logger)
		if err := h.relay.Start(h.relayAddr); err != nil {
			fmt.Fprintf(stderr, "Warning: failed to start relay: %v\n", err)
			h.relay = nil
		} else {
			fmt.Fprintf(stdout, "Control relay: udp %s\n", h.relay.Addr())
		}
	}

	if h.cfg.AdminSocket != "" {
		h.admin = ipc.NewSocketServer(h.cfg.AdminSocket, ipc.NewAdminHandler(h), h.logger)
		if err := h.admin.Start(); err != nil {
			fmt.Fprintf(stderr, "Warning: admin socket unavailable: %v\n", err)
			h.admin = nil
		}
	}

	if h.cfg.MdnsEnabled {
		port := h.server.Port()
		if port == 0 {
			port = h.cfg.Port
		}
		h.advertiser = mdns.NewAdvertiser(mdns.Config{
			Port:      port,
			Version:   h.server.Version(),
			RelayPort: h.cfg.RelayPort,
		})
		if err := h.advertiser.Start(); err != nil {
			fmt.Fprintf(stderr, "Warning: failed to start mDNS discovery: %v\n", err)
			h.advertiser = nil
		} else {
			fmt.Fprintln(stdout, "mDNS discovery: ENABLED (visible on LAN)")
		}
	}
}

// close stops everything in reverse order of start.
func (h *host) close() {
	if h.advertiser != nil {
		h.advertiser.Stop()
	}
	if h.admin != nil {
		if err := h.admin.Stop(); err != nil {
			h.logger.Printf("host: %v", err)
		}
	}
	if h.relay != nil {
		h.relay.Close()
	}
	if err := h.server.Stop(); err != nil {
		h.logger.Printf("host: stop debug service: %v", err)
	}
	if h.monitor != nil {
		h.monitor.Stop()
	}
	h.store.Close()
}

// StartListener starts the debug service. A running service counts as
// started.
func (h *host) StartListener() error {
	err := h.server.Start(h.cfg.Port)
	if apperrors.IsCode(err, apperrors.CodeListenerAlreadyRunning) {
		return nil
	}
	return err
}

// StopListener stops the debug service and closes its sessions.
func (h *host) StopListener() error {
	return h.server.Stop()
}

// Block adds ip to the block list. Live sessions are not disconnected.
func (h *host) Block(ip string) error {
	if err := h.blocks.Block(ip); err != nil {
		return err
	}
	h.logger.Printf("host: blocked %s", ip)
	return nil
}

// Unblock removes ip from the block list.
func (h *host) Unblock(ip string) error {
	if err := h.blocks.Unblock(ip); err != nil {
		return err
	}
	h.logger.Printf("host: unblocked %s", ip)
	return nil
}

// LiveSessions lists the connected devices.
func (h *host) LiveSessions() []server.SessionInfo {
	return h.server.LiveSessions()
}

// Package config provides TOML configuration file loading and parsing for the host.
// The configuration file lives at ~/.devlink/config.toml by default, but can be
// overridden with the --config flag. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the host configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// Port is the TCP port of the remote debug service.
	// Default: 7075
	Port int `toml:"port"`

	// ListenHost is the interface the debug service binds to.
	// Default: 0.0.0.0
	ListenHost string `toml:"listen_host"`

	// AutoStart starts the debug service as soon as the host is up.
	// When false the service waits for a relay "Start" request.
	// Default: true
	AutoStart *bool `toml:"auto_start"`

	// MessageFormat is the chat line template. Supported placeholders:
	// {name}, {text}, {ip}, {time}.
	// Default: "{name}> {text}"
	MessageFormat string `toml:"message_format"`

	// MirrorChat copies every recorded chat line into the host log.
	// Default: false
	MirrorChat bool `toml:"mirror_chat"`

	// StorePath is the SQLite database holding devices and chat history.
	// Default: ~/.devlink/devlink.db
	StorePath string `toml:"store_path"`

	// LogFile redirects host logs to a file when set.
	LogFile string `toml:"log_file"`

	// MdnsEnabled advertises the debug service over mDNS/Bonjour.
	// Default: false
	MdnsEnabled bool `toml:"mdns_enabled"`

	// MonitorAddr is the host:port of the operator monitor (status + event feed).
	// Set to "off" to disable. Default: 127.0.0.1:7076
	MonitorAddr string `toml:"monitor_addr"`

	// RelayPort is the UDP port of the control relay. 0 disables the relay.
	RelayPort int `toml:"relay_port"`

	// AdminSocket is the Unix socket used by local CLI commands.
	// Default: ~/.devlink/admin.sock
	AdminSocket string `toml:"admin_socket"`

	// QR prints the connect address as a QR code on startup.
	QR bool `toml:"qr"`
}

// EffectiveAutoStart returns AutoStart with its default applied.
func (c *Config) EffectiveAutoStart() bool {
	if c.AutoStart == nil {
		return true
	}
	return *c.AutoStart
}

// MonitorEnabled reports whether the monitor should be started.
func (c *Config) MonitorEnabled() bool {
	return !strings.EqualFold(strings.TrimSpace(c.MonitorAddr), "off")
}

// ApplyDefaults fills zero-valued fields with their defaults.
// Paths that depend on the home directory are resolved here.
func (c *Config) ApplyDefaults() error {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ListenHost == "" {
		c.ListenHost = DefaultListenHost
	}
	if c.MessageFormat == "" {
		c.MessageFormat = DefaultMessageFormat
	}
	if c.MonitorAddr == "" {
		c.MonitorAddr = DefaultMonitorAddr
	}
	if c.StorePath == "" || c.AdminSocket == "" {
		dir, err := DefaultDir()
		if err != nil {
			return err
		}
		if c.StorePath == "" {
			c.StorePath = filepath.Join(dir, "devlink.db")
		}
		if c.AdminSocket == "" {
			c.AdminSocket = filepath.Join(dir, "admin.sock")
		}
	}
	return c.Validate()
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.RelayPort < 0 || c.RelayPort > 65535 {
		return fmt.Errorf("relay_port %d out of range", c.RelayPort)
	}
	if c.RelayPort != 0 && c.RelayPort == c.Port {
		// TCP and UDP could share a number, but mixing them confuses operators.
		return fmt.Errorf("relay_port must differ from port (%d)", c.Port)
	}
	if !strings.Contains(c.MessageFormat, "{text}") {
		return fmt.Errorf("message_format %q must contain {text}", c.MessageFormat)
	}
	return nil
}

// DefaultDir returns ~/.devlink.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".devlink"), nil
}

// DefaultConfigPath returns the default config file location: ~/.devlink/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// WriteDefault creates a config file with LAN-ready defaults at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# devlink configuration
# Created by 'devlink start'

# TCP port of the remote debug service
port = %d

# Start the debug service with the host
auto_start = true

# Chat line template: {name}, {text}, {ip}, {time}
message_format = %q

# Copy chat lines into the host log
mirror_chat = false

# Operator monitor (status + event feed), "off" to disable
monitor_addr = %q
`, DefaultPort, DefaultMessageFormat, DefaultMonitorAddr)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location (~/.devlink/config.toml).
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

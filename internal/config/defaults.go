package config

// DefaultPort is the default TCP port for the remote debug service.
const DefaultPort = 7075

// DefaultListenHost binds all interfaces so LAN devices can connect.
const DefaultListenHost = "0.0.0.0"

// DefaultMessageFormat renders a chat line as "{name}> {text}".
const DefaultMessageFormat = "{name}> {text}"

// DefaultMonitorAddr is the loopback address of the operator monitor.
const DefaultMonitorAddr = "127.0.0.1:7076"

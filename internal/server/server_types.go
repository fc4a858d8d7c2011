package server

import (
	"log"
	"time"
)

const (
	// ProductName is printed in the first banner line.
	ProductName = "devlink"

	// MaxReadSize is the largest payload handled by a single read.
	// Longer transmissions arrive as several messages.
	MaxReadSize = 65536

	// PollInterval is how long a session waits after a non-fatal
	// transport error before reading again.
	PollInterval = time.Millisecond

	// CommandPrefix marks a message as a slash command.
	CommandPrefix = "/"
)

// Executor runs slash commands on behalf of a device.
//
// Execute is called synchronously from the originating session's goroutine
// with the text after the leading "/" (for "/kick mallory" the command text
// is "kick mallory"). The session does not look at the outcome.
type Executor interface {
	Execute(commandText, originIP string)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(commandText, originIP string)

// Execute calls f(commandText, originIP).
func (f ExecutorFunc) Execute(commandText, originIP string) {
	f(commandText, originIP)
}

// SessionInfo describes a live session for observers and status reporting.
type SessionInfo struct {
	ID          string    `json:"id"`
	IP          string    `json:"ip"`
	Name        string    `json:"name,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Observer receives session events. Methods are called from session and
// accept goroutines and must not block.
type Observer interface {
	SessionOpened(info SessionInfo)
	SessionClosed(info SessionInfo)
	ChatRecorded(ip, line string, at time.Time)
	CommandDispatched(ip, commandText string)
}

type nopObserver struct{}

func (nopObserver) SessionOpened(SessionInfo) {}
func (nopObserver) SessionClosed(SessionInfo) {}
func (nopObserver) ChatRecorded(string, string, time.Time) {}
func (nopObserver) CommandDispatched(string, string) {}

// Options configures a Server.
type Options struct {
	// Host is the listen host. Empty means all interfaces.
	Host string

	// Version is printed in the banner.
	Version string

	// MessageFormat renders chat lines. Placeholders: {name}, {text},
	// {ip}, {time}. Empty selects "{name}> {text}".
	MessageFormat string

	// MirrorChat also writes every recorded chat line to ChatLogger.
	MirrorChat bool

	// Logger receives diagnostics. Nil discards them.
	Logger *log.Logger

	// ChatLogger receives mirrored chat lines. Nil uses Logger's output
	// with a "chat: " prefix.
	ChatLogger *log.Logger
}

// Observers fans every event out to each observer in order.
type Observers []Observer

func (o Observers) SessionOpened(info SessionInfo) {
	for _, obs := range o {
		obs.SessionOpened(info)
	}
}

func (o Observers) SessionClosed(info SessionInfo) {
	for _, obs := range o {
		obs.SessionClosed(info)
	}
}

func (o Observers) ChatRecorded(ip, line string, at time.Time) {
	for _, obs := range o {
		obs.ChatRecorded(ip, line, at)
	}
}

func (o Observers) CommandDispatched(ip, commandText string) {
	for _, obs := range o {
		obs.CommandDispatched(ip, commandText)
	}
}

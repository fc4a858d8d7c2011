// Package command implements the slash commands devices send to the debug
// service ("/register bob", "/who", ...).
//
// The handler table is built once in NewExecutor. Replies go back to the
// originating device only; usage problems are answered, internal failures
// are logged and answered with a generic line.
package command

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/devlink/host/internal/device"
	apperrors "github.com/devlink/host/internal/errors"
	"github.com/devlink/host/internal/server"
)

const (
	// DefaultHistoryLines is used when /history has no count.
	DefaultHistoryLines = 10
	// MaxHistoryLines caps the /history count.
	MaxHistoryLines = 100

	replyPrefix = ">> "
)

// Host is the running debug service as seen by command handlers.
// *server.Server satisfies it.
type Host interface {
	SendTo(ip, line string) bool
	LiveSessions() []server.SessionInfo
}

type handler struct {
	usage   string
	summary string
	run     func(e *Executor, req *request) error
}

type request struct {
	ip   string
	name string
	args []string
}

// Executor dispatches command text to its handler.
type Executor struct {
	host    Host
	devices *device.Registry
	blocks  *device.BlockList
	logger  *log.Logger

	handlers map[string]handler
}

// NewExecutor builds the command table. If logger is nil, logs are discarded.
func NewExecutor(host Host, devices *device.Registry, blocks *device.BlockList, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Executor{
		host:    host,
		devices: devices,
		blocks:  blocks,
		logger:  logger,
		handlers: map[string]handler{
			"register": {usage: "register <name>", summary: "set your display name", run: (*Executor).register},
			"name":     {usage: "name", summary: "show your display name", run: (*Executor).showName},
			"who":      {usage: "who", summary: "list connected devices", run: (*Executor).who},
			"history":  {usage: "history [count]", summary: "show your recent chat lines", run: (*Executor).history},
			"block":    {usage: "block <ip>", summary: "refuse future connections from ip", run: (*Executor).block},
			"unblock":  {usage: "unblock <ip>", summary: "allow connections from ip again", run: (*Executor).unblock},
			"help":     {usage: "help", summary: "list commands", run: (*Executor).help},
		},
	}
}

// Execute runs commandText (the text after "/") for the device at originIP.
func (e *Executor) Execute(commandText, originIP string) {
	fields := strings.Fields(commandText)
	if len(fields) == 0 {
		e.reply(originIP, `Type "/help" for a list of commands.`)
		return
	}

	name := strings.ToLower(fields[0])
	h, ok := e.handlers[name]
	if !ok {
		e.reply(originIP, apperrors.UnknownCommand(fields[0]).Message)
		return
	}

	req := &request{ip: originIP, name: name, args: fields[1:]}
	if err := h.run(e, req); err != nil {
		e.fail(req, err)
	}
}

// Names returns the registered command names in sorted order.
func (e *Executor) Names() []string {
	names := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Executor) fail(req *request, err error) {
	switch apperrors.GetCode(err) {
	case apperrors.CodeCommandInvalidArgs, apperrors.CodeCommandUnknown:
		e.reply(req.ip, apperrors.GetMessage(err))
	default:
		e.logger.Printf("command: /%s from %s failed: %v", req.name, req.ip, err)
		e.reply(req.ip, "Command failed.")
	}
}

func (e *Executor) reply(ip string, lines ...string) {
	for _, line := range lines {
		if !e.host.SendTo(ip, replyPrefix+line) {
			return
		}
	}
}

func (e *Executor) usage(name string) error {
	return apperrors.InvalidArgs(e.handlers[name].usage)
}

func (e *Executor) register(req *request) error {
	if len(req.args) != 1 {
		return e.usage(req.name)
	}
	dev, err := e.devices.GetOrCreate(req.ip)
	if err != nil {
		return err
	}
	if err := dev.SetDisplayName(req.args[0]); err != nil {
		if errors.Is(err, device.ErrInvalidName) {
			return apperrors.Wrap(apperrors.CodeCommandInvalidArgs,
				fmt.Sprintf("Names are 1-%d printable characters without spaces.", device.MaxNameLength), err)
		}
		return err
	}
	e.logger.Printf("command: %s registered as %s", req.ip, req.args[0])
	e.reply(req.ip, fmt.Sprintf("Your name is %s.", req.args[0]))
	return nil
}

func (e *Executor) showName(req *request) error {
	dev, err := e.devices.GetOrCreate(req.ip)
	if err != nil {
		return err
	}
	if name := dev.DisplayName(); name != "" {
		e.reply(req.ip, fmt.Sprintf("Your name is %s.", name))
		return nil
	}
	e.reply(req.ip, `You have no name yet. Use "/register <name>".`)
	return nil
}

func (e *Executor) who(req *request) error {
	sessions := e.host.LiveSessions()
	lines := []string{fmt.Sprintf("%d connected:", len(sessions))}
	for _, s := range sessions {
		name := s.Name
		if name == "" {
			name = "(unregistered)"
		}
		lines = append(lines, fmt.Sprintf("  %s %s", s.IP, name))
	}
	e.reply(req.ip, lines...)
	return nil
}

func (e *Executor) history(req *request) error {
	count := DefaultHistoryLines
	switch len(req.args) {
	case 0:
	case 1:
		n, err := strconv.Atoi(req.args[0])
		if err != nil || n < 1 {
			return e.usage(req.name)
		}
		count = min(n, MaxHistoryLines)
	default:
		return e.usage(req.name)
	}

	dev, err := e.devices.GetOrCreate(req.ip)
	if err != nil {
		return err
	}
	entries, err := dev.History(count)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		e.reply(req.ip, "No chat history.")
		return nil
	}

	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, fmt.Sprintf("[%s] %s", entry.At.Format("15:04:05"), entry.Line))
	}
	e.reply(req.ip, lines...)
	return nil
}

func (e *Executor) block(req *request) error {
	ip, err := e.targetIP(req)
	if err != nil {
		return err
	}
	if ip == req.ip {
		return apperrors.New(apperrors.CodeCommandInvalidArgs, "You cannot block yourself.")
	}
	if err := e.blocks.Block(ip); err != nil {
		return err
	}
	e.logger.Printf("command: %s blocked %s", req.ip, ip)
	e.reply(req.ip, fmt.Sprintf("Blocked %s. Takes effect on its next connection.", ip))
	return nil
}

func (e *Executor) unblock(req *request) error {
	ip, err := e.targetIP(req)
	if err != nil {
		return err
	}
	if err := e.blocks.Unblock(ip); err != nil {
		return err
	}
	e.logger.Printf("command: %s unblocked %s", req.ip, ip)
	e.reply(req.ip, fmt.Sprintf("Unblocked %s.", ip))
	return nil
}

func (e *Executor) targetIP(req *request) (string, error) {
	if len(req.args) != 1 {
		return "", e.usage(req.name)
	}
	parsed := net.ParseIP(req.args[0])
	if parsed == nil {
		return "", e.usage(req.name)
	}
	return parsed.String(), nil
}

func (e *Executor) help(req *request) error {
	lines := []string{"Commands:"}
	for _, name := range e.Names() {
		h := e.handlers[name]
		lines = append(lines, fmt.Sprintf("  /%-18s %s", h.usage, h.summary))
	}
	e.reply(req.ip, lines...)
	return nil
}

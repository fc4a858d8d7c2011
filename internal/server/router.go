package server

import (
	"bytes"
	"strings"
	"time"
	"unicode/utf8"
)

// stripControl removes line breaks and NUL bytes anywhere in a message.
var stripControl = strings.NewReplacer("\r", "", "\n", "", "\x00", "")

// SplitMessages splits one raw read into messages at each LF. A read that
// carries several lines yields one message per line; a trailing fragment
// without LF is a message of its own.
func SplitMessages(payload []byte) [][]byte {
	return bytes.Split(payload, []byte{'\n'})
}

// Normalize turns one message into text.
//
// A message whose first character is NUL is discarded. Otherwise every CR,
// LF and NUL is removed; ok is false when nothing but whitespace remains.
func Normalize(payload []byte) (text string, ok bool) {
	if len(payload) == 0 || payload[0] == 0 {
		return "", false
	}

	text = string(payload)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	text = stripControl.Replace(text)

	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

// route handles every message of one read in order.
func (s *Session) route(payload []byte) {
	for _, msg := range SplitMessages(payload) {
		s.routeMessage(msg)
	}
}

// routeMessage handles one message: chat for named devices, then command
// dispatch for "/" messages. The two are independent.
func (s *Session) routeMessage(payload []byte) {
	text, ok := Normalize(payload)
	if !ok {
		return
	}

	srv := s.server
	if name := s.device.DisplayName(); name != "" {
		now := time.Now()
		line := srv.format.render(name, text, s.ip, now)
		if err := s.device.AppendChat(line, now); err != nil {
			srv.logger.Printf("server: record chat for %s: %v", s.ip, err)
		} else {
			if srv.opts.MirrorChat {
				srv.chatLogger.Print(line)
			}
			srv.currentObserver().ChatRecorded(s.ip, line, now)
		}
	}

	if strings.HasPrefix(text, CommandPrefix) {
		commandText := text[len(CommandPrefix):]
		srv.currentObserver().CommandDispatched(s.ip, commandText)
		srv.currentExecutor().Execute(commandText, s.ip)
	}
}

// messageFormat renders chat lines from a template with {name}, {text},
// {ip} and {time} placeholders.
type messageFormat struct {
	template string
}

func newMessageFormat(template string) *messageFormat {
	return &messageFormat{template: template}
}

// render substitutes in a single pass, so placeholder-like text typed by a
// device is left alone.
func (f *messageFormat) render(name, text, ip string, at time.Time) string {
	r := strings.NewReplacer(
		"{name}", name,
		"{text}", text,
		"{ip}", ip,
		"{time}", at.Format("15:04:05"),
	)
	return r.Replace(f.template)
}

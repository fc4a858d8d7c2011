package server

import (
	"fmt"
	"runtime"
)

// LineTerminator ends every line written to a device.
var LineTerminator = lineTerminator(runtime.GOOS)

func lineTerminator(goos string) string {
	if goos == "windows" {
		return "\r\n"
	}
	return "\n"
}

// BannerLines returns the greeting written once to every admitted device,
// before any of its input is processed. name is the registered display name
// or "".
func BannerLines(version, ip, name string) []string {
	third := `>> Welcome! To register a display name, use "/register <name>".`
	if name != "" {
		third = fmt.Sprintf(">> Your name is %s.", name)
	}
	return []string{
		fmt.Sprintf(">> %s remote debug service version %s", ProductName, version),
		fmt.Sprintf(">> Your address is %s.", ip),
		third,
	}
}

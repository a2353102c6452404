package services

import (
	"strings"

	"github.com/mssola/useragent"
)

// Device classes derived from a user agent
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceBot     = "bot"
)

// DeviceInfo is the descriptive metadata derived from a User-Agent header.
type DeviceInfo struct {
	Device  string
	Browser string
	OS      string
}

// ParseUserAgent derives device, browser and OS from ua. An empty ua yields
// the zero DeviceInfo.
func ParseUserAgent(ua string) DeviceInfo {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return DeviceInfo{}
	}

	parsed := useragent.New(ua)
	browser, _ := parsed.Browser()

	device := DeviceDesktop
	switch {
	case parsed.Bot():
		device = DeviceBot
	case parsed.Mobile():
		device = DeviceMobile
	}

	return DeviceInfo{
		Device:  device,
		Browser: browser,
		OS:      parsed.OS(),
	}
}

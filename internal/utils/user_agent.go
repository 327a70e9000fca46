package utils

import (
	"strings"

	"github.com/mssola/user_agent"
)

// DeviceInfo is what the audit trail keeps about the calling shell
type DeviceInfo struct {
	Platform string `json:"platform"`
	OS       string `json:"os"`
	Browser  string `json:"browser,omitempty"`
	Mobile   bool   `json:"mobile"`
	Bot      bool   `json:"bot"`
}

// ParseUserAgent extracts platform details from a User-Agent header
func ParseUserAgent(raw string) DeviceInfo {
	if strings.TrimSpace(raw) == "" || raw == "Unknown" {
		return DeviceInfo{Platform: "unknown", OS: "unknown"}
	}

	ua := user_agent.New(raw)
	name, version := ua.Browser()

	info := DeviceInfo{
		Platform: ua.Platform(),
		OS:       ua.OS(),
		Mobile:   ua.Mobile(),
		Bot:      ua.Bot(),
	}
	if name != "" {
		info.Browser = strings.TrimSpace(name + " " + version)
	}
	if info.Platform == "" {
		info.Platform = "unknown"
	}
	if info.OS == "" {
		info.OS = "unknown"
	}
	return info
}

// PlatformLabel is a short platform name for audit rows, e.g. "android" or "ios"
func PlatformLabel(raw string) string {
	info := ParseUserAgent(raw)
	os := strings.ToLower(info.OS)
	switch {
	case strings.Contains(os, "android"):
		return "android"
	case strings.Contains(os, "iphone"), strings.Contains(os, "ipad"), strings.Contains(os, "ios"):
		return "ios"
	case info.Platform == "unknown":
		return "unknown"
	default:
		return strings.ToLower(info.Platform)
	}
}

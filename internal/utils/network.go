package utils

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetRealIP returns the address recorded on payment audit rows.
// A public X-Real-IP wins, then the first public X-Forwarded-For hop,
// then the first forwarded hop of any kind, then gin's ClientIP.
// The shell usually calls from loopback, so the last case is common.
func GetRealIP(c *gin.Context) string {
	if ip := publicIP(c.GetHeader("X-Real-IP")); ip != "" {
		return ip
	}

	hops := strings.Split(c.GetHeader("X-Forwarded-For"), ",")
	for _, hop := range hops {
		if ip := publicIP(hop); ip != "" {
			return ip
		}
	}
	if first := strings.TrimSpace(hops[0]); net.ParseIP(first) != nil {
		return first
	}

	return c.ClientIP()
}

// GetUserAgent returns the User-Agent header, or "Unknown"
func GetUserAgent(c *gin.Context) string {
	if ua := c.Request.UserAgent(); ua != "" {
		return ua
	}
	return "Unknown"
}

// publicIP returns raw trimmed when it parses as a routable address
func publicIP(raw string) string {
	raw = strings.TrimSpace(raw)
	ip := net.ParseIP(raw)
	if ip == nil || ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() {
		return ""
	}
	return raw
}

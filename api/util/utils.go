package apiutil

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetIPFromContext extracts the client IP, preferring the proxy headers the
// edge sets over the raw socket address.
func GetIPFromContext(c *gin.Context) (*string, error) {
	ip := c.Request.Header.Get("X-Real-IP")
	if len(ip) > 0 {
		return &ip, nil
	}

	ip = c.Request.Header.Get("X-Forwarded-For")
	ipList := strings.Split(ip, ",")
	if len(ipList[0]) > 0 {
		first := strings.TrimSpace(ipList[0])
		return &first, nil
	}

	// no proxy headers, fall back to the socket address
	ip, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return nil, err
	}
	return &ip, nil
}

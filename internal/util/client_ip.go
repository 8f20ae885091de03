package util

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the caller address used as a rate-limit key. The
// leftmost X-Forwarded-For entry is honored only when trustForwarded is
// set (service deployed behind a known proxy); otherwise the transport
// peer address wins.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
			parts := strings.Split(fwd, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

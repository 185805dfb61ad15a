// Package httputil holds small helpers shared by the HTTP layer.
package httputil

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP resolves the originating client address for a request that may
// have passed through proxies. X-Forwarded-For wins when present; its first
// entry is the original client, later entries are the proxy chain. X-Real-IP
// is the single-proxy variant. With neither header the peer address itself is
// the client, stripped of its port.
func GetClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port, e.g. from a unix socket listener.
		return r.RemoteAddr
	}
	return host
}

package tracking

import (
	"net"
	"net/netip"
	"strings"
)

const ForwardedForHeader = "X-Forwarded-For"

// ClientIP picks the first hop of X-Forwarded-For when it is a valid IP
// literal, otherwise the transport peer address. It returns nil when neither
// yields a valid address.
func ClientIP(forwardedFor, remoteAddr string) *string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if ip, ok := normalizeIP(strings.TrimSpace(first)); ok {
			return &ip
		}
	}

	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	if ip, ok := normalizeIP(host); ok {
		return &ip
	}
	return nil
}

func normalizeIP(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.WithZone("").String(), true
}

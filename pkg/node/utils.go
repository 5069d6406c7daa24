package node

import (
	"net"
	"net/url"
	"strings"
)

const defaultPort = "8080"

// NormalizeHostPort strips an http:// or https:// scheme and appends defPort
// when addr has no port.
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}
	addr = strings.TrimSuffix(addr, "/")

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, defPort)
}

// endpoint is the URL of path on the node at addr.
func endpoint(addr, path string) string {
	u := url.URL{Scheme: "http", Host: NormalizeHostPort(addr, defaultPort), Path: path}
	return u.String()
}

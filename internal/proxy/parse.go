package proxy

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"strconv"
	"strings"
)

// Protocol is the proxy transport scheme.
type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolHTTPS  Protocol = "https"
	ProtocolSOCKS4 Protocol = "socks4"
	ProtocolSOCKS5 Protocol = "socks5"
)

// Parse derives a Proxy record from a proxy URL string. Unknown schemes
// default to HTTP; the id is a stable 32-bit hash of the raw URL.
func Parse(raw string) (*Proxy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty proxy url")
	}

	// Bare host:port lists are common in proxy provider exports.
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("proxy url %q has no host", raw)
	}

	proto := ProtocolHTTP
	switch strings.ToLower(u.Scheme) {
	case "https":
		proto = ProtocolHTTPS
	case "socks4":
		proto = ProtocolSOCKS4
	case "socks5":
		proto = ProtocolSOCKS5
	}

	port := 0
	if p := u.Port(); p != "" {
		port, _ = strconv.Atoi(p)
	}
	if port == 0 {
		switch proto {
		case ProtocolHTTPS:
			port = 443
		case ProtocolSOCKS4, ProtocolSOCKS5:
			port = 1080
		default:
			port = 80
		}
	}

	username := ""
	password := ""
	if u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}

	return &Proxy{
		ID:       hashID(raw),
		URL:      raw,
		Protocol: proto,
		Host:     u.Hostname(),
		Port:     port,
		Username: username,
		Password: password,
		Status:   StatusActive,
	}, nil
}

func hashID(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

package proxy

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Scheme is the normalized upstream scheme a request resolves to.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// Target is a parsed, normalized upstream destination.
type Target struct {
	Scheme Scheme
	Host   string
	Port   int
	Path   string
	Query  string
}

// Authority renders host:port, suppressing the port when it matches the
// scheme's default (so the Host header looks like a normal client request).
func (t Target) Authority() string {
	if (t.Scheme == SchemeHTTP && t.Port == 80) || (t.Scheme == SchemeHTTPS && t.Port == 443) {
		return t.Host
	}
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

func normalizeScheme(raw string) (Scheme, error) {
	switch strings.ToLower(raw) {
	case "http", "ws":
		return SchemeHTTP, nil
	case "https", "wss":
		return SchemeHTTPS, nil
	default:
		return "", fmt.Errorf("unsupported scheme %q", raw)
	}
}

func defaultPort(s Scheme) int {
	if s == SchemeHTTPS {
		return 443
	}
	return 80
}

// ParseTarget resolves r into a Target, handling both absolute-form request
// lines (the normal way a forward proxy receives requests) and origin-form
// ones (read the Host header and assume the proxy's own scheme).
func ParseTarget(r *http.Request) (Target, error) {
	if r.URL.IsAbs() {
		scheme, err := normalizeScheme(r.URL.Scheme)
		if err != nil {
			return Target{}, err
		}
		host := r.URL.Hostname()
		port := defaultPort(scheme)
		if p := r.URL.Port(); p != "" {
			fmt.Sscanf(p, "%d", &port)
		}
		return Target{Scheme: scheme, Host: host, Port: port, Path: r.URL.Path, Query: r.URL.RawQuery}, nil
	}

	host := r.Host
	if host == "" {
		return Target{}, fmt.Errorf("missing Host header")
	}
	scheme := SchemeHTTP
	h, p, err := net.SplitHostPort(host)
	port := defaultPort(scheme)
	if err == nil {
		host = h
		fmt.Sscanf(p, "%d", &port)
	}
	return Target{Scheme: scheme, Host: host, Port: port, Path: r.URL.Path, Query: r.URL.RawQuery}, nil
}

// IsLoopback reports whether host refers to the local machine under any of
// the spellings a sandbox's own preview server might be bound to.
func IsLoopback(host string) bool {
	h := strings.ToLower(host)
	switch h {
	case "localhost", "127.0.0.1", "0.0.0.0", "::1", "::ffff:127.0.0.1":
		return true
	}
	if strings.HasSuffix(h, ".localhost") {
		return true
	}
	if ip := net.ParseIP(h); ip != nil && ip.To4() != nil && ip.To4()[0] == 127 {
		return true
	}
	return false
}

// RewriteLoopback maps a loopback Target observed under route to the
// sandbox's externally routable preview hostname. requestedPort 0 means
// "the default web port" (80).
func RewriteLoopback(t Target, route *Route, requestedPort int) Target {
	if requestedPort == 0 {
		requestedPort = 80
	}
	host := fmt.Sprintf("cmux-%s-%s-%d.%s", route.MorphID, route.Scope, requestedPort, route.DomainSuffix)
	return Target{Scheme: SchemeHTTPS, Host: host, Port: 443, Path: t.Path, Query: t.Query}
}

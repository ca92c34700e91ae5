package proxy

import (
	"net/http"
	"net/url"
	"testing"
)

func TestParseTargetAbsoluteForm(t *testing.T) {
	req := &http.Request{
		Method: http.MethodGet,
		URL: &url.URL{
			Scheme:   "https",
			Host:     "example.com:8443",
			Path:     "/api/widgets",
			RawQuery: "id=1",
		},
	}

	target, err := ParseTarget(req)
	if err != nil {
		t.Fatalf("ParseTarget: %v", err)
	}
	if target.Scheme != SchemeHTTPS {
		t.Fatalf("scheme = %q, want https", target.Scheme)
	}
	if target.Host != "example.com" {
		t.Fatalf("host = %q, want example.com", target.Host)
	}
	if target.Port != 8443 {
		t.Fatalf("port = %d, want 8443", target.Port)
	}
	if target.Path != "/api/widgets" || target.Query != "id=1" {
		t.Fatalf("path/query mismatch: %+v", target)
	}
}

func TestParseTargetAbsoluteFormDefaultPort(t *testing.T) {
	req := &http.Request{
		URL: &url.URL{Scheme: "http", Host: "example.com", Path: "/"},
	}
	target, err := ParseTarget(req)
	if err != nil {
		t.Fatalf("ParseTarget: %v", err)
	}
	if target.Port != 80 {
		t.Fatalf("port = %d, want 80", target.Port)
	}
}

func TestParseTargetOriginFormUsesHostHeader(t *testing.T) {
	req := &http.Request{
		URL:  &url.URL{Path: "/index.html", RawQuery: "a=b"},
		Host: "internal.sandbox:9000",
	}
	target, err := ParseTarget(req)
	if err != nil {
		t.Fatalf("ParseTarget: %v", err)
	}
	if target.Scheme != SchemeHTTP {
		t.Fatalf("scheme = %q, want http", target.Scheme)
	}
	if target.Host != "internal.sandbox" || target.Port != 9000 {
		t.Fatalf("host/port mismatch: %+v", target)
	}
	if target.Path != "/index.html" || target.Query != "a=b" {
		t.Fatalf("path/query mismatch: %+v", target)
	}
}

func TestParseTargetOriginFormNoPort(t *testing.T) {
	req := &http.Request{
		URL:  &url.URL{Path: "/"},
		Host: "internal.sandbox",
	}
	target, err := ParseTarget(req)
	if err != nil {
		t.Fatalf("ParseTarget: %v", err)
	}
	if target.Port != 80 {
		t.Fatalf("port = %d, want 80 (http default)", target.Port)
	}
}

func TestParseTargetOriginFormMissingHost(t *testing.T) {
	req := &http.Request{URL: &url.URL{Path: "/"}}
	if _, err := ParseTarget(req); err == nil {
		t.Fatal("expected error for missing Host header")
	}
}

func TestAuthoritySuppressesDefaultPort(t *testing.T) {
	cases := []struct {
		target Target
		want   string
	}{
		{Target{Scheme: SchemeHTTP, Host: "a.com", Port: 80}, "a.com"},
		{Target{Scheme: SchemeHTTPS, Host: "a.com", Port: 443}, "a.com"},
		{Target{Scheme: SchemeHTTP, Host: "a.com", Port: 8080}, "a.com:8080"},
		{Target{Scheme: SchemeHTTPS, Host: "a.com", Port: 80}, "a.com:80"},
	}
	for _, c := range cases {
		if got := c.target.Authority(); got != c.want {
			t.Errorf("Authority(%+v) = %q, want %q", c.target, got, c.want)
		}
	}
}

func TestIsLoopback(t *testing.T) {
	loopback := []string{"localhost", "127.0.0.1", "0.0.0.0", "::1", "::ffff:127.0.0.1", "foo.localhost", "127.5.5.5", "LOCALHOST"}
	for _, h := range loopback {
		if !IsLoopback(h) {
			t.Errorf("IsLoopback(%q) = false, want true", h)
		}
	}

	notLoopback := []string{"example.com", "10.0.0.1", "8.8.8.8", "cmux-abc-1-sandboxes.example.com"}
	for _, h := range notLoopback {
		if IsLoopback(h) {
			t.Errorf("IsLoopback(%q) = true, want false", h)
		}
	}
}

func TestRewriteLoopback(t *testing.T) {
	route := &Route{MorphID: "abc123", Scope: "sandboxes", DomainSuffix: "example.com"}
	t1 := Target{Scheme: SchemeHTTP, Host: "localhost", Port: 3000, Path: "/app", Query: "x=1"}

	got := RewriteLoopback(t1, route, 3000)
	if got.Scheme != SchemeHTTPS || got.Port != 443 {
		t.Fatalf("expected https/443, got %+v", got)
	}
	want := "cmux-abc123-sandboxes-3000.example.com"
	if got.Host != want {
		t.Fatalf("host = %q, want %q", got.Host, want)
	}
	if got.Path != "/app" || got.Query != "x=1" {
		t.Fatalf("path/query not preserved: %+v", got)
	}
}

func TestRewriteLoopbackDefaultsToPort80(t *testing.T) {
	route := &Route{MorphID: "abc123", Scope: "sandboxes", DomainSuffix: "example.com"}
	got := RewriteLoopback(Target{Scheme: SchemeHTTP, Host: "localhost"}, route, 0)
	want := "cmux-abc123-sandboxes-80.example.com"
	if got.Host != want {
		t.Fatalf("host = %q, want %q", got.Host, want)
	}
}

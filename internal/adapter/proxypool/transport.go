package proxypool

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"github.com/fairyhunter13/steam-vetter/internal/domain"
)

// UserAgent mimics a desktop browser; the community endpoints reject
// obviously robotic clients.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Per-endpoint outbound timeouts. The inventory endpoint serves large
// payloads slowly; friends sits in between.
const (
	timeoutDefault   = 10 * time.Second
	timeoutFriends   = 15 * time.Second
	timeoutInventory = 25 * time.Second
)

// TimeoutFor returns the outbound timeout for an endpoint. Empty or
// unrecognized names get the default.
func TimeoutFor(check domain.CheckName) time.Duration {
	switch check {
	case domain.CheckFriends:
		return timeoutFriends
	case domain.CheckCSGOInventory:
		return timeoutInventory
	default:
		return timeoutDefault
	}
}

// ClientFor builds an HTTP client routed through conn. Direct connections
// use the default transport; SOCKS5 connections get a dedicated transport
// with keep-alives off so per-call clients do not leak idle sockets.
func ClientFor(conn Connection, timeout time.Duration) (*http.Client, error) {
	if conn.Kind != domain.ConnSOCKS5 {
		return &http.Client{Timeout: timeout}, nil
	}
	u, err := url.Parse(conn.URL)
	if err != nil {
		return nil, fmt.Errorf("op=proxypool.ClientFor: parse %q: %w", conn.URL, err)
	}
	var auth *proxy.Auth
	if u.User != nil {
		pw, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: pw}
	}
	dialer, err := proxy.SOCKS5("tcp", u.Host, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("op=proxypool.ClientFor: socks5 dialer: %w", err)
	}
	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("op=proxypool.ClientFor: socks5 dialer lacks context support")
	}
	tr := &http.Transport{
		DialContext:       cd.DialContext,
		DisableKeepAlives: true,
	}
	return &http.Client{Timeout: timeout, Transport: tr}, nil
}

package session

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// buildTransport constructs an *http.Client bound to the given proxy URL.
// An empty proxyURL returns a plain client with no proxy. Supported
// schemes are "http", "https" and "socks5"; any other scheme is rejected.
func buildTransport(proxyURL string) (*http.Client, error) {
	base := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 15 * time.Second}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     60 * time.Second,
	}

	if proxyURL == "" {
		return &http.Client{Transport: base, Timeout: 30 * time.Second}, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("session: invalid proxy url %q: %w", proxyURL, err)
	}

	switch parsed.Scheme {
	case "http", "https":
		base.Proxy = http.ProxyURL(parsed)
	case "socks5":
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, socksAuth(parsed), proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("session: building socks5 dialer: %w", err)
		}
		if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
			base.DialContext = ctxDialer.DialContext
		} else {
			base.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("session: unsupported proxy scheme %q", parsed.Scheme)
	}

	return &http.Client{Transport: base, Timeout: 30 * time.Second}, nil
}

func socksAuth(u *url.URL) *proxy.Auth {
	if u.User == nil {
		return nil
	}
	pass, _ := u.User.Password()
	return &proxy.Auth{User: u.User.Username(), Password: pass}
}

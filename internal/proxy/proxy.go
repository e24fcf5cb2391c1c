package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// State is the liveness verdict of a proxy
type State int

const (
	Untested State = iota
	Working
	NotWorking
)

func (s State) String() string {
	switch s {
	case Working:
		return "working"
	case NotWorking:
		return "not_working"
	default:
		return "untested"
	}
}

// Proxy is a single candidate proxy. Its identity is the address as it
// appeared in the candidate list.
type Proxy struct {
	Address string
	URL     *url.URL

	state   State
	status  int
	err     error
	latency time.Duration
}

// Parse turns "host:port" or "scheme://host:port" into a Proxy. A bare
// address is treated as an HTTP proxy.
func Parse(addr string) (*Proxy, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("empty proxy address")
	}

	raw := addr
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy address %q: %w", addr, err)
	}

	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q in %q", u.Scheme, addr)
	}

	if u.Hostname() == "" || u.Port() == "" {
		return nil, fmt.Errorf("proxy address %q must be host:port", addr)
	}

	return &Proxy{Address: addr, URL: u}, nil
}

// State returns the liveness verdict
func (p *Proxy) State() State {
	return p.state
}

// Status returns the probe's HTTP status code, 0 if the probe failed
func (p *Proxy) Status() int {
	return p.status
}

// Err returns the probe error, if any
func (p *Proxy) Err() error {
	return p.err
}

// Latency returns how long the probe took
func (p *Proxy) Latency() time.Duration {
	return p.latency
}

// settle records the probe outcome. Only the first call has an effect.
func (p *Proxy) settle(state State, status int, err error, latency time.Duration) {
	if p.state != Untested {
		return
	}
	p.state = state
	p.status = status
	p.err = err
	p.latency = latency
}

func (p *Proxy) String() string {
	return p.Address
}

// HTTPClient builds a client that routes every request through the proxy.
// Redirects are returned to the caller instead of being followed. TLS
// certificates are always verified, so a proxy that intercepts https
// traffic fails the request.
func (p *Proxy) HTTPClient(timeout time.Duration) (*http.Client, error) {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   4,
		ExpectContinueTimeout: 1 * time.Second,
	}

	switch p.URL.Scheme {
	case "socks5", "socks5h":
		var auth *xproxy.Auth
		if p.URL.User != nil {
			password, _ := p.URL.User.Password()
			auth = &xproxy.Auth{User: p.URL.User.Username(), Password: password}
		}
		socks, err := xproxy.SOCKS5("tcp", p.URL.Host, auth, dialer)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer for %s: %w", p.Address, err)
		}
		contextDialer, ok := socks.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS5 dialer for %s does not support contexts", p.Address)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return contextDialer.DialContext(ctx, network, addr)
		}
	default:
		transport.Proxy = http.ProxyURL(p.URL)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

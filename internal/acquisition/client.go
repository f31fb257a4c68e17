package acquisition

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"
)

const (
	acceptPDF  = "application/pdf,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptJSON = "application/json"
)

var fallbackUserAgents = []string{
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// browserClient sends requests that look like ordinary browser traffic.
// TLS verification is skipped only for hosts matching insecureHosts.
type browserClient struct {
	secure        *http.Client
	insecure      *http.Client
	insecureHosts []string
	agents        []string
	next          atomic.Uint64
}

func newBrowserClient(agents, insecureHosts []string) *browserClient {
	if len(agents) == 0 {
		agents = fallbackUserAgents
	}
	return &browserClient{
		secure:        &http.Client{Transport: newTransport(false)},
		insecure:      &http.Client{Transport: newTransport(true)},
		insecureHosts: insecureHosts,
		agents:        agents,
	}
}

func newTransport(skipVerify bool) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: skipVerify, //nolint:gosec // scoped to configured institutional hosts
			MinVersion:         tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
	}
}

// userAgent rotates through the configured agents.
func (c *browserClient) userAgent() string {
	n := c.next.Add(1) - 1
	return c.agents[n%uint64(len(c.agents))]
}

func (c *browserClient) clientFor(u *url.URL) *http.Client {
	if hostMatches(u.Hostname(), c.insecureHosts) {
		return c.insecure
	}
	return c.secure
}

// newRequest builds a request with browser headers.
func (c *browserClient) newRequest(ctx context.Context, method, target, accept, referer string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent())
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("DNT", "1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	return req, nil
}

func (c *browserClient) do(req *http.Request) (*http.Response, error) {
	return c.clientFor(req.URL).Do(req)
}

// doTracking runs req and records every URL visited along the redirect chain.
func (c *browserClient) doTracking(req *http.Request) (*http.Response, []string, error) {
	hops := []string{req.URL.String()}
	base := c.clientFor(req.URL)
	tracking := &http.Client{
		Transport: base.Transport,
		CheckRedirect: func(next *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			hops = append(hops, next.URL.String())
			return nil
		},
	}
	resp, err := tracking.Do(req)
	return resp, hops, err
}

// hostMatches reports whether host equals, is a subdomain of, or glob-matches a pattern.
func hostMatches(host string, patterns []string) bool {
	host = strings.ToLower(host)
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if host == p || strings.HasSuffix(host, "."+p) {
			return true
		}
		if ok, _ := path.Match(p, host); ok {
			return true
		}
	}
	return false
}

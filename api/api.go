// Package api is the HTTP client observer nodes use to talk to each other:
// delegating PUTs to children, chaining PATCHes to parents, polling child
// load and issuing the root's self-DELETE.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
)

// DefaultTimeout bounds a single request to a peer. Peers are on the same
// operator network; a slow peer is treated as a declining peer.
const DefaultTimeout = 10 * time.Second

// Config is used to configure the creation of a client.
type Config struct {
	// Address is the peer's base URL, e.g. http://observer-b:8021.
	Address string

	// Timeout overrides DefaultTimeout when non-zero.
	Timeout time.Duration

	// HTTPClient overrides the default pooled client, for tests.
	HTTPClient *http.Client
}

// Client provides a client to a single peer node.
type Client struct {
	address    *url.URL
	httpClient *http.Client
}

// NewClient returns a client for the peer at config.Address.
func NewClient(config *Config) (*Client, error) {
	addr, err := url.Parse(config.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid peer address %q: %w", config.Address, err)
	}
	if addr.Scheme != "http" && addr.Scheme != "https" {
		return nil, fmt.Errorf("invalid peer address %q: unknown scheme %q", config.Address, addr.Scheme)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	httpClient.Timeout = timeout

	return &Client{
		address:    addr,
		httpClient: httpClient,
	}, nil
}

// Address returns the peer's base URL.
func (c *Client) Address() string {
	return c.address.String()
}

// StatusError is returned for any response outside the 2xx range. Body
// carries the peer's decoded JSON error so callers can echo it under a
// details key.
type StatusError struct {
	StatusCode int
	Body       json.RawMessage
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("peer responded %d: %s", e.StatusCode, string(e.Body))
}

// IsStatus tells whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	se, ok := err.(*StatusError)
	return ok && se.StatusCode == code
}

// doJSON performs one request and decodes the JSON response into out (when
// out is non-nil). Form values are sent urlencoded; the platform and the
// nodes both speak forms in, JSON out.
func (c *Client) doJSON(method, path string, form url.Values, out interface{}) (int, error) {
	u := *c.address
	u.Path = strings.TrimSuffix(u.Path, "/") + path

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequest(method, u.String(), body)
	if err != nil {
		return 0, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       json.RawMessage(raw),
		}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode peer response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

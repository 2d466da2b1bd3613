// Package acl implements the sibling allow-list that gates every inbound
// HTTP request. Observer nodes authenticate each other by source IP only:
// at startup the node resolves the hostnames of its configured parent,
// children and itself, and admits requests only from the resulting set.
package acl

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"
	"github.com/hashicorp/go-sockaddr"
)

// Resolver looks up the A/AAAA records of a host. It matches
// net.DefaultResolver's LookupHost modulo context and exists so tests can
// resolve without touching DNS.
type Resolver func(host string) ([]string, error)

// SiblingACL is the set of peer IPs allowed to talk to this node. It is
// built once at startup; operators restart the node after topology changes.
type SiblingACL struct {
	allowed *set.Set[string]
	logger  hclog.Logger
}

// Config names the peers whose addresses are admitted.
type Config struct {
	// SelfURL, ParentURL and ChildURLs are the node's own base URL and the
	// configured peer base URLs. Hosts are extracted and resolved.
	SelfURL   string
	ParentURL string
	ChildURLs []string

	// Extra holds additional hosts or literal IPs from the acl config
	// block, for operator boxes and health checkers.
	Extra []string

	// Resolve defaults to net.LookupHost.
	Resolve Resolver
}

// NewSiblingACL resolves every configured peer plus localhost and unions the
// addresses into the allow-set. A host that fails to resolve is a startup
// error; a misconfigured tree should not come up half-open.
func NewSiblingACL(logger hclog.Logger, cfg *Config) (*SiblingACL, error) {
	resolve := cfg.Resolve
	if resolve == nil {
		resolve = net.LookupHost
	}

	a := &SiblingACL{
		allowed: set.New[string](8),
		logger:  logger.Named("acl"),
	}

	hosts := []string{"localhost"}
	for _, raw := range []string{cfg.SelfURL, cfg.ParentURL} {
		if raw == "" {
			continue
		}
		host, err := hostOfURL(raw)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, host)
	}
	for _, raw := range cfg.ChildURLs {
		host, err := hostOfURL(raw)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, host)
	}
	hosts = append(hosts, cfg.Extra...)

	for _, host := range hosts {
		if err := a.admitHost(host, resolve); err != nil {
			return nil, err
		}
	}

	a.logger.Debug("resolved sibling allow-set", "peers", len(hosts), "addrs", a.allowed.Size())
	return a, nil
}

// admitHost adds all addresses of host to the allow-set. Literal IPs skip
// DNS.
func (a *SiblingACL) admitHost(host string, resolve Resolver) error {
	if ip := net.ParseIP(host); ip != nil {
		a.allowed.Insert(normalizeIP(ip.String()))
		return nil
	}

	addrs, err := resolve(host)
	if err != nil {
		return fmt.Errorf("failed to resolve peer %q: %w", host, err)
	}
	for _, addr := range addrs {
		a.allowed.Insert(normalizeIP(addr))
	}
	return nil
}

// Allowed tells whether remote is a configured sibling. remote may carry a
// port.
func (a *SiblingACL) Allowed(remote string) bool {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	return a.allowed.Contains(normalizeIP(host))
}

// Size returns the number of distinct admitted addresses.
func (a *SiblingACL) Size() int {
	return a.allowed.Size()
}

// normalizeIP canonicalizes the textual form of an IP so that set membership
// does not depend on formatting (::1 vs 0:0:0:0:0:0:0:1 and friends).
func normalizeIP(addr string) string {
	ip, err := sockaddr.NewIPAddr(addr)
	if err != nil {
		return strings.ToLower(addr)
	}
	return ip.NetIP().String()
}

// hostOfURL extracts the hostname from a peer base URL.
func hostOfURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid peer url %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("peer url %q has no host", raw)
	}
	return u.Hostname(), nil
}

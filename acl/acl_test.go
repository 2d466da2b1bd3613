package acl

import (
	"fmt"
	"testing"

	"github.com/lionheart1022/betwatch/ci"
	"github.com/lionheart1022/betwatch/helper/testlog"
	"github.com/shoenig/test/must"
)

func staticResolver(records map[string][]string) Resolver {
	return func(host string) ([]string, error) {
		addrs, ok := records[host]
		if !ok {
			return nil, fmt.Errorf("no such host %q", host)
		}
		return addrs, nil
	}
}

func TestSiblingACL_AdmitsConfiguredPeers(t *testing.T) {
	ci.Parallel(t)

	cfg := &Config{
		SelfURL:   "http://observer-a.example.com:8021",
		ParentURL: "http://master.example.com:8021",
		ChildURLs: []string{"http://observer-b.example.com:8021"},
		Resolve: staticResolver(map[string][]string{
			"localhost":              {"127.0.0.1", "::1"},
			"observer-a.example.com": {"10.0.0.1"},
			"master.example.com":     {"10.0.0.2", "10.0.0.3"},
			"observer-b.example.com": {"10.0.0.4"},
		}),
	}

	a, err := NewSiblingACL(testlog.HCLogger(t), cfg)
	must.NoError(t, err)

	for _, remote := range []string{
		"127.0.0.1", "::1", "10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4",
		"10.0.0.2:51234", "[::1]:8021",
	} {
		must.True(t, a.Allowed(remote), must.Sprintf("expected %q admitted", remote))
	}

	for _, remote := range []string{"10.0.0.9", "192.168.1.1:8021", "8.8.8.8"} {
		must.False(t, a.Allowed(remote), must.Sprintf("expected %q rejected", remote))
	}
}

func TestSiblingACL_LiteralIPsSkipDNS(t *testing.T) {
	ci.Parallel(t)

	// Resolver only knows localhost; literal IPs in config must not hit it.
	cfg := &Config{
		SelfURL: "http://10.1.2.3:8021",
		Extra:   []string{"10.9.9.9"},
		Resolve: staticResolver(map[string][]string{
			"localhost": {"127.0.0.1"},
		}),
	}

	a, err := NewSiblingACL(testlog.HCLogger(t), cfg)
	must.NoError(t, err)
	must.True(t, a.Allowed("10.1.2.3"))
	must.True(t, a.Allowed("10.9.9.9:4040"))
	must.False(t, a.Allowed("10.9.9.8"))
}

func TestSiblingACL_ResolutionFailureIsFatal(t *testing.T) {
	ci.Parallel(t)

	cfg := &Config{
		SelfURL: "http://nxdomain.example.com:8021",
		Resolve: staticResolver(map[string][]string{
			"localhost": {"127.0.0.1"},
		}),
	}

	_, err := NewSiblingACL(testlog.HCLogger(t), cfg)
	must.ErrorContains(t, err, "nxdomain.example.com")
}

func TestSiblingACL_IPv6Normalization(t *testing.T) {
	ci.Parallel(t)

	cfg := &Config{
		Extra: []string{"0:0:0:0:0:0:0:1"},
		Resolve: staticResolver(map[string][]string{
			"localhost": {"127.0.0.1"},
		}),
	}

	a, err := NewSiblingACL(testlog.HCLogger(t), cfg)
	must.NoError(t, err)
	must.True(t, a.Allowed("::1"))
}

func TestSiblingACL_BadURL(t *testing.T) {
	ci.Parallel(t)

	cfg := &Config{
		SelfURL: "http://",
		Resolve: staticResolver(map[string][]string{
			"localhost": {"127.0.0.1"},
		}),
	}

	_, err := NewSiblingACL(testlog.HCLogger(t), cfg)
	must.ErrorContains(t, err, "no host")
}

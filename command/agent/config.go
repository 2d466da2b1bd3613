package agent

import (
	"fmt"
	"net"
	"strconv"
	"time"

	sockaddr "github.com/hashicorp/go-sockaddr"
	"github.com/hashicorp/go-sockaddr/template"

	"github.com/lionheart1022/betwatch/watcher/handlers"
)

// Config is the configuration for the betwatch agent, read from HCL files
// and overridden by CLI flags.
type Config struct {
	// SelfURL is the base URL under which the tree's peers (and the
	// node's own runners) reach this node.
	SelfURL string `hcl:"self_url"`

	// BindAddr is the address the HTTP server listens on. Sockaddr
	// templates are supported.
	BindAddr string `hcl:"bind_addr"`

	// Port is the HTTP port. The original observer daemon listened on
	// 8021 and the platform still expects it.
	Port int `hcl:"port"`

	// DataDir holds state.db. Empty in dev mode (memory-only).
	DataDir string `hcl:"data_dir"`

	// NodeRoot is the directory handler working dirs are relative to.
	NodeRoot string `hcl:"node_root"`

	// MaxStreams caps the local runner pool.
	MaxStreams int `hcl:"max_streams"`

	LogLevel string `hcl:"log_level"`
	LogJSON  bool   `hcl:"log_json"`

	// EnableDebug serves /debug/pprof endpoints.
	EnableDebug bool `hcl:"enable_debug"`

	// Parent is this node's upstream. Nil makes this node the root.
	Parent *PeerConfig `hcl:"parent"`

	// Children are tried in the order they appear in the config.
	Children []*PeerConfig `hcl:"child"`

	// Handlers registers or overrides gametype handlers.
	Handlers []*HandlerConfig `hcl:"handler"`

	ACL       *ACLConfig       `hcl:"acl"`
	Limits    *Limits          `hcl:"limits"`
	Telemetry *TelemetryConfig `hcl:"telemetry"`

	// DevMode is set by the -dev flag: memory-only state, localhost
	// topology, the echo handler registered.
	DevMode bool `hcl:"-"`
}

// PeerConfig names one parent or child node.
type PeerConfig struct {
	Name string `hcl:",key"`
	URL  string `hcl:"url"`
}

// HandlerConfig registers a gametype handler from config. Durations are
// strings ("10s"); ParseConfigFile converts them.
type HandlerConfig struct {
	Gametype  string `hcl:",key"`
	Parser    string `hcl:"parser"`
	Command   string `hcl:"command"`
	Dir       string `hcl:"dir"`
	Env       string `hcl:"env"`
	Quorum    int    `hcl:"quorum"`
	Window    string `hcl:"window"`
	WaitDelay string `hcl:"wait_delay"`
	WaitMax   string `hcl:"wait_max"`
	Twitch    int    `hcl:"twitch"`

	window    time.Duration
	waitDelay time.Duration
	waitMax   time.Duration
}

// ACLConfig adds non-peer hosts to the sibling allow-set.
type ACLConfig struct {
	Allow []string `hcl:"allow"`
}

// Limits are HTTP ingress limits.
type Limits struct {
	// HTTPMaxConnsPerClient caps concurrent connections per client IP.
	// Zero disables the limit.
	HTTPMaxConnsPerClient int `hcl:"http_max_conns_per_client"`
}

// TelemetryConfig configures the in-memory metrics sink.
type TelemetryConfig struct {
	CollectionInterval string `hcl:"collection_interval"`
	RetentionPeriod    string `hcl:"retention_period"`

	collectionInterval time.Duration
	retentionPeriod    time.Duration
}

// DefaultConfig returns the config a bare root node runs with.
func DefaultConfig() *Config {
	return &Config{
		BindAddr:   "0.0.0.0",
		Port:       8021,
		NodeRoot:   ".",
		MaxStreams: 4,
		LogLevel:   "INFO",
		Limits: &Limits{
			HTTPMaxConnsPerClient: 100,
		},
		Telemetry: &TelemetryConfig{
			collectionInterval: time.Second,
			retentionPeriod:    time.Minute,
		},
	}
}

// DevConfig returns a config for `betwatch agent -dev`: localhost only,
// memory-only state, the echo handler registered for poking at the API.
func DevConfig() *Config {
	conf := DefaultConfig()
	conf.DevMode = true
	conf.BindAddr = "127.0.0.1"
	conf.LogLevel = "DEBUG"
	return conf
}

// normalizedAddr resolves the bind address (expanding sockaddr templates)
// and joins it with the port.
func (c *Config) normalizedAddr() (string, error) {
	bind := c.BindAddr
	if bind == "" {
		bind = "127.0.0.1"
	}
	if ip := net.ParseIP(bind); ip == nil {
		out, err := template.Parse(bind)
		if err != nil {
			return "", fmt.Errorf("unable to parse bind_addr template %q: %w", bind, err)
		}
		bind = out
	}
	return net.JoinHostPort(bind, strconv.Itoa(c.Port)), nil
}

// selfURL returns the configured SelfURL or derives one from the bind
// address.
func (c *Config) selfURL() string {
	if c.SelfURL != "" {
		return c.SelfURL
	}
	host := c.BindAddr
	if host == "" || host == "0.0.0.0" || host == "::" {
		if private, err := sockaddr.GetPrivateIP(); err == nil && private != "" {
			host = private
		} else {
			host = "127.0.0.1"
		}
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(c.Port)))
}

// Merge layers b on top of c and returns the result. Slices accumulate in
// order so child blocks from later files are tried after earlier ones.
func (c *Config) Merge(b *Config) *Config {
	result := *c

	if b.SelfURL != "" {
		result.SelfURL = b.SelfURL
	}
	if b.BindAddr != "" {
		result.BindAddr = b.BindAddr
	}
	if b.Port != 0 {
		result.Port = b.Port
	}
	if b.DataDir != "" {
		result.DataDir = b.DataDir
	}
	if b.NodeRoot != "" {
		result.NodeRoot = b.NodeRoot
	}
	if b.MaxStreams != 0 {
		result.MaxStreams = b.MaxStreams
	}
	if b.LogLevel != "" {
		result.LogLevel = b.LogLevel
	}
	if b.LogJSON {
		result.LogJSON = true
	}
	if b.EnableDebug {
		result.EnableDebug = true
	}
	if b.DevMode {
		result.DevMode = true
	}
	if b.Parent != nil {
		result.Parent = b.Parent
	}

	result.Children = append(result.Children, b.Children...)
	result.Handlers = append(result.Handlers, b.Handlers...)

	if b.ACL != nil {
		if result.ACL == nil {
			result.ACL = &ACLConfig{}
		}
		result.ACL = &ACLConfig{Allow: append(result.ACL.Allow, b.ACL.Allow...)}
	}
	if b.Limits != nil {
		result.Limits = b.Limits
	}
	if b.Telemetry != nil {
		result.Telemetry = b.Telemetry
	}

	return &result
}

// handler converts the config block into a registry handler.
func (h *HandlerConfig) handler(parser handlers.Parser) *handlers.Handler {
	return &handlers.Handler{
		Gametype:  h.Gametype,
		Dir:       h.Dir,
		Env:       h.Env,
		Command:   h.Command,
		Quorum:    h.Quorum,
		Window:    h.window,
		WaitDelay: h.waitDelay,
		WaitMax:   h.waitMax,
		Twitch:    h.Twitch,
		Parser:    parser,
	}
}

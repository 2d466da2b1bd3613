package agent

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/hashicorp/cli"
	"github.com/hashicorp/go-hclog"
	"github.com/posener/complete"

	"github.com/lionheart1022/betwatch/version"
)

// Command is a Command implementation that runs a betwatch agent. The
// command will not end unless a shutdown message is sent on the ShutdownCh.
type Command struct {
	Version    *version.VersionInfo
	Ui         cli.Ui
	ShutdownCh <-chan struct{}

	args []string
}

func (c *Command) readConfig() *Config {
	var dev bool
	var configPaths []string
	cmdConfig := &Config{}

	flags := flag.NewFlagSet("agent", flag.ContinueOnError)
	flags.Usage = func() { c.Ui.Error(c.Help()) }

	flags.BoolVar(&dev, "dev", false, "")
	flags.Var((*flagStringSlice)(&configPaths), "config", "config")
	flags.StringVar(&cmdConfig.BindAddr, "bind", "", "")
	flags.IntVar(&cmdConfig.Port, "port", 0, "")
	flags.StringVar(&cmdConfig.DataDir, "data-dir", "", "")
	flags.StringVar(&cmdConfig.NodeRoot, "node-root", "", "")
	flags.StringVar(&cmdConfig.SelfURL, "self-url", "", "")
	flags.IntVar(&cmdConfig.MaxStreams, "max-streams", 0, "")
	flags.StringVar(&cmdConfig.LogLevel, "log-level", "", "")
	flags.BoolVar(&cmdConfig.LogJSON, "log-json", false, "")

	if err := flags.Parse(c.args); err != nil {
		return nil
	}

	config := DefaultConfig()
	if dev {
		config = DevConfig()
	}

	for _, path := range configPaths {
		current, err := LoadConfig(path)
		if err != nil {
			c.Ui.Error(fmt.Sprintf("Error loading configuration from %s: %s", path, err))
			return nil
		}
		config = config.Merge(current)
	}

	config = config.Merge(cmdConfig)
	config.DevMode = config.DevMode || dev

	if config.DataDir != "" {
		abs, err := filepath.Abs(config.DataDir)
		if err != nil {
			c.Ui.Error(fmt.Sprintf("Error resolving data_dir: %s", err))
			return nil
		}
		config.DataDir = abs
	}

	return config
}

// setupLogger builds the root logger from config.
func (c *Command) setupLogger(config *Config) (hclog.InterceptLogger, error) {
	level := hclog.LevelFromString(config.LogLevel)
	if level == hclog.NoLevel {
		return nil, fmt.Errorf("unknown log level: %s", config.LogLevel)
	}
	return hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:       "betwatch",
		Level:      level,
		Output:     os.Stderr,
		JSONFormat: config.LogJSON,
	}), nil
}

func (c *Command) Run(args []string) int {
	c.Ui = &cli.PrefixedUi{
		OutputPrefix: "==> ",
		InfoPrefix:   "    ",
		ErrorPrefix:  "==> ",
		Ui:           c.Ui,
	}

	c.args = args
	config := c.readConfig()
	if config == nil {
		return 1
	}

	logger, err := c.setupLogger(config)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	agent, err := NewAgent(config, logger)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error starting agent: %s", err))
		return 1
	}
	defer agent.Shutdown()

	srv, err := NewHTTPServer(agent, config)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error starting http server: %s", err))
		return 1
	}
	defer srv.Shutdown()

	// Agent startup banner.
	c.Ui.Output("Betwatch agent started! Log data will stream in below:\n")
	c.printConfigInfo(config, srv.Addr)

	return c.handleSignals(logger, agent)
}

// printConfigInfo prints the operator-facing startup summary.
func (c *Command) printConfigInfo(config *Config, addr string) {
	role := "root"
	if config.Parent != nil {
		role = fmt.Sprintf("child of %q", config.Parent.Name)
	}

	info := map[string]string{
		"Address":     addr,
		"Self URL":    config.selfURL(),
		"Role":        role,
		"Children":    fmt.Sprintf("%d", len(config.Children)),
		"Max Streams": fmt.Sprintf("%d", config.MaxStreams),
		"Log Level":   config.LogLevel,
		"Version":     c.Version.VersionNumber(),
	}

	padding := 0
	for k := range info {
		if len(k) > padding {
			padding = len(k)
		}
	}

	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	c.Ui.Output("Betwatch agent configuration:\n")
	for _, k := range keys {
		c.Ui.Info(fmt.Sprintf("%s%s: %s", strings.Repeat(" ", padding-len(k)), k, info[k]))
	}
	c.Ui.Output("")
}

// handleSignals blocks until a shutdown signal arrives. SIGHUP is accepted
// and ignored so a stray reload does not kill the node; config changes
// require a restart.
func (c *Command) handleSignals(logger hclog.Logger, agent *Agent) int {
	signalCh := make(chan os.Signal, 4)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		var sig os.Signal
		select {
		case s := <-signalCh:
			sig = s
		case <-c.ShutdownCh:
			sig = os.Interrupt
		}

		c.Ui.Output(fmt.Sprintf("Caught signal: %v", sig))

		if sig == syscall.SIGHUP {
			logger.Info("ignoring SIGHUP, config reload requires a restart")
			continue
		}

		logger.Info("gracefully shutting down agent")
		if err := agent.Shutdown(); err != nil {
			logger.Error("shutdown error", "error", err)
			return 1
		}
		return 0
	}
}

func (c *Command) Synopsis() string {
	return "Runs a Betwatch observer agent"
}

func (c *Command) AutocompleteFlags() complete.Flags {
	return complete.Flags{
		"-dev":         complete.PredictNothing,
		"-config":      complete.PredictOr(complete.PredictFiles("*.hcl"), complete.PredictDirs("*")),
		"-bind":        complete.PredictAnything,
		"-port":        complete.PredictAnything,
		"-data-dir":    complete.PredictDirs("*"),
		"-node-root":   complete.PredictDirs("*"),
		"-self-url":    complete.PredictAnything,
		"-max-streams": complete.PredictAnything,
		"-log-level":   complete.PredictSet("TRACE", "DEBUG", "INFO", "WARN", "ERROR"),
		"-log-json":    complete.PredictNothing,
	}
}

func (c *Command) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *Command) Help() string {
	helpText := `
Usage: betwatch agent [options]

  Starts the Betwatch observer agent and runs until an interrupt is received.
  The agent watches game streams, delegates them across the configured node
  tree and reports resolved winners toward the root.

Options:

  -dev
    Start the agent in development mode: memory-only state, localhost bind
    and the echo gametype registered for poking at the API.

  -config=<path>
    The path to either a single config file or a directory of *.hcl config
    files, merged in lexical order. May be specified multiple times.

  -bind=<addr>
    The address the HTTP server binds to. Supports go-sockaddr templates.

  -port=<port>
    The HTTP port to listen on. Defaults to 8021.

  -data-dir=<path>
    The directory to persist stream state into. Without it streams do not
    survive restarts.

  -node-root=<path>
    The directory gametype handler working dirs are relative to.

  -self-url=<url>
    The base URL peers use to reach this node.

  -max-streams=<n>
    The maximum number of streams watched concurrently on this node.

  -log-level=<level>
    The verbosity of the agent's logging. Defaults to INFO.

  -log-json
    Output logs in JSON format.
`
	return strings.TrimSpace(helpText)
}

// flagStringSlice collects repeated -config flags.
type flagStringSlice []string

func (v *flagStringSlice) String() string { return strings.Join(*v, ",") }

func (v *flagStringSlice) Set(raw string) error {
	*v = append(*v, raw)
	return nil
}

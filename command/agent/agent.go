// Package agent wires the betwatch node together: configuration, state
// store, sibling ACL, observer node, HTTP server and telemetry.
package agent

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/lionheart1022/betwatch/acl"
	"github.com/lionheart1022/betwatch/observer"
	"github.com/lionheart1022/betwatch/observer/state"
	"github.com/lionheart1022/betwatch/settle"
	"github.com/lionheart1022/betwatch/watcher/handlers"
)

// Agent is a betwatch observer node process.
type Agent struct {
	config *Config
	logger hclog.InterceptLogger

	store *state.StateStore
	node  *observer.Node
	acl   *acl.SiblingACL

	inmemSink *metrics.InmemSink

	shutdown     bool
	shutdownLock sync.Mutex
}

// NewAgent builds the node from config and runs the recovery pass. The HTTP
// server is started separately so recovery always precedes serving.
func NewAgent(config *Config, logger hclog.InterceptLogger) (*Agent, error) {
	a := &Agent{
		config: config,
		logger: logger,
	}

	if err := a.setupTelemetry(); err != nil {
		return nil, err
	}

	registry, err := a.setupHandlers()
	if err != nil {
		return nil, err
	}

	var persist state.Persister
	if config.DevMode || config.DataDir == "" {
		if !config.DevMode {
			logger.Warn("no data_dir configured, streams will not survive restarts")
		}
		persist = state.NewNoopPersister()
	} else {
		persist, err = state.NewBoltPersister(logger, config.DataDir)
		if err != nil {
			return nil, err
		}
	}

	a.store, err = state.NewStateStore(logger, persist)
	if err != nil {
		return nil, err
	}

	if err := a.setupACL(); err != nil {
		return nil, err
	}

	nodeConfig := &observer.Config{
		Logger:     logger,
		Store:      a.store,
		Registry:   registry,
		SelfURL:    config.selfURL(),
		MaxStreams: config.MaxStreams,
		NodeRoot:   config.NodeRoot,
		Backend:    settle.NewLogBackend(logger),
	}
	if config.Parent != nil {
		nodeConfig.Parent = &observer.Peer{Name: config.Parent.Name, URL: config.Parent.URL}
	}
	for _, child := range config.Children {
		nodeConfig.Children = append(nodeConfig.Children, observer.Peer{Name: child.Name, URL: child.URL})
	}

	a.node, err = observer.NewNode(nodeConfig)
	if err != nil {
		return nil, err
	}

	if err := a.node.Recover(); err != nil {
		return nil, fmt.Errorf("stream recovery failed: %w", err)
	}

	return a, nil
}

// setupHandlers builds the gametype registry: built-ins, the dev echo
// handler, then config blocks (which may override).
func (a *Agent) setupHandlers() (*handlers.Registry, error) {
	registry, err := handlers.NewRegistry(handlers.Builtin(a.logger)...)
	if err != nil {
		return nil, err
	}
	if a.config.DevMode {
		if err := registry.Register(handlers.EchoHandler()); err != nil {
			return nil, err
		}
	}

	for _, block := range a.config.Handlers {
		parser, err := handlers.NewParser(block.Parser, a.logger)
		if err != nil {
			return nil, fmt.Errorf("handler %q: %w", block.Gametype, err)
		}
		if err := registry.Register(block.handler(parser)); err != nil {
			return nil, fmt.Errorf("handler %q: %w", block.Gametype, err)
		}
	}

	a.logger.Info("registered gametype handlers", "gametypes", registry.Gametypes())
	return registry, nil
}

func (a *Agent) setupACL() error {
	aclConfig := &acl.Config{
		SelfURL: a.config.selfURL(),
	}
	if a.config.Parent != nil {
		aclConfig.ParentURL = a.config.Parent.URL
	}
	for _, child := range a.config.Children {
		aclConfig.ChildURLs = append(aclConfig.ChildURLs, child.URL)
	}
	if a.config.ACL != nil {
		aclConfig.Extra = a.config.ACL.Allow
	}

	siblings, err := acl.NewSiblingACL(a.logger, aclConfig)
	if err != nil {
		return err
	}
	a.acl = siblings
	return nil
}

// setupTelemetry configures the in-memory sink behind the global metrics
// instance; /metrics renders it.
func (a *Agent) setupTelemetry() error {
	telemetry := a.config.Telemetry
	if telemetry == nil {
		telemetry = &TelemetryConfig{}
		if err := telemetry.finalize(); err != nil {
			return err
		}
	}

	inm := metrics.NewInmemSink(telemetry.collectionInterval, telemetry.retentionPeriod)
	metrics.DefaultInmemSignal(inm)

	metricsConf := metrics.DefaultConfig("betwatch")
	metricsConf.EnableHostname = false
	if _, err := metrics.NewGlobal(metricsConf, inm); err != nil {
		return err
	}

	a.inmemSink = inm
	return nil
}

// Node returns the observer node.
func (a *Agent) Node() *observer.Node {
	return a.node
}

// Shutdown stops the runners and closes the state store. Stream rows stay
// behind for the next start's recovery pass.
func (a *Agent) Shutdown() error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	a.logger.Info("requesting shutdown")
	a.node.Shutdown()
	err := a.store.Close()
	a.logger.Info("shutdown complete")
	return err
}

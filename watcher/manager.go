// Package watcher implements the per-stream supervisor: a pool of runners,
// one per locally-owned stream, each driving a watcher subprocess and
// reducing its noisy verdict lines to a single result.
package watcher

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"oss.indeed.com/go/libtime"

	"github.com/lionheart1022/betwatch/observer/structs"
	"github.com/lionheart1022/betwatch/watcher/handlers"
)

// Config wires a Manager.
type Config struct {
	Logger hclog.Logger

	// Registry maps gametypes to handlers.
	Registry *handlers.Registry

	// MaxStreams caps the pool size.
	MaxStreams int

	// NodeRoot is the directory handler working directories are relative
	// to.
	NodeRoot string

	// Clock supplies verdict timestamps; tests inject a fake.
	Clock libtime.Clock

	// Updater persists state transitions.
	Updater StateUpdater

	// Result delivers the final winner.
	Result ResultFunc
}

// Manager owns the runner pool. All pool mutations (add, runner exit,
// abort) are serialized by its mutex.
type Manager struct {
	logger     hclog.Logger
	registry   *handlers.Registry
	maxStreams int
	nodeRoot   string
	clock      libtime.Clock
	updater    StateUpdater
	result     ResultFunc

	mu   sync.Mutex
	pool map[structs.StreamKey]*StreamRunner
}

func NewManager(cfg *Config) *Manager {
	clock := cfg.Clock
	if clock == nil {
		clock = libtime.SystemClock()
	}
	return &Manager{
		logger:     cfg.Logger.Named("watcher"),
		registry:   cfg.Registry,
		maxStreams: cfg.MaxStreams,
		nodeRoot:   cfg.NodeRoot,
		clock:      clock,
		updater:    cfg.Updater,
		result:     cfg.Result,
		pool:       make(map[structs.StreamKey]*StreamRunner),
	}
}

// Add starts a runner for the stream. It returns structs.ErrPoolFull when
// the pool is at capacity and structs.ErrUnsupportedGametype when no handler
// serves the gametype.
func (m *Manager) Add(stream *structs.Stream) error {
	handler := m.registry.Lookup(stream.Gametype)
	if handler == nil {
		return fmt.Errorf("%w: %s", structs.ErrUnsupportedGametype, stream.Gametype)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := stream.Key()
	if _, ok := m.pool[key]; ok {
		return fmt.Errorf("stream %s already has a runner", key)
	}
	if len(m.pool) >= m.maxStreams {
		return structs.ErrPoolFull
	}

	runner := newStreamRunner(m.logger, stream, handler, m.nodeRoot, m.clock, m.updater, m.result)
	runner.onExit = func() { m.remove(key, runner) }
	m.pool[key] = runner

	m.logger.Info("starting stream runner", "stream", key, "pool_size", len(m.pool))
	metrics.SetGauge([]string{"watcher", "pool_size"}, float32(len(m.pool)))

	go runner.Run()
	return nil
}

// Abort cancels the runner for key and blocks until its subprocess is gone.
// No result is emitted. Aborting an absent key is a no-op; the row may be
// delegated or already resolved.
func (m *Manager) Abort(key structs.StreamKey) {
	m.mu.Lock()
	runner, ok := m.pool[key]
	m.mu.Unlock()
	if !ok {
		return
	}

	m.logger.Info("aborting stream runner", "stream", key)
	runner.abort()
	<-runner.WaitCh()
}

// Has tells whether a runner exists for key.
func (m *Manager) Has(key structs.StreamKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pool[key]
	return ok
}

// Size returns the current pool size.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pool)
}

// MaxStreams returns the configured pool capacity.
func (m *Manager) MaxStreams() int {
	return m.maxStreams
}

// Shutdown aborts every runner and waits for them. Rows keep their
// waiting/watching states so the next startup's recovery pass restarts
// them.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	runners := make([]*StreamRunner, 0, len(m.pool))
	for _, r := range m.pool {
		runners = append(runners, r)
	}
	m.mu.Unlock()

	for _, r := range runners {
		r.abort()
	}
	for _, r := range runners {
		<-r.WaitCh()
	}
}

// remove drops the pool entry when a runner exits, unless the entry has
// been replaced by a newer runner for the same key.
func (m *Manager) remove(key structs.StreamKey, runner *StreamRunner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pool[key] == runner {
		delete(m.pool, key)
		metrics.SetGauge([]string{"watcher", "pool_size"}, float32(len(m.pool)))
	}
}

package agent

import (
	"fmt"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/lionheart1022/betwatch/ci"
	"github.com/lionheart1022/betwatch/helper/testlog"
	"github.com/lionheart1022/betwatch/watcher/handlers"
)

// TestAgent encapsulates an Agent with a started HTTP server for endpoint
// tests. Shutdown with the returned cleanup (registered on t automatically).
type TestAgent struct {
	T      *testing.T
	Agent  *Agent
	Server *HTTPServer
	Config *Config
}

// NewTestAgent builds and starts an agent on a dynamic localhost port.
// mutate may adjust the config before the agent starts.
func NewTestAgent(t *testing.T, mutate func(*Config)) *TestAgent {
	t.Helper()

	port := freePort(t)
	config := DevConfig()
	config.Port = port
	config.SelfURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	config.NodeRoot = t.TempDir()

	if mutate != nil {
		mutate(config)
	}

	agent, err := NewAgent(config, testlog.HCLogger(t))
	must.NoError(t, err)

	srv, err := NewHTTPServer(agent, config)
	must.NoError(t, err)

	ta := &TestAgent{
		T:      t,
		Agent:  agent,
		Server: srv,
		Config: config,
	}
	t.Cleanup(ta.Shutdown)
	return ta
}

// URL builds an absolute URL on the test agent.
func (a *TestAgent) URL(path string) string {
	return "http://" + a.Server.Addr + path
}

// Shutdown stops the HTTP server and the agent.
func (a *TestAgent) Shutdown() {
	a.Server.Shutdown()
	a.Agent.Shutdown()
}

// RegisterHandler adds a gametype handler to the running agent's registry,
// for tests that need custom subprocess behavior.
func (a *TestAgent) RegisterHandler(h *handlers.Handler) {
	must.NoError(a.T, a.Agent.node.Registry().Register(h))
}

// freePort grabs an unused localhost port from the shared allocator.
func freePort(t *testing.T) int {
	t.Helper()
	return ci.PortAllocator.One()
}

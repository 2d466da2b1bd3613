// Package handlers holds the static gametype registry: for each supported
// gametype the command to spawn, the timing knobs of the supervisor and the
// parser that turns subprocess output lines into verdicts.
package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/lionheart1022/betwatch/observer/structs"
)

// Defaults for handler timing knobs.
const (
	// DefaultQuorum is the verdict count after which the supervisor stops
	// reading.
	DefaultQuorum = 5

	// DefaultWindow is the max delta between the first verdict and the
	// end of reading.
	DefaultWindow = 10 * time.Second

	// DefaultWaitDelay is the sleep between offline retries.
	DefaultWaitDelay = 30 * time.Second

	// DefaultWaitMax caps the total offline waiting; WaitMax/WaitDelay
	// gives the retry budget (12 by default).
	DefaultWaitMax = 6 * time.Minute
)

// Twitch policy levels, controlling what the settlement adapter does with a
// failed verdict for games of this gametype.
const (
	TwitchNone      = 0 // skip the game entirely
	TwitchOptional  = 1 // abandon, another subsystem may still resolve it
	TwitchMandatory = 2 // the stream was the only source, coerce to draw
)

// Parser turns one line of watcher output into a verdict. creator and
// opponent are the canonical nicknames stored on the stream.
type Parser interface {
	Parse(line, creator, opponent string) structs.Verdict
}

// Handler is the compile-time configuration for one gametype.
type Handler struct {
	// Gametype tag this handler serves.
	Gametype string

	// Dir is the working directory the command runs in, relative to the
	// node root. Empty means the node root itself.
	Dir string

	// Env is an optional activation command prepended to the command
	// line with "; " (virtualenv activation and the like).
	Env string

	// Command is the shell template; "{handle}" is substituted with the
	// stream handle. Templates that spawn a long-running binary should
	// exec-replace the shell ("exec python3 ... {handle}") so that
	// signals sent to the process group reach the binary directly.
	Command string

	// Quorum, Window, WaitDelay, WaitMax override the package defaults
	// when non-zero.
	Quorum    int
	Window    time.Duration
	WaitDelay time.Duration
	WaitMax   time.Duration

	// Twitch is the failed-verdict policy level for settlement.
	Twitch int

	Parser Parser
}

// CommandLine builds the shell line for a stream handle: the activation
// prefix, if any, joined to the substituted command template with ";" so
// both run in a single child.
func (h *Handler) CommandLine(handle string) string {
	cmd := strings.ReplaceAll(h.Command, "{handle}", handle)
	if h.Env != "" {
		cmd = h.Env + "; " + cmd
	}
	return cmd
}

func (h *Handler) quorum() int {
	if h.Quorum > 0 {
		return h.Quorum
	}
	return DefaultQuorum
}

func (h *Handler) window() time.Duration {
	if h.Window > 0 {
		return h.Window
	}
	return DefaultWindow
}

func (h *Handler) waitDelay() time.Duration {
	if h.WaitDelay > 0 {
		return h.WaitDelay
	}
	return DefaultWaitDelay
}

func (h *Handler) waitMax() time.Duration {
	if h.WaitMax > 0 {
		return h.WaitMax
	}
	return DefaultWaitMax
}

// EffectiveQuorum, EffectiveWindow, EffectiveWaitDelay and MaxRetries expose
// the knobs with defaults applied.
func (h *Handler) EffectiveQuorum() int              { return h.quorum() }
func (h *Handler) EffectiveWindow() time.Duration    { return h.window() }
func (h *Handler) EffectiveWaitDelay() time.Duration { return h.waitDelay() }

// MaxRetries is the offline retry budget: WaitMax / WaitDelay.
func (h *Handler) MaxRetries() int {
	return int(h.waitMax() / h.waitDelay())
}

// Registry maps gametype tags to handlers. It is built once at startup and
// read-only afterwards.
type Registry struct {
	handlers map[string]*Handler
}

// NewRegistry builds a registry over the given handlers.
func NewRegistry(handlers ...*Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]*Handler, len(handlers))}
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces the handler for its gametype.
func (r *Registry) Register(h *Handler) error {
	if h.Gametype == "" {
		return fmt.Errorf("handler has no gametype")
	}
	if h.Command == "" {
		return fmt.Errorf("handler %q has no command", h.Gametype)
	}
	if h.Parser == nil {
		return fmt.Errorf("handler %q has no parser", h.Gametype)
	}
	r.handlers[strings.ToLower(h.Gametype)] = h
	return nil
}

// Lookup returns the handler for gametype, or nil.
func (r *Registry) Lookup(gametype string) *Handler {
	return r.handlers[strings.ToLower(gametype)]
}

// Gametypes lists the registered tags, for logs.
func (r *Registry) Gametypes() []string {
	out := make([]string, 0, len(r.handlers))
	for tag := range r.handlers {
		out = append(out, tag)
	}
	return out
}

// NewParser constructs a parser by family name, for handlers registered from
// config.
func NewParser(family string, logger hclog.Logger) (Parser, error) {
	switch strings.ToLower(family) {
	case "eafootball":
		return NewEAFootballParser(logger), nil
	case "echo":
		return EchoParser{}, nil
	}
	return nil, fmt.Errorf("unknown parser family %q", family)
}

// Builtin returns the handlers compiled into the node: the EA football
// family watched through the twitch capture scripts.
func Builtin(logger hclog.Logger) []*Handler {
	parser := NewEAFootballParser(logger)
	var out []*Handler
	for _, gametype := range []string{"fifa14-xboxone", "fifa15-xboxone"} {
		out = append(out, &Handler{
			Gametype: gametype,
			Dir:      "fifastreamer",
			Env:      ". ./venv/bin/activate",
			Command:  "exec python3 fifastreamer.py {handle}",
			Twitch:   TwitchOptional,
			Parser:   parser,
		})
	}
	return out
}

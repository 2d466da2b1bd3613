// Package observer implements the node core: the delegation router that
// moves stream-watch requests across the tree, the startup recovery pass
// and the load aggregation. The HTTP layer in command/agent is a thin shell
// over the Node's methods; the routing rules are identical on every node
// and "root" only means no parent is configured.
package observer

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/lionheart1022/betwatch/api"
	"github.com/lionheart1022/betwatch/observer/state"
	"github.com/lionheart1022/betwatch/observer/structs"
	"github.com/lionheart1022/betwatch/settle"
	"github.com/lionheart1022/betwatch/watcher"
	"github.com/lionheart1022/betwatch/watcher/handlers"
)

// Peer names a configured parent or child node.
type Peer struct {
	Name string
	URL  string
}

// Config wires a Node.
type Config struct {
	Logger hclog.Logger

	// Store is the durable stream table.
	Store *state.StateStore

	// Registry resolves gametypes to handlers.
	Registry *handlers.Registry

	// SelfURL is this node's own base URL, used for the self-PATCH and
	// the root's self-DELETE.
	SelfURL string

	// Parent is nil on the root.
	Parent *Peer

	// Children are tried in configured order on PUT.
	Children []Peer

	// MaxStreams caps the local runner pool.
	MaxStreams int

	// NodeRoot is the working directory handler dirs are relative to.
	NodeRoot string

	// Backend is the settlement side; only the root invokes it.
	Backend settle.Backend

	// PeerTimeout overrides the client timeout for peer calls.
	PeerTimeout time.Duration
}

type childClient struct {
	name    string
	streams *api.Streams
	client  *api.Client
}

// Node is one observer in the tree.
type Node struct {
	logger   hclog.Logger
	store    *state.StateStore
	registry *handlers.Registry
	manager  *watcher.Manager
	adapter  *settle.Adapter

	self     *api.Client
	parent   *childClient
	children []*childClient
}

// NewNode builds the node and its peer clients. The supervisor pool is
// created here; call Recover before serving traffic.
func NewNode(cfg *Config) (*Node, error) {
	logger := cfg.Logger.Named("observer")

	n := &Node{
		logger:   logger,
		store:    cfg.Store,
		registry: cfg.Registry,
		adapter:  settle.NewAdapter(cfg.Logger, cfg.Backend),
	}

	newClient := func(name, addr string) (*childClient, error) {
		c, err := api.NewClient(&api.Config{Address: addr, Timeout: cfg.PeerTimeout})
		if err != nil {
			return nil, fmt.Errorf("peer %q: %w", name, err)
		}
		return &childClient{name: name, streams: c.Streams(), client: c}, nil
	}

	self, err := api.NewClient(&api.Config{Address: cfg.SelfURL, Timeout: cfg.PeerTimeout})
	if err != nil {
		return nil, fmt.Errorf("self url: %w", err)
	}
	n.self = self

	if cfg.Parent != nil {
		parent, err := newClient(cfg.Parent.Name, cfg.Parent.URL)
		if err != nil {
			return nil, err
		}
		n.parent = parent
	}
	for _, child := range cfg.Children {
		cc, err := newClient(child.Name, child.URL)
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, cc)
	}

	n.manager = watcher.NewManager(&watcher.Config{
		Logger:     cfg.Logger,
		Registry:   cfg.Registry,
		MaxStreams: cfg.MaxStreams,
		NodeRoot:   cfg.NodeRoot,
		Updater:    cfg.Store,
		Result:     n.reportResult,
	})

	return n, nil
}

// Manager exposes the supervisor pool, for the load report and tests.
func (n *Node) Manager() *watcher.Manager {
	return n.manager
}

// Registry returns the gametype handler registry.
func (n *Node) Registry() *handlers.Registry {
	return n.registry
}

// SetSettlementBackend swaps the settlement side. An embedding platform
// installs its backend here after building the agent; the default only
// logs.
func (n *Node) SetSettlementBackend(backend settle.Backend) {
	n.adapter = settle.NewAdapter(n.logger, backend)
}

// IsRoot tells whether this node is the tree's master.
func (n *Node) IsRoot() bool {
	return n.parent == nil
}

// Shutdown aborts all runners, leaving rows for the next recovery pass.
func (n *Node) Shutdown() {
	n.manager.Shutdown()
}

// RegisterStream implements PUT: merge into an existing row or create a new
// one, delegating downstream when a child accepts. created reports whether
// a brand-new stream was instantiated (201) as opposed to a merge (200).
func (n *Node) RegisterStream(handle, gametype string, req *structs.StreamRegisterRequest) (*structs.Stream, bool, error) {
	key := structs.NewStreamKey(handle, gametype)
	logger := n.logger.With("stream", key.String(), "game_id", req.GameID)

	existing, err := n.store.StreamByKey(key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		merged, err := n.mergeStream(logger, existing, req)
		return merged, false, err
	}

	stream := &structs.Stream{
		Handle:   handle,
		Gametype: gametype,
		GameID:   req.GameID,
		Creator:  req.Creator,
		Opponent: req.Opponent,
		State:    structs.StreamStateWaiting,
	}

	// Insert first: the store atomically enforces handle and game id
	// uniqueness, so a concurrent duplicate PUT loses here with 409.
	if err := n.store.UpsertStream(stream); err != nil {
		return nil, false, err
	}

	// Walk the children in configured order; the first one accepting the
	// stream owns it. Any failure just means "that child declines".
	for _, child := range n.children {
		code, err := child.streams.Register(handle, gametype, req)
		if err != nil {
			logger.Debug("child declined stream", "child", child.name, "code", code, "error", err)
			continue
		}
		logger.Info("delegated stream to child", "child", child.name, "code", code)
		metrics.IncrCounterWithLabels([]string{"observer", "delegated"}, 1,
			[]metrics.Label{{Name: "child", Value: child.name}})

		if err := n.store.SetStreamChild(key, child.name); err != nil {
			return nil, false, err
		}
		stream.Child = child.name
		return stream, true, nil
	}

	// No child accepted; watch it here.
	if err := n.manager.Add(stream); err != nil {
		if derr := n.store.DeleteStream(key); derr != nil {
			logger.Error("failed to roll back stream row", "error", derr)
		}
		return nil, false, err
	}

	logger.Info("watching stream locally")
	metrics.IncrCounter([]string{"observer", "accepted"}, 1)
	return stream, true, nil
}

// mergeStream attaches a second settlement game to an already-watched
// stream. The incoming players must be the stored pair, in either
// orientation; the reversed orientation is recorded with a negative id.
func (n *Node) mergeStream(logger hclog.Logger, stream *structs.Stream, req *structs.StreamRegisterRequest) (*structs.Stream, error) {
	reversed, ok := stream.MatchOrientation(req.Creator, req.Opponent)
	if !ok {
		return nil, structs.ErrPlayerMismatch
	}

	signedID := req.GameID
	if reversed {
		signedID = -signedID
	}

	// A delegated row's subtree owner must record the merge as well; its
	// refusal refuses the whole merge.
	if stream.Child != "" {
		child := n.childByName(stream.Child)
		if child == nil {
			return nil, fmt.Errorf("stream is delegated to unknown child %q", stream.Child)
		}
		if _, err := child.streams.Register(stream.Handle, stream.Gametype, req); err != nil {
			return nil, err
		}
	}

	if err := n.store.AppendSupplementary(stream.Key(), signedID); err != nil {
		return nil, err
	}

	logger.Info("merged game into stream", "supplementary", signedID, "reversed", reversed)
	metrics.IncrCounter([]string{"observer", "merged"}, 1)

	return n.store.StreamByKey(stream.Key())
}

// GetStream implements GET: the local row, or the recorded child's view
// relayed verbatim.
func (n *Node) GetStream(handle, gametype string) (interface{}, error) {
	stream, err := n.store.StreamByKey(structs.NewStreamKey(handle, gametype))
	if err != nil {
		return nil, err
	}
	if stream == nil {
		return nil, structs.ErrStreamNotFound
	}

	if stream.Child != "" {
		child := n.childByName(stream.Child)
		if child == nil {
			return nil, fmt.Errorf("stream is delegated to unknown child %q", stream.Child)
		}
		raw, _, err := child.streams.Get(handle, gametype)
		if err != nil {
			return nil, err
		}
		return raw, nil
	}

	return stream, nil
}

// StreamResult implements PATCH: chain the result to the parent, or apply
// it at the root and schedule the row's teardown.
func (n *Node) StreamResult(handle, gametype string, req *structs.StreamResultRequest) (*structs.StreamResultResponse, error) {
	key := structs.NewStreamKey(handle, gametype)
	logger := n.logger.With("stream", key.String(), "winner", req.Winner)

	if n.parent != nil {
		logger.Debug("forwarding result to parent", "parent", n.parent.name)
		resp, _, err := n.parent.streams.Result(handle, gametype, req.Winner, req.Timestamp)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}

	// This node is the root: settle and tear the stream down.
	stream, err := n.store.StreamByKey(key)
	if err != nil {
		return nil, err
	}
	if stream == nil {
		return nil, structs.ErrStreamNotFound
	}

	twitch := handlers.TwitchNone
	if handler := n.registry.Lookup(gametype); handler != nil {
		twitch = handler.Twitch
	}

	sec, frac := int64(req.Timestamp), req.Timestamp-float64(int64(req.Timestamp))
	firstTS := time.Unix(sec, int64(frac*float64(time.Second)))
	n.adapter.Resolve(stream, req.Winner, firstTS, twitch)

	// The DELETE must not ride on this request: the handler still holds
	// the row, so the teardown runs as its own task against our own URL.
	go func() {
		if _, _, err := n.self.Streams().Delete(handle, gametype); err != nil {
			logger.Error("self-delete after result failed", "error", err)
		}
	}()

	logger.Info("stream result applied")
	return &structs.StreamResultResponse{Success: true}, nil
}

// DeleteStream implements DELETE: stop watching (locally or in the
// delegated subtree) and drop the row.
func (n *Node) DeleteStream(handle, gametype string) (*structs.StreamDeleteResponse, error) {
	key := structs.NewStreamKey(handle, gametype)

	stream, err := n.store.StreamByKey(key)
	if err != nil {
		return nil, err
	}
	if stream == nil {
		return nil, structs.ErrStreamNotFound
	}

	if stream.Child != "" {
		child := n.childByName(stream.Child)
		if child == nil {
			return nil, fmt.Errorf("stream is delegated to unknown child %q", stream.Child)
		}
		// A child that cannot confirm the delete is fatal to the
		// request; dropping the row anyway would orphan the runner.
		if _, _, err := child.streams.Delete(handle, gametype); err != nil {
			return nil, err
		}
	} else {
		n.manager.Abort(key)
	}

	if err := n.store.DeleteStream(key); err != nil {
		return nil, err
	}

	n.logger.Info("stream deleted", "stream", key.String())
	return &structs.StreamDeleteResponse{Deleted: true}, nil
}

// Load implements GET /load. Children are polled sequentially; one that
// fails or times out counts as zero but still weighs in the denominator,
// matching the original resolver's naive average.
func (n *Node) Load() *structs.NodeLoad {
	local := 0.0
	if max := n.manager.MaxStreams(); max > 0 {
		local = float64(n.manager.Size()) / float64(max)
	}

	report := &structs.NodeLoad{
		Total:          local,
		CurrentStreams: n.manager.Size(),
		MaxStreams:     n.manager.MaxStreams(),
	}

	for _, child := range n.children {
		load, _, err := child.client.Load()
		if err != nil {
			n.logger.Warn("child load poll failed", "child", child.name, "error", err)
			continue
		}
		report.Total += load.Total
		report.CurrentStreams += load.CurrentStreams
		report.MaxStreams += load.MaxStreams
	}

	report.Total /= float64(1 + len(n.children))
	return report
}

// Recover reconciles the persisted stream table with the empty runner pool
// at startup. It runs before HTTP serving begins.
func (n *Node) Recover() error {
	streams, err := n.store.Streams()
	if err != nil {
		return err
	}

	for _, stream := range streams {
		key := stream.Key()
		logger := n.logger.With("stream", key.String(), "state", stream.State)

		switch stream.State {
		case structs.StreamStateWaiting, structs.StreamStateWatching:
			if stream.Child != "" {
				// The subtree still owns it.
				continue
			}
			if err := n.manager.Add(stream); err != nil {
				logger.Warn("failed to restart stream runner, leaving row", "error", err)
				continue
			}
			logger.Info("restarted stream runner")

		case structs.StreamStateFound, structs.StreamStateFailed:
			// Post-done leftovers the DELETE wave should have
			// removed.
			if err := n.store.DeleteStream(key); err != nil {
				logger.Warn("failed to drop terminal row", "error", err)
			} else {
				logger.Info("dropped terminal row")
			}

		default:
			logger.Warn("skipping row with unknown state")
		}
	}
	return nil
}

// reportResult is the runner's done callback: PATCH our own stream URL so
// every node on the way up logs the transition uniformly and the forwarding
// logic lives in one place. Not retried on failure.
func (n *Node) reportResult(stream *structs.Stream, winner string, firstTS time.Time) {
	ts := float64(firstTS.UnixNano()) / float64(time.Second)
	if _, _, err := n.self.Streams().Result(stream.Handle, stream.Gametype, winner, ts); err != nil {
		n.logger.Error("failed to report stream result",
			"stream", stream.Key().String(), "winner", winner, "error", err)
	}
}

func (n *Node) childByName(name string) *childClient {
	for _, child := range n.children {
		if child.name == name {
			return child
		}
	}
	return nil
}

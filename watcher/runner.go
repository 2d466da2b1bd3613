package watcher

import (
	"context"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-uuid"
	"oss.indeed.com/go/libtime"

	"github.com/lionheart1022/betwatch/observer/structs"
	"github.com/lionheart1022/betwatch/watcher/executor"
	"github.com/lionheart1022/betwatch/watcher/handlers"
)

// StateUpdater persists stream state transitions. Implemented by the
// observer node on top of its state store.
type StateUpdater interface {
	SetStreamState(key structs.StreamKey, state string) error
}

// ResultFunc delivers the final winner. The node implements it as a PATCH
// against its own stream URL, which then chains upstream. firstTS is the
// time of the first collected verdict.
type ResultFunc func(stream *structs.Stream, winner string, firstTS time.Time)

// StreamRunner drives one watcher subprocess through
// waiting -> watching -> found|failed and reports at most one result.
type StreamRunner struct {
	logger  hclog.Logger
	stream  *structs.Stream
	handler *handlers.Handler

	nodeRoot string
	clock    libtime.Clock
	updater  StateUpdater
	result   ResultFunc

	// ctx is cancelled to abort the runner without emitting a result.
	ctx       context.Context
	ctxCancel context.CancelFunc

	// waitCh is closed once the run loop has fully unwound, subprocess
	// included.
	waitCh chan struct{}

	// onExit removes the pool entry; set by the manager.
	onExit func()
}

func newStreamRunner(logger hclog.Logger, stream *structs.Stream, handler *handlers.Handler, nodeRoot string, clock libtime.Clock, updater StateUpdater, result ResultFunc) *StreamRunner {
	ctx, cancel := context.WithCancel(context.Background())

	invocation, _ := uuid.GenerateUUID()
	logger = logger.Named("runner").With(
		"stream", stream.Handle,
		"gametype", stream.Gametype,
		"invocation", invocation[:8],
	)

	return &StreamRunner{
		logger:    logger,
		stream:    stream.Copy(),
		handler:   handler,
		nodeRoot:  nodeRoot,
		clock:     clock,
		updater:   updater,
		result:    result,
		ctx:       ctx,
		ctxCancel: cancel,
		waitCh:    make(chan struct{}),
	}
}

// WaitCh is closed when the runner has exited.
func (r *StreamRunner) WaitCh() <-chan struct{} {
	return r.waitCh
}

// abort cancels the run loop. The caller waits on WaitCh for the subprocess
// to be gone. No result is emitted after abort.
func (r *StreamRunner) abort() {
	r.ctxCancel()
}

// Run is the runner's main loop. It respawns the subprocess across offline
// retries, resolves the verdict list into a winner and emits the result,
// unless aborted first.
func (r *StreamRunner) Run() {
	defer close(r.waitCh)
	defer r.onExit()

	var verdicts []structs.Verdict
	var firstTS time.Time

	retries := 0
	maxRetries := r.handler.MaxRetries()

MAIN:
	for r.ctx.Err() == nil {
		var offline bool
		verdicts, firstTS, offline = r.watch()

		if r.ctx.Err() != nil {
			break MAIN
		}

		if !offline || len(verdicts) > 0 {
			break MAIN
		}

		retries++
		metrics.IncrCounter([]string{"watcher", "offline_retries"}, 1)
		if retries > maxRetries {
			r.logger.Warn("stream offline past the retry budget, giving up", "retries", retries-1)
			break MAIN
		}

		r.logger.Info("stream is offline, will retry", "retry", retries, "delay", r.handler.EffectiveWaitDelay())
		select {
		case <-r.ctx.Done():
			break MAIN
		case <-time.After(r.handler.EffectiveWaitDelay()):
		}
	}

	if r.ctx.Err() != nil {
		r.logger.Debug("runner aborted, no result emitted")
		return
	}

	// A crash or an exhausted retry budget is a synthetic failed verdict
	// resolved through the normal done path.
	if len(verdicts) == 0 {
		verdicts = []structs.Verdict{structs.VerdictFailed}
		firstTS = r.clock.Now()
	}

	winner := selectWinner(verdicts)

	state := structs.StreamStateFound
	if winner == structs.WinnerFailed {
		state = structs.StreamStateFailed
	}
	if err := r.updater.SetStreamState(r.stream.Key(), state); err != nil {
		r.logger.Error("failed to persist terminal state", "state", state, "error", err)
	}

	r.logger.Info("stream resolved", "winner", winner, "verdicts", len(verdicts))
	metrics.IncrCounterWithLabels([]string{"watcher", "resolved"}, 1,
		[]metrics.Label{{Name: "winner", Value: winner}})

	r.result(r.stream, winner, firstTS)
}

// watch spawns the subprocess once and reads verdicts until quorum, window
// expiry, EOF or abort. offline reports that the stream was offline before
// any verdict arrived; the caller owns the retry loop.
func (r *StreamRunner) watch() (verdicts []structs.Verdict, firstTS time.Time, offline bool) {
	dir := r.nodeRoot
	if r.handler.Dir != "" {
		dir = filepath.Join(r.nodeRoot, r.handler.Dir)
	}

	exec := executor.New(r.logger, r.handler.CommandLine(r.stream.Handle), dir)
	if err := exec.Start(); err != nil {
		r.logger.Error("failed to spawn watcher process", "error", err)
		return nil, time.Time{}, false
	}
	defer func() {
		if err := exec.Shutdown(); err != nil {
			r.logger.Error("watcher process shutdown failed", "error", err)
		}
	}()
	metrics.IncrCounter([]string{"watcher", "spawns"}, 1)

	quorum := r.handler.EffectiveQuorum()
	var windowCh <-chan time.Time

	for {
		select {
		case <-r.ctx.Done():
			return verdicts, firstTS, false

		case <-windowCh:
			r.logger.Debug("verdict window expired", "verdicts", len(verdicts))
			return verdicts, firstTS, false

		case line, ok := <-exec.Lines():
			if !ok {
				// EOF: the process exited on its own.
				if err := exec.ExitError(); err != nil {
					r.logger.Warn("watcher process exited", "error", err, "tail", exec.OutputTail())
				}
				return verdicts, firstTS, false
			}

			verdict := r.handler.Parser.Parse(line, r.stream.Creator, r.stream.Opponent)
			switch verdict {
			case structs.VerdictNone:
				continue

			case structs.VerdictOffline:
				if len(verdicts) > 0 {
					// Mid-watch drop: resolve with what we have.
					return verdicts, firstTS, false
				}
				return nil, time.Time{}, true

			default:
				metrics.IncrCounter([]string{"watcher", "verdicts"}, 1)
				if len(verdicts) == 0 {
					firstTS = r.clock.Now()
					windowCh = time.After(r.handler.EffectiveWindow())
					if err := r.updater.SetStreamState(r.stream.Key(), structs.StreamStateWatching); err != nil {
						r.logger.Error("failed to persist watching state", "error", err)
					}
				}
				verdicts = append(verdicts, verdict)
				if len(verdicts) >= quorum {
					return verdicts, firstTS, false
				}
			}
		}
	}
}

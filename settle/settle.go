// Package settle bridges resolved streams to the settlement subsystem. It
// is exercised only on the root node: when a result PATCH reaches the top
// of the tree, the adapter maps the stream's winner onto every settlement
// game the stream tracks and invokes the backend callback.
package settle

import (
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/lionheart1022/betwatch/observer/structs"
	"github.com/lionheart1022/betwatch/watcher/handlers"
)

// Game is the settlement side's view of one game.
type Game struct {
	ID       int64
	Creator  string
	Opponent string
}

// Backend is implemented by the settlement subsystem. The default agent
// wiring installs LogBackend; the platform links its own.
type Backend interface {
	// GetGame looks a game up by settlement id.
	GetGame(id int64) (*Game, bool)

	// GameDone marks the game finished: winner is creator, opponent or
	// draw; timestamp is Unix seconds of the first verdict.
	GameDone(game *Game, winner string, timestamp int64) error
}

// Adapter applies one stream result to every game the stream tracks.
type Adapter struct {
	logger  hclog.Logger
	backend Backend
}

func NewAdapter(logger hclog.Logger, backend Backend) *Adapter {
	return &Adapter{
		logger:  logger.Named("settle"),
		backend: backend,
	}
}

// Resolve settles the stream's primary game and each supplementary entry.
// twitch is the handler's policy level for failed verdicts. Per-entry
// problems are logged and skipped; a partial settlement must not unwind the
// entries already applied.
func (a *Adapter) Resolve(stream *structs.Stream, winner string, firstTS time.Time, twitch int) {
	logger := a.logger.With("stream", stream.Handle, "gametype", stream.Gametype)

	entries := make([]int64, 0, 1+len(stream.SupplementaryGames))
	entries = append(entries, stream.GameID)
	entries = append(entries, stream.SupplementaryGames...)

	for _, entry := range entries {
		id := entry
		if id < 0 {
			id = -id
		}

		game, ok := a.backend.GetGame(id)
		if !ok {
			logger.Warn("settlement game not found, skipping", "game_id", id)
			continue
		}

		gameWinner := winner
		if gameWinner == structs.WinnerFailed {
			switch twitch {
			case handlers.TwitchMandatory:
				// The stream was the only result source; a dead
				// stream settles as a draw.
				gameWinner = structs.WinnerDraw
			case handlers.TwitchOptional:
				logger.Info("stream failed, abandoning game to its poller", "game_id", id)
				continue
			default:
				logger.Warn("stream failed for a gametype without twitch support, skipping", "game_id", id)
				continue
			}
		}

		// A reversed supplementary entry was registered with the
		// players swapped.
		if entry < 0 {
			gameWinner = structs.InvertWinner(gameWinner)
		}

		if err := a.backend.GameDone(game, gameWinner, firstTS.Unix()); err != nil {
			logger.Error("settlement callback failed", "game_id", id, "error", err)
			continue
		}
		logger.Info("game settled", "game_id", id, "winner", gameWinner)
		metrics.IncrCounter([]string{"settle", "games_done"}, 1)
	}
}

// LogBackend is the default backend when no settlement side is linked in;
// it only logs what would have happened.
type LogBackend struct {
	logger hclog.Logger
}

func NewLogBackend(logger hclog.Logger) *LogBackend {
	return &LogBackend{logger: logger.Named("settle.log")}
}

func (b *LogBackend) GetGame(id int64) (*Game, bool) {
	return &Game{ID: id}, true
}

func (b *LogBackend) GameDone(game *Game, winner string, timestamp int64) error {
	b.logger.Info("game done", "game_id", game.ID, "winner", winner, "timestamp", timestamp)
	return nil
}

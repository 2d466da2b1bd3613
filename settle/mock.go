package settle

import "sync"

// MemBackend is an in-memory Backend recording every settlement call. Tests
// across packages assert against it.
type MemBackend struct {
	mu    sync.Mutex
	games map[int64]*Game
	calls []DoneCall
}

// DoneCall is one recorded GameDone invocation.
type DoneCall struct {
	GameID    int64
	Winner    string
	Timestamp int64
}

// NewMemBackend seeds the backend with games for the given ids.
func NewMemBackend(ids ...int64) *MemBackend {
	b := &MemBackend{games: make(map[int64]*Game)}
	for _, id := range ids {
		b.games[id] = &Game{ID: id, Creator: "alice", Opponent: "bob"}
	}
	return b
}

func (b *MemBackend) GetGame(id int64) (*Game, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.games[id]
	return g, ok
}

func (b *MemBackend) GameDone(game *Game, winner string, timestamp int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, DoneCall{game.ID, winner, timestamp})
	return nil
}

// Calls returns a copy of the recorded settlement calls.
func (b *MemBackend) Calls() []DoneCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DoneCall(nil), b.calls...)
}

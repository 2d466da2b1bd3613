// Package structs holds the wire and storage types shared by the observer
// node, the watcher subsystem and the HTTP layer.
package structs

import (
	"errors"
	"fmt"
	"strings"
)

// Stream states. A stream starts waiting, moves to watching once the first
// verdict arrives, and ends found or failed. The terminal states exist only
// between runner completion and the DELETE that follows the result.
const (
	StreamStateWaiting  = "waiting"
	StreamStateWatching = "watching"
	StreamStateFound    = "found"
	StreamStateFailed   = "failed"
)

// Verdict is a single-line parse result from a watcher subprocess.
type Verdict string

const (
	VerdictCreator  Verdict = "creator"
	VerdictOpponent Verdict = "opponent"
	VerdictDraw     Verdict = "draw"
	VerdictFailed   Verdict = "failed"
	VerdictOffline  Verdict = "offline"
	VerdictNone     Verdict = "none"
)

// Winners accepted by the result endpoint and the settlement adapter.
const (
	WinnerCreator  = "creator"
	WinnerOpponent = "opponent"
	WinnerDraw     = "draw"
	WinnerFailed   = "failed"
)

// ValidWinner tells whether w is a winner value a PATCH may carry.
func ValidWinner(w string) bool {
	switch w {
	case WinnerCreator, WinnerOpponent, WinnerDraw, WinnerFailed:
		return true
	}
	return false
}

// InvertWinner swaps creator and opponent. Draw and failed are unchanged.
func InvertWinner(w string) string {
	switch w {
	case WinnerCreator:
		return WinnerOpponent
	case WinnerOpponent:
		return WinnerCreator
	}
	return w
}

// Sentinel errors mapped onto HTTP codes at the endpoint layer.
var (
	ErrStreamNotFound      = errors.New("stream not found")
	ErrGameExists          = errors.New("game is already watched")
	ErrPlayerMismatch      = errors.New("stream is watched for different players")
	ErrPoolFull            = errors.New("stream pool is full")
	ErrUnsupportedGametype = errors.New("unsupported gametype")
)

// StreamKey identifies a stream on a node. Handles and gametypes are
// case-insensitive on the streaming services, so keys fold to lower case.
type StreamKey struct {
	Handle   string
	Gametype string
}

func NewStreamKey(handle, gametype string) StreamKey {
	return StreamKey{
		Handle:   strings.ToLower(handle),
		Gametype: strings.ToLower(gametype),
	}
}

func (k StreamKey) String() string {
	return k.Handle + "/" + k.Gametype
}

// Stream is an owned, persistent row describing one watched stream.
type Stream struct {
	// Handle is the opaque stream identifier on the external streaming
	// service. Together with Gametype it is the de-duplication key.
	Handle   string `json:"handle"`
	Gametype string `json:"gametype"`

	// GameID is the primary settlement game this stream resolves.
	GameID int64 `json:"game_id"`

	// SupplementaryGames are additional settlement game ids attached by
	// PUT merges. A negative entry means the winner is inverted for that
	// game (the second PUT named the players in reverse order).
	SupplementaryGames []int64 `json:"supplementary_games"`

	// Creator and Opponent are the canonical player nicknames the verdict
	// parser maps raw sides onto.
	Creator  string `json:"creator"`
	Opponent string `json:"opponent"`

	State string `json:"state"`

	// Child names the child node this stream was delegated to. Empty
	// means the local node owns the runner.
	Child string `json:"child"`
}

func (s *Stream) Key() StreamKey {
	return NewStreamKey(s.Handle, s.Gametype)
}

func (s *Stream) Copy() *Stream {
	if s == nil {
		return nil
	}
	ns := *s
	if s.SupplementaryGames != nil {
		ns.SupplementaryGames = make([]int64, len(s.SupplementaryGames))
		copy(ns.SupplementaryGames, s.SupplementaryGames)
	}
	return &ns
}

// GameIDs returns the primary game id followed by the absolute values of all
// supplementary entries.
func (s *Stream) GameIDs() []int64 {
	ids := make([]int64, 0, 1+len(s.SupplementaryGames))
	ids = append(ids, s.GameID)
	for _, g := range s.SupplementaryGames {
		if g < 0 {
			g = -g
		}
		ids = append(ids, g)
	}
	return ids
}

// TracksGame tells whether id is the stream's primary or a supplementary
// game.
func (s *Stream) TracksGame(id int64) bool {
	for _, g := range s.GameIDs() {
		if g == id {
			return true
		}
	}
	return false
}

// MatchOrientation compares the incoming player pair against the stored one,
// case-insensitively. ok is false when the pairs name different players;
// reversed is true when they match with creator and opponent swapped.
func (s *Stream) MatchOrientation(creator, opponent string) (reversed, ok bool) {
	c, o := strings.ToLower(s.Creator), strings.ToLower(s.Opponent)
	nc, no := strings.ToLower(creator), strings.ToLower(opponent)
	switch {
	case nc == c && no == o:
		return false, true
	case nc == o && no == c:
		return true, true
	}
	return false, false
}

// StreamRegisterRequest is the body of PUT /streams/{handle}/{gametype}.
// The platform sends it form-encoded.
type StreamRegisterRequest struct {
	GameID   int64  `json:"game_id"`
	Creator  string `json:"creator"`
	Opponent string `json:"opponent"`
}

func (r *StreamRegisterRequest) Validate() error {
	if r.GameID <= 0 {
		return fmt.Errorf("game_id must be a positive integer")
	}
	if r.Creator == "" {
		return fmt.Errorf("creator must not be empty")
	}
	if r.Opponent == "" {
		return fmt.Errorf("opponent must not be empty")
	}
	return nil
}

// StreamResultRequest is the body of PATCH /streams/{handle}/{gametype}.
// Timestamp is the first-verdict time in float Unix seconds.
type StreamResultRequest struct {
	Winner    string  `json:"winner"`
	Timestamp float64 `json:"timestamp"`
}

func (r *StreamResultRequest) Validate() error {
	if !ValidWinner(r.Winner) {
		return fmt.Errorf("winner must be one of creator, opponent, draw, failed")
	}
	return nil
}

// StreamResultResponse is returned by a successful PATCH.
type StreamResultResponse struct {
	Success bool `json:"success"`
}

// StreamDeleteResponse is returned by a successful DELETE.
type StreamDeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// NodeLoad is the payload of GET /load. Total is the arithmetic mean of the
// local load and the immediate children's totals; the stream counters are
// summed over the subtree.
type NodeLoad struct {
	Total          float64 `json:"total"`
	CurrentStreams int     `json:"current_streams"`
	MaxStreams     int     `json:"max_streams"`
}

// ErrorResponse is the JSON error body; ErrorCode mirrors the HTTP status.
// Details echoes a downstream node's body on propagation failures.
type ErrorResponse struct {
	ErrorCode int         `json:"error_code"`
	Error     string      `json:"error"`
	Details   interface{} `json:"details,omitempty"`
}

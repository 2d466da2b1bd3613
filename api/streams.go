package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/lionheart1022/betwatch/observer/structs"
)

// Streams wraps the /streams endpoints of one peer.
type Streams struct {
	client *Client
}

// Streams returns a handle on the peer's stream endpoints.
func (c *Client) Streams() *Streams {
	return &Streams{client: c}
}

func streamPath(handle, gametype string) string {
	return "/streams/" + url.PathEscape(handle) + "/" + url.PathEscape(gametype)
}

// Register asks the peer to watch a stream (PUT). 201 means newly created,
// 200 means merged into an existing stream.
func (s *Streams) Register(handle, gametype string, req *structs.StreamRegisterRequest) (int, error) {
	form := url.Values{}
	form.Set("game_id", strconv.FormatInt(req.GameID, 10))
	form.Set("creator", req.Creator)
	form.Set("opponent", req.Opponent)
	return s.client.doJSON(http.MethodPut, streamPath(handle, gametype), form, nil)
}

// Get fetches the peer's view of a stream. The raw body is returned so a
// forwarding node can relay it verbatim.
func (s *Streams) Get(handle, gametype string) (json.RawMessage, int, error) {
	var raw json.RawMessage
	code, err := s.client.doJSON(http.MethodGet, streamPath(handle, gametype), nil, &raw)
	return raw, code, err
}

// Result reports a resolved winner (PATCH). Timestamp is the first-verdict
// time in float Unix seconds.
func (s *Streams) Result(handle, gametype, winner string, timestamp float64) (*structs.StreamResultResponse, int, error) {
	form := url.Values{}
	form.Set("winner", winner)
	form.Set("timestamp", strconv.FormatFloat(timestamp, 'f', -1, 64))

	var out structs.StreamResultResponse
	code, err := s.client.doJSON(http.MethodPatch, streamPath(handle, gametype), form, &out)
	if err != nil {
		return nil, code, err
	}
	return &out, code, nil
}

// Delete stops watching a stream and removes the row.
func (s *Streams) Delete(handle, gametype string) (*structs.StreamDeleteResponse, int, error) {
	var out structs.StreamDeleteResponse
	code, err := s.client.doJSON(http.MethodDelete, streamPath(handle, gametype), nil, &out)
	if err != nil {
		return nil, code, err
	}
	return &out, code, nil
}

// Load fetches the peer's aggregated load report.
func (c *Client) Load() (*structs.NodeLoad, int, error) {
	var out structs.NodeLoad
	code, err := c.doJSON(http.MethodGet, "/load", nil, &out)
	if err != nil {
		return nil, code, err
	}
	return &out, code, nil
}

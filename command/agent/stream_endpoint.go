package agent

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/lionheart1022/betwatch/observer/structs"
)

// StreamSpecificRequest dispatches /streams/{handle}/{gametype}.
func (s *HTTPServer) StreamSpecificRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	path := strings.TrimPrefix(req.URL.Path, "/streams/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, CodedError(http.StatusNotFound, "stream not found")
	}
	handle, gametype := parts[0], parts[1]

	switch req.Method {
	case http.MethodGet:
		return s.streamGet(handle, gametype)
	case http.MethodPut:
		return s.streamRegister(req, handle, gametype)
	case http.MethodPatch:
		return s.streamResult(req, handle, gametype)
	case http.MethodDelete:
		return s.streamDelete(handle, gametype)
	default:
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
}

func (s *HTTPServer) streamGet(handle, gametype string) (interface{}, error) {
	return s.agent.node.GetStream(handle, gametype)
}

func (s *HTTPServer) streamRegister(req *http.Request, handle, gametype string) (interface{}, error) {
	if err := req.ParseForm(); err != nil {
		return nil, CodedError(http.StatusBadRequest, "malformed form body")
	}

	gameID, err := strconv.ParseInt(req.Form.Get("game_id"), 10, 64)
	if err != nil {
		return nil, CodedError(http.StatusBadRequest, "game_id must be an integer")
	}

	register := &structs.StreamRegisterRequest{
		GameID:   gameID,
		Creator:  req.Form.Get("creator"),
		Opponent: req.Form.Get("opponent"),
	}
	if err := register.Validate(); err != nil {
		return nil, CodedError(http.StatusBadRequest, err.Error())
	}

	stream, created, err := s.agent.node.RegisterStream(handle, gametype, register)
	if err != nil {
		return nil, err
	}
	if created {
		return &codedObj{code: http.StatusCreated, obj: stream}, nil
	}
	return stream, nil
}

func (s *HTTPServer) streamResult(req *http.Request, handle, gametype string) (interface{}, error) {
	if err := req.ParseForm(); err != nil {
		return nil, CodedError(http.StatusBadRequest, "malformed form body")
	}

	timestamp, err := strconv.ParseFloat(req.Form.Get("timestamp"), 64)
	if err != nil {
		return nil, CodedError(http.StatusBadRequest, "timestamp must be a number")
	}

	result := &structs.StreamResultRequest{
		Winner:    req.Form.Get("winner"),
		Timestamp: timestamp,
	}
	if err := result.Validate(); err != nil {
		return nil, CodedError(http.StatusBadRequest, err.Error())
	}

	return s.agent.node.StreamResult(handle, gametype, result)
}

func (s *HTTPServer) streamDelete(handle, gametype string) (interface{}, error) {
	return s.agent.node.DeleteStream(handle, gametype)
}

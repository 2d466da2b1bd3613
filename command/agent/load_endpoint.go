package agent

import "net/http"

// LoadRequest serves GET /load: the subtree's aggregated load report.
func (s *HTTPServer) LoadRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
	return s.agent.node.Load(), nil
}

package agent

import "net/http"

// MetricsRequest serves GET /metrics: a summary of the in-memory sink.
func (s *HTTPServer) MetricsRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
	return s.agent.inmemSink.DisplayMetrics(resp, req)
}

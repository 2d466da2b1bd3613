package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	connlimit "github.com/hashicorp/go-connlimit"
	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/rs/cors"

	"github.com/lionheart1022/betwatch/api"
	"github.com/lionheart1022/betwatch/observer/structs"
)

const (
	// ErrInvalidMethod is used if the HTTP method is not supported
	ErrInvalidMethod = "Invalid method"
)

// allowCORS sets permissive CORS headers for the read-only endpoints.
var allowCORS = cors.New(cors.Options{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{"HEAD", "GET"},
	AllowedHeaders: []string{"*"},
})

// HTTPServer wraps an Agent and exposes it over HTTP.
type HTTPServer struct {
	agent      *Agent
	mux        *http.ServeMux
	listener   net.Listener
	listenerCh chan struct{}
	logger     hclog.Logger
	Addr       string
}

// NewHTTPServer starts the HTTP server of an agent.
func NewHTTPServer(agent *Agent, config *Config) (*HTTPServer, error) {
	addr, err := config.normalizedAddr()
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start HTTP listener: %w", err)
	}

	mux := http.NewServeMux()

	srv := &HTTPServer{
		agent:      agent,
		mux:        mux,
		listener:   ln,
		listenerCh: make(chan struct{}),
		logger:     agent.logger.Named("http"),
		Addr:       ln.Addr().String(),
	}
	srv.registerHandlers(config.EnableDebug)

	httpServer := &http.Server{
		Addr:    srv.Addr,
		Handler: srv.gateACL(mux),
	}

	if config.Limits != nil && config.Limits.HTTPMaxConnsPerClient > 0 {
		connLimit := connlimit.NewLimiter(connlimit.Config{
			MaxConnsPerClientIP: config.Limits.HTTPMaxConnsPerClient,
		})
		httpServer.ConnState = connLimit.HTTPConnStateFunc()
	}

	go func() {
		defer close(srv.listenerCh)
		httpServer.Serve(ln)
	}()

	srv.logger.Info("http server started", "address", srv.Addr)
	return srv, nil
}

// Shutdown closes the listener and blocks until the serve loop returns.
func (s *HTTPServer) Shutdown() {
	if s != nil {
		s.logger.Debug("shutting down http server")
		s.listener.Close()
		<-s.listenerCh
	}
}

// registerHandlers wires the mux.
func (s *HTTPServer) registerHandlers(enableDebug bool) {
	s.mux.HandleFunc("/streams/", s.wrap(s.StreamSpecificRequest))
	s.mux.Handle("/load", allowCORS.Handler(http.HandlerFunc(s.wrap(s.LoadRequest))))
	s.mux.Handle("/metrics", allowCORS.Handler(http.HandlerFunc(s.wrap(s.MetricsRequest))))

	if enableDebug {
		s.mux.HandleFunc("/debug/pprof/", pprof.Index)
		s.mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		s.mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		s.mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		s.mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
}

// gateACL rejects requests whose source IP is not a configured sibling,
// before any routing happens. X-Real-IP wins over the transport peer, so a
// fronting proxy on a sibling host can pass the original caller through.
func (s *HTTPServer) gateACL(h http.Handler) http.Handler {
	return http.HandlerFunc(func(resp http.ResponseWriter, req *http.Request) {
		remote := req.Header.Get("X-Real-IP")
		if remote == "" {
			remote = req.RemoteAddr
		}
		if !s.agent.acl.Allowed(remote) {
			s.logger.Warn("rejecting request from unknown sibling", "remote", remote, "url", req.URL.String())
			resp.Header().Set("Content-Type", "application/json")
			resp.WriteHeader(http.StatusForbidden)
			json.NewEncoder(resp).Encode(&structs.ErrorResponse{
				ErrorCode: http.StatusForbidden,
				Error:     "unknown sibling",
			})
			return
		}
		h.ServeHTTP(resp, req)
	})
}

// HTTPCodedError carries the status code an error maps onto.
type HTTPCodedError interface {
	error
	Code() int
}

// CodedError makes an HTTPCodedError.
func CodedError(c int, s string) HTTPCodedError {
	return &codedError{s, c}
}

type codedError struct {
	s    string
	code int
}

func (e *codedError) Error() string { return e.s }
func (e *codedError) Code() int     { return e.code }

// codedObj lets a handler pick a non-200 success status (201 for a freshly
// created stream).
type codedObj struct {
	code int
	obj  interface{}
}

// wrap turns an endpoint method into an http.HandlerFunc with uniform JSON
// encoding, error bodies and request metrics.
func (s *HTTPServer) wrap(handler func(resp http.ResponseWriter, req *http.Request) (interface{}, error)) func(resp http.ResponseWriter, req *http.Request) {
	return func(resp http.ResponseWriter, req *http.Request) {
		reqURL := req.URL.String()
		start := time.Now()
		defer func() {
			s.logger.Debug("request complete", "method", req.Method, "path", reqURL, "duration", time.Since(start))
			metrics.MeasureSinceWithLabels([]string{"http", "request"}, start,
				[]metrics.Label{{Name: "method", Value: req.Method}})
		}()

		obj, err := handler(resp, req)
		if err != nil {
			s.writeError(resp, req, err)
			return
		}

		code := http.StatusOK
		if coded, ok := obj.(*codedObj); ok {
			code = coded.code
			obj = coded.obj
		}

		if obj == nil {
			resp.WriteHeader(code)
			return
		}

		buf, err := json.Marshal(obj)
		if err != nil {
			s.writeError(resp, req, err)
			return
		}
		resp.Header().Set("Content-Type", "application/json")
		resp.WriteHeader(code)
		resp.Write(buf)
	}
}

// writeError renders the {error_code, error, details} body. Downstream
// failures keep their status code and surface the peer's body under
// details.
func (s *HTTPServer) writeError(resp http.ResponseWriter, req *http.Request, err error) {
	code := http.StatusInternalServerError
	out := &structs.ErrorResponse{Error: err.Error()}

	var coded HTTPCodedError
	var status *api.StatusError
	switch {
	case errors.As(err, &coded):
		code = coded.Code()
		out.Error = coded.Error()

	case errors.As(err, &status):
		code = status.StatusCode
		var details interface{}
		if jerr := json.Unmarshal(status.Body, &details); jerr == nil {
			out.Details = details
		}
		out.Error = fmt.Sprintf("downstream node responded %d", status.StatusCode)

	default:
		code = codeForError(err)
		out.Error = err.Error()
	}
	out.ErrorCode = code

	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", req.Method, "path", req.URL.String(), "error", err)
	} else {
		s.logger.Debug("request rejected", "method", req.Method, "path", req.URL.String(), "code", code, "error", err)
	}

	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(code)
	json.NewEncoder(resp).Encode(out)
}

// codeForError maps the node's sentinel errors onto statuses.
func codeForError(err error) int {
	switch {
	case errors.Is(err, structs.ErrStreamNotFound):
		return http.StatusNotFound
	case errors.Is(err, structs.ErrGameExists), errors.Is(err, structs.ErrPlayerMismatch):
		return http.StatusConflict
	case errors.Is(err, structs.ErrPoolFull):
		return http.StatusInsufficientStorage
	case errors.Is(err, structs.ErrUnsupportedGametype):
		return http.StatusBadRequest
	}
	// Unreachable peers during propagation surface as a bad gateway.
	var netErr net.Error
	if errors.As(err, &netErr) || strings.Contains(err.Error(), "connection refused") {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"interra/core/events"
	"interra/native/limitorder"
	"interra/observability"
	"interra/observability/logging"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Server exposes the order engine over JSON-RPC plus a websocket event feed,
// health and metrics endpoints. Engine calls are serialised through a mutex so
// each RPC observes and produces a consistent state transition.
type Server struct {
	engine *limitorder.Engine
	broker *events.Broker
	logger *slog.Logger

	engineMu sync.Mutex

	authToken string

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rateLimit rate.Limit
	rateBurst int
}

// ServerOption customises a Server at construction time.
type ServerOption func(*Server)

// WithAuthToken enables bearer-token authentication for mutating methods.
func WithAuthToken(token string) ServerOption {
	return func(s *Server) { s.authToken = strings.TrimSpace(token) }
}

// WithRateLimit caps requests per second per client address. A non-positive
// limit disables throttling.
func WithRateLimit(perSecond float64, burst int) ServerOption {
	return func(s *Server) {
		if perSecond <= 0 {
			s.rateLimit = rate.Inf
			return
		}
		s.rateLimit = rate.Limit(perSecond)
		if burst > 0 {
			s.rateBurst = burst
		}
	}
}

// WithLogger overrides the logger used for request logging.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewServer(engine *limitorder.Engine, broker *events.Broker, opts ...ServerOption) *Server {
	s := &Server{
		engine:    engine,
		broker:    broker,
		logger:    slog.Default(),
		limiters:  make(map[string]*rate.Limiter),
		rateLimit: rate.Inf,
		rateBurst: 16,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the full HTTP handler tree for the daemon.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves the router on addr until the listener fails.
func (s *Server) Start(addr string, readTimeout time.Duration) error {
	return s.Run(context.Background(), addr, readTimeout)
}

// Run serves the router on addr until ctx is cancelled or the listener fails.
// On cancellation in-flight requests are drained before returning.
func (s *Server) Run(ctx context.Context, addr string, readTimeout time.Duration) error {
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("starting JSON-RPC server", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("JSON-RPC server stopped")
	return nil
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.allowSource(clientAddress(r)) {
		observability.RPC().RecordError("unknown", "rate_limited")
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	started := time.Now()
	outcome := s.dispatch(w, r, req)
	observability.RPC().Observe(req.Method, outcome, time.Since(started).Seconds())
	s.logger.Info("rpc request", "method", req.Method, "outcome", outcome, "remote", clientAddress(r))
}

// dispatch routes a parsed request and reports the outcome label recorded in
// metrics.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	switch req.Method {
	case "lo_initialize":
		return s.authed(w, r, req, s.handleInitialize)
	case "lo_updateConfig":
		return s.authed(w, r, req, s.handleUpdateConfig)
	case "lo_getConfig":
		return s.handleGetConfig(w, r, req)
	case "lo_openOrder":
		return s.authed(w, r, req, s.handleOpenOrder)
	case "lo_cancelOrder":
		return s.authed(w, r, req, s.handleCancelOrder)
	case "lo_executeOrder":
		return s.authed(w, r, req, s.handleExecuteOrder)
	case "lo_getOrder":
		return s.handleGetOrder(w, r, req)
	case "lo_registerToken":
		return s.authed(w, r, req, s.handleRegisterToken)
	case "lo_balance":
		return s.handleBalance(w, r, req)
	case "lo_mint":
		return s.authed(w, r, req, s.handleMint)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method '%s' not found", req.Method), nil)
		return "not_found"
	}
}

type handlerFunc func(http.ResponseWriter, *http.Request, *RPCRequest) string

func (s *Server) authed(w http.ResponseWriter, r *http.Request, req *RPCRequest, next handlerFunc) string {
	if authErr := s.requireAuth(r); authErr != nil {
		observability.RPC().RecordError(req.Method, "unauthorized")
		s.logger.Warn("rpc auth failure",
			slog.String("method", req.Method),
			slog.String("remote", clientAddress(r)),
			logging.MaskField("authorization", r.Header.Get("Authorization")),
		)
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "unauthorized"
	}
	return next(w, r, req)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string) bool {
	if s.rateLimit == rate.Inf {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	s.limiterMu.Lock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(s.rateLimit, s.rateBurst)
		s.limiters[source] = limiter
	}
	s.limiterMu.Unlock()
	return limiter.Allow()
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package rpc

import (
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

	"golang.org/x/time/rate"

	"pointsledger/native/points"
	"pointsledger/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	mutationRatePerSecond = 5
	mutationRateBurst     = 10
)

const (
	codeParseError         = -32700
	codeInvalidRequest     = -32600
	codeMethodNotFound     = -32601
	codeInvalidParams      = -32602
	codeServerError        = -32000
	codeUnauthorized       = -32001
	codeRateLimited        = -32020
	codeRoleDenied         = -32030
	codeInsufficientPoints = -32031
	codeLengthMismatch     = -32032
)

// Server exposes the ledger operation surface over JSON-RPC 2.0. The ledger
// itself is single-threaded, so the server serialises every ledger call
// behind a mutex while net/http fans requests in concurrently.
type Server struct {
	ledger  *points.Ledger
	metrics *metrics.PointsMetrics

	mu        sync.Mutex
	authToken string

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewServer creates a server for the provided ledger. An empty auth token
// disables bearer authentication for mutations.
func NewServer(ledger *points.Ledger, authToken string) *Server {
	return &Server{
		ledger:    ledger,
		metrics:   metrics.Points(),
		authToken: strings.TrimSpace(authToken),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Handler returns the http handler serving the RPC endpoint, exposed
// separately so callers can wrap it (e.g. with tracing middleware).
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

// Start serves the RPC endpoint until the listener fails.
func (s *Server) Start(addr string) error {
	slog.Info("starting JSON-RPC server", slog.String("addr", addr))
	return http.ListenAndServe(addr, s.Handler())
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

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request body", nil)
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request body too large", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON-RPC request", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported JSON-RPC version", nil)
		return
	}

	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
		return
	}
	if handler.mutation {
		if err := s.requireAuth(r); err != nil {
			writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, err.Error(), nil)
			return
		}
		if !s.allowMutation(r) {
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "mutation rate limit exceeded", nil)
			return
		}
	}
	handler.fn(w, r, &req)
}

type methodHandler struct {
	fn       func(http.ResponseWriter, *http.Request, *RPCRequest)
	mutation bool
}

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		"points_createSystem":       {fn: s.handleCreateSystem, mutation: true},
		"points_add":                {fn: s.handleAddPoints, mutation: true},
		"points_subtract":           {fn: s.handleSubtractPoints, mutation: true},
		"points_addBatch":           {fn: s.handleAddBatch, mutation: true},
		"points_subtractBatch":      {fn: s.handleSubtractBatch, mutation: true},
		"points_addBatchMulti":      {fn: s.handleAddBatchMulti, mutation: true},
		"points_subtractBatchMulti": {fn: s.handleSubtractBatchMulti, mutation: true},
		"points_addAdmin":           {fn: s.handleAddAdmin, mutation: true},
		"points_removeAdmin":        {fn: s.handleRemoveAdmin, mutation: true},
		"points_addIssuer":          {fn: s.handleAddIssuer, mutation: true},
		"points_removeIssuer":       {fn: s.handleRemoveIssuer, mutation: true},
		"points_setObserver":        {fn: s.handleSetObserver, mutation: true},
		"points_setURI":             {fn: s.handleSetURI, mutation: true},
		"points_getPoints":          {fn: s.handleGetPoints},
		"points_getTotalPoints":     {fn: s.handleGetTotalPoints},
		"points_getPointsKey":       {fn: s.handleGetPointsKey},
		"points_getRole":            {fn: s.handleGetRole},
		"points_getObserver":        {fn: s.handleGetObserver},
		"points_getURI":             {fn: s.handleGetURI},
	}
}

func (s *Server) requireAuth(r *http.Request) error {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return errors.New("missing bearer token")
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
		return errors.New("invalid bearer token")
	}
	return nil
}

func (s *Server) allowMutation(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	s.limiterMu.Lock()
	limiter, ok := s.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(mutationRatePerSecond), mutationRateBurst)
		s.limiters[host] = limiter
	}
	s.limiterMu.Unlock()
	return limiter.Allow()
}

// writeLedgerError maps engine errors onto JSON-RPC error codes, attaching
// structured data for balance failures.
func writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	var insufficient *points.InsufficientPointsError
	switch {
	case errors.As(err, &insufficient):
		writeError(w, http.StatusUnprocessableEntity, id, codeInsufficientPoints, "insufficient balance", map[string]string{
			"systemId":  fmt.Sprintf("%d", insufficient.SystemID),
			"available": insufficient.Available.String(),
			"required":  insufficient.Required.String(),
		})
	case errors.Is(err, points.ErrOnlyAdmin), errors.Is(err, points.ErrOnlyIssuer):
		writeError(w, http.StatusForbidden, id, codeRoleDenied, err.Error(), nil)
	case errors.Is(err, points.ErrLengthMismatch):
		writeError(w, http.StatusBadRequest, id, codeLengthMismatch, err.Error(), nil)
	case errors.Is(err, points.ErrNegativeAmount):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

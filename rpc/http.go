package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"poolbase/native/fees"
	"poolbase/native/pool"
	"poolbase/observability"
	"poolbase/storage"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
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

type rateLimiter struct {
	count       int
	windowStart time.Time
}

// Server hosts one pool engine and its fee manager behind a JSON-RPC
// interface. Every mutating call is serialized by the engine itself;
// the server's own lock only guards rate-limiter state.
type Server struct {
	engine *pool.Engine
	fees   *fees.Manager
	store  *storage.PoolStore
	poolID common.Address
	logger *slog.Logger

	mu                sync.Mutex
	rateLimiters      map[string]*rateLimiter
	requestsPerMinute int
	authToken         string
}

func NewServer(engine *pool.Engine, feeManager *fees.Manager, store *storage.PoolStore, poolID common.Address, requestsPerMinute int, logger *slog.Logger) *Server {
	token := strings.TrimSpace(os.Getenv("POOLBASE_RPC_TOKEN"))
	if logger == nil {
		logger = slog.Default()
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 600
	}
	return &Server{
		engine:            engine,
		fees:              feeManager,
		store:             store,
		poolID:            poolID,
		logger:            logger,
		rateLimiters:      make(map[string]*rateLimiter),
		requestsPerMinute: requestsPerMinute,
		authToken:         token,
	}
}

func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
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
	start := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

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
	if !s.allowSource(clientSource(r), time.Now()) {
		observability.RPCMetrics().RecordThrottle("rate_limit")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	status := s.dispatch(w, r, req)
	observability.RPCMetrics().Observe(req.Method, status, time.Since(start))
}

// dispatch routes one request and reports the HTTP status that was
// written, for metrics.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	if mutatesLedger(req.Method) {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return http.StatusUnauthorized
		}
	}
	switch req.Method {
	case "pool_deposit":
		return s.handleDeposit(w, req)
	case "pool_withdraw":
		return s.handleWithdraw(w, req)
	case "pool_withdrawAll":
		return s.handleWithdrawAll(w, req)
	case "pool_withdrawAllMany":
		return s.handleWithdrawAllMany(w, req)
	case "pool_setContributionSettings":
		return s.handleSetContributionSettings(w, req)
	case "pool_modifyWhitelist":
		return s.handleModifyWhitelist(w, req)
	case "pool_removeWhitelist":
		return s.handleRemoveWhitelist(w, req)
	case "pool_setTokenDrops":
		return s.handleSetTokenDrops(w, req)
	case "pool_fail":
		return s.handleFail(w, req)
	case "pool_payToPresale":
		return s.handlePayToPresale(w, req)
	case "pool_expectRefund":
		return s.handleExpectRefund(w, req)
	case "pool_refundReceived":
		return s.handleRefundReceived(w, req)
	case "pool_confirmTokens":
		return s.handleConfirmTokens(w, req)
	case "pool_tokenFallback":
		return s.handleTokenFallback(w, req)
	case "pool_transferTokensTo":
		return s.handleTransferTokensTo(w, req)
	case "pool_airdropEther":
		return s.handleAirdropEther(w, req)
	case "pool_airdropTokens":
		return s.handleAirdropTokens(w, req)
	case "pool_transferFees":
		return s.handleTransferFees(w, req)
	case "pool_discountFees":
		return s.handleDiscountFees(w, req)
	case "pool_balances":
		return s.handleBalances(w, req)
	case "pool_status":
		return s.handleStatus(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
		return http.StatusNotFound
	}
}

// mutatesLedger reports whether a method changes ledger state and must
// therefore present the bearer token when one is configured.
func mutatesLedger(method string) bool {
	switch method {
	case "pool_balances", "pool_status":
		return false
	}
	return true
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

func (s *Server) allowSource(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.rateLimiters[source]
	if !ok {
		limiter = &rateLimiter{windowStart: now}
		s.rateLimiters[source] = limiter
	}
	if now.Sub(limiter.windowStart) >= rateLimitWindow {
		limiter.windowStart = now
		limiter.count = 0
	}
	if limiter.count >= s.requestsPerMinute {
		return false
	}
	limiter.count++
	return true
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

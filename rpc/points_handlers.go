package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"pointsledger/crypto"
	"pointsledger/native/points"
)

type createSystemParams struct {
	Caller string `json:"caller"`
}

type mutatePointsParams struct {
	Caller   string `json:"caller"`
	SystemID uint64 `json:"systemId"`
	User     string `json:"user"`
	Amount   string `json:"amount"`
}

type batchPointsParams struct {
	Caller   string   `json:"caller"`
	SystemID uint64   `json:"systemId"`
	Users    []string `json:"users"`
	Amounts  []string `json:"amounts"`
}

type batchMultiParams struct {
	Caller    string   `json:"caller"`
	SystemIDs []uint64 `json:"systemIds"`
	Users     []string `json:"users"`
	Amounts   []string `json:"amounts"`
}

type roleMutationParams struct {
	Caller   string `json:"caller"`
	SystemID uint64 `json:"systemId"`
	Address  string `json:"address"`
}

type setObserverParams struct {
	Caller   string `json:"caller"`
	SystemID uint64 `json:"systemId"`
	Observer string `json:"observer"`
}

type setURIParams struct {
	Caller   string `json:"caller"`
	SystemID uint64 `json:"systemId"`
	URI      string `json:"uri"`
}

type systemQueryParams struct {
	SystemID uint64 `json:"systemId"`
}

type userQueryParams struct {
	SystemID uint64 `json:"systemId"`
	User     string `json:"user"`
}

type createSystemResult struct {
	SystemID uint64 `json:"systemId"`
}

type mutationResult struct {
	SystemID   uint64 `json:"systemId"`
	User       string `json:"user"`
	NewBalance string `json:"newBalance"`
	Total      string `json:"total"`
}

type batchResult struct {
	Applied int `json:"applied"`
}

type ackResult struct {
	OK bool `json:"ok"`
}

type balanceResult struct {
	Balance string `json:"balance"`
}

type totalResult struct {
	Total string `json:"total"`
}

type pointsKeyResult struct {
	Key string `json:"key"`
}

type roleResult struct {
	Role string `json:"role"`
}

type observerResult struct {
	Observer string `json:"observer,omitempty"`
	Set      bool   `json:"set"`
}

type uriResult struct {
	URI string `json:"uri"`
}

func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}

func decodeAddressParam(w http.ResponseWriter, req *RPCRequest, field, value string) ([20]byte, bool) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("invalid %s address", field), err.Error())
		return out, false
	}
	return addr.Array(), true
}

func decodeAmountParam(w http.ResponseWriter, req *RPCRequest, value string) (*big.Int, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "amount required", nil)
		return nil, false
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "amount must be a base-10 integer", nil)
		return nil, false
	}
	if amount.Sign() < 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "amount must be non-negative", nil)
		return nil, false
	}
	return amount, true
}

func decodeAddressList(w http.ResponseWriter, req *RPCRequest, field string, values []string) ([][20]byte, bool) {
	out := make([][20]byte, len(values))
	for i, value := range values {
		addr, ok := decodeAddressParam(w, req, field, value)
		if !ok {
			return nil, false
		}
		out[i] = addr
	}
	return out, true
}

func decodeAmountList(w http.ResponseWriter, req *RPCRequest, values []string) ([]*big.Int, bool) {
	out := make([]*big.Int, len(values))
	for i, value := range values {
		amount, ok := decodeAmountParam(w, req, value)
		if !ok {
			return nil, false
		}
		out[i] = amount
	}
	return out, true
}

func encodeAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.PointsPrefix, addr[:]).String()
}

func failureReason(err error) string {
	var insufficient *points.InsufficientPointsError
	switch {
	case errors.As(err, &insufficient):
		return "insufficient_balance"
	case errors.Is(err, points.ErrOnlyAdmin):
		return "only_admin"
	case errors.Is(err, points.ErrOnlyIssuer):
		return "only_issuer"
	case errors.Is(err, points.ErrLengthMismatch):
		return "length_mismatch"
	case errors.Is(err, points.ErrReentrantCall):
		return "reentrant_call"
	case errors.Is(err, points.ErrObserverRejected):
		return "observer_rejected"
	default:
		return "internal"
	}
}

func (s *Server) observeFailure(err error) {
	reason := failureReason(err)
	s.metrics.ObserveMutationFailed(reason)
	if reason == "observer_rejected" {
		s.metrics.ObserveObserverFailure()
	}
}

func (s *Server) handleCreateSystem(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params createSystemParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := decodeAddressParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	s.mu.Lock()
	systemID, err := s.ledger.CreatePointSystem(caller)
	s.mu.Unlock()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	s.metrics.ObserveSystemCreated()
	writeResult(w, req.ID, createSystemResult{SystemID: systemID})
}

func (s *Server) handleAddPoints(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleMutatePoints(w, req, true)
}

func (s *Server) handleSubtractPoints(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleMutatePoints(w, req, false)
}

func (s *Server) handleMutatePoints(w http.ResponseWriter, req *RPCRequest, isAddition bool) {
	var params mutatePointsParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := decodeAddressParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	user, ok := decodeAddressParam(w, req, "user", params.User)
	if !ok {
		return
	}
	amount, ok := decodeAmountParam(w, req, params.Amount)
	if !ok {
		return
	}
	op := "subtract"
	if isAddition {
		op = "add"
	}
	s.mu.Lock()
	var err error
	if isAddition {
		err = s.ledger.AddPoints(caller, params.SystemID, user, amount)
	} else {
		err = s.ledger.SubtractPoints(caller, params.SystemID, user, amount)
	}
	var balance, total *big.Int
	if err == nil {
		balance, err = s.ledger.Points(params.SystemID, user)
	}
	if err == nil {
		total, err = s.ledger.TotalPoints(params.SystemID)
	}
	s.mu.Unlock()
	if err != nil {
		s.observeFailure(err)
		writeLedgerError(w, req.ID, err)
		return
	}
	s.metrics.ObserveMutationApplied(op)
	writeResult(w, req.ID, mutationResult{
		SystemID:   params.SystemID,
		User:       encodeAddress(user),
		NewBalance: balance.String(),
		Total:      total.String(),
	})
}

func (s *Server) handleAddBatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleBatch(w, req, true)
}

func (s *Server) handleSubtractBatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleBatch(w, req, false)
}

func (s *Server) handleBatch(w http.ResponseWriter, req *RPCRequest, isAddition bool) {
	var params batchPointsParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := decodeAddressParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	users, ok := decodeAddressList(w, req, "user", params.Users)
	if !ok {
		return
	}
	amounts, ok := decodeAmountList(w, req, params.Amounts)
	if !ok {
		return
	}
	op := "subtract_batch"
	if isAddition {
		op = "add_batch"
	}
	s.mu.Lock()
	var err error
	if isAddition {
		err = s.ledger.AddPointsBatch(caller, params.SystemID, users, amounts)
	} else {
		err = s.ledger.SubtractPointsBatch(caller, params.SystemID, users, amounts)
	}
	s.mu.Unlock()
	if err != nil {
		s.observeFailure(err)
		writeLedgerError(w, req.ID, err)
		return
	}
	s.metrics.ObserveMutationApplied(op)
	writeResult(w, req.ID, batchResult{Applied: len(users)})
}

func (s *Server) handleAddBatchMulti(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleBatchMulti(w, req, true)
}

func (s *Server) handleSubtractBatchMulti(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleBatchMulti(w, req, false)
}

func (s *Server) handleBatchMulti(w http.ResponseWriter, req *RPCRequest, isAddition bool) {
	var params batchMultiParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := decodeAddressParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	users, ok := decodeAddressList(w, req, "user", params.Users)
	if !ok {
		return
	}
	amounts, ok := decodeAmountList(w, req, params.Amounts)
	if !ok {
		return
	}
	op := "subtract_batch_multi"
	if isAddition {
		op = "add_batch_multi"
	}
	s.mu.Lock()
	var err error
	if isAddition {
		err = s.ledger.AddPointsBatchMultipleSystems(caller, params.SystemIDs, users, amounts)
	} else {
		err = s.ledger.SubtractPointsBatchMultipleSystems(caller, params.SystemIDs, users, amounts)
	}
	s.mu.Unlock()
	if err != nil {
		s.observeFailure(err)
		writeLedgerError(w, req.ID, err)
		return
	}
	s.metrics.ObserveMutationApplied(op)
	writeResult(w, req.ID, batchResult{Applied: len(users)})
}

func (s *Server) handleAddAdmin(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleRoleMutation(w, req, s.ledger.AddAdmin)
}

func (s *Server) handleRemoveAdmin(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleRoleMutation(w, req, s.ledger.RemoveAdmin)
}

func (s *Server) handleAddIssuer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleRoleMutation(w, req, s.ledger.AddIssuer)
}

func (s *Server) handleRemoveIssuer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleRoleMutation(w, req, s.ledger.RemoveIssuer)
}

func (s *Server) handleRoleMutation(w http.ResponseWriter, req *RPCRequest, mutate func([20]byte, uint64, [20]byte) error) {
	var params roleMutationParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := decodeAddressParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	target, ok := decodeAddressParam(w, req, "address", params.Address)
	if !ok {
		return
	}
	s.mu.Lock()
	err := mutate(caller, params.SystemID, target)
	s.mu.Unlock()
	if err != nil {
		s.observeFailure(err)
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleSetObserver(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params setObserverParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := decodeAddressParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	var observer [20]byte
	if trimmed := strings.TrimSpace(params.Observer); trimmed != "" {
		observer, ok = decodeAddressParam(w, req, "observer", trimmed)
		if !ok {
			return
		}
	}
	s.mu.Lock()
	err := s.ledger.SetObserver(caller, params.SystemID, observer)
	s.mu.Unlock()
	if err != nil {
		s.observeFailure(err)
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleSetURI(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params setURIParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := decodeAddressParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	s.mu.Lock()
	err := s.ledger.SetURI(caller, params.SystemID, params.URI)
	s.mu.Unlock()
	if err != nil {
		s.observeFailure(err)
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleGetPoints(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params userQueryParams
	if !decodeParams(w, req, &params) {
		return
	}
	user, ok := decodeAddressParam(w, req, "user", params.User)
	if !ok {
		return
	}
	s.mu.Lock()
	balance, err := s.ledger.Points(params.SystemID, user)
	s.mu.Unlock()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceResult{Balance: balance.String()})
}

func (s *Server) handleGetTotalPoints(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params systemQueryParams
	if !decodeParams(w, req, &params) {
		return
	}
	s.mu.Lock()
	total, err := s.ledger.TotalPoints(params.SystemID)
	s.mu.Unlock()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, totalResult{Total: total.String()})
}

func (s *Server) handleGetPointsKey(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params userQueryParams
	if !decodeParams(w, req, &params) {
		return
	}
	user, ok := decodeAddressParam(w, req, "user", params.User)
	if !ok {
		return
	}
	key := points.PointsKeyForUser(params.SystemID, user)
	writeResult(w, req.ID, pointsKeyResult{Key: "0x" + hex.EncodeToString(key[:])})
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params userQueryParams
	if !decodeParams(w, req, &params) {
		return
	}
	user, ok := decodeAddressParam(w, req, "user", params.User)
	if !ok {
		return
	}
	s.mu.Lock()
	role, err := s.ledger.Role(params.SystemID, user)
	s.mu.Unlock()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, roleResult{Role: role.String()})
}

func (s *Server) handleGetObserver(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params systemQueryParams
	if !decodeParams(w, req, &params) {
		return
	}
	s.mu.Lock()
	observer, set, err := s.ledger.Observer(params.SystemID)
	s.mu.Unlock()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	result := observerResult{Set: set}
	if set {
		result.Observer = encodeAddress(observer)
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetURI(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params systemQueryParams
	if !decodeParams(w, req, &params) {
		return
	}
	s.mu.Lock()
	uri, err := s.ledger.URI(params.SystemID)
	s.mu.Unlock()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, uriResult{URI: uri})
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/perpmesh/engine/pkg/enginerr"
	"github.com/perpmesh/engine/pkg/engine"
	"github.com/perpmesh/engine/pkg/market"
	"github.com/perpmesh/engine/pkg/position"
	"github.com/perpmesh/engine/pkg/tick"
	"github.com/perpmesh/engine/pkg/transaction"
)

// Server exposes the engine's operations table over REST and broadcasts
// position/tick events over WebSocket.
type Server struct {
	eng         *engine.Engine
	verifier    *transaction.Verifier
	delegations *delegationRegistry
	router      *mux.Router
	hub         *Hub
	logger      *zap.Logger
}

// NewServer creates an API server over eng, verifying submitted
// transactions with verifier.
func NewServer(eng *engine.Engine, verifier *transaction.Verifier, logger *zap.Logger) *Server {
	s := &Server{
		eng:         eng,
		verifier:    verifier,
		delegations: newDelegationRegistry(),
		router:      mux.NewRouter(),
		hub:         NewHub(),
		logger:      logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleListMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/markets/{symbol}/ticks/{tick}", s.handleGetTickDetails).Methods("GET")

	api.HandleFunc("/markets/{symbol}/positions/{account}", s.handleGetPosition).Methods("GET")
	api.HandleFunc("/markets/{symbol}/positions/{account}/pnl", s.handleGetPositionPnL).Methods("GET")

	api.HandleFunc("/transactions", s.handleSubmitTransaction).Methods("POST")
	api.HandleFunc("/delegations", s.handleRegisterDelegation).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub and blocks serving addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	handler := c.Handler(s.router)

	s.logger.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, handler)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	cfgs := s.eng.ListMarkets()
	response := make([]MarketInfo, len(cfgs))
	for i, cfg := range cfgs {
		response[i] = marketInfoFromConfig(cfg)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	cfg, err := s.eng.GetMarketDetails(symbol)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, marketInfoFromConfig(cfg))
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	state, err := s.eng.GetStateDetails(symbol)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, StateInfo{
		Symbol:      state.Symbol,
		CurrentTick: uint64(state.CurrentTick),
		Status:      string(state.Status),
	})
}

func (s *Server) handleGetTickDetails(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := vars["symbol"]

	t, err := strconv.ParseUint(vars["tick"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tick", err.Error())
		return
	}

	td, found, err := s.eng.GetTickDetails(symbol, tick.Tick(t))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "tick not found", "")
		return
	}

	respondJSON(w, TickDetailsInfo{
		Tick:               t,
		LiveBaseLiquidity:  td.BoundaryBase.Live().String(),
		LiveQuoteLiquidity: td.BoundaryQuote.Live().String(),
	})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol, account := vars["symbol"], vars["account"]

	pos, found, err := s.eng.GetAccountPosition(symbol, account)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "no open position", "")
		return
	}

	respondJSON(w, positionInfoFromPosition(symbol, pos))
}

func (s *Server) handleGetPositionPnL(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol, account := vars["symbol"], vars["account"]

	pnl, found, err := s.eng.GetPositionPnL(symbol, account)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "no open position", "")
		return
	}

	respondJSON(w, PositionPnLInfo{Account: account, Symbol: symbol, PnLBps: pnl})
}

// handleSubmitTransaction verifies a signed transaction.SignedTransaction
// and dispatches it to the matching engine operation.
func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	tx, err := transaction.ParseTransaction(bodyBytes)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction", err.Error())
		return
	}

	ctx := r.Context()

	switch tx.Type {
	case transaction.TxTypeOpen:
		s.handleOpen(ctx, w, tx)
	case transaction.TxTypeClose:
		s.handleClose(ctx, w, tx)
	case transaction.TxTypeConvert:
		s.handleConvert(ctx, w, tx)
	default:
		respondError(w, http.StatusBadRequest, "unsupported transaction type", string(tx.Type))
	}
}

// handleRegisterDelegation registers an agent-key delegation: a wallet's
// own EIP-712 signature authorizing an agent key to sign open-position
// orders on its behalf. Once stored, agent-signed orders reference it
// by delegation_id instead of attaching the delegation to every order.
func (s *Server) handleRegisterDelegation(w http.ResponseWriter, r *http.Request) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	var req DelegationRegisterRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid delegation request", err.Error())
		return
	}
	if req.DelegationID == "" {
		respondError(w, http.StatusBadRequest, "missing delegation_id", "")
		return
	}

	delegation, err := req.Delegation.toDelegation()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid delegation", err.Error())
		return
	}

	sigBytes, err := transaction.DecodeSignature(req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature", err.Error())
		return
	}

	valid, err := s.verifier.VerifyDelegationSignature(delegation, sigBytes)
	if err != nil || !valid {
		respondError(w, http.StatusUnauthorized, "delegation signature invalid", errString(err))
		return
	}

	s.delegations.store(req.DelegationID, delegation, sigBytes)
	s.logger.Info("agent delegation registered",
		zap.String("delegation_id", req.DelegationID),
		zap.String("wallet", delegation.Wallet.Hex()),
		zap.String("agent", delegation.Agent.Hex()))
	respondJSON(w, TransactionResponse{Status: "stored"})
}

// verifyAgentOpen resolves an agent-mode open transaction's delegation_id
// against the registry and verifies the order under it, returning the
// wallet address the order should be attributed to.
func (s *Server) verifyAgentOpen(tx *transaction.SignedTransaction) (common.Address, error) {
	if tx.DelegationID == "" {
		return common.Address{}, fmt.Errorf("agent-mode order missing delegation_id")
	}
	stored, ok := s.delegations.get(tx.DelegationID)
	if !ok {
		return common.Address{}, fmt.Errorf("unknown delegation %q", tx.DelegationID)
	}
	if stored.delegation.Expiry.Sign() != 0 && stored.delegation.Expiry.Cmp(big.NewInt(time.Now().Unix())) < 0 {
		return common.Address{}, fmt.Errorf("delegation %q has expired", tx.DelegationID)
	}

	owner, valid, err := s.verifier.VerifyAgentOpenTransaction(tx, stored.delegation, stored.signature)
	if err != nil {
		return common.Address{}, err
	}
	if !valid {
		return common.Address{}, fmt.Errorf("agent order invalid")
	}
	return owner, nil
}

func (s *Server) handleOpen(ctx context.Context, w http.ResponseWriter, tx *transaction.SignedTransaction) {
	var owner common.Address
	var err error
	if tx.AgentMode {
		owner, err = s.verifyAgentOpen(tx)
	} else {
		var valid bool
		owner, valid, err = s.verifier.VerifyOpenTransaction(tx)
		if err == nil && !valid {
			err = fmt.Errorf("signature invalid")
		}
	}
	if err != nil {
		respondError(w, http.StatusUnauthorized, "signature invalid", errString(err))
		return
	}

	state, err := s.eng.GetStateDetails(tx.Open.Symbol)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	req, convErr := openRequestFromPayload(tx.Open, state.CurrentTick)
	if convErr != nil {
		respondError(w, http.StatusBadRequest, "invalid open payload", convErr.Error())
		return
	}

	pos, err := s.eng.OpenPosition(ctx, tx.Open.Symbol, owner.Hex(), req)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	s.hub.BroadcastToChannel("positions:"+tx.Open.Symbol, PositionUpdate{
		Type: "position", Account: owner.Hex(), Symbol: tx.Open.Symbol, Side: sideString(pos.Side), Open: true,
	})

	s.logger.Info("position opened", zap.String("symbol", tx.Open.Symbol), zap.String("account", owner.Hex()))
	respondJSON(w, TransactionResponse{Status: "submitted"})
}

func (s *Server) handleClose(ctx context.Context, w http.ResponseWriter, tx *transaction.SignedTransaction) {
	owner, valid, err := s.verifier.VerifyCloseTransaction(tx)
	if err != nil || !valid {
		respondError(w, http.StatusUnauthorized, "signature invalid", errString(err))
		return
	}

	maxTick, convErr := parseOptionalTick(tx.Close.MaxTick)
	if convErr != nil {
		respondError(w, http.StatusBadRequest, "invalid max_tick", convErr.Error())
		return
	}
	nonce, convErr := parseNonce(tx.Close.Nonce)
	if convErr != nil {
		respondError(w, http.StatusBadRequest, "invalid nonce", convErr.Error())
		return
	}

	state, err := s.eng.GetStateDetails(tx.Close.Symbol)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	_, err = s.eng.ClosePosition(ctx, tx.Close.Symbol, owner.Hex(), nonce, state.CurrentTick, maxTick)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	s.hub.BroadcastToChannel("positions:"+tx.Close.Symbol, PositionUpdate{
		Type: "position", Account: owner.Hex(), Symbol: tx.Close.Symbol, Open: false,
	})

	s.logger.Info("position closed", zap.String("symbol", tx.Close.Symbol), zap.String("account", owner.Hex()))
	respondJSON(w, TransactionResponse{Status: "submitted"})
}

func (s *Server) handleConvert(ctx context.Context, w http.ResponseWriter, tx *transaction.SignedTransaction) {
	owner, valid, err := s.verifier.VerifyConvertTransaction(tx)
	if err != nil || !valid {
		respondError(w, http.StatusUnauthorized, "signature invalid", errString(err))
		return
	}

	nonce, convErr := parseNonce(tx.Convert.Nonce)
	if convErr != nil {
		respondError(w, http.StatusBadRequest, "invalid nonce", convErr.Error())
		return
	}

	converted, err := s.eng.ConvertPosition(ctx, tx.Convert.Symbol, owner.Hex(), nonce)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if !converted {
		respondJSON(w, TransactionResponse{Status: "rejected", Message: "order not yet filled"})
		return
	}

	respondJSON(w, TransactionResponse{Status: "submitted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods
// ==============================

// BroadcastTickCrossed notifies subscribers of symbol that a swap crossed
// ticks and the reference tick moved. Nothing in this module calls it:
// swaps run through the engine do not publish to the ticks channel.
func (s *Server) BroadcastTickCrossed(symbol string, crossed []tick.Tick, currentTick tick.Tick) {
	ticks := make([]uint64, len(crossed))
	for i, t := range crossed {
		ticks[i] = uint64(t)
	}
	s.hub.BroadcastToChannel("ticks:"+symbol, TickCrossedUpdate{
		Type: "tick_crossed", Symbol: symbol, Ticks: ticks, CurrentTick: uint64(currentTick),
	})
}

// ==============================
// Conversion helpers
// ==============================

func marketInfoFromConfig(cfg *market.Config) MarketInfo {
	return MarketInfo{
		Symbol:          cfg.Symbol,
		PerpAsset:       cfg.PerpAsset,
		CollateralAsset: cfg.CollateralAsset,
		Status:          string(cfg.Status),
		BasePrice:       cfg.BasePrice,
		MaxLeveragex10:  cfg.MaxLeveragex10,
		MinCollateral:   cfg.MinCollateral,
		FundingInterval: cfg.FundingInterval.String(),
		FeeBps:          cfg.FeeBps,
	}
}

func positionInfoFromPosition(symbol string, pos *position.Position) PositionInfo {
	kind := "market"
	if pos.Kind == position.Limit {
		kind = "limit"
	}
	return PositionInfo{
		Account:         pos.Account,
		Symbol:          symbol,
		Side:            sideString(pos.Side),
		Kind:            kind,
		EntryTick:       uint64(pos.EntryTick),
		CollateralValue: pos.CollateralValue.String(),
		DebtValue:       pos.DebtValue.String(),
		InterestRate:    pos.InterestRate,
		Timestamp:       pos.Timestamp.Format(time.RFC3339),
	}
}

func sideString(s position.Side) string {
	if s == position.Long {
		return "long"
	}
	return "short"
}

func openRequestFromPayload(p *transaction.OpenPayload, currentTick tick.Tick) (engine.OpenRequest, error) {
	req, err := p.ToEIP712()
	if err != nil {
		return engine.OpenRequest{}, err
	}

	side := position.Short
	if req.Side == 1 {
		side = position.Long
	}
	kind := position.Market
	if req.Kind == 2 {
		kind = position.Limit
	}

	maxTick, err := parseOptionalTick(p.MaxTick)
	if err != nil {
		return engine.OpenRequest{}, err
	}

	nonce, err := parseNonce(p.Nonce)
	if err != nil {
		return engine.OpenRequest{}, err
	}

	collateral := uint256FromBig(req.CollateralValue)
	debt := uint256FromBig(req.DebtValue)

	return engine.OpenRequest{
		Side:            side,
		Kind:            kind,
		CollateralValue: collateral,
		DebtValue:       debt,
		LeverageX10:     leverageX10(collateral, debt),
		CurrentTick:     currentTick,
		MaxTick:         maxTick,
		Nonce:           nonce,
	}, nil
}

// parseNonce parses a transaction payload's decimal nonce string into the
// account nonce counter's working type.
func parseNonce(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid nonce %q: %w", s, err)
	}
	return n, nil
}

// leverageX10 reports (collateral+debt)/collateral scaled by 10, the same
// fixed-point leverage unit market.Config.MaxLeveragex10 bounds against.
func leverageX10(collateral, debt *uint256.Int) uint8 {
	if collateral.IsZero() {
		return 255
	}
	notional := new(uint256.Int).Add(collateral, debt)
	scaled := new(uint256.Int).Mul(notional, uint256.NewInt(10))
	scaled.Div(scaled, collateral)
	if !scaled.IsUint64() || scaled.Uint64() > 255 {
		return 255
	}
	return uint8(scaled.Uint64())
}

func parseOptionalTick(s string) (*tick.Tick, error) {
	if s == "" || s == "0" {
		return nil, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid tick %q: %w", s, err)
	}
	t := tick.Tick(v)
	return &t, nil
}

// uint256FromBig widens a non-negative big.Int parsed from a transaction
// payload to the engine's working integer type, clamping a negative value
// to zero since neither collateral nor debt can be negative.
func uint256FromBig(v *big.Int) *uint256.Int {
	if v.Sign() < 0 {
		return uint256.NewInt(0)
	}
	out, _ := uint256.FromBig(v)
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ==============================
// JSON helpers
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, kind string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Kind: kind, Message: message})
}

// respondEngineError maps an enginerr.Kind to an HTTP status.
func respondEngineError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case enginerr.Is(err, enginerr.RangeErr):
		status = http.StatusBadRequest
	case enginerr.Is(err, enginerr.NoLiquidity):
		status = http.StatusConflict
	case enginerr.Is(err, enginerr.Busy):
		status = http.StatusTooManyRequests
	case enginerr.Is(err, enginerr.Paused):
		status = http.StatusServiceUnavailable
	case enginerr.Is(err, enginerr.VaultReject):
		status = http.StatusUnprocessableEntity
	case enginerr.Is(err, enginerr.OracleUnavailable):
		status = http.StatusBadGateway
	case enginerr.Is(err, enginerr.ExternalCallFailure):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}
	respondError(w, status, "engine_error", err.Error())
}

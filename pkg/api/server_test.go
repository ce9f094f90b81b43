package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/perpmesh/engine/pkg/crypto"
	"github.com/perpmesh/engine/pkg/engine"
	"github.com/perpmesh/engine/pkg/market"
	"github.com/perpmesh/engine/pkg/oracle"
	"github.com/perpmesh/engine/pkg/position"
	"github.com/perpmesh/engine/pkg/retry"
	"github.com/perpmesh/engine/pkg/tick"
	"github.com/perpmesh/engine/pkg/transaction"
	"github.com/perpmesh/engine/pkg/util"
	"github.com/perpmesh/engine/pkg/vault"
)

const testSymbol = "ETH-PERP"

func newTestServer(t *testing.T) (*Server, *crypto.Signer) {
	t.Helper()

	vaultDir, err := os.MkdirTemp("", "api-vault-test-*")
	if err != nil {
		t.Fatalf("mkdtemp vault: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(vaultDir) })
	v, err := vault.NewVault(vaultDir, vault.DefaultRateModel())
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	t.Cleanup(func() { v.Close() })

	retryDir, err := os.MkdirTemp("", "api-retry-test-*")
	if err != nil {
		t.Fatalf("mkdtemp retry: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(retryDir) })
	retryLedger, err := retry.NewLedger(retryDir)
	if err != nil {
		t.Fatalf("new retry ledger: %v", err)
	}
	t.Cleanup(func() { retryLedger.Close() })

	reg := market.NewRegistry()
	if err := reg.RegisterMarket(&market.Config{
		Symbol:          testSymbol,
		PerpAsset:       "ETH",
		CollateralAsset: "USDC",
		BasePrice:       1000,
		MaxLeveragex10:  100,
		MinCollateral:   10,
		FundingInterval: time.Hour,
		Status:          market.Active,
	}); err != nil {
		t.Fatalf("register market: %v", err)
	}

	if _, err := v.Stake("lp1", uint256.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("stake: %v", err)
	}

	eng := engine.New(reg, v, oracle.NewFake(), retryLedger, util.RealClock{}, zap.NewNop())

	// Seed resting sell-side liquidity so a market long opened through the
	// API below has something to swap against. Placing it leaves the
	// market's reference tick sitting exactly where the resting order
	// rests, so a subsequent market open starts its swap there.
	if err := v.Deposit("lp-seed", uint256.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("deposit seed margin: %v", err)
	}
	seedTick := tick.Tick(10 * tick.OnePercent)
	if _, err := eng.OpenPosition(context.Background(), testSymbol, "lp-seed", engine.OpenRequest{
		Side:            position.Short,
		Kind:            position.Limit,
		CollateralValue: uint256.NewInt(100_000_000),
		DebtValue:       uint256.NewInt(0),
		LeverageX10:     10,
		CurrentTick:     tick.Zero(0),
		MaxTick:         &seedTick,
		Nonce:           1,
	}); err != nil {
		t.Fatalf("seed resting liquidity: %v", err)
	}

	verifier := transaction.NewVerifier(crypto.DefaultDomain())
	s := NewServer(eng, verifier, zap.NewNop())

	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := v.Deposit(signer.Address().Hex(), uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit margin: %v", err)
	}

	return s, signer
}

func TestHandleListMarkets(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/markets", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

func TestHandleGetMarketNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/markets/NOPE-PERP", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError && w.Code != http.StatusBadRequest {
		t.Fatalf("expected an engine error status for an unknown market, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleGetState(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest("GET", fmt.Sprintf("/api/v1/markets/%s/state", testSymbol), nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

func TestHandleGetPositionNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest("GET", fmt.Sprintf("/api/v1/markets/%s/positions/0xdead", testSymbol), nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for an account with no open position", w.Code)
	}
}

func TestHandleSubmitOpenTransaction(t *testing.T) {
	s, signer := newTestServer(t)

	req := &crypto.OpenPositionEIP712{
		Symbol:          testSymbol,
		Side:            crypto.SideToUint8("long"),
		Kind:            crypto.KindToUint8("market"),
		CollateralValue: big.NewInt(1_000),
		DebtValue:       big.NewInt(1_000),
		MaxTick:         big.NewInt(0),
		Nonce:           big.NewInt(1),
		Deadline:        big.NewInt(0),
		Owner:           signer.Address(),
	}
	sig, err := crypto.NewEIP712Signer(crypto.DefaultDomain()).SignOpenPosition(signer, req)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tx := &transaction.SignedTransaction{
		Type:      transaction.TxTypeOpen,
		Open:      transaction.FromEIP712OpenPosition(req),
		Signature: fmt.Sprintf("0x%x", sig),
	}
	body, err := tx.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	httpReq := httptest.NewRequest("POST", "/api/v1/transactions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httpReq)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}

	getReq := httptest.NewRequest("GET", fmt.Sprintf("/api/v1/markets/%s/positions/%s", testSymbol, signer.Address().Hex()), nil)
	getW := httptest.NewRecorder()
	s.router.ServeHTTP(getW, getReq)
	if getW.Code != http.StatusOK {
		t.Fatalf("expected the opened position to be retrievable, got %d: %s", getW.Code, getW.Body.String())
	}
}

func TestHandleSubmitOpenTransactionRejectsReplayedNonce(t *testing.T) {
	s, signer := newTestServer(t)

	openTx := func(nonce int64) *transaction.SignedTransaction {
		req := &crypto.OpenPositionEIP712{
			Symbol:          testSymbol,
			Side:            crypto.SideToUint8("long"),
			Kind:            crypto.KindToUint8("market"),
			CollateralValue: big.NewInt(1_000),
			DebtValue:       big.NewInt(1_000),
			MaxTick:         big.NewInt(0),
			Nonce:           big.NewInt(nonce),
			Deadline:        big.NewInt(0),
			Owner:           signer.Address(),
		}
		sig, err := crypto.NewEIP712Signer(crypto.DefaultDomain()).SignOpenPosition(signer, req)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return &transaction.SignedTransaction{
			Type:      transaction.TxTypeOpen,
			Open:      transaction.FromEIP712OpenPosition(req),
			Signature: fmt.Sprintf("0x%x", sig),
		}
	}

	body, err := openTx(1).Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/transactions", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("first submission: status = %d, want 200, body=%s", w.Code, w.Body.String())
	}

	// Closing so the account is free to open again lets the replay attempt
	// reach the nonce check rather than being rejected for already having
	// an open position.
	closeBody, err := closeTx(t, signer, 2).Serialize()
	if err != nil {
		t.Fatalf("serialize close: %v", err)
	}
	closeW := httptest.NewRecorder()
	s.router.ServeHTTP(closeW, httptest.NewRequest("POST", "/api/v1/transactions", bytes.NewReader(closeBody)))
	if closeW.Code != http.StatusOK {
		t.Fatalf("close: status = %d, want 200, body=%s", closeW.Code, closeW.Body.String())
	}

	replayBody, err := openTx(1).Serialize()
	if err != nil {
		t.Fatalf("serialize replay: %v", err)
	}
	replayW := httptest.NewRecorder()
	s.router.ServeHTTP(replayW, httptest.NewRequest("POST", "/api/v1/transactions", bytes.NewReader(replayBody)))
	if replayW.Code == http.StatusOK {
		t.Errorf("expected a replayed nonce to be rejected, got 200: %s", replayW.Body.String())
	}
}

func closeTx(t *testing.T, signer *crypto.Signer, nonce int64) *transaction.SignedTransaction {
	t.Helper()
	req := &crypto.ClosePositionEIP712{
		Symbol:  testSymbol,
		MaxTick: big.NewInt(0),
		Nonce:   big.NewInt(nonce),
		Owner:   signer.Address(),
	}
	sig, err := crypto.NewEIP712Signer(crypto.DefaultDomain()).SignClosePosition(signer, req)
	if err != nil {
		t.Fatalf("sign close: %v", err)
	}
	return &transaction.SignedTransaction{
		Type: transaction.TxTypeClose,
		Close: &transaction.ClosePayload{
			Symbol:  req.Symbol,
			MaxTick: req.MaxTick.String(),
			Nonce:   req.Nonce.String(),
			Owner:   req.Owner.Hex(),
		},
		Signature: fmt.Sprintf("0x%x", sig),
	}
}

func TestHandleRegisterDelegationAndAgentSignedOpen(t *testing.T) {
	s, wallet := newTestServer(t)
	agent, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate agent key: %v", err)
	}

	delegation := &crypto.AgentDelegation{
		Wallet: wallet.Address(),
		Agent:  agent.Address(),
		Nonce:  big.NewInt(1),
		Expiry: big.NewInt(0),
	}
	delegationSig, err := crypto.NewAgentSigner(crypto.DefaultDomain()).SignDelegation(wallet, delegation)
	if err != nil {
		t.Fatalf("sign delegation: %v", err)
	}

	regBody, err := json.Marshal(DelegationRegisterRequest{
		DelegationID: "delegation-1",
		Delegation: DelegationPayload{
			Wallet: delegation.Wallet.Hex(),
			Agent:  delegation.Agent.Hex(),
			Nonce:  delegation.Nonce.String(),
			Expiry: delegation.Expiry.String(),
		},
		Signature: fmt.Sprintf("0x%x", delegationSig),
	})
	if err != nil {
		t.Fatalf("marshal delegation request: %v", err)
	}

	regW := httptest.NewRecorder()
	s.router.ServeHTTP(regW, httptest.NewRequest("POST", "/api/v1/delegations", bytes.NewReader(regBody)))
	if regW.Code != http.StatusOK {
		t.Fatalf("register delegation: status = %d, want 200, body=%s", regW.Code, regW.Body.String())
	}

	openReq := &crypto.OpenPositionEIP712{
		Symbol:          testSymbol,
		Side:            crypto.SideToUint8("long"),
		Kind:            crypto.KindToUint8("market"),
		CollateralValue: big.NewInt(1_000),
		DebtValue:       big.NewInt(1_000),
		MaxTick:         big.NewInt(0),
		Nonce:           big.NewInt(1),
		Deadline:        big.NewInt(0),
		Owner:           wallet.Address(),
	}
	agentSig, err := crypto.NewEIP712Signer(crypto.DefaultDomain()).SignOpenPosition(agent, openReq)
	if err != nil {
		t.Fatalf("sign order as agent: %v", err)
	}

	tx := &transaction.SignedTransaction{
		Type:         transaction.TxTypeOpen,
		Open:         transaction.FromEIP712OpenPosition(openReq),
		Signature:    fmt.Sprintf("0x%x", agentSig),
		AgentMode:    true,
		DelegationID: "delegation-1",
	}
	body, err := tx.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/transactions", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("agent-signed open: status = %d, want 200, body=%s", w.Code, w.Body.String())
	}

	getReq := httptest.NewRequest("GET", fmt.Sprintf("/api/v1/markets/%s/positions/%s", testSymbol, wallet.Address().Hex()), nil)
	getW := httptest.NewRecorder()
	s.router.ServeHTTP(getW, getReq)
	if getW.Code != http.StatusOK {
		t.Fatalf("expected the agent-opened position to be attributed to the wallet, got %d: %s", getW.Code, getW.Body.String())
	}
}

func TestHandleSubmitAgentOpenRejectsUnknownDelegation(t *testing.T) {
	s, wallet := newTestServer(t)
	agent, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate agent key: %v", err)
	}

	openReq := &crypto.OpenPositionEIP712{
		Symbol:          testSymbol,
		Side:            crypto.SideToUint8("long"),
		Kind:            crypto.KindToUint8("market"),
		CollateralValue: big.NewInt(1_000),
		DebtValue:       big.NewInt(1_000),
		MaxTick:         big.NewInt(0),
		Nonce:           big.NewInt(1),
		Deadline:        big.NewInt(0),
		Owner:           wallet.Address(),
	}
	agentSig, err := crypto.NewEIP712Signer(crypto.DefaultDomain()).SignOpenPosition(agent, openReq)
	if err != nil {
		t.Fatalf("sign order as agent: %v", err)
	}

	tx := &transaction.SignedTransaction{
		Type:         transaction.TxTypeOpen,
		Open:         transaction.FromEIP712OpenPosition(openReq),
		Signature:    fmt.Sprintf("0x%x", agentSig),
		AgentMode:    true,
		DelegationID: "never-registered",
	}
	body, err := tx.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/transactions", bytes.NewReader(body)))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for an order referencing an unregistered delegation", w.Code)
	}
}

func TestHandleSubmitTransactionRejectsBadSignature(t *testing.T) {
	s, signer := newTestServer(t)
	otherSigner, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	req := &crypto.OpenPositionEIP712{
		Symbol:          testSymbol,
		Side:            crypto.SideToUint8("long"),
		Kind:            crypto.KindToUint8("market"),
		CollateralValue: big.NewInt(1_000),
		DebtValue:       big.NewInt(1_000),
		MaxTick:         big.NewInt(0),
		Nonce:           big.NewInt(1),
		Deadline:        big.NewInt(0),
		Owner:           signer.Address(), // claims to be signer...
	}
	// ...but is actually signed by someone else.
	sig, err := crypto.NewEIP712Signer(crypto.DefaultDomain()).SignOpenPosition(otherSigner, req)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tx := &transaction.SignedTransaction{
		Type:      transaction.TxTypeOpen,
		Open:      transaction.FromEIP712OpenPosition(req),
		Signature: fmt.Sprintf("0x%x", sig),
	}
	body, err := tx.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	httpReq := httptest.NewRequest("POST", "/api/v1/transactions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httpReq)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for a forged signature", w.Code)
	}
}

func TestHandleSubmitTransactionRejectsMalformedBody(t *testing.T) {
	s, _ := newTestServer(t)

	httpReq := httptest.NewRequest("POST", "/api/v1/transactions", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httpReq)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a malformed transaction body", w.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestLeverageX10(t *testing.T) {
	cases := []struct {
		collateral, debt uint64
		want             uint8
	}{
		{collateral: 1000, debt: 0, want: 10},
		{collateral: 1000, debt: 9000, want: 100},
		{collateral: 0, debt: 1000, want: 255},
	}
	for _, c := range cases {
		got := leverageX10(uint256.NewInt(c.collateral), uint256.NewInt(c.debt))
		if got != c.want {
			t.Errorf("leverageX10(%d, %d) = %d, want %d", c.collateral, c.debt, got, c.want)
		}
	}
}

package transaction

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/perpmesh/engine/pkg/crypto"
)

func signedOpenTxFrom(signer *crypto.Signer, owner *crypto.Signer) (*SignedTransaction, error) {
	req := &crypto.OpenPositionEIP712{
		Symbol:          "ETH-PERP",
		Side:            crypto.SideToUint8("long"),
		Kind:            crypto.KindToUint8("market"),
		CollateralValue: big.NewInt(1_000_000),
		DebtValue:       big.NewInt(4_000_000),
		MaxTick:         big.NewInt(0),
		Nonce:           big.NewInt(1),
		Deadline:        big.NewInt(0),
		Owner:           owner.Address(),
	}
	sig, err := crypto.NewEIP712Signer(crypto.DefaultDomain()).SignOpenPosition(signer, req)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{
		Type:      TxTypeOpen,
		Open:      FromEIP712OpenPosition(req),
		Signature: fmt.Sprintf("0x%x", sig),
	}, nil
}

func TestVerifyOpenTransaction(t *testing.T) {
	owner, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tx, err := signedOpenTxFrom(owner, owner)
	if err != nil {
		t.Fatalf("build signed tx: %v", err)
	}

	v := NewVerifier(crypto.DefaultDomain())
	recovered, valid, err := v.VerifyOpenTransaction(tx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !valid {
		t.Error("expected a validly signed open transaction to verify")
	}
	if recovered != owner.Address() {
		t.Errorf("recovered owner = %s, want %s", recovered.Hex(), owner.Address().Hex())
	}
}

func TestVerifyOpenTransactionRejectsWrongSigner(t *testing.T) {
	owner, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()
	tx, err := signedOpenTxFrom(other, owner)
	if err != nil {
		t.Fatalf("build signed tx: %v", err)
	}

	v := NewVerifier(crypto.DefaultDomain())
	_, valid, err := v.VerifyOpenTransaction(tx)
	if err == nil && valid {
		t.Error("a transaction signed by someone other than its claimed owner must not verify")
	}
}

func TestVerifyOpenTransactionRejectsWrongType(t *testing.T) {
	owner, _ := crypto.GenerateKey()
	tx, err := signedOpenTxFrom(owner, owner)
	if err != nil {
		t.Fatalf("build signed tx: %v", err)
	}
	tx.Type = TxTypeClose

	v := NewVerifier(crypto.DefaultDomain())
	if _, _, err := v.VerifyOpenTransaction(tx); err == nil {
		t.Error("expected an error verifying a non-open transaction as open")
	}
}

func TestVerifyOpenTransactionRejectsBadSignatureEncoding(t *testing.T) {
	owner, _ := crypto.GenerateKey()
	tx, err := signedOpenTxFrom(owner, owner)
	if err != nil {
		t.Fatalf("build signed tx: %v", err)
	}
	tx.Signature = "not-hex"

	v := NewVerifier(crypto.DefaultDomain())
	if _, _, err := v.VerifyOpenTransaction(tx); err == nil {
		t.Error("expected an error for a non-hex signature")
	}
}

func TestVerifyCloseTransaction(t *testing.T) {
	owner, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	req := &crypto.ClosePositionEIP712{
		Symbol:  "ETH-PERP",
		MaxTick: big.NewInt(0),
		Nonce:   big.NewInt(1),
		Owner:   owner.Address(),
	}
	sig, err := crypto.NewEIP712Signer(crypto.DefaultDomain()).SignClosePosition(owner, req)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tx := &SignedTransaction{
		Type: TxTypeClose,
		Close: &ClosePayload{
			Symbol:  req.Symbol,
			MaxTick: req.MaxTick.String(),
			Nonce:   req.Nonce.String(),
			Owner:   req.Owner.Hex(),
		},
		Signature: fmt.Sprintf("0x%x", sig),
	}

	v := NewVerifier(crypto.DefaultDomain())
	recovered, valid, err := v.VerifyCloseTransaction(tx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !valid {
		t.Error("expected a validly signed close transaction to verify")
	}
	if recovered != owner.Address() {
		t.Errorf("recovered owner = %s, want %s", recovered.Hex(), owner.Address().Hex())
	}
}

func TestVerifyConvertTransaction(t *testing.T) {
	owner, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	message := fmt.Sprintf("CONVERT:%s:%s", "ETH-PERP", "1")
	sig, err := owner.SignMessage([]byte(message))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tx := &SignedTransaction{
		Type: TxTypeConvert,
		Convert: &ConvertPayload{
			Symbol: "ETH-PERP",
			Nonce:  "1",
			Owner:  owner.Address().Hex(),
		},
		Signature: fmt.Sprintf("0x%x", sig),
	}

	v := NewVerifier(crypto.DefaultDomain())
	recovered, valid, err := v.VerifyConvertTransaction(tx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !valid {
		t.Error("expected a validly signed convert transaction to verify")
	}
	if recovered != owner.Address() {
		t.Errorf("recovered owner = %s, want %s", recovered.Hex(), owner.Address().Hex())
	}
}

func TestVerifyConvertTransactionRejectsWrongNonce(t *testing.T) {
	owner, _ := crypto.GenerateKey()
	message := fmt.Sprintf("CONVERT:%s:%s", "ETH-PERP", "1")
	sig, err := owner.SignMessage([]byte(message))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tx := &SignedTransaction{
		Type: TxTypeConvert,
		Convert: &ConvertPayload{
			Symbol: "ETH-PERP",
			Nonce:  "2", // tampered
			Owner:  owner.Address().Hex(),
		},
		Signature: fmt.Sprintf("0x%x", sig),
	}

	v := NewVerifier(crypto.DefaultDomain())
	_, valid, err := v.VerifyConvertTransaction(tx)
	if err == nil && valid {
		t.Error("a convert transaction with a tampered nonce must not verify")
	}
}

func TestVerifyAgentOpenTransaction(t *testing.T) {
	wallet, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate wallet key: %v", err)
	}
	agent, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate agent key: %v", err)
	}

	agentSigner := crypto.NewAgentSigner(crypto.DefaultDomain())
	delegation := &crypto.AgentDelegation{
		Wallet: wallet.Address(),
		Agent:  agent.Address(),
		Nonce:  big.NewInt(1),
		Expiry: big.NewInt(0),
	}
	delegationSig, err := agentSigner.SignDelegation(wallet, delegation)
	if err != nil {
		t.Fatalf("sign delegation: %v", err)
	}

	tx, err := signedOpenTxFrom(agent, wallet)
	if err != nil {
		t.Fatalf("build signed tx: %v", err)
	}
	tx.AgentMode = true

	v := NewVerifier(crypto.DefaultDomain())
	recovered, valid, err := v.VerifyAgentOpenTransaction(tx, delegation, delegationSig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !valid {
		t.Error("expected a validly delegated agent open transaction to verify")
	}
	if recovered != wallet.Address() {
		t.Errorf("recovered owner = %s, want wallet %s", recovered.Hex(), wallet.Address().Hex())
	}
}

func TestVerifyAgentOpenTransactionRejectsNonAgentMode(t *testing.T) {
	wallet, _ := crypto.GenerateKey()
	agent, _ := crypto.GenerateKey()

	agentSigner := crypto.NewAgentSigner(crypto.DefaultDomain())
	delegation := &crypto.AgentDelegation{
		Wallet: wallet.Address(),
		Agent:  agent.Address(),
		Nonce:  big.NewInt(1),
		Expiry: big.NewInt(0),
	}
	delegationSig, err := agentSigner.SignDelegation(wallet, delegation)
	if err != nil {
		t.Fatalf("sign delegation: %v", err)
	}

	tx, err := signedOpenTxFrom(agent, wallet)
	if err != nil {
		t.Fatalf("build signed tx: %v", err)
	}
	// tx.AgentMode left false

	v := NewVerifier(crypto.DefaultDomain())
	if _, _, err := v.VerifyAgentOpenTransaction(tx, delegation, delegationSig); err == nil {
		t.Error("expected an error verifying an agent transaction that isn't flagged as agent mode")
	}
}

func TestRecoverSignerDispatchesByType(t *testing.T) {
	owner, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tx, err := signedOpenTxFrom(owner, owner)
	if err != nil {
		t.Fatalf("build signed tx: %v", err)
	}

	v := NewVerifier(crypto.DefaultDomain())
	recovered, err := v.RecoverSigner(tx)
	if err != nil {
		t.Fatalf("recover signer: %v", err)
	}
	if recovered != owner.Address() {
		t.Errorf("recovered = %s, want %s", recovered.Hex(), owner.Address().Hex())
	}
}

func TestRecoverSignerRejectsUnknownType(t *testing.T) {
	tx := &SignedTransaction{Type: "bogus", Signature: "0xaa"}
	v := NewVerifier(crypto.DefaultDomain())
	if _, err := v.RecoverSigner(tx); err == nil {
		t.Error("expected an error recovering a signer for an unknown transaction type")
	}
}

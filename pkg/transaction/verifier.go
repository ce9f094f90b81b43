package transaction

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/perpmesh/engine/pkg/crypto"
)

// Verifier checks a SignedTransaction's signature against its claimed
// owner, either directly or through an agent-key delegation.
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
	agentSigner  *crypto.AgentSigner
}

// NewVerifier creates a Verifier scoped to domain.
func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{
		eip712Signer: crypto.NewEIP712Signer(domain),
		agentSigner:  crypto.NewAgentSigner(domain),
	}
}

// VerifyOpenTransaction verifies a signed open-position transaction.
// Returns (owner address, valid, error).
func (v *Verifier) VerifyOpenTransaction(tx *SignedTransaction) (common.Address, bool, error) {
	if tx.Type != TxTypeOpen {
		return common.Address{}, false, fmt.Errorf("not an open transaction")
	}
	if tx.Open == nil {
		return common.Address{}, false, fmt.Errorf("missing open payload")
	}

	req, err := tx.Open.ToEIP712()
	if err != nil {
		return common.Address{}, false, fmt.Errorf("invalid open payload: %w", err)
	}

	sigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("invalid signature: %w", err)
	}

	valid, err := v.eip712Signer.VerifyOpenPositionSignature(req, sigBytes)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("signature verification failed: %w", err)
	}
	if !valid {
		return common.Address{}, false, fmt.Errorf("signature invalid")
	}

	return req.Owner, true, nil
}

// VerifyAgentOpenTransaction verifies an open-position transaction signed
// by an agent key, given the delegation that authorized it.
func (v *Verifier) VerifyAgentOpenTransaction(
	tx *SignedTransaction,
	delegation *crypto.AgentDelegation,
	delegationSignature []byte,
) (common.Address, bool, error) {
	if tx.Type != TxTypeOpen {
		return common.Address{}, false, fmt.Errorf("not an open transaction")
	}
	if !tx.AgentMode {
		return common.Address{}, false, fmt.Errorf("not in agent mode")
	}
	if tx.Open == nil {
		return common.Address{}, false, fmt.Errorf("missing open payload")
	}

	req, err := tx.Open.ToEIP712()
	if err != nil {
		return common.Address{}, false, fmt.Errorf("invalid open payload: %w", err)
	}

	agentSigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("invalid agent signature: %w", err)
	}

	valid, err := crypto.VerifyAgentOpenPosition(
		req, agentSigBytes, delegation, delegationSignature, v.eip712Signer, v.agentSigner,
	)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("agent verification failed: %w", err)
	}
	if !valid {
		return common.Address{}, false, fmt.Errorf("agent order invalid")
	}

	return delegation.Wallet, true, nil
}

// VerifyDelegationSignature reports whether signature was produced by
// delegation.Wallet over delegation, for registering an agent-key
// delegation before any agent-signed order references it.
func (v *Verifier) VerifyDelegationSignature(delegation *crypto.AgentDelegation, signature []byte) (bool, error) {
	return v.agentSigner.VerifyDelegationSignature(delegation, signature)
}

// DecodeSignature decodes a hex-encoded, 0x-prefixed-or-not 65-byte
// signature. Exported for callers like pkg/api that verify a raw
// signature outside a SignedTransaction envelope, such as the wallet
// signature over an agent-key delegation.
func DecodeSignature(sig string) ([]byte, error) {
	return decodeSignature(sig)
}

// VerifyCloseTransaction verifies a signed close-position transaction.
func (v *Verifier) VerifyCloseTransaction(tx *SignedTransaction) (common.Address, bool, error) {
	if tx.Type != TxTypeClose {
		return common.Address{}, false, fmt.Errorf("not a close transaction")
	}
	if tx.Close == nil {
		return common.Address{}, false, fmt.Errorf("missing close payload")
	}

	req, err := tx.Close.ToEIP712()
	if err != nil {
		return common.Address{}, false, fmt.Errorf("invalid close payload: %w", err)
	}

	sigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("invalid signature: %w", err)
	}

	valid, err := v.eip712Signer.VerifyClosePositionSignature(req, sigBytes)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("signature verification failed: %w", err)
	}
	if !valid {
		return common.Address{}, false, fmt.Errorf("signature invalid")
	}

	return req.Owner, true, nil
}

// VerifyConvertTransaction verifies a signed convert-position transaction.
// Conversion carries no parameters beyond the position identity, so it is
// hashed as a plain message rather than full EIP-712 typed data.
func (v *Verifier) VerifyConvertTransaction(tx *SignedTransaction) (common.Address, bool, error) {
	if tx.Type != TxTypeConvert {
		return common.Address{}, false, fmt.Errorf("not a convert transaction")
	}
	if tx.Convert == nil {
		return common.Address{}, false, fmt.Errorf("missing convert payload")
	}

	owner := common.HexToAddress(tx.Convert.Owner)

	sigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("invalid signature: %w", err)
	}

	message := fmt.Sprintf("CONVERT:%s:%s", tx.Convert.Symbol, tx.Convert.Nonce)
	hash := ethCrypto.Keccak256([]byte(message))

	if !crypto.VerifySignature(owner, hash, sigBytes) {
		return common.Address{}, false, fmt.Errorf("invalid convert signature")
	}

	return owner, true, nil
}

// decodeSignature decodes a hex-encoded signature (with or without 0x prefix).
func decodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")

	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}
	return sigBytes, nil
}

// RecoverSigner recovers the address that signed tx, dispatching on its type.
func (v *Verifier) RecoverSigner(tx *SignedTransaction) (common.Address, error) {
	switch tx.Type {
	case TxTypeOpen:
		owner, valid, err := v.VerifyOpenTransaction(tx)
		if err != nil {
			return common.Address{}, err
		}
		if !valid {
			return common.Address{}, fmt.Errorf("invalid signature")
		}
		return owner, nil

	case TxTypeClose:
		owner, valid, err := v.VerifyCloseTransaction(tx)
		if err != nil {
			return common.Address{}, err
		}
		if !valid {
			return common.Address{}, fmt.Errorf("invalid signature")
		}
		return owner, nil

	case TxTypeConvert:
		owner, valid, err := v.VerifyConvertTransaction(tx)
		if err != nil {
			return common.Address{}, err
		}
		if !valid {
			return common.Address{}, fmt.Errorf("invalid signature")
		}
		return owner, nil

	default:
		return common.Address{}, fmt.Errorf("unsupported transaction type: %s", tx.Type)
	}
}

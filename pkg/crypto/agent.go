package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// AgentDelegation grants agent the right to sign open-position
// requests on wallet's behalf until expiry, the supplemented agent-key
// delegation feature (original source's apply_signed_tx.go agent-mode
// path). Wallet signs the delegation once; the agent key then signs
// individual position requests without prompting the wallet again.
type AgentDelegation struct {
	Wallet  common.Address // the position owner delegating signing authority
	Agent   common.Address // the key authorized to sign on wallet's behalf
	Nonce   *big.Int       // replay protection for the delegation itself
	Expiry  *big.Int       // Unix seconds after which the delegation is void, 0 = no expiry
}

// AgentSigner hashes and verifies AgentDelegation typed data under the
// same EIP-712 domain as order signing.
type AgentSigner struct {
	domain EIP712Domain
}

// NewAgentSigner creates a new agent-delegation signer for domain.
func NewAgentSigner(domain EIP712Domain) *AgentSigner {
	return &AgentSigner{domain: domain}
}

// HashDelegation hashes a delegation according to EIP-712.
func (a *AgentSigner) HashDelegation(d *AgentDelegation) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes(),
			"AgentDelegation": []apitypes.Type{
				{Name: "wallet", Type: "address"},
				{Name: "agent", Type: "address"},
				{Name: "nonce", Type: "uint256"},
				{Name: "expiry", Type: "uint256"},
			},
		},
		PrimaryType: "AgentDelegation",
		Domain:      typedDataDomain(a.domain),
		Message: apitypes.TypedDataMessage{
			"wallet": d.Wallet.Hex(),
			"agent":  d.Agent.Hex(),
			"nonce":  d.Nonce.String(),
			"expiry": d.Expiry.String(),
		},
	}
	return hashTypedData(typedData)
}

// SignDelegation signs a delegation with the wallet's own key.
func (a *AgentSigner) SignDelegation(wallet *Signer, d *AgentDelegation) ([]byte, error) {
	hash, err := a.HashDelegation(d)
	if err != nil {
		return nil, fmt.Errorf("failed to hash delegation: %w", err)
	}
	return wallet.Sign(hash)
}

// VerifyDelegationSignature reports whether signature was produced by
// d.Wallet over d.
func (a *AgentSigner) VerifyDelegationSignature(d *AgentDelegation, signature []byte) (bool, error) {
	hash, err := a.HashDelegation(d)
	if err != nil {
		return false, fmt.Errorf("failed to hash delegation: %w", err)
	}
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover delegation signer: %w", err)
	}
	return recovered == d.Wallet, nil
}

// VerifyAgentOpenPosition verifies an open-position request signed by an
// agent key instead of the wallet directly: the delegation must itself be
// validly signed by the wallet, and the order signature must recover to
// the delegated agent address. It reports only whether the request
// verifies; the position owner is delegation.Wallet. Expiry (against the chain's current
// time) is the caller's responsibility, since this package has no clock.
func VerifyAgentOpenPosition(
	req *OpenPositionEIP712,
	agentSignature []byte,
	delegation *AgentDelegation,
	delegationSignature []byte,
	orderSigner *EIP712Signer,
	agentSigner *AgentSigner,
) (bool, error) {
	delegationValid, err := agentSigner.VerifyDelegationSignature(delegation, delegationSignature)
	if err != nil {
		return false, fmt.Errorf("delegation verification failed: %w", err)
	}
	if !delegationValid {
		return false, fmt.Errorf("delegation signature invalid")
	}

	agentAddr, err := orderSigner.RecoverOpenPositionSigner(req, agentSignature)
	if err != nil {
		return false, fmt.Errorf("failed to recover agent signer: %w", err)
	}
	if agentAddr != delegation.Agent {
		return false, fmt.Errorf("order signed by %s, delegation authorizes %s", agentAddr, delegation.Agent)
	}
	if req.Owner != delegation.Wallet {
		return false, fmt.Errorf("order owner %s does not match delegation wallet %s", req.Owner, delegation.Wallet)
	}

	return true, nil
}

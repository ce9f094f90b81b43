package api

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/perpmesh/engine/pkg/crypto"
)

// DelegationPayload is the wire form of crypto.AgentDelegation: addresses
// as hex strings and the big integers as decimal strings, so it
// round-trips through JSON the same way pkg/transaction's payloads do.
type DelegationPayload struct {
	Wallet string `json:"wallet"`
	Agent  string `json:"agent"`
	Nonce  string `json:"nonce"`
	Expiry string `json:"expiry"` // unix seconds, 0 = no expiry
}

func (p *DelegationPayload) toDelegation() (*crypto.AgentDelegation, error) {
	nonce, ok := new(big.Int).SetString(p.Nonce, 10)
	if !ok {
		return nil, fmt.Errorf("invalid delegation nonce: %s", p.Nonce)
	}
	expiry, ok := new(big.Int).SetString(p.Expiry, 10)
	if !ok {
		return nil, fmt.Errorf("invalid delegation expiry: %s", p.Expiry)
	}
	return &crypto.AgentDelegation{
		Wallet: common.HexToAddress(p.Wallet),
		Agent:  common.HexToAddress(p.Agent),
		Nonce:  nonce,
		Expiry: expiry,
	}, nil
}

// DelegationRegisterRequest registers an agent-key delegation under an
// opaque ID so that later agent-signed orders can reference it by
// delegation_id rather than attaching the delegation to every order.
type DelegationRegisterRequest struct {
	DelegationID string            `json:"delegation_id"`
	Delegation   DelegationPayload `json:"delegation"`
	Signature    string            `json:"signature"` // wallet's hex-encoded EIP-712 signature over the delegation
}

// storedDelegation pairs a delegation with the wallet signature that
// authorized it, mirroring the original consensus app's StoredDelegation.
type storedDelegation struct {
	delegation *crypto.AgentDelegation
	signature  []byte
}

// delegationRegistry holds agent-key delegations in memory, keyed by the
// delegation ID an agent-signed open-position order references.
type delegationRegistry struct {
	mu          sync.RWMutex
	delegations map[string]*storedDelegation
}

func newDelegationRegistry() *delegationRegistry {
	return &delegationRegistry{delegations: make(map[string]*storedDelegation)}
}

func (r *delegationRegistry) store(id string, d *crypto.AgentDelegation, sig []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delegations[id] = &storedDelegation{delegation: d, signature: sig}
}

func (r *delegationRegistry) get(id string) (*storedDelegation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.delegations[id]
	return d, ok
}

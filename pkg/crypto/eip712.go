package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data.
// This prevents replay attacks across different chains/contracts.
type EIP712Domain struct {
	Name              string         // Protocol name (e.g., "Perpmesh")
	Version           string         // Protocol version (e.g., "1")
	ChainID           *big.Int       // Chain ID (1337 for local, 1 for mainnet)
	VerifyingContract common.Address // Contract address (or zero for off-chain)
}

// OpenPositionEIP712 is an open-position request for EIP-712 signing: the
// typed data structure a wallet signs to open a market or limit position
// (spec §6's OpenPosition operation).
type OpenPositionEIP712 struct {
	Symbol          string         // Market symbol (e.g., "ETH-PERP")
	Side            uint8          // 1 = Long, 2 = Short
	Kind            uint8          // 1 = Market, 2 = Limit
	CollateralValue *big.Int       // Collateral posted, in the market's collateral asset
	DebtValue       *big.Int       // Borrowed notional
	MaxTick         *big.Int       // Limit tick (Kind==Limit) or market stop tick (Kind==Market)
	Nonce           *big.Int       // Nonce for replay protection
	Deadline        *big.Int       // Expiration timestamp (Unix seconds), 0 = no expiry
	Owner           common.Address // Position owner address
}

// ClosePositionEIP712 is a close-position request for EIP-712 signing.
type ClosePositionEIP712 struct {
	Symbol  string         // Market symbol (e.g., "ETH-PERP")
	MaxTick *big.Int       // Worst acceptable execution tick (slippage bound)
	Nonce   *big.Int       // Nonce for replay protection
	Owner   common.Address // Position owner address
}

// EIP712Signer handles EIP-712 typed data signing for position requests.
type EIP712Signer struct {
	domain EIP712Domain
}

// NewEIP712Signer creates a new EIP-712 signer with given domain.
func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// DefaultDomain returns the default EIP-712 domain for the engine.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "Perpmesh",
		Version:           "1",
		ChainID:           big.NewInt(1337), // Local dev chain
		VerifyingContract: common.Address{}, // Zero address for off-chain signing
	}
}

// typedDataDomain converts an EIP712Domain to the apitypes shape every
// typed message in this package and pkg/crypto/agent.go hashes against.
func typedDataDomain(d EIP712Domain) apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(d.ChainID),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

func (e *EIP712Signer) domainMap() apitypes.TypedDataDomain {
	return typedDataDomain(e.domain)
}

// domainTypes is the EIP712Domain type definition shared by every typed
// message this signer hashes.
func domainTypes() []apitypes.Type {
	return []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}
}

// hashTypedData computes the final EIP-712 digest: keccak256("\x19\x01" ||
// domainSeparator || typedDataHash).
func hashTypedData(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// HashOpenPosition hashes an open-position request according to EIP-712.
// Returns the digest that should be signed.
func (e *EIP712Signer) HashOpenPosition(req *OpenPositionEIP712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes(),
			"OpenPosition": []apitypes.Type{
				{Name: "symbol", Type: "string"},
				{Name: "side", Type: "uint8"},
				{Name: "kind", Type: "uint8"},
				{Name: "collateralValue", Type: "uint256"},
				{Name: "debtValue", Type: "uint256"},
				{Name: "maxTick", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
				{Name: "owner", Type: "address"},
			},
		},
		PrimaryType: "OpenPosition",
		Domain:      e.domainMap(),
		Message: apitypes.TypedDataMessage{
			"symbol":          req.Symbol,
			"side":             fmt.Sprintf("%d", req.Side),
			"kind":             fmt.Sprintf("%d", req.Kind),
			"collateralValue": req.CollateralValue.String(),
			"debtValue":       req.DebtValue.String(),
			"maxTick":         req.MaxTick.String(),
			"nonce":           req.Nonce.String(),
			"deadline":        req.Deadline.String(),
			"owner":           req.Owner.Hex(),
		},
	}
	return hashTypedData(typedData)
}

// SignOpenPosition signs an open-position request and returns the signature.
func (e *EIP712Signer) SignOpenPosition(signer *Signer, req *OpenPositionEIP712) ([]byte, error) {
	hash, err := e.HashOpenPosition(req)
	if err != nil {
		return nil, fmt.Errorf("failed to hash open-position request: %w", err)
	}
	return signer.Sign(hash)
}

// VerifyOpenPositionSignature reports whether signature was produced by
// req.Owner over req.
func (e *EIP712Signer) VerifyOpenPositionSignature(req *OpenPositionEIP712, signature []byte) (bool, error) {
	hash, err := e.HashOpenPosition(req)
	if err != nil {
		return false, fmt.Errorf("failed to hash open-position request: %w", err)
	}
	recoveredAddr, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recoveredAddr == req.Owner, nil
}

// RecoverOpenPositionSigner recovers the address that signed req.
func (e *EIP712Signer) RecoverOpenPositionSigner(req *OpenPositionEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashOpenPosition(req)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash open-position request: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// OpenPositionToJSON converts req to the JSON shape MetaMask and other
// wallets expect for eth_signTypedData_v4.
func (e *EIP712Signer) OpenPositionToJSON(req *OpenPositionEIP712) (string, error) {
	typedData := map[string]interface{}{
		"types": map[string]interface{}{
			"EIP712Domain": domainTypes(),
			"OpenPosition": []map[string]string{
				{"name": "symbol", "type": "string"},
				{"name": "side", "type": "uint8"},
				{"name": "kind", "type": "uint8"},
				{"name": "collateralValue", "type": "uint256"},
				{"name": "debtValue", "type": "uint256"},
				{"name": "maxTick", "type": "uint256"},
				{"name": "nonce", "type": "uint256"},
				{"name": "deadline", "type": "uint256"},
				{"name": "owner", "type": "address"},
			},
		},
		"primaryType": "OpenPosition",
		"domain": map[string]interface{}{
			"name":              e.domain.Name,
			"version":           e.domain.Version,
			"chainId":           e.domain.ChainID.String(),
			"verifyingContract": e.domain.VerifyingContract.Hex(),
		},
		"message": map[string]interface{}{
			"symbol":          req.Symbol,
			"side":            req.Side,
			"kind":            req.Kind,
			"collateralValue": req.CollateralValue.String(),
			"debtValue":       req.DebtValue.String(),
			"maxTick":         req.MaxTick.String(),
			"nonce":           req.Nonce.String(),
			"deadline":        req.Deadline.String(),
			"owner":           req.Owner.Hex(),
		},
	}
	jsonBytes, err := json.MarshalIndent(typedData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}

// HashClosePosition hashes a close-position request according to EIP-712.
func (e *EIP712Signer) HashClosePosition(req *ClosePositionEIP712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes(),
			"ClosePosition": []apitypes.Type{
				{Name: "symbol", Type: "string"},
				{Name: "maxTick", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "owner", Type: "address"},
			},
		},
		PrimaryType: "ClosePosition",
		Domain:      e.domainMap(),
		Message: apitypes.TypedDataMessage{
			"symbol":  req.Symbol,
			"maxTick": req.MaxTick.String(),
			"nonce":   req.Nonce.String(),
			"owner":   req.Owner.Hex(),
		},
	}
	return hashTypedData(typedData)
}

// SignClosePosition signs a close-position request and returns the signature.
func (e *EIP712Signer) SignClosePosition(signer *Signer, req *ClosePositionEIP712) ([]byte, error) {
	hash, err := e.HashClosePosition(req)
	if err != nil {
		return nil, fmt.Errorf("failed to hash close-position request: %w", err)
	}
	return signer.Sign(hash)
}

// VerifyClosePositionSignature reports whether signature was produced by
// req.Owner over req.
func (e *EIP712Signer) VerifyClosePositionSignature(req *ClosePositionEIP712, signature []byte) (bool, error) {
	hash, err := e.HashClosePosition(req)
	if err != nil {
		return false, fmt.Errorf("failed to hash close-position request: %w", err)
	}
	recoveredAddr, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recoveredAddr == req.Owner, nil
}

// Helper: convert a position-side string to its EIP-712 uint8 encoding.
func SideToUint8(side string) uint8 {
	switch side {
	case "long", "LONG":
		return 1
	case "short", "SHORT":
		return 2
	default:
		return 0
	}
}

// Helper: convert an EIP-712 uint8 side back to its string form.
func Uint8ToSide(side uint8) string {
	switch side {
	case 1:
		return "long"
	case 2:
		return "short"
	default:
		return "unknown"
	}
}

// Helper: convert a position-kind string to its EIP-712 uint8 encoding.
func KindToUint8(kind string) uint8 {
	switch kind {
	case "market", "MARKET":
		return 1
	case "limit", "LIMIT":
		return 2
	default:
		return 0
	}
}

// Helper: convert an EIP-712 uint8 kind back to its string form.
func Uint8ToKind(kind uint8) string {
	switch kind {
	case 1:
		return "market"
	case 2:
		return "limit"
	default:
		return "unknown"
	}
}

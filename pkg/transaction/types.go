// Package transaction defines the signed request envelopes clients submit
// against the engine's operations table (§6): opening a position, closing
// one, and converting a limit-backed position to market. The open and
// close payloads mirror the matching pkg/crypto EIP-712 typed-data structs
// field for field; the convert payload has no EIP-712 struct and is signed
// as a plain message. Payloads carry big-integer values as decimal strings so the
// envelope round-trips through JSON without precision loss.
package transaction

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/perpmesh/engine/pkg/crypto"
)

// TxType distinguishes which engine operation a SignedTransaction requests.
type TxType string

const (
	TxTypeOpen    TxType = "open"    // OpenPosition
	TxTypeClose   TxType = "close"   // ClosePosition
	TxTypeConvert TxType = "convert" // ConvertPosition
)

// SignedTransaction is a cryptographically signed request against one of
// the engine's position operations.
type SignedTransaction struct {
	Type      TxType          `json:"type"`
	Open      *OpenPayload    `json:"open,omitempty"`
	Close     *ClosePayload   `json:"close,omitempty"`
	Convert   *ConvertPayload `json:"convert,omitempty"`
	Signature string          `json:"signature"` // hex-encoded, 0x-prefixed

	// For agent-key orders: a wallet may delegate signing authority to an
	// agent key so it doesn't have to prompt for every request.
	AgentMode    bool   `json:"agent_mode,omitempty"`
	DelegationID string `json:"delegation_id,omitempty"`
}

// OpenPayload contains open-position data for EIP-712 signing.
type OpenPayload struct {
	Symbol          string `json:"symbol"`
	Side            uint8  `json:"side"`             // 1=Long, 2=Short
	Kind            uint8  `json:"kind"`             // 1=Market, 2=Limit
	CollateralValue string `json:"collateral_value"` // BigInt as string
	DebtValue       string `json:"debt_value"`       // BigInt as string
	MaxTick         string `json:"max_tick"`         // BigInt as string
	Nonce           string `json:"nonce"`             // BigInt as string
	Deadline        string `json:"deadline"`          // Unix timestamp (0 = no expiry)
	Owner           string `json:"owner"`             // Ethereum address (0x...)
}

// ClosePayload contains close-position data for EIP-712 signing.
type ClosePayload struct {
	Symbol  string `json:"symbol"`
	MaxTick string `json:"max_tick"` // BigInt as string, worst acceptable execution tick
	Nonce   string `json:"nonce"`
	Owner   string `json:"owner"`
}

// ConvertPayload contains convert-position data. Conversion has no
// parameters of its own beyond identifying the position, so it is simply
// hashed and signed as a plain message rather than full EIP-712 typed data.
type ConvertPayload struct {
	Symbol string `json:"symbol"`
	Nonce  string `json:"nonce"`
	Owner  string `json:"owner"`
}

func parseBigInt(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %s", field, s)
	}
	return v, nil
}

// ToEIP712 converts OpenPayload to crypto.OpenPositionEIP712 for
// signing/verification.
func (o *OpenPayload) ToEIP712() (*crypto.OpenPositionEIP712, error) {
	collateral, err := parseBigInt("collateral_value", o.CollateralValue)
	if err != nil {
		return nil, err
	}
	debt, err := parseBigInt("debt_value", o.DebtValue)
	if err != nil {
		return nil, err
	}
	maxTick, err := parseBigInt("max_tick", o.MaxTick)
	if err != nil {
		return nil, err
	}
	nonce, err := parseBigInt("nonce", o.Nonce)
	if err != nil {
		return nil, err
	}
	deadline, err := parseBigInt("deadline", o.Deadline)
	if err != nil {
		return nil, err
	}
	return &crypto.OpenPositionEIP712{
		Symbol:          o.Symbol,
		Side:            o.Side,
		Kind:            o.Kind,
		CollateralValue: collateral,
		DebtValue:       debt,
		MaxTick:         maxTick,
		Nonce:           nonce,
		Deadline:        deadline,
		Owner:           common.HexToAddress(o.Owner),
	}, nil
}

// FromEIP712OpenPosition converts crypto.OpenPositionEIP712 to OpenPayload.
func FromEIP712OpenPosition(req *crypto.OpenPositionEIP712) *OpenPayload {
	return &OpenPayload{
		Symbol:          req.Symbol,
		Side:            req.Side,
		Kind:            req.Kind,
		CollateralValue: req.CollateralValue.String(),
		DebtValue:       req.DebtValue.String(),
		MaxTick:         req.MaxTick.String(),
		Nonce:           req.Nonce.String(),
		Deadline:        req.Deadline.String(),
		Owner:           req.Owner.Hex(),
	}
}

// ToEIP712 converts ClosePayload to crypto.ClosePositionEIP712.
func (c *ClosePayload) ToEIP712() (*crypto.ClosePositionEIP712, error) {
	maxTick, err := parseBigInt("max_tick", c.MaxTick)
	if err != nil {
		return nil, err
	}
	nonce, err := parseBigInt("nonce", c.Nonce)
	if err != nil {
		return nil, err
	}
	return &crypto.ClosePositionEIP712{
		Symbol:  c.Symbol,
		MaxTick: maxTick,
		Nonce:   nonce,
		Owner:   common.HexToAddress(c.Owner),
	}, nil
}

// Serialize converts SignedTransaction to JSON bytes.
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into a SignedTransaction.
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate performs basic structural validation.
func (tx *SignedTransaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("missing transaction type")
	}
	if tx.Signature == "" {
		return fmt.Errorf("missing signature")
	}

	switch tx.Type {
	case TxTypeOpen:
		if tx.Open == nil {
			return fmt.Errorf("open type requires open payload")
		}
		if tx.Open.Symbol == "" {
			return fmt.Errorf("missing open symbol")
		}
		if tx.Open.Side == 0 {
			return fmt.Errorf("invalid open side")
		}
		if tx.Open.Kind == 0 {
			return fmt.Errorf("invalid open kind")
		}
		if tx.Open.Owner == "" {
			return fmt.Errorf("missing open owner")
		}

	case TxTypeClose:
		if tx.Close == nil {
			return fmt.Errorf("close type requires close payload")
		}
		if tx.Close.Symbol == "" {
			return fmt.Errorf("missing close symbol")
		}
		if tx.Close.Owner == "" {
			return fmt.Errorf("missing close owner")
		}

	case TxTypeConvert:
		if tx.Convert == nil {
			return fmt.Errorf("convert type requires convert payload")
		}
		if tx.Convert.Symbol == "" {
			return fmt.Errorf("missing convert symbol")
		}
		if tx.Convert.Owner == "" {
			return fmt.Errorf("missing convert owner")
		}

	default:
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}

	return nil
}

// ParseTransaction deserializes and validates a JSON-encoded transaction.
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}

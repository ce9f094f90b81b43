package api

// API response and request types for REST endpoints and WebSocket messages.

// ==============================
// REST Response Types
// ==============================

// MarketInfo represents a market's static configuration.
type MarketInfo struct {
	Symbol           string `json:"symbol"`
	PerpAsset        string `json:"perpAsset"`
	CollateralAsset  string `json:"collateralAsset"`
	Status           string `json:"status"`
	BasePrice        uint64 `json:"basePrice"`
	MaxLeveragex10   uint8  `json:"maxLeveragex10"`
	MinCollateral    uint64 `json:"minCollateral"`
	FundingInterval  string `json:"fundingInterval"` // e.g. "1h0m0s"
	FeeBps           uint32 `json:"feeBps"`
}

// StateInfo represents a market's fast-moving trading state.
type StateInfo struct {
	Symbol      string `json:"symbol"`
	CurrentTick uint64 `json:"currentTick"`
	Status      string `json:"status"`
}

// TickDetailsInfo represents the liquidity resting at one tick.
type TickDetailsInfo struct {
	Tick               uint64 `json:"tick"`
	LiveBaseLiquidity  string `json:"liveBaseLiquidity"`  // BigInt as string
	LiveQuoteLiquidity string `json:"liveQuoteLiquidity"` // BigInt as string
}

// PositionInfo represents an account's open position.
type PositionInfo struct {
	Account         string `json:"account"`
	Symbol          string `json:"symbol"`
	Side            string `json:"side"` // "long" or "short"
	Kind            string `json:"kind"` // "market" or "limit"
	EntryTick       uint64 `json:"entryTick"`
	CollateralValue string `json:"collateralValue"` // BigInt as string
	DebtValue       string `json:"debtValue"`        // BigInt as string
	InterestRate    uint64 `json:"interestRate"`
	Timestamp       string `json:"timestamp"` // RFC3339
}

// PositionPnLInfo represents an account's open position's current PnL.
type PositionPnLInfo struct {
	Account      string `json:"account"`
	Symbol       string `json:"symbol"`
	PnLBps       int64  `json:"pnlBps"` // signed; 100*tick.OnePercent (10^7) == 100% of initial notional
}

// TransactionResponse is the response from submitting a signed transaction.
type TransactionResponse struct {
	Status  string `json:"status"`  // "submitted", "rejected"
	Message string `json:"message,omitempty"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// WSSubscribeRequest is sent by a client to subscribe to channels, e.g.
// ["ticks:ETH-PERP", "positions:ETH-PERP"].
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// TickCrossedUpdate is broadcast whenever a swap crosses ticks, for
// clients watching a market's resting liquidity move.
type TickCrossedUpdate struct {
	Type        string   `json:"type"` // "tick_crossed"
	Symbol      string   `json:"symbol"`
	Ticks       []uint64 `json:"ticks"`
	CurrentTick uint64   `json:"currentTick"`
}

// PositionUpdate is broadcast whenever an account's position changes.
type PositionUpdate struct {
	Type    string `json:"type"` // "position"
	Account string `json:"account"`
	Symbol  string `json:"symbol"`
	Side    string `json:"side"`
	Open    bool   `json:"open"`
}

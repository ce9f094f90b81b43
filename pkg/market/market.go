// Package market holds per-market configuration: the perp/collateral
// asset pair, leverage and collateral bounds, the funding cadence, and
// the base-price anchor tick.Price scales against. A deployment lists
// more than one perp market, so these parameters are per-symbol rather
// than the single global constant set spec.md's distillation assumes.
package market

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// Status is a market's trading lifecycle state.
type Status string

const (
	Active   Status = "active"
	Paused   Status = "paused"
	Settling Status = "settling"
	Settled  Status = "settled"
)

// Config is one market's static and slow-moving parameters: the asset
// pair, collateral decimals, leverage/collateral bounds, the funding
// interval, taker/maker fee in basis points, and the base-price anchor.
type Config struct {
	Symbol             string        `mapstructure:"symbol" yaml:"symbol"`
	PerpAsset          string        `mapstructure:"perp_asset" yaml:"perp_asset"`
	CollateralAsset    string        `mapstructure:"collateral_asset" yaml:"collateral_asset"`
	CollateralDecimals uint8         `mapstructure:"collateral_decimals" yaml:"collateral_decimals"`
	BasePrice          uint64        `mapstructure:"base_price" yaml:"base_price"`
	MaxLeveragex10     uint8         `mapstructure:"max_leveragex10" yaml:"max_leveragex10"`
	MinCollateral      uint64        `mapstructure:"min_collateral" yaml:"min_collateral"`
	FundingInterval    time.Duration `mapstructure:"funding_interval" yaml:"funding_interval"`
	FeeBps             uint32        `mapstructure:"fee_bps" yaml:"fee_bps"`
	Status             Status        `mapstructure:"-" yaml:"-"`
}

// MinCollateralValue is MinCollateral widened to the engine's working
// integer type.
func (c *Config) MinCollateralValue() *uint256.Int {
	return uint256.NewInt(c.MinCollateral)
}

// Validate checks a loaded config's internal consistency.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("market config: symbol is required")
	}
	if c.BasePrice == 0 {
		return fmt.Errorf("market config %s: base_price must be nonzero", c.Symbol)
	}
	if c.MaxLeveragex10 == 0 {
		return fmt.Errorf("market config %s: max_leveragex10 must be nonzero", c.Symbol)
	}
	if c.FundingInterval <= 0 {
		return fmt.Errorf("market config %s: funding_interval must be positive", c.Symbol)
	}
	return nil
}

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position mirrors a broker-side position. The authoritative copy lives at
// the gateway; this local cache is resynced explicitly and never assumed
// fresh beyond its TTL.
type Position struct {
	Instrument string          `json:"instrument"`
	Quantity   decimal.Decimal `json:"quantity"`
	CostPrice  decimal.Decimal `json:"cost_price"`
	EntryTime  time.Time       `json:"entry_time"`
	Currency   string          `json:"currency"`
	Market     string          `json:"market"`
}

// MarketValue is quantity priced at the given quote.
func (p Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price)
}

// PnlPct returns the unrealized profit/loss percentage at the given price.
// A zero cost price yields zero rather than a division blowup.
func (p Position) PnlPct(price decimal.Decimal) float64 {
	if p.CostPrice.IsZero() {
		return 0
	}
	pct, _ := price.Sub(p.CostPrice).Div(p.CostPrice).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// AccountSnapshot is a whole-account view fetched from the gateway. It is
// cached replace-wholesale with a short TTL: readers always see a consistent
// snapshot, never a half-updated one.
type AccountSnapshot struct {
	CashByCurrency      map[string]decimal.Decimal `json:"cash_by_currency"`
	BuyPowerByCurrency  map[string]decimal.Decimal `json:"buy_power_by_currency"`
	NetAssetsByCurrency map[string]decimal.Decimal `json:"net_assets_by_currency"`
	Positions           []Position                 `json:"positions"`
	FetchedAt           time.Time                  `json:"fetched_at"`
}

// PositionCount is the number of open (non-zero) positions.
func (a AccountSnapshot) PositionCount() int {
	n := 0
	for _, p := range a.Positions {
		if p.Quantity.IsPositive() {
			n++
		}
	}
	return n
}

// Cash returns available cash in the given currency, zero when absent.
func (a AccountSnapshot) Cash(currency string) decimal.Decimal {
	if v, ok := a.CashByCurrency[currency]; ok {
		return v
	}
	return decimal.Zero
}

// BuyPower returns margin-aware buying power in the given currency.
func (a AccountSnapshot) BuyPower(currency string) decimal.Decimal {
	if v, ok := a.BuyPowerByCurrency[currency]; ok {
		return v
	}
	return decimal.Zero
}

// NetAssets returns total net assets in the given currency.
func (a AccountSnapshot) NetAssets(currency string) decimal.Decimal {
	if v, ok := a.NetAssetsByCurrency[currency]; ok {
		return v
	}
	return decimal.Zero
}

// Find returns the position for an instrument, or nil.
func (a AccountSnapshot) Find(instrument string) *Position {
	for i := range a.Positions {
		if a.Positions[i].Instrument == instrument {
			return &a.Positions[i]
		}
	}
	return nil
}

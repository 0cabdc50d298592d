package billing

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// picoUSDPerUSD is the fixed-point scale of BillingRule.UnitPriceUSD and
// model.Cost.USDCost: one USD is 1e12 pico-USD.
const picoUSDPerUSD = 1_000_000_000_000

// USDFromDollars converts a human-entered dollar amount (e.g. "0.002" for
// a fifth of a cent) into the pico-USD big.Int used throughout billing
// rules and the payment processor, following the teacher's
// decimal.NewFromString-then-scale conversion idiom
// (pkg/blockchain/util.go AsiToAasi).
func USDFromDollars(dollars string) (*big.Int, error) {
	d, err := decimal.NewFromString(dollars)
	if err != nil {
		return nil, err
	}
	scaled := d.Mul(decimal.NewFromInt(picoUSDPerUSD))
	return scaled.BigInt(), nil
}

// FormatUSD renders a pico-USD amount as a human-readable dollar string
// with up to 12 digits of fractional precision, the inverse of
// USDFromDollars.
func FormatUSD(picoUSD *big.Int) string {
	if picoUSD == nil {
		picoUSD = big.NewInt(0)
	}
	d := decimal.NewFromBigInt(picoUSD, 0).Div(decimal.NewFromInt(picoUSDPerUSD))
	return d.String()
}

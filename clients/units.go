package clients

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// DisplayDecimals is the precision used for balances shown to users.
const DisplayDecimals = 6

// ToBaseUnits scales a token amount to integer base units, truncating extra precision.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// FromBaseUnits scales integer base units back to a token amount.
func FromBaseUnits(v *big.Int, decimals uint8) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -int32(decimals))
}

// FormatUnits renders base units with six fractional digits, truncated.
func FormatUnits(v *big.Int, decimals uint8) string {
	return FromBaseUnits(v, decimals).Truncate(DisplayDecimals).StringFixed(DisplayDecimals)
}

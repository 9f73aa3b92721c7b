// Package pricing derives the figures shown before a purchase is confirmed.
// All inputs are optional: a nil *big.Int means the value has not been read yet.
package pricing

import (
	"math/big"

	"github.com/shopspring/decimal"

	"weather-options/internal/models"
)

// BasisPoints is the denominator of fee rates
const BasisPoints = 10000

// MaxPayout returns notional × spread
func MaxPayout(notionalWei, spreadMM *big.Int) *big.Int {
	if notionalWei == nil || spreadMM == nil {
		return nil
	}
	return new(big.Int).Mul(notionalWei, spreadMM)
}

// ProtocolFee returns floor(premium × feeBps / 10000), or zero while either is unknown
func ProtocolFee(premium, feeBps *big.Int) *big.Int {
	if premium == nil || feeBps == nil {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(premium, feeBps)
	return fee.Quo(fee, big.NewInt(BasisPoints))
}

// TotalCost returns premium + fee, or zero while the premium is unknown
func TotalCost(premium, fee *big.Int) *big.Int {
	if premium == nil {
		return new(big.Int)
	}
	if fee == nil {
		return new(big.Int).Set(premium)
	}
	return new(big.Int).Add(premium, fee)
}

// IsPremiumValid is true unless both values are known and premium < floor
func IsPremiumValid(premium, floor *big.Int) bool {
	if premium == nil || floor == nil {
		return true
	}
	return premium.Cmp(floor) >= 0
}

// HasEnoughLiquidity is false unless both values are known and maxPayout ≤ available
func HasEnoughLiquidity(maxPayout, available *big.Int) bool {
	if maxPayout == nil || available == nil {
		return false
	}
	return maxPayout.Cmp(available) <= 0
}

// Inputs are the values the figures are computed from
type Inputs struct {
	NotionalWei    *big.Int
	SpreadMM       *big.Int
	Premium        *big.Int
	ProtocolFeeBps *big.Int
	MinPremium     *big.Int
	Available      *big.Int
}

// Figures are recomputed on every read and never cached across input changes
type Figures struct {
	MaxPayout          *big.Int `json:"max_payout"`
	ProtocolFee        *big.Int `json:"protocol_fee"`
	TotalCost          *big.Int `json:"total_cost"`
	IsPremiumValid     bool     `json:"is_premium_valid"`
	HasEnoughLiquidity bool     `json:"has_enough_liquidity"`
}

// Derive computes every figure from in
func Derive(in Inputs) Figures {
	maxPayout := MaxPayout(in.NotionalWei, in.SpreadMM)
	fee := ProtocolFee(in.Premium, in.ProtocolFeeBps)

	return Figures{
		MaxPayout:          maxPayout,
		ProtocolFee:        fee,
		TotalCost:          TotalCost(in.Premium, fee),
		IsPremiumValid:     IsPremiumValid(in.Premium, in.MinPremium),
		HasEnoughLiquidity: HasEnoughLiquidity(maxPayout, in.Available),
	}
}

// FromForm fills the form-derived inputs. An unparsable notional leaves it unknown.
func FromForm(form models.FormParameters) Inputs {
	in := Inputs{SpreadMM: big.NewInt(form.SpreadMM)}
	if wei, err := form.NotionalWei(); err == nil {
		in.NotionalWei = wei
	}
	return in
}

// FormatEther renders a wei amount as a decimal ether string
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return ""
	}
	return decimal.NewFromBigInt(wei, -models.WeiDecimals).String()
}

// ParseEther parses a decimal ether string into wei
func ParseEther(s string) (*big.Int, error) {
	return models.ParseAmount("amount", s)
}

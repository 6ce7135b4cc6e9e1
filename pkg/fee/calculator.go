package fee

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// BaseFeeUSD is charged on every sweep
	BaseFeeUSD = 0.05
	// GasBufferMultiplier pads the gas estimate so the protocol fee is never underfunded
	GasBufferMultiplier = 1.20
	// DefaultGasCostUSD is used when no live gas estimate is available
	DefaultGasCostUSD = 0.05

	// PriceDecimals is the fixed-point scale of USD prices passed to the sweep contract
	PriceDecimals = 8
	// NativeDecimals is the scale of native token base units (wei)
	NativeDecimals = 18
)

// Breakdown is the fee split for one sweep, in USD. It is derived, never persisted.
type Breakdown struct {
	AmountUSD     float64
	GasCostUSD    float64
	BaseFee       float64
	GasBuffer     float64
	TotalFee      float64
	UserReceives  float64
	FeePercentage float64
}

// Covered reports whether the swept amount pays for the fee
func (b Breakdown) Covered() bool {
	return b.UserReceives > 0
}

// Calculate computes the fee breakdown for a USD amount and a gas cost estimate.
// amountUSD must be positive; callers guard this. No rounding is applied.
func Calculate(amountUSD, gasCostUSD float64) Breakdown {
	// The conversion rounds the product so it is not fused into the subtractions below
	gasBuffer := float64(gasCostUSD * GasBufferMultiplier)
	totalFee := BaseFeeUSD + gasBuffer

	return Breakdown{
		AmountUSD:     amountUSD,
		GasCostUSD:    gasCostUSD,
		BaseFee:       BaseFeeUSD,
		GasBuffer:     gasBuffer,
		TotalFee:      totalFee,
		UserReceives:  amountUSD - BaseFeeUSD - gasBuffer,
		FeePercentage: totalFee / amountUSD * 100,
	}
}

// FormatEthPrice converts a USD price to the 8-decimal fixed-point integer the contract expects.
// Rounds half-up.
func FormatEthPrice(priceUSD float64) *big.Int {
	return decimal.NewFromFloat(priceUSD).Shift(PriceDecimals).Round(0).BigInt()
}

// FormatGasCost converts a USD gas cost into native token base units at the given price.
// Rounds half-up so the fee is never underfunded.
func FormatGasCost(gasCostUSD, priceUSD float64) (*big.Int, error) {
	if priceUSD <= 0 {
		return nil, fmt.Errorf("native price must be greater than 0, got %v", priceUSD)
	}
	if gasCostUSD < 0 {
		return nil, fmt.Errorf("gas cost must not be negative, got %v", gasCostUSD)
	}

	wei := decimal.NewFromFloat(gasCostUSD).
		Shift(NativeDecimals).
		DivRound(decimal.NewFromFloat(priceUSD), 0)

	return wei.BigInt(), nil
}

// WeiToNative converts base units to a floating-point native amount for display and USD math
func WeiToNative(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(wei, -NativeDecimals).Float64()
	return f
}

// FormatNative renders base units as a decimal string without trailing zeros
func FormatNative(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -NativeDecimals).String()
}

// WeiToUSD values base units at the given USD price
func WeiToUSD(wei *big.Int, priceUSD float64) float64 {
	if wei == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(wei, -NativeDecimals).Mul(decimal.NewFromFloat(priceUSD)).Float64()
	return f
}

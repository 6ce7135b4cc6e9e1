package types

import (
	"math/big"
	"time"
)

// NativeTokenAddress is the sentinel the bridging service uses for a chain's native asset
const NativeTokenAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// QuotePurpose selects which request shape is sent to the bridging service
type QuotePurpose string

const (
	QuotePreview   QuotePurpose = "preview"   // Cost preview, amount in base units (wei)
	QuoteExecution QuotePurpose = "execution" // Final route with calldata, amount in decimal units
)

// SweepRequest represents a user's sweep command
type SweepRequest struct {
	SourceChain string
	DestChain   string
}

// QuoteRequest describes one quote lookup
type QuoteRequest struct {
	Purpose            QuotePurpose
	UserAddress        string
	SourceChainID      uint64
	DestinationChainID uint64
	Amount             *big.Int // Base units of the native asset
}

// Quote is a route returned by the bridging service for a single request tuple
type Quote struct {
	Purpose            QuotePurpose
	SourceChainID      uint64
	DestinationChainID uint64
	InputAmount        *big.Int
	UserAddress        string

	QuoteID         string
	OutputAmount    *big.Int // Estimated amount received on the destination chain, base units
	OutputValueUSD  float64
	GasFeeUSD       float64 // Route gas estimate reported by the provider, 0 when absent
	EstimatedTime   time.Duration
	TransactionData string // Opaque bridging calldata (0x-prefixed hex)
	FetchedAt       time.Time
	ExpiresAt       time.Time // Zero when the provider gave no validity window
}

// Matches reports whether the quote was produced for the given request tuple
func (q *Quote) Matches(req QuoteRequest) bool {
	if q == nil || req.Amount == nil || q.InputAmount == nil {
		return false
	}
	return q.SourceChainID == req.SourceChainID &&
		q.DestinationChainID == req.DestinationChainID &&
		q.UserAddress == req.UserAddress &&
		q.InputAmount.Cmp(req.Amount) == 0
}

// Expired reports whether the quote's validity window has passed
func (q *Quote) Expired(now time.Time) bool {
	return !q.ExpiresAt.IsZero() && now.After(q.ExpiresAt)
}

// ContractCall describes a contract method invocation independent of its ABI encoding
type ContractCall struct {
	Method string
	Args   []interface{}
}

// SubmitRequest is everything the wallet needs to send a payable contract call
type SubmitRequest struct {
	ChainID  uint64
	Contract string
	Call     ContractCall
	Value    *big.Int
}

// TxHandle identifies a submitted transaction
type TxHandle struct {
	ChainID     uint64
	Hash        string
	From        string
	To          string
	Value       *big.Int
	Nonce       uint64
	SubmittedAt time.Time
}

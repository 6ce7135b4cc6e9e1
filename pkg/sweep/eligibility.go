package sweep

import (
	"math/big"

	"zerodust/pkg/types"
)

// Reasons a sweep cannot run, in the order they are checked
const (
	ReasonWalletDisconnected = "connect a wallet to sweep"
	ReasonNoSource           = "select a source chain"
	ReasonNoDestination      = "select a destination chain"
	ReasonSameChain          = "source and destination chains must differ"
	ReasonNoBalance          = "no balance to sweep on the source chain"
	ReasonNoQuote            = "no route available for this chain pair"
)

// Input is everything the eligibility decision depends on. A zero chain ID means unset.
type Input struct {
	SourceChainID      uint64
	DestinationChainID uint64
	SourceAmount       *big.Int
	Quote              *types.Quote
	WalletConnected    bool
	SourceDeployed     bool
}

// Decision is the outcome of Evaluate
type Decision struct {
	CanSweep bool
	Reason   string // Empty when CanSweep is true
	// Executable additionally requires the sweep contract on the source chain.
	// It gates submission only; previews stay available on undeployed chains.
	Executable bool
}

// Evaluate decides whether a sweep may be confirmed
func Evaluate(in Input) Decision {
	reason := ""
	switch {
	case !in.WalletConnected:
		reason = ReasonWalletDisconnected
	case in.SourceChainID == 0:
		reason = ReasonNoSource
	case in.DestinationChainID == 0:
		reason = ReasonNoDestination
	case in.SourceChainID == in.DestinationChainID:
		reason = ReasonSameChain
	case in.SourceAmount == nil || in.SourceAmount.Sign() <= 0:
		reason = ReasonNoBalance
	case in.Quote == nil:
		reason = ReasonNoQuote
	}

	if reason != "" {
		return Decision{Reason: reason}
	}
	return Decision{CanSweep: true, Executable: in.SourceDeployed}
}

// CanSweep reports whether every precondition except deployment holds
func CanSweep(in Input) bool {
	return Evaluate(in).CanSweep
}

package sweep

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"zerodust/pkg/types"
)

func validInput() Input {
	return Input{
		SourceChainID:      11155111,
		DestinationChainID: 84532,
		SourceAmount:       big.NewInt(10_000_000_000_000_000),
		Quote:              &types.Quote{QuoteID: "q"},
		WalletConnected:    true,
		SourceDeployed:     true,
	}
}

func TestEvaluateAllPreconditions(t *testing.T) {
	d := Evaluate(validInput())
	assert.True(t, d.CanSweep)
	assert.True(t, d.Executable)
	assert.Empty(t, d.Reason)
}

func TestEvaluateFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Input)
		reason string
	}{
		{"wallet", func(in *Input) { in.WalletConnected = false }, ReasonWalletDisconnected},
		{"no source", func(in *Input) { in.SourceChainID = 0 }, ReasonNoSource},
		{"no destination", func(in *Input) { in.DestinationChainID = 0 }, ReasonNoDestination},
		{"same chain", func(in *Input) { in.DestinationChainID = in.SourceChainID }, ReasonSameChain},
		{"nil amount", func(in *Input) { in.SourceAmount = nil }, ReasonNoBalance},
		{"zero amount", func(in *Input) { in.SourceAmount = big.NewInt(0) }, ReasonNoBalance},
		{"no quote", func(in *Input) { in.Quote = nil }, ReasonNoQuote},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)

			d := Evaluate(in)
			assert.False(t, d.CanSweep)
			assert.False(t, d.Executable)
			assert.Equal(t, tc.reason, d.Reason)
			assert.False(t, CanSweep(in))
		})
	}
}

func TestSameChainNeverSweepable(t *testing.T) {
	for _, id := range []uint64{1, 56, 11155111, 84532} {
		in := validInput()
		in.SourceChainID = id
		in.DestinationChainID = id
		assert.False(t, CanSweep(in), "chain %d", id)
	}
}

func TestDeploymentDoesNotGateCanSweep(t *testing.T) {
	in := validInput()
	in.SourceDeployed = false

	d := Evaluate(in)
	assert.True(t, d.CanSweep)
	assert.False(t, d.Executable)
}

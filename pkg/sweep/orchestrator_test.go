package sweep

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerodust/pkg/chains"
	"zerodust/pkg/history"
	"zerodust/pkg/metrics"
	"zerodust/pkg/sweeperr"
	"zerodust/pkg/types"
	"zerodust/pkg/wallet"
)

const (
	sepolia     uint64 = 11155111
	baseSepolia uint64 = 84532
	arbSepolia  uint64 = 421614
	fantom      uint64 = 250

	testAddress = "0x1111111111111111111111111111111111111111"
)

var oneHundredthEth = big.NewInt(10_000_000_000_000_000)

type fakePrices map[string]float64

func (p fakePrices) Price(symbol string) float64 { return p[symbol] }

type fakeWallet struct {
	mu          sync.Mutex
	connected   bool
	balances    map[uint64]*big.Int
	balanceErr  error
	submitErr   error
	submits     []types.SubmitRequest
	balanceHits int
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		connected: true,
		balances: map[uint64]*big.Int{
			sepolia: oneHundredthEth,
			fantom:  oneHundredthEth,
		},
	}
}

func (w *fakeWallet) Address() string   { return testAddress }
func (w *fakeWallet) IsConnected() bool { return w.connected }

func (w *fakeWallet) GetBalance(ctx context.Context, address string, chainID uint64) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balanceHits++
	if w.balanceErr != nil {
		return nil, w.balanceErr
	}
	if b, ok := w.balances[chainID]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (w *fakeWallet) SubmitTransaction(ctx context.Context, req types.SubmitRequest) (*types.TxHandle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.submits = append(w.submits, req)
	if w.submitErr != nil {
		return nil, w.submitErr
	}
	return &types.TxHandle{
		ChainID: req.ChainID,
		Hash:    fmt.Sprintf("0x%064x", len(w.submits)),
		From:    testAddress,
		To:      req.Contract,
		Value:   req.Value,
	}, nil
}

func (w *fakeWallet) submitCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.submits)
}

// fakeQuoter answers from a function so tests can delay or fail specific routes
type fakeQuoter struct {
	mu       sync.Mutex
	requests []types.QuoteRequest
	answer   func(ctx context.Context, req types.QuoteRequest) (*types.Quote, error)
}

func (q *fakeQuoter) GetQuote(ctx context.Context, req types.QuoteRequest) (*types.Quote, error) {
	q.mu.Lock()
	q.requests = append(q.requests, req)
	answer := q.answer
	q.mu.Unlock()

	if answer != nil {
		return answer(ctx, req)
	}
	return quoteFor(req), nil
}

func (q *fakeQuoter) count(purpose types.QuotePurpose) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, r := range q.requests {
		if r.Purpose == purpose {
			n++
		}
	}
	return n
}

func quoteFor(req types.QuoteRequest) *types.Quote {
	return &types.Quote{
		Purpose:            req.Purpose,
		SourceChainID:      req.SourceChainID,
		DestinationChainID: req.DestinationChainID,
		InputAmount:        new(big.Int).Set(req.Amount),
		UserAddress:        req.UserAddress,
		QuoteID:            fmt.Sprintf("%s-%d", req.Purpose, req.DestinationChainID),
		TransactionData:    "0xdeadbeef",
		FetchedAt:          time.Now(),
	}
}

type memRecorder struct {
	mu      sync.Mutex
	records []*history.Record
}

func (r *memRecorder) Append(rec *history.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

type fixedGas struct{ wei *big.Int }

func (g fixedGas) GasCostWei(ctx context.Context, chainID uint64) (*big.Int, error) {
	return g.wei, nil
}

type harness struct {
	orch     *Orchestrator
	wallet   *fakeWallet
	quoter   *fakeQuoter
	recorder *memRecorder
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	logger, _ := test.NewNullLogger()
	h := &harness{
		wallet:   newFakeWallet(),
		quoter:   &fakeQuoter{},
		recorder: &memRecorder{},
	}
	opts = append([]Option{WithLogger(logger), WithRecorder(h.recorder)}, opts...)
	h.orch = New(Deps{
		Registry: chains.Default(),
		Prices:   fakePrices{"ETH": 3500, "FTM": 0.30},
		Quoter:   h.quoter,
		Wallet:   h.wallet,
	}, opts...)
	t.Cleanup(h.orch.Close)
	return h
}

func TestEndToEndScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.orch.SelectSource(ctx, sepolia))

	v := h.orch.Snapshot()
	assert.Equal(t, StateSourceChosen, v.State)
	assert.Equal(t, "10000000000000000", v.Balance.String())
	require.NotNil(t, v.Fee)
	assert.InDelta(t, 35.0, v.Fee.AmountUSD, 1e-9)
	assert.InDelta(t, 0.05, v.Fee.BaseFee, 1e-9)
	assert.InDelta(t, 0.06, v.Fee.GasBuffer, 1e-9)
	assert.InDelta(t, 0.11, v.Fee.TotalFee, 1e-9)
	assert.InDelta(t, 34.89, v.Fee.UserReceives, 1e-9)
	assert.InDelta(t, 0.314, v.Fee.FeePercentage, 1e-3)
	assert.False(t, v.Decision.CanSweep)
	assert.Equal(t, 0, h.quoter.count(types.QuotePreview))

	require.NoError(t, h.orch.SelectDestination(ctx, baseSepolia))
	h.orch.Settle()

	v = h.orch.Snapshot()
	assert.Equal(t, StateRouteReady, v.State)
	require.NotNil(t, v.Quote)
	assert.Equal(t, baseSepolia, v.Quote.DestinationChainID)
	assert.True(t, v.Decision.CanSweep)
	assert.True(t, v.Decision.Executable)

	handle, err := h.orch.Confirm(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, h.orch.Snapshot().State)
	assert.Equal(t, 1, h.quoter.count(types.QuoteExecution))

	require.Len(t, h.wallet.submits, 1)
	sub := h.wallet.submits[0]
	assert.Equal(t, sepolia, sub.ChainID)
	assert.Equal(t, chains.SweeperContractAddress, sub.Contract)
	assert.Equal(t, "10000000000000000", sub.Value.String())
	assert.Equal(t, wallet.MethodSweepAndBridge, sub.Call.Method)
	require.Len(t, sub.Call.Args, 4)
	assert.Equal(t, "84532", sub.Call.Args[0].(*big.Int).String())
	assert.Equal(t, "14285714285714", sub.Call.Args[1].(*big.Int).String())
	assert.Equal(t, "350000000000", sub.Call.Args[2].(*big.Int).String())
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, sub.Call.Args[3])

	require.Len(t, h.recorder.records, 1)
	rec := h.recorder.records[0]
	assert.Equal(t, history.StatusSubmitted, rec.Status)
	assert.Equal(t, handle.Hash, rec.TxHash)
	assert.Equal(t, "0.01", rec.Amount)
	assert.InDelta(t, 34.89, rec.UserReceivesUSD, 1e-9)

	_, err = h.orch.Confirm(ctx)
	assert.Equal(t, sweeperr.KindValidation, sweeperr.KindOf(err))
}

func TestExecutionQuoteIsFreshNotPreview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.quoter.answer = func(ctx context.Context, req types.QuoteRequest) (*types.Quote, error) {
		q := quoteFor(req)
		if req.Purpose == types.QuotePreview {
			q.TransactionData = "0x01"
		} else {
			q.TransactionData = "0x02"
		}
		return q, nil
	}

	require.NoError(t, h.orch.SelectSource(ctx, sepolia))
	require.NoError(t, h.orch.SelectDestination(ctx, baseSepolia))
	h.orch.Settle()

	_, err := h.orch.Confirm(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, h.wallet.submits[0].Call.Args[3])
}

func TestStaleQuoteDiscarded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	releaseBase := make(chan struct{})
	h.quoter.answer = func(ctx context.Context, req types.QuoteRequest) (*types.Quote, error) {
		if req.DestinationChainID == baseSepolia {
			<-releaseBase
		}
		return quoteFor(req), nil
	}

	staleBefore := testutil.ToFloat64(metrics.StaleQuotesDiscarded)

	require.NoError(t, h.orch.SelectSource(ctx, sepolia))
	require.NoError(t, h.orch.SelectDestination(ctx, baseSepolia))
	require.NoError(t, h.orch.SelectDestination(ctx, arbSepolia))

	require.Eventually(t, func() bool {
		q := h.orch.Snapshot().Quote
		return q != nil && q.DestinationChainID == arbSepolia
	}, 2*time.Second, 5*time.Millisecond)

	// The superseded route resolves last
	close(releaseBase)
	h.orch.Settle()

	v := h.orch.Snapshot()
	require.NotNil(t, v.Quote)
	assert.Equal(t, arbSepolia, v.Quote.DestinationChainID)
	assert.Equal(t, arbSepolia, v.Destination.ID)
	assert.False(t, v.QuoteLoading)
	assert.Equal(t, staleBefore+1, testutil.ToFloat64(metrics.StaleQuotesDiscarded))
}

func TestUnusablePreviewAnswerSettles(t *testing.T) {
	tests := []struct {
		name   string
		answer func(req types.QuoteRequest) *types.Quote
	}{
		{"empty answer", func(req types.QuoteRequest) *types.Quote { return nil }},
		{"different route", func(req types.QuoteRequest) *types.Quote {
			q := quoteFor(req)
			q.DestinationChainID = arbSepolia
			return q
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			h.quoter.answer = func(ctx context.Context, req types.QuoteRequest) (*types.Quote, error) {
				return tt.answer(req), nil
			}
			staleBefore := testutil.ToFloat64(metrics.StaleQuotesDiscarded)

			require.NoError(t, h.orch.SelectSource(ctx, sepolia))
			require.NoError(t, h.orch.SelectDestination(ctx, baseSepolia))
			h.orch.Settle()

			v := h.orch.Snapshot()
			assert.Equal(t, StateRouteReady, v.State)
			assert.False(t, v.QuoteLoading)
			assert.Nil(t, v.Quote)
			require.Error(t, v.QuoteErr)
			assert.Equal(t, sweeperr.KindProvider, sweeperr.KindOf(v.QuoteErr))
			assert.Equal(t, sweeperr.StepPreviewQuote, sweeperr.StepOf(v.QuoteErr))
			assert.False(t, v.Decision.CanSweep)
			assert.Equal(t, staleBefore, testutil.ToFloat64(metrics.StaleQuotesDiscarded))
		})
	}
}

func TestExpiredPreviewQuoteBlocksConfirm(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	expiresAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h.quoter.answer = func(ctx context.Context, req types.QuoteRequest) (*types.Quote, error) {
		q := quoteFor(req)
		q.ExpiresAt = expiresAt
		return q, nil
	}

	now := expiresAt.Add(-time.Minute)
	h.orch.now = func() time.Time { return now }

	require.NoError(t, h.orch.SelectSource(ctx, sepolia))
	require.NoError(t, h.orch.SelectDestination(ctx, baseSepolia))
	h.orch.Settle()

	v := h.orch.Snapshot()
	require.NotNil(t, v.Quote)
	assert.True(t, v.Decision.CanSweep)

	now = expiresAt.Add(time.Second)

	v = h.orch.Snapshot()
	assert.False(t, v.Decision.CanSweep)
	assert.Equal(t, ReasonNoQuote, v.Decision.Reason)

	_, err := h.orch.Confirm(ctx)
	require.Error(t, err)
	assert.Equal(t, sweeperr.KindValidation, sweeperr.KindOf(err))
	assert.Equal(t, 0, h.quoter.count(types.QuoteExecution))
	assert.Equal(t, 0, h.wallet.submitCount())
}

func TestSelfSweepRefused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.orch.SelectSource(ctx, sepolia))
	require.NoError(t, h.orch.SelectDestination(ctx, baseSepolia))
	h.orch.Settle()
	require.NotNil(t, h.orch.Snapshot().Quote)

	err := h.orch.SelectDestination(ctx, sepolia)
	assert.Equal(t, sweeperr.KindValidation, sweeperr.KindOf(err))
	h.orch.Settle()

	v := h.orch.Snapshot()
	assert.Nil(t, v.Destination)
	assert.Nil(t, v.Quote)
	assert.False(t, v.Decision.CanSweep)
	assert.Equal(t, StateSourceChosen, v.State)

	_, err = h.orch.Confirm(ctx)
	assert.Equal(t, sweeperr.KindValidation, sweeperr.KindOf(err))
	assert.Equal(t, 0, h.wallet.submitCount())
}

func TestSelectingDestinationAsSourceClearsDestination(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.orch.SelectSource(ctx, sepolia))
	require.NoError(t, h.orch.SelectDestination(ctx, fantom))
	require.NoError(t, h.orch.SelectSource(ctx, fantom))
	h.orch.Settle()

	v := h.orch.Snapshot()
	assert.Equal(t, fantom, v.Source.ID)
	assert.Nil(t, v.Destination)
	assert.Nil(t, v.Quote)
}

func TestUndeployedSourceRefusedBeforeWalletInteraction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.orch.SelectSource(ctx, fantom))
	require.NoError(t, h.orch.SelectDestination(ctx, baseSepolia))
	h.orch.Settle()

	v := h.orch.Snapshot()
	require.NotNil(t, v.Quote, "previews stay available on undeployed chains")
	assert.True(t, v.Decision.CanSweep)
	assert.False(t, v.Decision.Executable)

	balanceReads := h.wallet.balanceHits
	_, err := h.orch.Confirm(ctx)
	require.Error(t, err)
	assert.Equal(t, sweeperr.KindDeploymentGap, sweeperr.KindOf(err))
	assert.Contains(t, err.Error(), "not available on Fantom")

	assert.Equal(t, 0, h.wallet.submitCount())
	assert.Equal(t, balanceReads, h.wallet.balanceHits)
	assert.Equal(t, 0, h.quoter.count(types.QuoteExecution))
	assert.Empty(t, h.recorder.records)
	assert.Equal(t, StateRouteReady, h.orch.Snapshot().State)
}

func TestNoQuoteWithoutBalanceOrWallet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.orch.SelectSource(ctx, arbSepolia)) // zero balance
	require.NoError(t, h.orch.SelectDestination(ctx, baseSepolia))
	h.orch.Settle()
	assert.Equal(t, 0, h.quoter.count(types.QuotePreview))
	assert.Equal(t, ReasonNoBalance, h.orch.Snapshot().Decision.Reason)

	h.wallet.connected = false
	require.NoError(t, h.orch.SelectSource(ctx, sepolia))
	require.NoError(t, h.orch.SelectDestination(ctx, baseSepolia))
	h.orch.Settle()
	assert.Equal(t, 0, h.quoter.count(types.QuotePreview))
	assert.Equal(t, ReasonWalletDisconnected, h.orch.Snapshot().Decision.Reason)
}

func TestFinalQuoteFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.quoter.answer = func(ctx context.Context, req types.QuoteRequest) (*types.Quote, error) {
		if req.Purpose == types.QuoteExecution {
			return nil, sweeperr.Network(sweeperr.StepFinalQuote, errors.New("connection reset"))
		}
		return quoteFor(req), nil
	}

	require.NoError(t, h.orch.SelectSource(ctx, sepolia))
	require.NoError(t, h.orch.SelectDestination(ctx, baseSepolia))
	h.orch.Settle()

	_, err := h.orch.Confirm(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to obtain final route")
	assert.Equal(t, sweeperr.StepFinalQuote, sweeperr.StepOf(err))
	assert.True(t, sweeperr.IsRetryable(err))
	assert.Equal(t, 0, h.wallet.submitCount())

	v := h.orch.Snapshot()
	assert.Equal(t, StateFailed, v.State)
	assert.Equal(t, err, v.Err)

	require.Len(t, h.recorder.records, 1)
	assert.Equal(t, history.StatusFailed, h.recorder.records[0].Status)
	assert.Equal(t, sweeperr.StepFinalQuote, h.recorder.records[0].Step)
}

func TestSubmissionFailureIsRetryable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.orch.SelectSource(ctx, sepolia))
	require.NoError(t, h.orch.SelectDestination(ctx, baseSepolia))
	h.orch.Settle()

	h.wallet.submitErr = errors.New("execution reverted: insufficient paymaster balance")
	_, err := h.orch.Confirm(ctx)
	require.Error(t, err)
	assert.Equal(t, sweeperr.KindSubmission, sweeperr.KindOf(err))
	assert.Contains(t, err.Error(), "insufficient paymaster balance")

	v := h.orch.Snapshot()
	assert.Equal(t, StateFailed, v.State)
	assert.NotNil(t, v.Destination, "selection survives a failure")

	h.wallet.submitErr = nil
	handle, err := h.orch.Confirm(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, handle.Hash)
	assert.Equal(t, StateCompleted, h.orch.Snapshot().State)
	assert.Equal(t, 2, h.quoter.count(types.QuoteExecution))
}

func TestFeeShortfallRefused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// 0.0000001 ETH at $3500 is $0.00035
	h.wallet.balances[sepolia] = big.NewInt(100_000_000_000)

	require.NoError(t, h.orch.SelectSource(ctx, sepolia))
	require.NoError(t, h.orch.SelectDestination(ctx, baseSepolia))
	h.orch.Settle()

	v := h.orch.Snapshot()
	require.NotNil(t, v.Fee)
	assert.False(t, v.Fee.Covered())
	assert.True(t, v.Decision.CanSweep)

	_, err := h.orch.Confirm(ctx)
	assert.Equal(t, sweeperr.KindValidation, sweeperr.KindOf(err))
	assert.Contains(t, err.Error(), "does not cover")
	assert.Equal(t, 0, h.wallet.submitCount())
}

func TestBalanceFailureIsNetworkError(t *testing.T) {
	h := newHarness(t)
	h.wallet.balanceErr = errors.New("dial tcp: i/o timeout")

	err := h.orch.SelectSource(context.Background(), sepolia)
	require.Error(t, err)
	assert.Equal(t, sweeperr.KindNetwork, sweeperr.KindOf(err))
	assert.Equal(t, sweeperr.StepBalance, sweeperr.StepOf(err))
	assert.Equal(t, StateSourceChosen, h.orch.Snapshot().State)
}

func TestGasOracleFeedsFee(t *testing.T) {
	// 0.00002 ETH at $3500 is $0.07
	h := newHarness(t, WithGasOracle(fixedGas{wei: big.NewInt(20_000_000_000_000)}))

	require.NoError(t, h.orch.SelectSource(context.Background(), sepolia))

	v := h.orch.Snapshot()
	assert.InDelta(t, 0.07, v.GasCostUSD, 1e-9)
	require.NotNil(t, v.Fee)
	assert.InDelta(t, 0.05+0.07*1.2, v.Fee.TotalFee, 1e-9)
}

func TestUnknownChainAndOrdering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.orch.SelectSource(ctx, 999999)
	assert.Equal(t, sweeperr.KindValidation, sweeperr.KindOf(err))

	err = h.orch.SelectDestination(ctx, baseSepolia)
	assert.Equal(t, sweeperr.KindValidation, sweeperr.KindOf(err))
	assert.Equal(t, StateIdle, h.orch.Snapshot().State)
}

func TestResetReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.orch.SelectSource(ctx, sepolia))
	require.NoError(t, h.orch.SelectDestination(ctx, baseSepolia))
	h.orch.Reset()
	h.orch.Settle()

	v := h.orch.Snapshot()
	assert.Equal(t, StateIdle, v.State)
	assert.Nil(t, v.Source)
	assert.Nil(t, v.Quote)
	assert.Nil(t, v.Fee)
}

func TestCloseCancelsPreviewQuotes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	started := make(chan struct{})
	h.quoter.answer = func(ctx context.Context, req types.QuoteRequest) (*types.Quote, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	require.NoError(t, h.orch.SelectSource(ctx, sepolia))
	require.NoError(t, h.orch.SelectDestination(ctx, baseSepolia))
	<-started

	h.orch.Close()

	v := h.orch.Snapshot()
	assert.Nil(t, v.Quote)
	assert.False(t, v.QuoteLoading)
}

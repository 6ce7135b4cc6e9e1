package sweep

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"zerodust/pkg/chains"
	"zerodust/pkg/fee"
	"zerodust/pkg/history"
	"zerodust/pkg/metrics"
	"zerodust/pkg/sweeperr"
	"zerodust/pkg/types"
	"zerodust/pkg/wallet"
)

// State of a sweep workflow
type State string

const (
	StateIdle         State = "idle"          // No chain chosen
	StateSourceChosen State = "source_chosen" // Source chosen, balance known or loading
	StateRouteReady   State = "route_ready"   // Destination chosen, preview quote resolved, loading or failed
	StateSubmitting   State = "submitting"    // Final quote and on-chain call in flight
	StateCompleted    State = "completed"     // Transaction accepted
	StateFailed       State = "failed"        // Final quote or submission failed; retry keeps the selection
)

// Registry resolves chain metadata
type Registry interface {
	Get(id uint64) (chains.Chain, bool)
}

// Prices supplies the current USD price of a native symbol
type Prices interface {
	Price(symbol string) float64
}

// Quoter obtains routes from the bridging service
type Quoter interface {
	GetQuote(ctx context.Context, req types.QuoteRequest) (*types.Quote, error)
}

// Wallet is the account collaborator: identity, balances and submission
type Wallet interface {
	Address() string
	IsConnected() bool
	GetBalance(ctx context.Context, address string, chainID uint64) (*big.Int, error)
	SubmitTransaction(ctx context.Context, req types.SubmitRequest) (*types.TxHandle, error)
}

// GasOracle estimates the native cost of a sweep transaction
type GasOracle interface {
	GasCostWei(ctx context.Context, chainID uint64) (*big.Int, error)
}

// Recorder persists confirmed attempts
type Recorder interface {
	Append(rec *history.Record) error
}

// Deps are the required collaborators
type Deps struct {
	Registry Registry
	Prices   Prices
	Quoter   Quoter
	Wallet   Wallet
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithGasOracle enables live gas estimates; without it the fallback gas cost is used
func WithGasOracle(g GasOracle) Option {
	return func(o *Orchestrator) { o.gas = g }
}

// WithRecorder stores every confirmed attempt
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithFallbackGasCost sets the USD gas cost used when no estimate is available
func WithFallbackGasCost(usd float64) Option {
	return func(o *Orchestrator) {
		if usd >= 0 {
			o.fallbackGasUSD = usd
		}
	}
}

func WithLogger(logger *logrus.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// View is a consistent copy of the orchestrator state
type View struct {
	State          State
	Source         *chains.Chain
	Destination    *chains.Chain
	Address        string
	Balance        *big.Int
	PriceUSD       float64
	AmountUSD      float64
	GasCostUSD     float64
	Fee            *fee.Breakdown // Nil until a positive USD amount is known
	Quote          *types.Quote
	QuoteLoading   bool
	QuoteErr       error
	Decision       Decision
	SourceDeployed bool
	LastTx         *types.TxHandle
	Err            error // Failure of the last confirm
}

// Orchestrator owns one sweep session: selection, balance, preview quote and submission.
// All methods are safe for concurrent use.
type Orchestrator struct {
	deps           Deps
	gas            GasOracle
	recorder       Recorder
	fallbackGasUSD float64
	logger         *logrus.Logger
	now            func() time.Time

	// Preview quotes run under ctx; Close cancels it
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	mu           sync.Mutex
	state        State
	source       *chains.Chain
	dest         *chains.Chain
	balance      *big.Int
	gasCostUSD   float64
	quote        *types.Quote
	quoteErr     error
	quoteLoading bool
	generation   uint64
	lastTx       *types.TxHandle
	lastErr      error
	closed       bool
}

// New creates an orchestrator in the Idle state
func New(deps Deps, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		deps:           deps,
		fallbackGasUSD: fee.DefaultGasCostUSD,
		logger:         logrus.StandardLogger(),
		now:            time.Now,
		ctx:            ctx,
		cancel:         cancel,
		state:          StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.gasCostUSD = o.fallbackGasUSD
	return o
}

func (o *Orchestrator) lookup(id uint64) (chains.Chain, error) {
	c, ok := o.deps.Registry.Get(id)
	if !ok {
		return chains.Chain{}, sweeperr.Validation(sweeperr.StepEligibility, fmt.Sprintf("chain %d is not supported", id))
	}
	return c, nil
}

func errSubmitting() error {
	return sweeperr.Validation(sweeperr.StepEligibility, "a sweep is being submitted; wait for it to finish")
}

// SelectSource chooses the chain to sweep from and reads its balance.
// A destination equal to the new source is cleared.
func (o *Orchestrator) SelectSource(ctx context.Context, chainID uint64) error {
	c, err := o.lookup(chainID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if o.state == StateSubmitting {
		o.mu.Unlock()
		return errSubmitting()
	}
	o.source = &c
	if o.dest != nil && o.dest.ID == c.ID {
		o.dest = nil
	}
	o.balance = nil
	o.gasCostUSD = o.fallbackGasUSD
	o.lastErr = nil
	o.state = o.selectionStateLocked()
	o.requoteLocked()
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{"chain": c.Name, "chain_id": c.ID}).Debug("Source selected")

	return o.RefreshBalance(ctx)
}

// SelectDestination chooses the chain to sweep to and requests a preview quote.
// Choosing the source chain is refused and leaves the destination unset.
func (o *Orchestrator) SelectDestination(ctx context.Context, chainID uint64) error {
	c, err := o.lookup(chainID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateSubmitting {
		return errSubmitting()
	}
	if o.source == nil {
		return sweeperr.Validation(sweeperr.StepEligibility, ReasonNoSource)
	}

	o.lastErr = nil
	if c.ID == o.source.ID {
		o.dest = nil
		o.state = o.selectionStateLocked()
		o.requoteLocked()
		return sweeperr.Validation(sweeperr.StepEligibility, ReasonSameChain)
	}

	o.dest = &c
	o.state = o.selectionStateLocked()
	o.requoteLocked()

	o.logger.WithFields(logrus.Fields{"chain": c.Name, "chain_id": c.ID}).Debug("Destination selected")
	return nil
}

// RefreshBalance re-reads the source balance and gas estimate. A changed balance
// invalidates the preview quote.
func (o *Orchestrator) RefreshBalance(ctx context.Context) error {
	o.mu.Lock()
	if o.source == nil {
		o.mu.Unlock()
		return sweeperr.Validation(sweeperr.StepBalance, ReasonNoSource)
	}
	if o.state == StateSubmitting {
		o.mu.Unlock()
		return errSubmitting()
	}
	source := *o.source
	o.mu.Unlock()

	address := o.deps.Wallet.Address()
	if address == "" {
		return sweeperr.Validation(sweeperr.StepBalance, ReasonWalletDisconnected)
	}

	balance, err := o.deps.Wallet.GetBalance(ctx, address, source.ID)
	if err != nil {
		return sweeperr.WithStep(err, sweeperr.StepBalance, "failed to read balance")
	}

	gasCostUSD := o.estimateGasUSD(ctx, source)

	o.mu.Lock()
	defer o.mu.Unlock()

	// Selection moved on while the balance was loading
	if o.source == nil || o.source.ID != source.ID {
		return nil
	}

	changed := o.balance == nil || o.balance.Cmp(balance) != 0
	o.balance = balance
	o.gasCostUSD = gasCostUSD
	if o.state == StateCompleted || o.state == StateFailed {
		o.state = o.selectionStateLocked()
	}
	if changed {
		o.requoteLocked()
	}

	o.logger.WithFields(logrus.Fields{
		"chain_id": source.ID,
		"balance":  fee.FormatNative(balance),
		"gas_usd":  gasCostUSD,
	}).Debug("Balance refreshed")
	return nil
}

// estimateGasUSD converts the gas oracle estimate to USD, falling back to the configured cost
func (o *Orchestrator) estimateGasUSD(ctx context.Context, source chains.Chain) float64 {
	if o.gas == nil {
		return o.fallbackGasUSD
	}

	price := o.deps.Prices.Price(source.Symbol)
	if price <= 0 {
		return o.fallbackGasUSD
	}

	wei, err := o.gas.GasCostWei(ctx, source.ID)
	if err != nil || wei == nil || wei.Sign() <= 0 {
		o.logger.WithError(err).WithField("chain_id", source.ID).Debug("Gas estimate unavailable, using fallback")
		return o.fallbackGasUSD
	}
	return fee.WeiToUSD(wei, price)
}

func (o *Orchestrator) selectionStateLocked() State {
	switch {
	case o.source == nil:
		return StateIdle
	case o.dest == nil:
		return StateSourceChosen
	default:
		return StateRouteReady
	}
}

// previewRequestLocked returns the preview quote request for the current selection,
// or false when a quote must not be requested
func (o *Orchestrator) previewRequestLocked() (types.QuoteRequest, bool) {
	if o.source == nil || o.dest == nil || o.source.ID == o.dest.ID {
		return types.QuoteRequest{}, false
	}
	if o.balance == nil || o.balance.Sign() <= 0 {
		return types.QuoteRequest{}, false
	}
	if !o.deps.Wallet.IsConnected() || o.deps.Wallet.Address() == "" {
		return types.QuoteRequest{}, false
	}
	return types.QuoteRequest{
		Purpose:            types.QuotePreview,
		UserAddress:        o.deps.Wallet.Address(),
		SourceChainID:      o.source.ID,
		DestinationChainID: o.dest.ID,
		Amount:             new(big.Int).Set(o.balance),
	}, true
}

// requoteLocked drops the current quote, bumps the generation and, when the
// selection allows it, starts a preview quote for the new generation
func (o *Orchestrator) requoteLocked() {
	o.generation++
	o.quote = nil
	o.quoteErr = nil
	o.quoteLoading = false

	if o.closed {
		return
	}
	req, ok := o.previewRequestLocked()
	if !ok {
		return
	}

	o.quoteLoading = true
	o.inflight.Add(1)
	go o.fetchPreview(o.generation, req)
}

func (o *Orchestrator) fetchPreview(gen uint64, req types.QuoteRequest) {
	defer o.inflight.Done()

	quote, err := o.deps.Quoter.GetQuote(o.ctx, req)

	o.mu.Lock()
	defer o.mu.Unlock()

	if gen != o.generation {
		metrics.StaleQuotesDiscarded.Inc()
		o.logger.WithFields(logrus.Fields{
			"generation": gen,
			"current":    o.generation,
			"dest":       req.DestinationChainID,
		}).Debug("Discarding stale preview quote")
		return
	}

	o.quoteLoading = false
	if err == nil && !quote.Matches(req) {
		err = sweeperr.Provider(sweeperr.StepPreviewQuote, "bridging service returned a quote for a different route")
	}
	if err != nil {
		o.quoteErr = err
		o.logger.WithError(err).Debug("Preview quote unavailable")
		return
	}
	o.quote = quote
}

// Settle blocks until every in-flight preview quote has resolved
func (o *Orchestrator) Settle() {
	o.inflight.Wait()
}

// inputLocked builds the eligibility input; an expired preview quote counts as no quote
func (o *Orchestrator) inputLocked() Input {
	in := Input{
		SourceAmount:    o.balance,
		WalletConnected: o.deps.Wallet.IsConnected(),
	}
	if o.quote != nil && !o.quote.Expired(o.now()) {
		in.Quote = o.quote
	}
	if o.source != nil {
		in.SourceChainID = o.source.ID
		in.SourceDeployed = o.source.IsDeployed()
	}
	if o.dest != nil {
		in.DestinationChainID = o.dest.ID
	}
	return in
}

// breakdownLocked returns the price, USD amount and fee split for the current balance
func (o *Orchestrator) breakdownLocked() (float64, float64, *fee.Breakdown) {
	if o.source == nil || o.balance == nil {
		return 0, 0, nil
	}
	price := o.deps.Prices.Price(o.source.Symbol)
	amountUSD := fee.WeiToUSD(o.balance, price)
	if amountUSD <= 0 {
		return price, amountUSD, nil
	}
	b := fee.Calculate(amountUSD, o.gasCostUSD)
	return price, amountUSD, &b
}

// Snapshot returns a copy of the current state
func (o *Orchestrator) Snapshot() View {
	o.mu.Lock()
	defer o.mu.Unlock()

	v := View{
		State:        o.state,
		Address:      o.deps.Wallet.Address(),
		GasCostUSD:   o.gasCostUSD,
		Quote:        o.quote,
		QuoteLoading: o.quoteLoading,
		QuoteErr:     o.quoteErr,
		Decision:     Evaluate(o.inputLocked()),
		LastTx:       o.lastTx,
		Err:          o.lastErr,
	}
	if o.source != nil {
		c := *o.source
		v.Source = &c
		v.SourceDeployed = c.IsDeployed()
	}
	if o.dest != nil {
		c := *o.dest
		v.Destination = &c
	}
	if o.balance != nil {
		v.Balance = new(big.Int).Set(o.balance)
	}
	v.PriceUSD, v.AmountUSD, v.Fee = o.breakdownLocked()
	return v
}

// attempt is the selection frozen at confirmation
type attempt struct {
	source    chains.Chain
	dest      chains.Chain
	address   string
	balance   *big.Int
	priceUSD  float64
	gasUSD    float64
	breakdown fee.Breakdown
}

// Confirm runs the final quote and submits the sweep. Only the source chain's
// deployment is checked; it is checked before any wallet interaction.
func (o *Orchestrator) Confirm(ctx context.Context) (*types.TxHandle, error) {
	a, err := o.beginSubmit()
	if err != nil {
		metrics.Sweeps.WithLabelValues("refused").Inc()
		return nil, err
	}

	log := o.logger.WithFields(logrus.Fields{
		"source": a.source.ID,
		"dest":   a.dest.ID,
		"amount": fee.FormatNative(a.balance),
	})
	log.Info("Submitting sweep")

	quote, err := o.deps.Quoter.GetQuote(ctx, types.QuoteRequest{
		Purpose:            types.QuoteExecution,
		UserAddress:        a.address,
		SourceChainID:      a.source.ID,
		DestinationChainID: a.dest.ID,
		Amount:             new(big.Int).Set(a.balance),
	})
	if err != nil {
		return nil, o.fail(a, sweeperr.WithStep(err, sweeperr.StepFinalQuote, "failed to obtain final route"))
	}
	if quote == nil || quote.TransactionData == "" {
		return nil, o.fail(a, sweeperr.Provider(sweeperr.StepFinalQuote, "failed to obtain final route: no transaction data"))
	}

	calldata, err := hexutil.Decode(quote.TransactionData)
	if err != nil {
		return nil, o.fail(a, sweeperr.Provider(sweeperr.StepFinalQuote, fmt.Sprintf("failed to obtain final route: invalid calldata: %v", err)))
	}

	gasCost, err := fee.FormatGasCost(a.gasUSD, a.priceUSD)
	if err != nil {
		return nil, o.fail(a, sweeperr.Validation(sweeperr.StepPrices, err.Error()))
	}

	handle, err := o.deps.Wallet.SubmitTransaction(ctx, types.SubmitRequest{
		ChainID:  a.source.ID,
		Contract: a.source.ContractAddress,
		Call: types.ContractCall{
			Method: wallet.MethodSweepAndBridge,
			Args: []interface{}{
				new(big.Int).SetUint64(a.dest.ID),
				gasCost,
				fee.FormatEthPrice(a.priceUSD),
				calldata,
			},
		},
		Value: new(big.Int).Set(a.balance),
	})
	if err != nil {
		if sweeperr.KindOf(err) == "" {
			err = sweeperr.Submission(err)
		}
		return nil, o.fail(a, err)
	}

	o.mu.Lock()
	o.state = StateCompleted
	o.lastTx = handle
	o.lastErr = nil
	o.mu.Unlock()

	metrics.Sweeps.WithLabelValues("submitted").Inc()
	log.WithField("tx", handle.Hash).Info("Sweep submitted")
	o.record(a, history.StatusSubmitted, handle.Hash, nil)

	return handle, nil
}

// beginSubmit checks every gate and moves to Submitting
func (o *Orchestrator) beginSubmit() (attempt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateSubmitting:
		return attempt{}, errSubmitting()
	case StateCompleted:
		return attempt{}, sweeperr.Validation(sweeperr.StepEligibility, "sweep already submitted; refresh the balance before sweeping again")
	}

	decision := Evaluate(o.inputLocked())
	if !decision.CanSweep {
		return attempt{}, sweeperr.Validation(sweeperr.StepEligibility, decision.Reason)
	}
	if !decision.Executable {
		return attempt{}, sweeperr.DeploymentGap(o.source.Name)
	}

	price, amountUSD, breakdown := o.breakdownLocked()
	if price <= 0 || breakdown == nil {
		return attempt{}, sweeperr.Validation(sweeperr.StepPrices, fmt.Sprintf("no USD price available for %s", o.source.Symbol))
	}
	if !breakdown.Covered() {
		return attempt{}, sweeperr.Validation(sweeperr.StepEligibility,
			fmt.Sprintf("balance worth $%.4f does not cover the $%.4f fee", amountUSD, breakdown.TotalFee))
	}

	o.state = StateSubmitting
	o.lastErr = nil

	return attempt{
		source:    *o.source,
		dest:      *o.dest,
		address:   o.deps.Wallet.Address(),
		balance:   new(big.Int).Set(o.balance),
		priceUSD:  price,
		gasUSD:    o.gasCostUSD,
		breakdown: *breakdown,
	}, nil
}

func (o *Orchestrator) fail(a attempt, err error) error {
	o.mu.Lock()
	o.state = StateFailed
	o.lastErr = err
	o.mu.Unlock()

	metrics.Sweeps.WithLabelValues("failed").Inc()
	o.logger.WithError(err).WithField("step", sweeperr.StepOf(err)).Warn("Sweep failed")
	o.record(a, history.StatusFailed, "", err)
	return err
}

func (o *Orchestrator) record(a attempt, status history.Status, txHash string, err error) {
	if o.recorder == nil {
		return
	}

	rec := &history.Record{
		SourceChainID:      a.source.ID,
		SourceChain:        a.source.Name,
		DestinationChainID: a.dest.ID,
		DestinationChain:   a.dest.Name,
		Address:            a.address,
		Amount:             fee.FormatNative(a.balance),
		Symbol:             a.source.Symbol,
		AmountUSD:          a.breakdown.AmountUSD,
		TotalFeeUSD:        a.breakdown.TotalFee,
		UserReceivesUSD:    a.breakdown.UserReceives,
		Status:             status,
		TxHash:             txHash,
	}
	if err != nil {
		rec.Step = sweeperr.StepOf(err)
		rec.Error = err.Error()
	}

	if recErr := o.recorder.Append(rec); recErr != nil {
		o.logger.WithError(recErr).Warn("Failed to record sweep history")
	}
}

// Reset clears the selection and returns to Idle. Late preview quotes are discarded.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateSubmitting {
		return
	}
	o.source = nil
	o.dest = nil
	o.balance = nil
	o.gasCostUSD = o.fallbackGasUSD
	o.lastTx = nil
	o.lastErr = nil
	o.state = StateIdle
	o.requoteLocked()
}

// Close cancels in-flight preview quotes and waits for them to return.
// No new preview quotes are started afterwards.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.generation++
	o.quoteLoading = false
	o.mu.Unlock()

	o.cancel()
	o.inflight.Wait()
}

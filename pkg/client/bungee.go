package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"zerodust/pkg/fee"
	"zerodust/pkg/metrics"
	"zerodust/pkg/sweeperr"
	"zerodust/pkg/types"
)

const (
	quotePath           = "/api/v1/bungee/quote"
	defaultQuoteTimeout = 15 * time.Second
)

// BungeeClient requests cross-chain routes for native balances from the Bungee quoting service
type BungeeClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
	now        func() time.Time
}

// Option configures a BungeeClient
type Option func(*BungeeClient)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(b *BungeeClient) { b.httpClient = c }
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(b *BungeeClient) {
		if d > 0 {
			b.httpClient.Timeout = d
		}
	}
}

// NewBungeeClient creates a quote client. A missing endpoint or API key is a configuration error.
func NewBungeeClient(endpoint, apiKey string, logger *logrus.Logger, opts ...Option) (*BungeeClient, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, sweeperr.Configuration("bridging service endpoint is not configured. Set ZERODUST_BUNGEE_ENDPOINT or bungee_endpoint in .zerodust.yaml")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, sweeperr.Configuration("bridging service API key is not configured. Set ZERODUST_BUNGEE_API_KEY or bungee_api_key in .zerodust.yaml")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, sweeperr.Configuration(fmt.Sprintf("invalid bridging service endpoint: %s", endpoint))
	}

	c := &BungeeClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultQuoteTimeout},
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// bungeeResponse is the envelope of every quote response
type bungeeResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Message string          `json:"message"`
}

type bungeeResult struct {
	QuoteID string `json:"quoteId"`
	Output  *struct {
		Amount     string  `json:"amount"`
		ValueInUSD float64 `json:"valueInUsd"`
	} `json:"output"`
	GasFee *struct {
		FeeInUSD float64 `json:"feeInUsd"`
	} `json:"gasFee"`
	EstimatedTime   int64  `json:"estimatedTime"` // Seconds
	TransactionData string `json:"transactionData"`
	ExpiresAt       int64  `json:"expiresAt"` // Unix seconds
}

func stepFor(purpose types.QuotePurpose) string {
	if purpose == types.QuoteExecution {
		return sweeperr.StepFinalQuote
	}
	return sweeperr.StepPreviewQuote
}

// validate rejects requests that can never produce a route, before any network call
func validate(req types.QuoteRequest) error {
	step := stepFor(req.Purpose)

	switch {
	case req.Purpose != types.QuotePreview && req.Purpose != types.QuoteExecution:
		return sweeperr.Validation(step, fmt.Sprintf("unknown quote purpose '%s'", req.Purpose))
	case !common.IsHexAddress(req.UserAddress):
		return sweeperr.Validation(step, "a valid wallet address is required")
	case req.SourceChainID == 0 || req.DestinationChainID == 0:
		return sweeperr.Validation(step, "source and destination chains are required")
	case req.SourceChainID == req.DestinationChainID:
		return sweeperr.Validation(step, "source and destination chains must differ")
	case req.Amount == nil || req.Amount.Sign() <= 0:
		return sweeperr.Validation(step, "amount must be greater than 0")
	}
	return nil
}

// queryFor builds the query string for the request purpose. Previews are keyed by
// originChainId with a wei amount; execution quotes by sourceChainId with a decimal amount.
func queryFor(req types.QuoteRequest) url.Values {
	params := url.Values{}
	params.Set("userAddress", req.UserAddress)
	params.Set("destinationChainId", strconv.FormatUint(req.DestinationChainID, 10))
	params.Set("inputToken", types.NativeTokenAddress)
	params.Set("outputToken", types.NativeTokenAddress)
	params.Set("receiverAddress", req.UserAddress)

	if req.Purpose == types.QuoteExecution {
		params.Set("sourceChainId", strconv.FormatUint(req.SourceChainID, 10))
		params.Set("amount", fee.FormatNative(req.Amount))
	} else {
		params.Set("originChainId", strconv.FormatUint(req.SourceChainID, 10))
		params.Set("inputAmount", req.Amount.String())
	}
	return params
}

// GetQuote requests a route for the given tuple. It never caches: every call reaches the service.
// Failures are returned as *sweeperr.Error: Validation when inputs are incomplete,
// Network on transport failure, Provider when the service declines.
func (c *BungeeClient) GetQuote(ctx context.Context, req types.QuoteRequest) (*types.Quote, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	step := stepFor(req.Purpose)
	started := time.Now()
	outcome := "error"
	defer func() { metrics.ObserveQuote(string(req.Purpose), outcome, started) }()

	log := c.logger.WithFields(logrus.Fields{
		"purpose": req.Purpose,
		"source":  req.SourceChainID,
		"dest":    req.DestinationChainID,
		"amount":  req.Amount.String(),
	})

	reqURL := fmt.Sprintf("%s%s?%s", c.endpoint, quotePath, queryFor(req).Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, sweeperr.Network(step, err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.WithError(err).Debug("Quote request failed")
		return nil, sweeperr.Network(step, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, sweeperr.Network(step, err)
	}

	var envelope bungeeResponse
	decodeErr := json.Unmarshal(body, &envelope)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome = "provider_error"
		msg := envelope.Message
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		log.WithField("status", resp.StatusCode).Debug("Quote rejected")
		return nil, sweeperr.Provider(step, fmt.Sprintf("bridging service error (status %d): %s", resp.StatusCode, msg))
	}

	if decodeErr != nil {
		outcome = "provider_error"
		return nil, sweeperr.Provider(step, "bridging service returned a malformed response")
	}

	if !envelope.Success {
		outcome = "provider_error"
		msg := envelope.Message
		if msg == "" {
			msg = "Unknown error"
		}
		log.WithField("message", msg).Debug("Quote declined")
		return nil, sweeperr.Provider(step, fmt.Sprintf("bridging quote error: %s", msg))
	}

	quote, err := c.parseQuote(req, envelope.Result)
	if err != nil {
		outcome = "provider_error"
		return nil, err
	}

	outcome = "ok"
	log.WithField("quote_id", quote.QuoteID).Debug("Quote received")
	return quote, nil
}

func (c *BungeeClient) parseQuote(req types.QuoteRequest, raw json.RawMessage) (*types.Quote, error) {
	step := stepFor(req.Purpose)

	if len(raw) == 0 || string(raw) == "null" {
		return nil, sweeperr.Provider(step, "bridging service returned no route")
	}

	var result bungeeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, sweeperr.Provider(step, "bridging service returned a malformed route")
	}

	if req.Purpose == types.QuoteExecution && result.TransactionData == "" {
		return nil, sweeperr.Provider(step, "failed to get bridging transaction data")
	}

	now := c.now()
	quote := &types.Quote{
		Purpose:            req.Purpose,
		SourceChainID:      req.SourceChainID,
		DestinationChainID: req.DestinationChainID,
		InputAmount:        new(big.Int).Set(req.Amount),
		UserAddress:        req.UserAddress,
		QuoteID:            result.QuoteID,
		EstimatedTime:      time.Duration(result.EstimatedTime) * time.Second,
		TransactionData:    result.TransactionData,
		FetchedAt:          now,
	}

	if result.Output != nil {
		quote.OutputValueUSD = result.Output.ValueInUSD
		if result.Output.Amount != "" {
			out, ok := new(big.Int).SetString(result.Output.Amount, 10)
			if !ok {
				return nil, sweeperr.Provider(step, fmt.Sprintf("invalid output amount '%s'", result.Output.Amount))
			}
			quote.OutputAmount = out
		}
	}
	if result.GasFee != nil {
		quote.GasFeeUSD = result.GasFee.FeeInUSD
	}
	if result.ExpiresAt > 0 {
		quote.ExpiresAt = time.Unix(result.ExpiresAt, 0)
	}

	return quote, nil
}

package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"zerodust/pkg/sweeperr"
	"zerodust/pkg/types"
)

// DefaultSweepGasLimit is used when gas estimation fails and for fee previews
const DefaultSweepGasLimit uint64 = 300000

// Backend is the subset of an Ethereum RPC client the wallet needs.
// *ethclient.Client and the simulated backend client both satisfy it.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// DialFunc opens a backend for an RPC URL
type DialFunc func(ctx context.Context, rpcURL string) (Backend, error)

func dialEthclient(ctx context.Context, rpcURL string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// EVMWallet reads balances and submits sweep transactions on EVM chains.
// Backends are dialed lazily, one per chain, and reused.
type EVMWallet struct {
	privateKey *ecdsa.PrivateKey // nil for read-only wallets
	address    common.Address
	rpcURLs    map[uint64]string
	gasLimit   uint64
	dial       DialFunc
	logger     *logrus.Logger

	mu       sync.Mutex
	backends map[uint64]Backend
}

// Option configures an EVMWallet
type Option func(*EVMWallet)

// WithBackend pins the backend for a chain, bypassing dialing
func WithBackend(chainID uint64, b Backend) Option {
	return func(w *EVMWallet) { w.backends[chainID] = b }
}

// WithGasLimit sets the gas limit used for fee previews and as the estimation fallback
func WithGasLimit(limit uint64) Option {
	return func(w *EVMWallet) {
		if limit > 0 {
			w.gasLimit = limit
		}
	}
}

// WithDialer replaces how RPC URLs are dialed
func WithDialer(dial DialFunc) Option {
	return func(w *EVMWallet) { w.dial = dial }
}

func newWallet(rpcURLs map[uint64]string, logger *logrus.Logger, opts []Option) *EVMWallet {
	w := &EVMWallet{
		rpcURLs:  rpcURLs,
		gasLimit: DefaultSweepGasLimit,
		dial:     dialEthclient,
		logger:   logger,
		backends: make(map[uint64]Backend),
	}
	if w.rpcURLs == nil {
		w.rpcURLs = map[uint64]string{}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NewEVMWallet creates a signing wallet from a hex private key
func NewEVMWallet(privateKeyHex string, rpcURLs map[uint64]string, logger *logrus.Logger, opts ...Option) (*EVMWallet, error) {
	if strings.TrimSpace(privateKeyHex) == "" {
		return nil, sweeperr.Configuration("private key is not configured. Set ZERODUST_PRIVATE_KEY or private_key in .zerodust.yaml")
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, sweeperr.Configuration(fmt.Sprintf("invalid private key: %v", err))
	}

	w := newWallet(rpcURLs, logger, opts)
	w.privateKey = privateKey
	w.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	return w, nil
}

// NewReadOnlyWallet creates a wallet that can read balances and receipts for an address
// but never sign. IsConnected reports false.
func NewReadOnlyWallet(address string, rpcURLs map[uint64]string, logger *logrus.Logger, opts ...Option) (*EVMWallet, error) {
	w := newWallet(rpcURLs, logger, opts)
	if address != "" {
		if !common.IsHexAddress(address) {
			return nil, fmt.Errorf("invalid address: %s", address)
		}
		w.address = common.HexToAddress(address)
	}
	return w, nil
}

// Address returns the checksummed wallet address
func (w *EVMWallet) Address() string {
	if w.address == (common.Address{}) {
		return ""
	}
	return w.address.Hex()
}

// IsConnected reports whether the wallet can sign transactions
func (w *EVMWallet) IsConnected() bool {
	return w.privateKey != nil
}

// HasRPC reports whether a chain can be reached
func (w *EVMWallet) HasRPC(chainID uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, pinned := w.backends[chainID]
	return pinned || w.rpcURLs[chainID] != ""
}

func (w *EVMWallet) backend(ctx context.Context, chainID uint64) (Backend, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if b, ok := w.backends[chainID]; ok {
		return b, nil
	}

	rpcURL := w.rpcURLs[chainID]
	if rpcURL == "" {
		return nil, sweeperr.Configuration(fmt.Sprintf("no RPC URL configured for chain %d. Set ZERODUST_RPC_%d", chainID, chainID))
	}

	b, err := w.dial(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to RPC endpoint for chain %d", chainID)
	}
	w.backends[chainID] = b
	w.logger.WithField("chain_id", chainID).Debug("Connected to RPC endpoint")
	return b, nil
}

// GetBalance returns the native balance of address on the chain, in base units
func (w *EVMWallet) GetBalance(ctx context.Context, address string, chainID uint64) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address: %s", address)
	}

	b, err := w.backend(ctx, chainID)
	if err != nil {
		return nil, err
	}

	balance, err := b.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get balance")
	}
	return balance, nil
}

// fees returns the EIP-1559 tip and fee cap for the next block
func fees(ctx context.Context, b Backend) (tip, feeCap *big.Int, err error) {
	header, err := b.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get latest header")
	}

	tip, err = b.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get gas tip")
	}

	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}

	// Cap at twice the current base fee so the tx survives a few full blocks
	feeCap = new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)
	return tip, feeCap, nil
}

// GasCostWei estimates what a sweep costs on the chain: gas limit x (base fee + tip)
func (w *EVMWallet) GasCostWei(ctx context.Context, chainID uint64) (*big.Int, error) {
	b, err := w.backend(ctx, chainID)
	if err != nil {
		return nil, err
	}

	header, err := b.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest header")
	}
	tip, err := b.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get gas tip")
	}

	price := new(big.Int).Set(tip)
	if header.BaseFee != nil {
		price.Add(price, header.BaseFee)
	}
	return price.Mul(price, new(big.Int).SetUint64(w.gasLimit)), nil
}

// SubmitTransaction signs and sends a payable contract call. Any failure is a Submission error
// carrying the node's message.
func (w *EVMWallet) SubmitTransaction(ctx context.Context, req types.SubmitRequest) (*types.TxHandle, error) {
	if w.privateKey == nil {
		return nil, sweeperr.Configuration("wallet is read-only; a private key is required to submit transactions")
	}
	if !common.IsHexAddress(req.Contract) {
		return nil, sweeperr.Submission(fmt.Errorf("invalid contract address: %s", req.Contract))
	}

	b, err := w.backend(ctx, req.ChainID)
	if err != nil {
		return nil, err
	}

	tx, err := w.buildTransaction(ctx, b, req)
	if err != nil {
		return nil, sweeperr.Submission(err)
	}

	if err := b.SendTransaction(ctx, tx); err != nil {
		return nil, sweeperr.Submission(errors.Wrap(err, "failed to send transaction"))
	}

	w.logger.WithFields(logrus.Fields{
		"chain_id": req.ChainID,
		"tx":       tx.Hash().Hex(),
		"nonce":    tx.Nonce(),
		"gas":      tx.Gas(),
	}).Info("Transaction submitted")

	return &types.TxHandle{
		ChainID:     req.ChainID,
		Hash:        tx.Hash().Hex(),
		From:        w.address.Hex(),
		To:          common.HexToAddress(req.Contract).Hex(),
		Value:       tx.Value(),
		Nonce:       tx.Nonce(),
		SubmittedAt: time.Now(),
	}, nil
}

func (w *EVMWallet) buildTransaction(ctx context.Context, b Backend, req types.SubmitRequest) (*gethtypes.Transaction, error) {
	chainID, err := b.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chain id")
	}
	if chainID.Uint64() != req.ChainID {
		return nil, fmt.Errorf("RPC endpoint serves chain %s, expected %d", chainID, req.ChainID)
	}

	data, err := SweeperABI.Pack(req.Call.Method, req.Call.Args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to pack %s call", req.Call.Method)
	}

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}

	nonce, err := b.PendingNonceAt(ctx, w.address)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get nonce")
	}

	tip, feeCap, err := fees(ctx, b)
	if err != nil {
		return nil, err
	}

	to := common.HexToAddress(req.Contract)
	gasLimit := w.gasLimit
	estimated, err := b.EstimateGas(ctx, ethereum.CallMsg{
		From:  w.address,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err == nil {
		gasLimit = estimated * 120 / 100 // Add 20% buffer
	} else {
		w.logger.WithError(err).WithField("gas_limit", gasLimit).Warn("Gas estimation failed, using configured limit")
	}

	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})

	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(chainID), w.privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}
	return signed, nil
}

// Close releases every dialed backend
func (w *EVMWallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, b := range w.backends {
		if c, ok := b.(interface{ Close() }); ok {
			c.Close()
		}
		delete(w.backends, id)
	}
}

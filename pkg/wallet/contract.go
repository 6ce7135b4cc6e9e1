package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// ContractReader calls the view functions of a deployed sweep contract
type ContractReader struct {
	backend Backend
	address common.Address
}

// Contract returns a reader for the sweep contract at address on the chain
func (w *EVMWallet) Contract(ctx context.Context, chainID uint64, address string) (*ContractReader, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid contract address: %s", address)
	}
	b, err := w.backend(ctx, chainID)
	if err != nil {
		return nil, err
	}
	return &ContractReader{backend: b, address: common.HexToAddress(address)}, nil
}

func (r *ContractReader) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := SweeperABI.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to pack %s", method)
	}

	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &r.address, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to call %s", method)
	}

	values, err := SweeperABI.Unpack(method, out)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s result", method)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return values, nil
}

func (r *ContractReader) uint256(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	values, err := r.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T, expected uint256", method, values[0])
	}
	return v, nil
}

func (r *ContractReader) addressOf(ctx context.Context, method string) (string, error) {
	values, err := r.call(ctx, method)
	if err != nil {
		return "", err
	}
	v, ok := values[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("%s returned %T, expected address", method, values[0])
	}
	return v.Hex(), nil
}

// CalculateFee asks the contract what it would charge for the given gas cost and price
func (r *ContractReader) CalculateFee(ctx context.Context, estimatedGasCost, ethPriceUSD *big.Int) (*big.Int, error) {
	return r.uint256(ctx, MethodCalculateFee, estimatedGasCost, ethPriceUSD)
}

// Balance returns the contract's own native balance
func (r *ContractReader) Balance(ctx context.Context) (*big.Int, error) {
	return r.uint256(ctx, MethodGetBalance)
}

// PaymasterBalance returns the paymaster's native balance as seen by the contract
func (r *ContractReader) PaymasterBalance(ctx context.Context) (*big.Int, error) {
	return r.uint256(ctx, MethodGetPaymasterBalance)
}

// CollectedFees returns the protocol fees held by the contract
func (r *ContractReader) CollectedFees(ctx context.Context) (*big.Int, error) {
	return r.uint256(ctx, MethodCollectedFees)
}

func (r *ContractReader) Owner(ctx context.Context) (string, error) {
	return r.addressOf(ctx, MethodOwner)
}

func (r *ContractReader) Paymaster(ctx context.Context) (string, error) {
	return r.addressOf(ctx, MethodPaymaster)
}

// SweepEvent is a decoded SweepInitiated or SweepCompleted log
type SweepEvent struct {
	Name               string
	User               string
	SourceChainID      *big.Int
	DestinationChainID *big.Int
	Amount             *big.Int
	Fee                *big.Int // SweepInitiated only
	TransactionHash    string   // SweepCompleted only
}

// Receipt summarizes a mined transaction and the sweep events it emitted
type Receipt struct {
	Hash        string
	Succeeded   bool
	BlockNumber uint64
	GasUsed     uint64
	Events      []SweepEvent
}

// SweepReceipt fetches the receipt of a transaction and decodes its sweep events.
// ethereum.NotFound is returned while the transaction is pending or not yet indexed.
func (w *EVMWallet) SweepReceipt(ctx context.Context, chainID uint64, txHash string) (*Receipt, error) {
	hash := common.HexToHash(txHash)
	if len(common.FromHex(txHash)) != common.HashLength {
		return nil, fmt.Errorf("invalid transaction hash: %s", txHash)
	}

	b, err := w.backend(ctx, chainID)
	if err != nil {
		return nil, err
	}

	receipt, err := b.TransactionReceipt(ctx, hash)
	if err != nil {
		if isReceiptPending(err) {
			return nil, ethereum.NotFound
		}
		return nil, errors.Wrap(err, "failed to get transaction receipt")
	}

	events, err := DecodeSweepEvents(receipt.Logs)
	if err != nil {
		return nil, err
	}

	r := &Receipt{
		Hash:      receipt.TxHash.Hex(),
		Succeeded: receipt.Status == gethtypes.ReceiptStatusSuccessful,
		GasUsed:   receipt.GasUsed,
		Events:    events,
	}
	if receipt.BlockNumber != nil {
		r.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return r, nil
}

// txIndexingMessage is what geth answers for receipts while its transaction index catches up
const txIndexingMessage = "transaction indexing is in progress"

// isReceiptPending reports whether the node has no receipt for the hash yet
func isReceiptPending(err error) bool {
	return errors.Is(err, ethereum.NotFound) || strings.Contains(err.Error(), txIndexingMessage)
}

// DecodeSweepEvents extracts sweep events from logs; unrelated logs are skipped
func DecodeSweepEvents(logs []*gethtypes.Log) ([]SweepEvent, error) {
	initiated := SweeperABI.Events[EventSweepInitiated]
	completed := SweeperABI.Events[EventSweepCompleted]

	var events []SweepEvent
	for _, l := range logs {
		if l == nil || len(l.Topics) != 4 {
			continue
		}

		var name string
		switch l.Topics[0] {
		case initiated.ID:
			name = EventSweepInitiated
		case completed.ID:
			name = EventSweepCompleted
		default:
			continue
		}

		fields := map[string]interface{}{}
		if err := SweeperABI.UnpackIntoMap(fields, name, l.Data); err != nil {
			return nil, errors.Wrapf(err, "failed to decode %s", name)
		}

		ev := SweepEvent{
			Name:               name,
			User:               common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
			SourceChainID:      l.Topics[2].Big(),
			DestinationChainID: l.Topics[3].Big(),
		}
		ev.Amount, _ = fields["amount"].(*big.Int)
		if fee, ok := fields["fee"].(*big.Int); ok {
			ev.Fee = fee
		}
		if h, ok := fields["transactionHash"].([32]byte); ok {
			ev.TransactionHash = common.Hash(h).Hex()
		}

		events = append(events, ev)
	}
	return events, nil
}

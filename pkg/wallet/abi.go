package wallet

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Sweep contract method and event names
const (
	MethodSweepAndBridge      = "sweepAndBridge"
	MethodCalculateFee        = "calculateFee"
	MethodGetBalance          = "getBalance"
	MethodGetPaymasterBalance = "getPaymasterBalance"
	MethodOwner               = "owner"
	MethodPaymaster           = "paymaster"
	MethodCollectedFees       = "collectedFees"

	EventSweepInitiated = "SweepInitiated"
	EventSweepCompleted = "SweepCompleted"
)

const sweeperABIJSON = `[
	{"type":"function","name":"sweepAndBridge","stateMutability":"payable",
	 "inputs":[
		{"name":"destinationChainId","type":"uint256"},
		{"name":"estimatedGasCost","type":"uint256"},
		{"name":"ethPriceUSD","type":"uint256"},
		{"name":"bungeeCalldata","type":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"calculateFee","stateMutability":"view",
	 "inputs":[
		{"name":"estimatedGasCost","type":"uint256"},
		{"name":"ethPriceUSD","type":"uint256"}],
	 "outputs":[{"name":"totalFee","type":"uint256"}]},
	{"type":"function","name":"getBalance","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getPaymasterBalance","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"paymaster","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"collectedFees","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"SweepInitiated","anonymous":false,
	 "inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"sourceChainId","type":"uint256","indexed":true},
		{"name":"destinationChainId","type":"uint256","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"fee","type":"uint256","indexed":false}]},
	{"type":"event","name":"SweepCompleted","anonymous":false,
	 "inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"sourceChainId","type":"uint256","indexed":true},
		{"name":"destinationChainId","type":"uint256","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"transactionHash","type":"bytes32","indexed":false}]}
]`

// SweeperABI is the parsed sweep contract interface
var SweeperABI = mustParseABI(sweeperABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"zerodust/pkg/chains"
	"zerodust/pkg/fee"
	"zerodust/pkg/price"
	"zerodust/pkg/sweeperr"
	"zerodust/pkg/wallet"
)

var (
	contractChain  string
	contractGasUSD float64
)

var contractCmd = &cobra.Command{
	Use:   "contract",
	Short: "Inspect the sweep contract on a chain",
	Long: `Read the sweep contract's owner, paymaster, balances and collected fees,
and ask it what fee it would charge for a given gas cost.

Examples:
  zerodust contract --chain base-sepolia
  zerodust contract --chain 11155111 --gas-usd 0.10`,
	Run: runContract,
}

func init() {
	rootCmd.AddCommand(contractCmd)

	contractCmd.Flags().StringVar(&contractChain, "chain", "", "Chain to inspect (required)")
	contractCmd.Flags().Float64Var(&contractGasUSD, "gas-usd", fee.DefaultGasCostUSD, "Gas cost in USD used for the fee quote")
	_ = contractCmd.MarkFlagRequired("chain")
}

type contractInfo struct {
	Chain            uint64  `json:"chain"`
	Address          string  `json:"address"`
	Owner            string  `json:"owner"`
	Paymaster        string  `json:"paymaster"`
	Balance          string  `json:"balance"`
	PaymasterBalance string  `json:"paymaster_balance"`
	CollectedFees    string  `json:"collected_fees"`
	PriceUSD         float64 `json:"price_usd"`
	GasCostUSD       float64 `json:"gas_cost_usd"`
	QuotedFee        string  `json:"quoted_fee"`
}

func runContract(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	registry := chains.Default()
	chain, err := registry.Lookup(contractChain)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	address, ok := registry.ContractAddress(chain.ID)
	if !ok {
		printError(sweeperr.DeploymentGap(chain.Name))
		os.Exit(1)
	}

	cfg := loadConfig()
	w := openWallet(cfg, false)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = fmt.Sprintf(" Reading contract on %s...", chain.Name)
		s.Start()
	}

	ctx, cancel := commandContext(cfg.QuoteTimeout)
	defer cancel()

	info, err := readContract(ctx, w, cfg.PriceAPIURL, chain, address)
	w.Close()
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(info, "", "  ")
		fmt.Println(string(jsonData))
		return
	}
	displayContract(chain, info)
}

func readContract(ctx context.Context, w *wallet.EVMWallet, priceURL string, chain chains.Chain, address string) (*contractInfo, error) {
	reader, err := w.Contract(ctx, chain.ID, address)
	if err != nil {
		return nil, err
	}

	info := &contractInfo{Chain: chain.ID, Address: address, GasCostUSD: contractGasUSD}

	if info.Owner, err = reader.Owner(ctx); err != nil {
		return nil, err
	}
	if info.Paymaster, err = reader.Paymaster(ctx); err != nil {
		return nil, err
	}

	amounts := []struct {
		read func(context.Context) (*big.Int, error)
		dst  *string
	}{
		{reader.Balance, &info.Balance},
		{reader.PaymasterBalance, &info.PaymasterBalance},
		{reader.CollectedFees, &info.CollectedFees},
	}
	for _, a := range amounts {
		v, err := a.read(ctx)
		if err != nil {
			return nil, err
		}
		*a.dst = fee.FormatNative(v)
	}

	oracle := price.NewOracle(logger, price.WithBaseURL(priceURL))
	table, _ := oracle.FetchPrices(ctx)
	info.PriceUSD = price.Price(chain.Symbol, table)

	gasCost, err := fee.FormatGasCost(contractGasUSD, info.PriceUSD)
	if err != nil {
		return nil, err
	}
	quoted, err := reader.CalculateFee(ctx, gasCost, fee.FormatEthPrice(info.PriceUSD))
	if err != nil {
		return nil, err
	}
	info.QuotedFee = fee.FormatNative(quoted)

	return info, nil
}

func displayContract(chain chains.Chain, info *contractInfo) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        SWEEP CONTRACT")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Chain:              %s (%d)\n", chain.Name, chain.ID)
	fmt.Printf("  Address:            %s\n", color.CyanString(info.Address))
	if url, ok := chains.Default().AddressURL(chain.ID, info.Address); ok {
		fmt.Printf("  Explorer:           %s\n", url)
	}
	fmt.Printf("  Owner:              %s\n", info.Owner)
	fmt.Printf("  Paymaster:          %s\n", info.Paymaster)
	fmt.Printf("\n  Contract balance:   %s %s\n", info.Balance, chain.Symbol)
	fmt.Printf("  Paymaster balance:  %s %s\n", info.PaymasterBalance, chain.Symbol)
	fmt.Printf("  Collected fees:     %s %s\n", info.CollectedFees, chain.Symbol)
	fmt.Printf("\n  Fee for $%.2f gas at $%.2f/%s: %s %s\n",
		info.GasCostUSD, info.PriceUSD, chain.Symbol, color.YellowString(info.QuotedFee), chain.Symbol)

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}
